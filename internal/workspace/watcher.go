package workspace

import (
	"context"
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the workspaces directory so configs edited outside the app
// (or by another instance) are picked up live.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func()
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher starts watching the manager's workspaces directory. onChange is
// called whenever a workspace file is created, written, or removed.
func NewWatcher(m *Manager, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(m.workspacesDir()); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fw,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}

	go w.run()
	return w, nil
}

// run processes file system events.
func (w *Watcher) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				log.Printf("[workspace] config change detected: %s", event.Name)
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[workspace] watcher error: %v", err)
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() {
	w.cancel()
	w.watcher.Close()
}
