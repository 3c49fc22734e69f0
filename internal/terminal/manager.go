// Package terminal manages PTY-backed shell sessions opened inside a
// workspace's project folder.
package terminal

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"cmux/internal/types"
)

// ShellInfo is the public metadata for a shell session
type ShellInfo struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Folder      string `json:"folder"`
}

// shell represents a running PTY session
type shell struct {
	info   ShellInfo
	pty    *os.File
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// Manager manages the PTY sessions of all workspaces
type Manager struct {
	shells   map[string]*shell
	mu       sync.RWMutex
	emitFunc func(types.EventEnvelope)
}

// NewManager creates a new shell manager
func NewManager(emitFunc func(types.EventEnvelope)) *Manager {
	return &Manager{
		shells:   make(map[string]*shell),
		emitFunc: emitFunc,
	}
}

// Open spawns a new PTY shell in the workspace's folder
func (m *Manager) Open(workspaceID, folder string) (*ShellInfo, error) {
	// Determine shell
	shellPath := os.Getenv("SHELL")
	if shellPath == "" {
		shellPath = "/bin/bash"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, shellPath, "-l")
	cmd.Dir = folder
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	sh := &shell{
		info: ShellInfo{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			Folder:      folder,
		},
		pty:    ptmx,
		cmd:    cmd,
		cancel: cancel,
	}

	m.mu.Lock()
	m.shells[sh.info.ID] = sh
	m.mu.Unlock()

	go m.readOutput(sh, ctx)

	info := sh.info
	return &info, nil
}

// readOutput reads PTY output and emits it as base64-encoded events
func (m *Manager) readOutput(sh *shell, ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := sh.pty.Read(buf)
		if n > 0 {
			m.emit(sh, "shell:output", map[string]any{
				"id":   sh.info.ID,
				"data": base64.StdEncoding.EncodeToString(buf[:n]),
			})
		}
		if err != nil {
			// EOF and read errors both mean the shell is gone
			m.emit(sh, "shell:exit", map[string]any{
				"id": sh.info.ID,
			})
			return
		}
	}
}

func (m *Manager) emit(sh *shell, eventType string, payload any) {
	if m.emitFunc == nil {
		return
	}
	m.emitFunc(types.EventEnvelope{
		WorkspaceID: sh.info.WorkspaceID,
		EventType:   eventType,
		Payload:     payload,
	})
}

// Write sends data to a shell's PTY stdin
func (m *Manager) Write(id string, data []byte) error {
	m.mu.RLock()
	sh, ok := m.shells[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("shell %s not found", id)
	}
	_, err := sh.pty.Write(data)
	return err
}

// Resize changes the PTY window size
func (m *Manager) Resize(id string, cols, rows uint16) error {
	m.mu.RLock()
	sh, ok := m.shells[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("shell %s not found", id)
	}
	return pty.Setsize(sh.pty, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates a shell session
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sh, ok := m.shells[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("shell %s not found", id)
	}
	delete(m.shells, id)
	m.mu.Unlock()

	sh.cancel()
	sh.pty.Close()
	if sh.cmd.Process != nil {
		sh.cmd.Process.Kill()
	}
	return nil
}

// CloseWorkspace terminates all shells belonging to a workspace
func (m *Manager) CloseWorkspace(workspaceID string) {
	m.mu.RLock()
	ids := make([]string, 0)
	for id, sh := range m.shells {
		if sh.info.WorkspaceID == workspaceID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// List returns metadata for all shells of a workspace
func (m *Manager) List(workspaceID string) []ShellInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]ShellInfo, 0, len(m.shells))
	for _, sh := range m.shells {
		if sh.info.WorkspaceID == workspaceID {
			list = append(list, sh.info)
		}
	}
	return list
}

// Shutdown closes all shell sessions
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.shells))
	for id := range m.shells {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}
