package aggregator

import (
	"log"
	"sort"
	"sync"

	"cmux/internal/types"
)

// Subscriber opens the backend event stream for a workspace. Implemented by
// transport.Client.
type Subscriber interface {
	Subscribe(workspaceID string, onEvent func(types.ChatEvent)) (func(), error)
}

// Registry owns exactly one Aggregator per live workspace id, together with
// its event-stream subscription. Aggregators are created lazily and disposed
// explicitly when a workspace is closed.
type Registry struct {
	mu     sync.Mutex
	aggs   map[string]*Aggregator
	unsubs map[string]func()

	transport      Subscriber
	replaceHistory ReplaceHistoryFunc
	requestResume  func(workspaceID string)
	emit           func(types.EventEnvelope)
}

// NewRegistry creates a registry. transport may be nil in tests; aggregators
// are then created without subscriptions.
func NewRegistry(transport Subscriber, replaceHistory ReplaceHistoryFunc, requestResume func(string), emit func(types.EventEnvelope)) *Registry {
	return &Registry{
		aggs:           make(map[string]*Aggregator),
		unsubs:         make(map[string]func()),
		transport:      transport,
		replaceHistory: replaceHistory,
		requestResume:  requestResume,
		emit:           emit,
	}
}

// Get returns the aggregator for a workspace, creating it if needed.
func (r *Registry) Get(workspaceID string) *Aggregator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(workspaceID)
}

func (r *Registry) getLocked(workspaceID string) *Aggregator {
	agg, ok := r.aggs[workspaceID]
	if !ok {
		agg = New(workspaceID, r.replaceHistory, r.requestResume, r.emit)
		r.aggs[workspaceID] = agg
	}
	return agg
}

// SetTracked (re)establishes subscriptions for the given workspace set.
// Every tracked workspace gets a fresh subscription; stale active-stream
// state is cleared first so a reconnect never leaves canInterrupt stuck from
// a previous session. Workspaces no longer tracked are unsubscribed but keep
// their aggregator until Dispose.
func (r *Registry) SetTracked(workspaceIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked := make(map[string]bool, len(workspaceIDs))
	for _, id := range workspaceIDs {
		tracked[id] = true
	}

	for id, unsub := range r.unsubs {
		if !tracked[id] {
			unsub()
			delete(r.unsubs, id)
		}
	}

	if r.transport == nil {
		for _, id := range workspaceIDs {
			r.getLocked(id)
		}
		return
	}

	for _, id := range workspaceIDs {
		agg := r.getLocked(id)

		if unsub, ok := r.unsubs[id]; ok {
			unsub()
			delete(r.unsubs, id)
		}
		agg.ResetStreams()

		unsub, err := r.transport.Subscribe(id, agg.HandleEvent)
		if err != nil {
			log.Printf("[registry] failed to subscribe workspace %s: %v", id, err)
			continue
		}
		r.unsubs[id] = unsub
	}
}

// Dispose unsubscribes and drops the aggregator for a workspace. Called when
// a workspace is closed.
func (r *Registry) Dispose(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unsub, ok := r.unsubs[workspaceID]; ok {
		unsub()
		delete(r.unsubs, workspaceID)
	}
	delete(r.aggs, workspaceID)
}

// DisposeAll tears down every aggregator and subscription. Called on
// shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, unsub := range r.unsubs {
		unsub()
		delete(r.unsubs, id)
	}
	r.aggs = make(map[string]*Aggregator)
}

// WorkspaceIDs returns the ids of all live aggregators, sorted for
// deterministic scans.
func (r *Registry) WorkspaceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.aggs))
	for id := range r.aggs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// RESUME MANAGER VIEW
// =============================================================================

// CanInterrupt reports whether the workspace has an open stream. Unknown
// workspaces report false.
func (r *Registry) CanInterrupt(workspaceID string) bool {
	r.mu.Lock()
	agg, ok := r.aggs[workspaceID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return agg.CanInterrupt()
}

// LastDisplayed returns the final display entry for a workspace.
func (r *Registry) LastDisplayed(workspaceID string) (types.DisplayedMessage, bool) {
	r.mu.Lock()
	agg, ok := r.aggs[workspaceID]
	r.mu.Unlock()
	if !ok {
		return types.DisplayedMessage{}, false
	}
	return agg.LastDisplayed()
}

// CurrentModel returns the most recent model seen on a workspace.
func (r *Registry) CurrentModel(workspaceID string) string {
	r.mu.Lock()
	agg, ok := r.aggs[workspaceID]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	return agg.GetCurrentModel()
}
