// Package resume schedules reconnection of interrupted streams. It scans all
// known workspaces for a partial final message, and when one is found resumes
// the stream via the backend, with persisted exponential backoff between
// consecutive failures.
package resume

import (
	"context"
	"log"
	"sync"
	"time"

	"cmux/internal/clock"
	"cmux/internal/store"
	"cmux/internal/transport"
	"cmux/internal/types"
)

const (
	// InitialDelay is the backoff after the first failure.
	InitialDelay = 1000 * time.Millisecond
	// MaxDelay caps the backoff between attempts.
	MaxDelay = 60000 * time.Millisecond
	// PollInterval is the unconditional re-scan period, a backstop against a
	// missed wake signal.
	PollInterval = 1000 * time.Millisecond
)

// Workspaces is the read-only view the manager needs over the aggregator
// registry.
type Workspaces interface {
	WorkspaceIDs() []string
	CanInterrupt(workspaceID string) bool
	LastDisplayed(workspaceID string) (types.DisplayedMessage, bool)
}

// Backend issues the resume RPC. Implemented by transport.Client.
type Backend interface {
	ResumeStream(ctx context.Context, workspaceID string, opts types.SendOptions) (*transport.ResumeResult, error)
}

// StateStore persists retry bookkeeping across restarts. Implemented by
// store.Store.
type StateStore interface {
	RetryState(workspaceID string) (*store.RetryState, error)
	SetRetryState(workspaceID string, st store.RetryState) error
	ClearRetryState(workspaceID string) error
	AutoRetry(workspaceID string) (bool, error)
}

// Manager funnels three trigger paths (startup scan, wake signal, poll tick)
// into one attemptResume per workspace, guarded single-flight.
type Manager struct {
	workspaces  Workspaces
	backend     Backend
	store       StateStore
	clock       clock.Clock
	sendOptions func(workspaceID string) types.SendOptions

	mu       sync.Mutex
	inFlight map[string]bool
	wake     chan string
}

// NewManager creates a resume manager. sendOptions reconstructs the request
// parameters for a workspace (current model, thinking level, mode).
func NewManager(ws Workspaces, backend Backend, st StateStore, clk clock.Clock, sendOptions func(string) types.SendOptions) *Manager {
	if sendOptions == nil {
		sendOptions = func(string) types.SendOptions { return types.SendOptions{} }
	}
	return &Manager{
		workspaces:  ws,
		backend:     backend,
		store:       st,
		clock:       clk,
		sendOptions: sendOptions,
		inFlight:    make(map[string]bool),
		wake:        make(chan string, 64),
	}
}

// Run drives the scheduler until the context is cancelled: an initial scan
// over all workspaces, then the wake fast path and the poll backstop.
func (m *Manager) Run(ctx context.Context) {
	m.CheckAll()

	ticker := m.clock.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case workspaceID := <-m.wake:
			m.AttemptResume(workspaceID)
		case <-ticker.C:
			m.CheckAll()
		}
	}
}

// RequestCheck is the wake signal: a near-zero-latency eligibility check for
// one workspace. Non-blocking; if the queue is full the poller catches it.
func (m *Manager) RequestCheck(workspaceID string) {
	select {
	case m.wake <- workspaceID:
	default:
	}
}

// CheckAll attempts a resume for every known workspace. Each RPC runs in its
// own goroutine, so the scan never blocks on a single workspace.
func (m *Manager) CheckAll() {
	for _, id := range m.workspaces.WorkspaceIDs() {
		m.AttemptResume(id)
	}
}

// IsEligible reports whether a resume attempt would fire for the workspace
// right now.
func (m *Manager) IsEligible(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eligibleLocked(workspaceID)
}

// eligibleLocked evaluates the eligibility predicate. Must be called with
// the lock held.
func (m *Manager) eligibleLocked(workspaceID string) bool {
	// 1. Not currently streaming.
	if m.workspaces.CanInterrupt(workspaceID) {
		return false
	}

	// 2. The most recent message was cut off mid-production.
	last, ok := m.workspaces.LastDisplayed(workspaceID)
	if !ok || !last.IsPartial {
		return false
	}
	switch last.Type {
	case types.DisplayAssistant, types.DisplayTool, types.DisplayReasoning:
	default:
		return false
	}

	// 3. Auto-retry enabled (default true, cleared only by explicit cancel).
	autoRetry, err := m.store.AutoRetry(workspaceID)
	if err != nil {
		log.Printf("[resume] failed to read auto-retry for workspace %s: %v", workspaceID, err)
		return false
	}
	if !autoRetry {
		return false
	}

	// 4. Single-flight.
	if m.inFlight[workspaceID] {
		return false
	}

	// 5. Backoff elapsed.
	rs, err := m.store.RetryState(workspaceID)
	if err != nil {
		log.Printf("[resume] failed to read retry state for workspace %s: %v", workspaceID, err)
		return false
	}
	if rs == nil {
		return true
	}
	elapsed := m.clock.Now().UnixMilli() - rs.RetryStartTime
	return elapsed >= Delay(rs.Attempt).Milliseconds()
}

// Delay returns the backoff before the given attempt number:
// min(InitialDelay * 2^attempt, MaxDelay).
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^6s already exceeds the cap; avoid shifting into overflow.
	if attempt > 6 {
		return MaxDelay
	}
	d := InitialDelay << uint(attempt)
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// AttemptResume resumes the workspace's interrupted stream if it is eligible,
// otherwise returns without effect. The RPC itself runs asynchronously; the
// in-flight guard is held until it settles and released on success, failure,
// and panic alike.
func (m *Manager) AttemptResume(workspaceID string) {
	m.mu.Lock()
	if !m.eligibleLocked(workspaceID) {
		m.mu.Unlock()
		return
	}
	m.inFlight[workspaceID] = true
	m.mu.Unlock()

	attempt := 0
	if rs, err := m.store.RetryState(workspaceID); err == nil && rs != nil {
		attempt = rs.Attempt
	}

	opts := m.sendOptions(workspaceID)
	log.Printf("[resume] attempting resume for workspace %s (attempt %d, model %q)", workspaceID, attempt, opts.Model)

	go m.resume(workspaceID, attempt, opts)
}

// resume performs the RPC and settles the retry state. Runs on its own
// goroutine; the in-flight guard is released in all cases.
func (m *Manager) resume(workspaceID string, attempt int, opts types.SendOptions) {
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, workspaceID)
		m.mu.Unlock()
	}()

	result, err := m.backend.ResumeStream(context.Background(), workspaceID, opts)
	if err == nil && result != nil && result.Success {
		if err := m.store.ClearRetryState(workspaceID); err != nil {
			log.Printf("[resume] failed to clear retry state for workspace %s: %v", workspaceID, err)
		}
		log.Printf("[resume] workspace %s resumed", workspaceID)
		return
	}

	if err != nil {
		log.Printf("[resume] resume failed for workspace %s: %v", workspaceID, err)
	} else if result != nil && result.Error != "" {
		log.Printf("[resume] resume rejected for workspace %s: %s", workspaceID, result.Error)
	} else {
		log.Printf("[resume] resume rejected for workspace %s", workspaceID)
	}

	next := store.RetryState{
		Attempt:        attempt + 1,
		RetryStartTime: m.clock.Now().UnixMilli(),
	}
	if err := m.store.SetRetryState(workspaceID, next); err != nil {
		log.Printf("[resume] failed to persist retry state for workspace %s: %v", workspaceID, err)
	}
}
