package resume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cmux/internal/clock"
	"cmux/internal/store"
	"cmux/internal/transport"
	"cmux/internal/types"
)

// fakeWorkspaces is a canned Workspaces view.
type fakeWorkspaces struct {
	mu      sync.Mutex
	ids     []string
	open    map[string]bool
	last    map[string]types.DisplayedMessage
	hasLast map[string]bool
}

func newFakeWorkspaces(ids ...string) *fakeWorkspaces {
	return &fakeWorkspaces{
		ids:     ids,
		open:    make(map[string]bool),
		last:    make(map[string]types.DisplayedMessage),
		hasLast: make(map[string]bool),
	}
}

func (f *fakeWorkspaces) WorkspaceIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func (f *fakeWorkspaces) CanInterrupt(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[id]
}

func (f *fakeWorkspaces) LastDisplayed(id string) (types.DisplayedMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[id], f.hasLast[id]
}

func (f *fakeWorkspaces) setPartial(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[id] = types.DisplayedMessage{
		Type:      types.DisplayAssistant,
		IsPartial: true,
		Status:    types.StatusInterrupted,
	}
	f.hasLast[id] = true
}

// fakeBackend reports each resume attempt on a channel so tests can
// synchronize with the manager's goroutine.
type fakeBackend struct {
	mu       sync.Mutex
	succeed  bool
	err      error
	attempts chan string
}

func newFakeBackend(succeed bool) *fakeBackend {
	return &fakeBackend{succeed: succeed, attempts: make(chan string, 16)}
}

func (f *fakeBackend) ResumeStream(ctx context.Context, workspaceID string, opts types.SendOptions) (*transport.ResumeResult, error) {
	f.mu.Lock()
	succeed, err := f.succeed, f.err
	f.mu.Unlock()

	defer func() { f.attempts <- workspaceID }()
	if err != nil {
		return nil, err
	}
	if succeed {
		return &transport.ResumeResult{Success: true}, nil
	}
	return &transport.ResumeResult{Success: false, Error: "stream not resumable"}, nil
}

func (f *fakeBackend) waitAttempt(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.attempts:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resume attempt")
		return ""
	}
}

func (f *fakeBackend) assertNoAttempt(t *testing.T) {
	t.Helper()
	select {
	case id := <-f.attempts:
		t.Fatalf("unexpected resume attempt for workspace %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeStore is an in-memory StateStore.
type fakeStore struct {
	mu        sync.Mutex
	retry     map[string]store.RetryState
	autoRetry map[string]bool
	cleared   chan string
	saved     chan store.RetryState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		retry:     make(map[string]store.RetryState),
		autoRetry: make(map[string]bool),
		cleared:   make(chan string, 16),
		saved:     make(chan store.RetryState, 16),
	}
}

func (f *fakeStore) RetryState(id string) (*store.RetryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.retry[id]
	if !ok {
		return nil, nil
	}
	return &rs, nil
}

func (f *fakeStore) SetRetryState(id string, rs store.RetryState) error {
	f.mu.Lock()
	f.retry[id] = rs
	f.mu.Unlock()
	f.saved <- rs
	return nil
}

func (f *fakeStore) ClearRetryState(id string) error {
	f.mu.Lock()
	delete(f.retry, id)
	f.mu.Unlock()
	f.cleared <- id
	return nil
}

func (f *fakeStore) AutoRetry(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enabled, ok := f.autoRetry[id]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (f *fakeStore) waitSaved(t *testing.T) store.RetryState {
	t.Helper()
	select {
	case rs := <-f.saved:
		return rs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry state save")
		return store.RetryState{}
	}
}

func TestDelaySchedule(t *testing.T) {
	wants := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for attempt, want := range wants {
		if got := Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
	if got := Delay(-1); got != 1*time.Second {
		t.Errorf("Delay(-1) = %v, want 1s", got)
	}
	if got := Delay(1000); got != 60*time.Second {
		t.Errorf("Delay(1000) = %v, want 60s", got)
	}
}

func TestEligibilityConditions(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fst := newFakeStore()
	m := NewManager(fws, newFakeBackend(true), fst, clock.NewFake(time.Unix(1000, 0)), nil)

	// No last message: not eligible.
	if m.IsEligible("ws1") {
		t.Error("eligible with no messages")
	}

	// Partial assistant message: eligible.
	fws.setPartial("ws1")
	if !m.IsEligible("ws1") {
		t.Error("not eligible with a partial final message")
	}

	// An open stream blocks resume.
	fws.mu.Lock()
	fws.open["ws1"] = true
	fws.mu.Unlock()
	if m.IsEligible("ws1") {
		t.Error("eligible while a stream is open")
	}
	fws.mu.Lock()
	fws.open["ws1"] = false
	fws.mu.Unlock()

	// A complete final message blocks resume.
	fws.mu.Lock()
	fws.last["ws1"] = types.DisplayedMessage{Type: types.DisplayAssistant, Status: types.StatusComplete}
	fws.mu.Unlock()
	if m.IsEligible("ws1") {
		t.Error("eligible with a complete final message")
	}
	fws.setPartial("ws1")

	// A partial user message is not resumable.
	fws.mu.Lock()
	fws.last["ws1"] = types.DisplayedMessage{Type: types.DisplayUser, IsPartial: true}
	fws.mu.Unlock()
	if m.IsEligible("ws1") {
		t.Error("eligible with a partial user message")
	}
	fws.setPartial("ws1")

	// Disabled auto-retry blocks resume.
	fst.mu.Lock()
	fst.autoRetry["ws1"] = false
	fst.mu.Unlock()
	if m.IsEligible("ws1") {
		t.Error("eligible with auto-retry disabled")
	}
	fst.mu.Lock()
	fst.autoRetry["ws1"] = true
	fst.mu.Unlock()
	if !m.IsEligible("ws1") {
		t.Error("not eligible after auto-retry re-enabled")
	}
}

func TestBackoffGatesEligibility(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()
	fc := clock.NewFake(time.UnixMilli(100_000))
	m := NewManager(fws, newFakeBackend(false), fst, fc, nil)

	// Third retry: 8s backoff.
	fst.mu.Lock()
	fst.retry["ws1"] = store.RetryState{Attempt: 3, RetryStartTime: fc.Now().UnixMilli()}
	fst.mu.Unlock()

	if m.IsEligible("ws1") {
		t.Error("eligible immediately after a failed attempt")
	}
	fc.Advance(7999 * time.Millisecond)
	if m.IsEligible("ws1") {
		t.Error("eligible 1ms before the backoff elapses")
	}
	fc.Advance(1 * time.Millisecond)
	if !m.IsEligible("ws1") {
		t.Error("not eligible after the backoff elapsed")
	}
}

func TestSuccessfulResumeClearsRetryState(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()
	fb := newFakeBackend(true)
	m := NewManager(fws, fb, fst, clock.NewFake(time.UnixMilli(100_000)), nil)

	m.AttemptResume("ws1")

	if got := fb.waitAttempt(t); got != "ws1" {
		t.Errorf("resumed workspace %q, want ws1", got)
	}
	select {
	case id := <-fst.cleared:
		if id != "ws1" {
			t.Errorf("cleared retry state for %q, want ws1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry state never cleared after success")
	}
}

func TestFailedResumeIncrementsAttempt(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()
	fb := newFakeBackend(false)
	fb.err = errors.New("connection refused")
	fc := clock.NewFake(time.UnixMilli(100_000))
	m := NewManager(fws, fb, fst, fc, nil)

	fst.mu.Lock()
	fst.retry["ws1"] = store.RetryState{Attempt: 2, RetryStartTime: 0}
	fst.mu.Unlock()

	m.AttemptResume("ws1")
	fb.waitAttempt(t)

	saved := fst.waitSaved(t)
	if saved.Attempt != 3 {
		t.Errorf("saved attempt = %d, want 3", saved.Attempt)
	}
	if saved.RetryStartTime != fc.Now().UnixMilli() {
		t.Errorf("saved retry start = %d, want %d", saved.RetryStartTime, fc.Now().UnixMilli())
	}
}

func TestSingleFlight(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()

	release := make(chan struct{})
	started := make(chan struct{}, 16)
	fb := &blockingBackend{release: release, started: started}
	m := NewManager(fws, fb, fst, clock.NewFake(time.UnixMilli(100_000)), nil)

	m.AttemptResume("ws1")
	<-started

	// Further attempts while the first RPC is in flight are no-ops.
	m.AttemptResume("ws1")
	m.AttemptResume("ws1")
	select {
	case <-started:
		t.Fatal("a second RPC started while one was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
}

type blockingBackend struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingBackend) ResumeStream(ctx context.Context, workspaceID string, opts types.SendOptions) (*transport.ResumeResult, error) {
	b.started <- struct{}{}
	<-b.release
	return &transport.ResumeResult{Success: true}, nil
}

func TestRunWakeSignalTriggersAttempt(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()
	fb := newFakeBackend(true)
	m := NewManager(fws, fb, fst, clock.NewFake(time.UnixMilli(100_000)), nil)

	// Run's startup scan fires the first attempt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	fb.waitAttempt(t)
	<-fst.cleared

	// The wake signal fires another. The previous attempt's in-flight guard
	// releases asynchronously, so keep nudging until the attempt lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.RequestCheck("ws1")
		select {
		case <-fb.attempts:
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("wake signal never triggered a resume attempt")
		}
	}
}

func TestPollBackstopRechecks(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fst := newFakeStore()
	fb := newFakeBackend(true)
	fc := clock.NewFake(time.UnixMilli(100_000))
	m := NewManager(fws, fb, fst, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Nothing partial yet: the startup scan finds nothing.
	fb.assertNoAttempt(t)

	// The workspace becomes resumable; the next poll tick picks it up.
	fws.setPartial("ws1")
	deadline := time.Now().Add(2 * time.Second)
	for {
		fc.Advance(PollInterval)
		select {
		case <-fb.attempts:
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("poll backstop never picked up the resumable workspace")
		}
	}
}

func TestSendOptionsPassedToBackend(t *testing.T) {
	fws := newFakeWorkspaces("ws1")
	fws.setPartial("ws1")
	fst := newFakeStore()

	var gotOpts types.SendOptions
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	fb := backendFunc(func(ctx context.Context, id string, opts types.SendOptions) (*transport.ResumeResult, error) {
		mu.Lock()
		gotOpts = opts
		mu.Unlock()
		done <- struct{}{}
		return &transport.ResumeResult{Success: true}, nil
	})

	m := NewManager(fws, fb, fst, clock.NewFake(time.UnixMilli(100_000)), func(id string) types.SendOptions {
		return types.SendOptions{Model: "claude-x", ThinkingLevel: "high", Mode: "chat"}
	})

	m.AttemptResume("ws1")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resume RPC")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOpts.Model != "claude-x" || gotOpts.ThinkingLevel != "high" {
		t.Errorf("resume options = %+v, want reconstructed model and thinking level", gotOpts)
	}
}

type backendFunc func(ctx context.Context, workspaceID string, opts types.SendOptions) (*transport.ResumeResult, error)

func (f backendFunc) ResumeStream(ctx context.Context, workspaceID string, opts types.SendOptions) (*transport.ResumeResult, error) {
	return f(ctx, workspaceID, opts)
}
