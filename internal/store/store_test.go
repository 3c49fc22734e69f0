package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetryStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rs, err := s.RetryState("ws1")
	if err != nil {
		t.Fatalf("RetryState: %v", err)
	}
	if rs != nil {
		t.Fatalf("fresh store returned retry state %+v, want nil", rs)
	}

	want := RetryState{Attempt: 3, RetryStartTime: 1700000000000}
	if err := s.SetRetryState("ws1", want); err != nil {
		t.Fatalf("SetRetryState: %v", err)
	}

	rs, err = s.RetryState("ws1")
	if err != nil {
		t.Fatalf("RetryState: %v", err)
	}
	if rs == nil || *rs != want {
		t.Errorf("got %+v, want %+v", rs, want)
	}

	// Overwrite takes the latest value.
	want.Attempt = 4
	if err := s.SetRetryState("ws1", want); err != nil {
		t.Fatalf("SetRetryState: %v", err)
	}
	rs, _ = s.RetryState("ws1")
	if rs == nil || rs.Attempt != 4 {
		t.Errorf("after overwrite got %+v, want attempt 4", rs)
	}

	if err := s.ClearRetryState("ws1"); err != nil {
		t.Fatalf("ClearRetryState: %v", err)
	}
	rs, err = s.RetryState("ws1")
	if err != nil || rs != nil {
		t.Errorf("after clear got %+v, %v; want nil, nil", rs, err)
	}
}

func TestRetryStateIsPerWorkspace(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetRetryState("ws1", RetryState{Attempt: 1}); err != nil {
		t.Fatalf("SetRetryState: %v", err)
	}
	rs, err := s.RetryState("ws2")
	if err != nil {
		t.Fatalf("RetryState: %v", err)
	}
	if rs != nil {
		t.Errorf("ws2 picked up ws1's retry state: %+v", rs)
	}
}

func TestCorruptRetryStateTreatedAsAbsent(t *testing.T) {
	s := openTestStore(t)

	if err := s.set(retryKey("ws1"), "{not json"); err != nil {
		t.Fatalf("set: %v", err)
	}
	rs, err := s.RetryState("ws1")
	if err != nil {
		t.Fatalf("corrupt state surfaced as error: %v", err)
	}
	if rs != nil {
		t.Errorf("corrupt state returned %+v, want nil", rs)
	}
}

func TestAutoRetryDefaultsTrue(t *testing.T) {
	s := openTestStore(t)

	enabled, err := s.AutoRetry("ws1")
	if err != nil {
		t.Fatalf("AutoRetry: %v", err)
	}
	if !enabled {
		t.Error("auto-retry defaults to false, want true")
	}

	if err := s.SetAutoRetry("ws1", false); err != nil {
		t.Fatalf("SetAutoRetry: %v", err)
	}
	enabled, _ = s.AutoRetry("ws1")
	if enabled {
		t.Error("auto-retry still true after disabling")
	}

	if err := s.SetAutoRetry("ws1", true); err != nil {
		t.Fatalf("SetAutoRetry: %v", err)
	}
	enabled, _ = s.AutoRetry("ws1")
	if !enabled {
		t.Error("auto-retry still false after re-enabling")
	}
}
