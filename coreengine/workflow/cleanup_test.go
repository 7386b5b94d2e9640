package workflow

import (
	"testing"
	"time"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

func completeSession(t *testing.T, m *Manager, sessionID string) {
	t.Helper()
	advanceTo(t, m, sessionID, session.StatusAnalyzing, session.StatusValidating)
	if err := m.RecordValidationOutcome(sessionID, passedOutcome()); err != nil {
		t.Fatalf("RecordValidationOutcome failed: %v", err)
	}
}

func TestManager_EvictExpiredKeepsFreshSessions(t *testing.T) {
	m := newTestManager()
	active := startSession(t, m)
	terminal := startSession(t, m)
	completeSession(t, m, terminal)

	if evicted := m.EvictExpired(time.Hour, time.Hour); evicted != 0 {
		t.Errorf("fresh sessions should survive, evicted %d", evicted)
	}
	if _, err := m.GetState(active); err != nil {
		t.Error("active session should remain")
	}
	if _, err := m.GetState(terminal); err != nil {
		t.Error("recently terminated session should remain within retention")
	}
}

func TestManager_EvictExpiredRemovesOldTerminalSessions(t *testing.T) {
	m := newTestManager()
	active := startSession(t, m)
	terminal := startSession(t, m)
	completeSession(t, m, terminal)

	time.Sleep(5 * time.Millisecond)

	if evicted := m.EvictExpired(time.Nanosecond, 0); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, err := m.GetState(terminal); err == nil {
		t.Error("terminal session past retention should be gone")
	}
	if _, err := m.GetState(active); err != nil {
		t.Error("active session is exempt with stale retention disabled")
	}
}

func TestManager_EvictExpiredRemovesStaleActiveSessions(t *testing.T) {
	m := newTestManager()
	recorder := &eventRecorder{}
	m.OnEvent(recorder.handle)

	stale := startSession(t, m)
	time.Sleep(5 * time.Millisecond)

	if evicted := m.EvictExpired(0, time.Nanosecond); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, err := m.GetState(stale); err == nil {
		t.Error("stale session should be gone")
	}

	// The eviction carries the stale reason for observers.
	found := false
	recorder.mu.Lock()
	for _, evt := range recorder.events {
		if evt.EventType == WorkflowEventSessionEvicted && evt.Data["reason"] == "stale_session" {
			found = true
		}
	}
	recorder.mu.Unlock()
	if !found {
		t.Error("expected a session.evicted event with reason stale_session")
	}
}

func TestManager_EvictExpiredZeroRetentionDisables(t *testing.T) {
	m := newTestManager()
	terminal := startSession(t, m)
	completeSession(t, m, terminal)

	time.Sleep(5 * time.Millisecond)

	if evicted := m.EvictExpired(0, 0); evicted != 0 {
		t.Errorf("zero retention disables eviction, evicted %d", evicted)
	}
}

func TestManager_StartCleanupLoop(t *testing.T) {
	m := newTestManager()
	terminal := startSession(t, m)
	completeSession(t, m, terminal)

	stop := m.StartCleanupLoop(CleanupConfig{
		Interval:          10 * time.Millisecond,
		TerminalRetention: time.Nanosecond,
		StaleRetention:    time.Hour,
	})
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.GetState(terminal); err != nil {
			return // Cleaned up.
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cleanup loop never evicted the terminal session")
}

func TestDefaultCleanupConfig(t *testing.T) {
	cfg := DefaultCleanupConfig()
	if cfg.Interval <= 0 || cfg.TerminalRetention <= 0 || cfg.StaleRetention <= 0 {
		t.Errorf("defaults should all be positive: %+v", cfg)
	}
}
