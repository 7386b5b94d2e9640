// Background cleanup for session retention.
//
// CleanupLoop periodically cleans up:
//   - Terminated sessions past their retention window
//   - Stale active sessions with no recent activity
//   - Expired metadata questions
//   - Idle rate limit windows
package workflow

import (
	"time"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

// CleanupConfig holds configurable cleanup parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 5 minutes).
	Interval time.Duration
	// TerminalRetention is how long to keep completed/failed sessions (default: 24 hours).
	TerminalRetention time.Duration
	// StaleRetention is how long an active session may sit without updates (default: 12 hours).
	StaleRetention time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:          5 * time.Minute,
		TerminalRetention: 24 * time.Hour,
		StaleRetention:    12 * time.Hour,
	}
}

// StartCleanupLoop starts a background goroutine that periodically performs cleanup.
// Returns a stop function that should be called to stop the cleanup loop.
func (m *Manager) StartCleanupLoop(cfg CleanupConfig) func() {
	if cfg.Interval == 0 {
		cfg = DefaultCleanupConfig()
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				m.runCleanupCycle(cfg)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (m *Manager) runCleanupCycle(cfg CleanupConfig) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Error("cleanup_panic_recovered", "error", r)
			}
		}
	}()

	evicted := m.EvictExpired(cfg.TerminalRetention, cfg.StaleRetention)

	expiredQuestions := m.questions.ExpirePending()

	if m.rateLimiter != nil {
		m.rateLimiter.CleanupExpired()
	}

	if m.logger != nil {
		m.logger.Debug("cleanup_cycle_completed",
			"sessions_evicted", evicted,
			"questions_expired", expiredQuestions,
		)
	}
}

// EvictExpired evicts terminal sessions past their retention window and
// active sessions with no updates within the stale window. Returns the
// number of sessions evicted.
func (m *Manager) EvictExpired(terminalRetention, staleRetention time.Duration) int {
	now := time.Now().UTC()

	m.mu.RLock()
	candidates := make(map[string]*sessionEntry, len(m.sessions))
	for id, entry := range m.sessions {
		candidates[id] = entry
	}
	m.mu.RUnlock()

	evicted := 0
	for id, entry := range candidates {
		entry.mu.Lock()
		state := entry.state
		var expired bool
		var reason string
		switch {
		case state.IsTerminal() && terminalRetention > 0:
			ref := state.UpdatedAt
			if state.CompletedAt != nil {
				ref = *state.CompletedAt
			}
			expired = now.Sub(ref) > terminalRetention
			reason = "terminal_retention_expired"
		case !state.IsTerminal() && staleRetention > 0:
			expired = now.Sub(state.UpdatedAt) > staleRetention
			reason = "stale_session"
		}
		if expired && !state.IsTerminal() {
			state.Terminate(session.StatusFailed, session.TerminalReasonEvicted)
		}
		entry.mu.Unlock()

		if expired {
			if err := m.EvictSession(id, reason); err == nil {
				evicted++
			}
		}
	}
	return evicted
}
