package workflow

import (
	"fmt"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

// =============================================================================
// Typed Errors
// =============================================================================
//
// Policy violations are rejected synchronously with state unchanged. Each
// error type distinguishes "retryable by a different action" from "session
// terminally failed" via Terminal().

// UnknownSessionError is returned when no session exists for the given id.
type UnknownSessionError struct {
	SessionID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown session: %s", e.SessionID)
}

// DuplicateSessionError is returned when a session id collision occurs.
type DuplicateSessionError struct {
	SessionID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already exists: %s", e.SessionID)
}

// InvalidPhaseError is returned when an operation requires a phase the
// session is not in. The operation can be retried after a phase change.
type InvalidPhaseError struct {
	SessionID string
	Operation string
	Phase     session.ConversationPhase
	Required  session.ConversationPhase
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("session %s: %s requires phase %s, current phase is %s",
		e.SessionID, e.Operation, e.Required, e.Phase)
}

// StatusTransitionError is returned when a requested status transition is
// not in the transition table. State is left unchanged.
type StatusTransitionError struct {
	SessionID string
	From      session.ConversionStatus
	To        session.ConversionStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid status transition %s -> %s", e.SessionID, e.From, e.To)
}

// PhaseTransitionError is returned when a requested phase transition is
// not in the transition table. State is left unchanged.
type PhaseTransitionError struct {
	SessionID string
	From      session.ConversationPhase
	To        session.ConversationPhase
}

func (e *PhaseTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid phase transition %s -> %s", e.SessionID, e.From, e.To)
}

// RetryExhaustedError signals that the correction cap was reached. The
// session has been transitioned to StatusFailed; this is terminal.
type RetryExhaustedError struct {
	SessionID   string
	RetryCount  int
	MaxAttempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("session %s: correction attempts exhausted (%d/%d)", e.SessionID, e.RetryCount, e.MaxAttempts)
}

// Terminal reports that the session cannot make further progress.
func (e *RetryExhaustedError) Terminal() bool { return true }

// TerminalSessionError is returned when a mutating operation targets a
// session that already reached a terminal status.
type TerminalSessionError struct {
	SessionID string
	Status    session.ConversionStatus
}

func (e *TerminalSessionError) Error() string {
	return fmt.Sprintf("session %s is terminal (%s)", e.SessionID, e.Status)
}

// Terminal reports that the session cannot make further progress.
func (e *TerminalSessionError) Terminal() bool { return true }

// RateLimitedError is returned when session creation exceeds the configured
// per-owner rate limits.
type RateLimitedError struct {
	OwnerID    string
	LimitType  string
	RetryAfter float64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("owner %s rate limited (%s window), retry after %.1fs",
		e.OwnerID, e.LimitType, e.RetryAfter)
}

// QuestionBudgetError is returned when a session's metadata question
// budget for the current gathering pass is spent.
type QuestionBudgetError struct {
	SessionID string
	Asked     int
	Limit     int
}

func (e *QuestionBudgetError) Error() string {
	return fmt.Sprintf("session %s question budget exhausted (%d/%d asked)",
		e.SessionID, e.Asked, e.Limit)
}

// VersioningDisabledError is returned when artifact recording is requested
// but the manager was built without a version store.
type VersioningDisabledError struct {
	SessionID string
}

func (e *VersioningDisabledError) Error() string {
	return fmt.Sprintf("session %s: artifact versioning is not configured", e.SessionID)
}
