// Package session provides the conversion session data model.
//
// A session is one end-to-end conversion job: raw dataset in, validated
// target file out, with a bounded correction loop in between.
//
// Key concepts:
//   - ConversionStatus: lifecycle of the overall job (initialized -> ... -> completed/failed)
//   - ConversationPhase: which sub-dialogue is active (metadata gathering, correction input)
//   - GlobalState: the aggregate state object, one per session
package session

// =============================================================================
// Conversion Status (job lifecycle)
// =============================================================================

// ConversionStatus represents the lifecycle stage of a conversion job.
// Status transitions:
//
//	INITIALIZED -> ANALYZING -> VALIDATING -> (COMPLETED | CORRECTING | FAILED)
//	CORRECTING -> (ANALYZING | FAILED)
type ConversionStatus string

const (
	// StatusInitialized indicates a freshly created session, metadata not yet complete.
	StatusInitialized ConversionStatus = "initialized"
	// StatusAnalyzing indicates the conversion artifact is being produced.
	StatusAnalyzing ConversionStatus = "analyzing"
	// StatusValidating indicates the produced artifact is under validation.
	StatusValidating ConversionStatus = "validating"
	// StatusCorrecting indicates validation failed and a correction cycle is pending.
	StatusCorrecting ConversionStatus = "correcting"
	// StatusCompleted indicates validation passed. Terminal.
	StatusCompleted ConversionStatus = "completed"
	// StatusFailed indicates the session failed, typically with retries exhausted. Terminal.
	StatusFailed ConversionStatus = "failed"
)

// IsTerminal returns true if this is a terminal status.
func (s ConversionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true if the session still has work in flight.
func (s ConversionStatus) IsActive() bool {
	return !s.IsTerminal()
}

// =============================================================================
// Conversation Phase (active sub-dialogue)
// =============================================================================

// ConversationPhase represents which sub-dialogue is active for a session.
type ConversationPhase string

const (
	// PhaseIdle indicates no dialogue is in progress.
	PhaseIdle ConversationPhase = "idle"
	// PhaseGatheringMetadata indicates metadata questions are being asked and answered.
	PhaseGatheringMetadata ConversationPhase = "gathering_metadata"
	// PhaseAwaitingCorrection indicates validation failed and correction input is awaited.
	PhaseAwaitingCorrection ConversationPhase = "awaiting_correction"
)

// AcceptsAnswers returns true if metadata answers may be recorded in this phase.
func (p ConversationPhase) AcceptsAnswers() bool {
	return p == PhaseGatheringMetadata
}

// =============================================================================
// Validation Result
// =============================================================================

// ValidationResult represents the last-known result of validating the artifact.
type ValidationResult string

const (
	// ValidationNotRun indicates validation has not been executed yet.
	ValidationNotRun ValidationResult = "not_run"
	// ValidationPassed indicates the artifact passed validation.
	ValidationPassed ValidationResult = "passed"
	// ValidationFailed indicates the artifact failed validation with issues.
	ValidationFailed ValidationResult = "failed"
)

// =============================================================================
// Terminal Reason
// =============================================================================

// TerminalReason records why a session reached a terminal status.
type TerminalReason string

const (
	// TerminalReasonValidationPassed indicates successful completion.
	TerminalReasonValidationPassed TerminalReason = "validation_passed"
	// TerminalReasonRetriesExhausted indicates the correction cap was reached while failing.
	TerminalReasonRetriesExhausted TerminalReason = "retries_exhausted"
	// TerminalReasonEvicted indicates the session was administratively evicted.
	TerminalReasonEvicted TerminalReason = "evicted"
)
