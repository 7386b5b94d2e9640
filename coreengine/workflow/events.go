package workflow

import (
	"time"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

// =============================================================================
// Workflow Events
// =============================================================================

// WorkflowEventType represents types of workflow events.
type WorkflowEventType string

const (
	WorkflowEventSessionStarted      WorkflowEventType = "session.started"
	WorkflowEventStatusChanged       WorkflowEventType = "session.status_changed"
	WorkflowEventPhaseChanged        WorkflowEventType = "session.phase_changed"
	WorkflowEventQuestionAsked       WorkflowEventType = "conversation.question_asked"
	WorkflowEventAnswerRecorded      WorkflowEventType = "conversation.answer_recorded"
	WorkflowEventCorrectionStarted   WorkflowEventType = "correction.started"
	WorkflowEventValidationCompleted WorkflowEventType = "validation.completed"
	WorkflowEventArtifactVersioned   WorkflowEventType = "artifact.versioned"
	WorkflowEventSessionTerminated   WorkflowEventType = "session.terminated"
	WorkflowEventSessionEvicted      WorkflowEventType = "session.evicted"
)

// WorkflowEvent represents a state change emitted by the manager.
// Events are emitted after the owning session mutation commits.
type WorkflowEvent struct {
	EventType WorkflowEventType `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id"`
	OwnerID   string            `json:"owner_id"`
	Data      map[string]any    `json:"data,omitempty"`
}

// NewWorkflowEvent creates a new workflow event.
func NewWorkflowEvent(eventType WorkflowEventType, sessionID, ownerID string) *WorkflowEvent {
	return &WorkflowEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		OwnerID:   ownerID,
	}
}

// SessionStartedEvent creates a session.started event.
func SessionStartedEvent(state *session.GlobalState) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventSessionStarted, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"dataset_ref": state.DatasetRef,
	}
	return evt
}

// StatusChangedEvent creates a session.status_changed event.
func StatusChangedEvent(state *session.GlobalState, oldStatus session.ConversionStatus) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventStatusChanged, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"old_status": string(oldStatus),
		"new_status": string(state.Status),
	}
	return evt
}

// PhaseChangedEvent creates a session.phase_changed event.
func PhaseChangedEvent(state *session.GlobalState, oldPhase session.ConversationPhase) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventPhaseChanged, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"old_phase": string(oldPhase),
		"new_phase": string(state.Phase),
	}
	return evt
}

// QuestionAskedEvent creates a conversation.question_asked event.
func QuestionAskedEvent(question *Question, ownerID string) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventQuestionAsked, question.SessionID, ownerID)
	evt.Data = map[string]any{
		"question_id":  question.ID,
		"question_ref": question.Ref,
		"prompt":       question.Prompt,
	}
	return evt
}

// AnswerRecordedEvent creates a conversation.answer_recorded event.
func AnswerRecordedEvent(state *session.GlobalState, record session.QARecord) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventAnswerRecorded, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"question_ref": record.QuestionRef,
		"position":     record.Position,
	}
	return evt
}

// CorrectionStartedEvent creates a correction.started event.
func CorrectionStartedEvent(state *session.GlobalState) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventCorrectionStarted, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"retry_count": state.RetryCount,
	}
	return evt
}

// ValidationCompletedEvent creates a validation.completed event.
func ValidationCompletedEvent(state *session.GlobalState, outcome session.ValidationOutcome) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventValidationCompleted, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"result":      string(outcome.Result),
		"issue_count": len(outcome.Issues),
	}
	return evt
}

// ArtifactVersionedEvent creates an artifact.versioned event.
func ArtifactVersionedEvent(state *session.GlobalState, version session.ArtifactVersion) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventArtifactVersioned, state.SessionID, state.OwnerID)
	evt.Data = map[string]any{
		"version":  version.Version,
		"path":     version.Path,
		"checksum": version.Checksum,
	}
	return evt
}

// SessionTerminatedEvent creates a session.terminated event.
func SessionTerminatedEvent(state *session.GlobalState) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventSessionTerminated, state.SessionID, state.OwnerID)
	reason := ""
	if state.TerminalReason != nil {
		reason = string(*state.TerminalReason)
	}
	evt.Data = map[string]any{
		"status": string(state.Status),
		"reason": reason,
	}
	return evt
}

// SessionEvictedEvent creates a session.evicted event.
func SessionEvictedEvent(sessionID, ownerID, reason string) *WorkflowEvent {
	evt := NewWorkflowEvent(WorkflowEventSessionEvicted, sessionID, ownerID)
	evt.Data = map[string]any{
		"reason": reason,
	}
	return evt
}
