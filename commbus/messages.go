// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the conversion workflow bus.
// Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// =============================================================================
// SESSION LIFECYCLE EVENTS
// =============================================================================

// SessionStarted is emitted when a conversion session is created.
// Subscribers: telemetry, progress broadcast, trace logging.
type SessionStarted struct {
	SessionID  string `json:"session_id"`
	DatasetRef string `json:"dataset_ref"`
	OwnerID    string `json:"owner_id"`
}

// Category implements the Message interface.
func (m *SessionStarted) Category() string { return string(MessageCategoryEvent) }

// StatusChanged is emitted when a session's conversion status moves.
type StatusChanged struct {
	SessionID  string `json:"session_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// Category implements the Message interface.
func (m *StatusChanged) Category() string { return string(MessageCategoryEvent) }

// PhaseChanged is emitted when a session's conversation phase moves.
type PhaseChanged struct {
	SessionID string `json:"session_id"`
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
}

// Category implements the Message interface.
func (m *PhaseChanged) Category() string { return string(MessageCategoryEvent) }

// SessionTerminated is emitted when a session reaches a terminal status.
type SessionTerminated struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // "completed", "failed"
	Reason    string `json:"reason"`
}

// Category implements the Message interface.
func (m *SessionTerminated) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// CONVERSATION EVENTS
// =============================================================================

// QuestionAsked is emitted when a metadata question is put to the user.
// Subscribers: progress broadcast, telemetry.
type QuestionAsked struct {
	SessionID   string `json:"session_id"`
	QuestionID  string `json:"question_id"`
	QuestionRef string `json:"question_ref"`
	Prompt      string `json:"prompt"`
}

// Category implements the Message interface.
func (m *QuestionAsked) Category() string { return string(MessageCategoryEvent) }

// AnswerRecorded is emitted when an answer is appended to a session's ledger.
type AnswerRecorded struct {
	SessionID   string `json:"session_id"`
	QuestionRef string `json:"question_ref"`
	Position    int    `json:"position"`
}

// Category implements the Message interface.
func (m *AnswerRecorded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// CORRECTION LOOP EVENTS
// =============================================================================

// CorrectionStarted is emitted when a correction attempt begins.
type CorrectionStarted struct {
	SessionID  string `json:"session_id"`
	RetryCount int    `json:"retry_count"`
}

// Category implements the Message interface.
func (m *CorrectionStarted) Category() string { return string(MessageCategoryEvent) }

// ValidationCompleted is emitted when an artifact validation finishes.
type ValidationCompleted struct {
	SessionID  string `json:"session_id"`
	Result     string `json:"result"` // "passed", "failed"
	IssueCount int    `json:"issue_count"`
}

// Category implements the Message interface.
func (m *ValidationCompleted) Category() string { return string(MessageCategoryEvent) }

// ArtifactVersioned is emitted when a checksummed artifact copy is stored.
type ArtifactVersioned struct {
	SessionID string `json:"session_id"`
	Version   int    `json:"version"`
	Path      string `json:"path"`
	Checksum  string `json:"checksum"`
}

// Category implements the Message interface.
func (m *ArtifactVersioned) Category() string { return string(MessageCategoryEvent) }

// ConversionProgress is a broadcast message for long-running conversion steps.
type ConversionProgress struct {
	SessionID string         `json:"session_id"`
	Stage     string         `json:"stage"` // "converting", "validating", "correcting"
	Payload   map[string]any `json:"payload,omitempty"`
}

// Category implements the Message interface.
func (m *ConversionProgress) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// SESSION QUERIES
// =============================================================================

// GetSessionState queries the current snapshot of a session.
type GetSessionState struct {
	SessionID string `json:"session_id"`
}

// Category implements the Message interface.
func (m *GetSessionState) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSessionState) IsQuery() {}

// SessionStateResponse is the response for GetSessionState query.
type SessionStateResponse struct {
	Found bool           `json:"found"`
	State map[string]any `json:"state,omitempty"`
}

// GetManagerStats queries aggregate workflow statistics.
type GetManagerStats struct{}

// Category implements the Message interface.
func (m *GetManagerStats) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetManagerStats) IsQuery() {}

// ManagerStatsResponse is the response for GetManagerStats query.
type ManagerStatsResponse struct {
	Stats map[string]any `json:"stats"`
}

// GetBusStats queries the bus's own traffic counters.
type GetBusStats struct{}

// Category implements the Message interface.
func (m *GetBusStats) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetBusStats) IsQuery() {}

// BusStatsResponse is the response for GetBusStats query.
type BusStatsResponse struct {
	Stats map[string]any `json:"stats"`
}

// =============================================================================
// FORMAT QUERIES
// =============================================================================

// GetFormatCapabilities queries which converters handle a source format.
type GetFormatCapabilities struct {
	Format *string `json:"format,omitempty"` // nil = list all formats
}

// Category implements the Message interface.
func (m *GetFormatCapabilities) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetFormatCapabilities) IsQuery() {}

// FormatCapabilitiesResponse is the response for GetFormatCapabilities query.
type FormatCapabilitiesResponse struct {
	Formats []string `json:"formats"`
}

// =============================================================================
// CONFIG QUERIES
// =============================================================================

// GetSettings queries application settings.
type GetSettings struct {
	Key *string `json:"key,omitempty"` // nil = get all settings
}

// Category implements the Message interface.
func (m *GetSettings) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSettings) IsQuery() {}

// SettingsResponse is the response for GetSettings query.
type SettingsResponse struct {
	Values map[string]any `json:"values"`
}

// =============================================================================
// HEALTH CHECK QUERIES
// =============================================================================

// HealthCheckRequest requests health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "llm", "versionstore", "workflow"
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Details   map[string]any `json:"details,omitempty"`
	LatencyMS *int           `json:"latency_ms,omitempty"`
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

// EvictSession is a command to remove a session from the manager.
type EvictSession struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Category implements the Message interface.
func (m *EvictSession) Category() string { return string(MessageCategoryCommand) }

// ExpireQuestions is a command to expire overdue metadata questions.
type ExpireQuestions struct{}

// Category implements the Message interface.
func (m *ExpireQuestions) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
// This is useful for dynamically-typed messages bridged in from other transports.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *SessionStarted:
		return "SessionStarted"
	case *StatusChanged:
		return "StatusChanged"
	case *PhaseChanged:
		return "PhaseChanged"
	case *SessionTerminated:
		return "SessionTerminated"
	case *QuestionAsked:
		return "QuestionAsked"
	case *AnswerRecorded:
		return "AnswerRecorded"
	case *CorrectionStarted:
		return "CorrectionStarted"
	case *ValidationCompleted:
		return "ValidationCompleted"
	case *ArtifactVersioned:
		return "ArtifactVersioned"
	case *ConversionProgress:
		return "ConversionProgress"
	case *GetSessionState:
		return "GetSessionState"
	case *GetManagerStats:
		return "GetManagerStats"
	case *GetBusStats:
		return "GetBusStats"
	case *GetFormatCapabilities:
		return "GetFormatCapabilities"
	case *GetSettings:
		return "GetSettings"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	case *EvictSession:
		return "EvictSession"
	case *ExpireQuestions:
		return "ExpireQuestions"
	default:
		return "Unknown"
	}
}
