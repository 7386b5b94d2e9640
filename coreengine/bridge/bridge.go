// Package bridge connects the workflow manager to the commbus.
//
// The bridge forwards manager events onto the bus as typed messages and
// answers bus queries and commands against the manager. Forwarding runs
// in the manager's event handlers, which already execute outside the
// session lock, so bus subscribers can never block a session mutation.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/datamorph-labs/convassist/commbus"
	"github.com/datamorph-labs/convassist/coreengine/config"
	"github.com/datamorph-labs/convassist/coreengine/convert"
	"github.com/datamorph-labs/convassist/coreengine/typeutil"
	"github.com/datamorph-labs/convassist/coreengine/workflow"
)

// Logger is the minimal structured logging interface. A nil Logger
// disables logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bridge wires a workflow manager onto a commbus.
type Bridge struct {
	logger   Logger
	bus      commbus.CommBus
	manager  *workflow.Manager
	registry *convert.FormatRegistry // optional, enables GetFormatCapabilities
	store    commbus.SessionStore    // optional, persists terminal snapshots
}

// New creates a bridge. registry and store may be nil; the corresponding
// handlers are then not registered.
func New(
	logger Logger,
	bus commbus.CommBus,
	manager *workflow.Manager,
	registry *convert.FormatRegistry,
	store commbus.SessionStore,
) *Bridge {
	return &Bridge{
		logger:   logger,
		bus:      bus,
		manager:  manager,
		registry: registry,
		store:    store,
	}
}

// Attach subscribes the bridge to manager events and registers its query
// and command handlers on the bus. Call once during startup.
func (b *Bridge) Attach() error {
	b.manager.OnEvent(b.forwardEvent)

	handlers := map[string]commbus.HandlerFunc{
		"GetSessionState":    b.handleGetSessionState,
		"GetManagerStats":    b.handleGetManagerStats,
		"GetBusStats":        b.handleGetBusStats,
		"GetSettings":        b.handleGetSettings,
		"HealthCheckRequest": b.handleHealthCheck,
		"EvictSession":       b.handleEvictSession,
		"ExpireQuestions":    b.handleExpireQuestions,
	}
	if b.registry != nil {
		handlers["GetFormatCapabilities"] = b.handleGetFormatCapabilities
	}

	for messageType, handler := range handlers {
		if err := b.bus.RegisterHandler(messageType, handler); err != nil {
			return err
		}
	}

	if b.logger != nil {
		b.logger.Info("bridge_attached", "handlers", len(handlers))
	}
	return nil
}

// =============================================================================
// Event Forwarding
// =============================================================================

// forwardEvent maps one workflow event to its bus message and publishes it.
func (b *Bridge) forwardEvent(evt *workflow.WorkflowEvent) {
	msg := b.translate(evt)
	if msg == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.bus.Publish(ctx, msg); err != nil && b.logger != nil {
		b.logger.Warn("event_publish_failed",
			"event_type", string(evt.EventType),
			"session_id", evt.SessionID,
			"error", err.Error(),
		)
	}

	if evt.EventType == workflow.WorkflowEventSessionTerminated {
		b.persistSnapshot(ctx, evt.SessionID)
	}
}

func (b *Bridge) translate(evt *workflow.WorkflowEvent) commbus.Message {
	switch evt.EventType {
	case workflow.WorkflowEventSessionStarted:
		return &commbus.SessionStarted{
			SessionID:  evt.SessionID,
			DatasetRef: dataString(evt, "dataset_ref"),
			OwnerID:    evt.OwnerID,
		}
	case workflow.WorkflowEventStatusChanged:
		return &commbus.StatusChanged{
			SessionID:  evt.SessionID,
			FromStatus: dataString(evt, "old_status"),
			ToStatus:   dataString(evt, "new_status"),
		}
	case workflow.WorkflowEventPhaseChanged:
		return &commbus.PhaseChanged{
			SessionID: evt.SessionID,
			FromPhase: dataString(evt, "old_phase"),
			ToPhase:   dataString(evt, "new_phase"),
		}
	case workflow.WorkflowEventQuestionAsked:
		return &commbus.QuestionAsked{
			SessionID:   evt.SessionID,
			QuestionID:  dataString(evt, "question_id"),
			QuestionRef: dataString(evt, "question_ref"),
			Prompt:      dataString(evt, "prompt"),
		}
	case workflow.WorkflowEventAnswerRecorded:
		return &commbus.AnswerRecorded{
			SessionID:   evt.SessionID,
			QuestionRef: dataString(evt, "question_ref"),
			Position:    dataInt(evt, "position"),
		}
	case workflow.WorkflowEventCorrectionStarted:
		return &commbus.CorrectionStarted{
			SessionID:  evt.SessionID,
			RetryCount: dataInt(evt, "retry_count"),
		}
	case workflow.WorkflowEventValidationCompleted:
		return &commbus.ValidationCompleted{
			SessionID:  evt.SessionID,
			Result:     dataString(evt, "result"),
			IssueCount: dataInt(evt, "issue_count"),
		}
	case workflow.WorkflowEventArtifactVersioned:
		return &commbus.ArtifactVersioned{
			SessionID: evt.SessionID,
			Version:   dataInt(evt, "version"),
			Path:      dataString(evt, "path"),
			Checksum:  dataString(evt, "checksum"),
		}
	case workflow.WorkflowEventSessionTerminated:
		return &commbus.SessionTerminated{
			SessionID: evt.SessionID,
			Status:    dataString(evt, "status"),
			Reason:    dataString(evt, "reason"),
		}
	case workflow.WorkflowEventSessionEvicted:
		return &commbus.SessionTerminated{
			SessionID: evt.SessionID,
			Status:    "evicted",
			Reason:    dataString(evt, "reason"),
		}
	default:
		return nil
	}
}

// persistSnapshot stores the terminal session state for later inspection.
// The session is still registered at termination time; eviction removes
// it from the manager but not from the store.
func (b *Bridge) persistSnapshot(ctx context.Context, sessionID string) {
	if b.store == nil {
		return
	}

	state, err := b.manager.GetState(sessionID)
	if err != nil {
		return
	}

	snapshot, err := stateToMap(state)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("snapshot_encode_failed", "session_id", sessionID, "error", err.Error())
		}
		return
	}

	if err := b.store.Put(ctx, sessionID, snapshot); err != nil && b.logger != nil {
		b.logger.Warn("snapshot_store_failed", "session_id", sessionID, "error", err.Error())
	}
}

// =============================================================================
// Query Handlers
// =============================================================================

func (b *Bridge) handleGetSessionState(ctx context.Context, msg commbus.Message) (any, error) {
	query, ok := msg.(*commbus.GetSessionState)
	if !ok {
		return &commbus.SessionStateResponse{Found: false}, nil
	}

	state, err := b.manager.GetState(query.SessionID)
	if err != nil {
		return &commbus.SessionStateResponse{Found: false}, nil
	}

	snapshot, err := stateToMap(state)
	if err != nil {
		return nil, err
	}
	return &commbus.SessionStateResponse{Found: true, State: snapshot}, nil
}

func (b *Bridge) handleGetManagerStats(ctx context.Context, msg commbus.Message) (any, error) {
	return &commbus.ManagerStatsResponse{Stats: b.manager.GetStats()}, nil
}

func (b *Bridge) handleGetBusStats(ctx context.Context, msg commbus.Message) (any, error) {
	return &commbus.BusStatsResponse{Stats: b.bus.GetStats()}, nil
}

func (b *Bridge) handleGetFormatCapabilities(ctx context.Context, msg commbus.Message) (any, error) {
	query, ok := msg.(*commbus.GetFormatCapabilities)
	if !ok || query.Format == nil {
		return &commbus.FormatCapabilitiesResponse{Formats: b.registry.Names()}, nil
	}

	if b.registry.Has(*query.Format) {
		return &commbus.FormatCapabilitiesResponse{Formats: []string{*query.Format}}, nil
	}
	return &commbus.FormatCapabilitiesResponse{Formats: []string{}}, nil
}

func (b *Bridge) handleGetSettings(ctx context.Context, msg commbus.Message) (any, error) {
	values := config.GetCoreConfig().ToMap()

	query, ok := msg.(*commbus.GetSettings)
	if !ok || query.Key == nil {
		return &commbus.SettingsResponse{Values: values}, nil
	}

	filtered := map[string]any{}
	if v, found := values[*query.Key]; found {
		filtered[*query.Key] = v
	}
	return &commbus.SettingsResponse{Values: filtered}, nil
}

func (b *Bridge) handleHealthCheck(ctx context.Context, msg commbus.Message) (any, error) {
	component := "workflow"
	if req, ok := msg.(*commbus.HealthCheckRequest); ok && req.Component != "" {
		component = req.Component
	}

	switch component {
	case "formats":
		if b.registry == nil {
			return &commbus.HealthCheckResponse{Component: component, Status: "unhealthy"}, nil
		}
		return &commbus.HealthCheckResponse{
			Component: component,
			Status:    "healthy",
			Details:   b.registry.GetStats(),
		}, nil
	default:
		return &commbus.HealthCheckResponse{
			Component: component,
			Status:    "healthy",
			Details:   b.manager.GetStats(),
		}, nil
	}
}

// =============================================================================
// Command Handlers
// =============================================================================

func (b *Bridge) handleEvictSession(ctx context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.EvictSession)
	if !ok {
		return nil, nil
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "operator_request"
	}
	return nil, b.manager.EvictSession(cmd.SessionID, reason)
}

func (b *Bridge) handleExpireQuestions(ctx context.Context, msg commbus.Message) (any, error) {
	expired := b.manager.Questions().ExpirePending()
	if expired > 0 && b.logger != nil {
		b.logger.Info("questions_expired", "count", expired)
	}
	return nil, nil
}

// =============================================================================
// Helpers
// =============================================================================

func stateToMap(state any) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func dataString(evt *workflow.WorkflowEvent, key string) string {
	if evt.Data == nil {
		return ""
	}
	return typeutil.SafeStringDefault(evt.Data[key], "")
}

func dataInt(evt *workflow.WorkflowEvent, key string) int {
	if evt.Data == nil {
		return 0
	}
	return typeutil.SafeIntDefault(evt.Data[key], 0)
}
