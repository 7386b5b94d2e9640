package observability

import (
	"sync"
	"time"

	"github.com/datamorph-labs/convassist/coreengine/workflow"
)

// NewMetricsObserver returns an event handler that records Prometheus
// metrics for workflow events. Register it with Manager.OnEvent.
// Safe for concurrent delivery across sessions.
func NewMetricsObserver() workflow.WorkflowEventHandler {
	var mu sync.Mutex
	sessionStarts := make(map[string]time.Time)

	return func(event *workflow.WorkflowEvent) {
		mu.Lock()
		defer mu.Unlock()

		switch event.EventType {
		case workflow.WorkflowEventSessionStarted:
			RecordSessionStarted()
			sessionStarts[event.SessionID] = event.Timestamp

		case workflow.WorkflowEventAnswerRecorded:
			RecordAnswer()

		case workflow.WorkflowEventCorrectionStarted:
			RecordCorrectionAttempt()

		case workflow.WorkflowEventArtifactVersioned:
			RecordArtifactVersion()

		case workflow.WorkflowEventValidationCompleted:
			if result, ok := event.Data["result"].(string); ok {
				RecordValidationOutcome(result)
			}

		case workflow.WorkflowEventSessionTerminated:
			status, _ := event.Data["status"].(string)
			reason, _ := event.Data["reason"].(string)
			duration := 0.0
			if start, ok := sessionStarts[event.SessionID]; ok {
				duration = event.Timestamp.Sub(start).Seconds()
				delete(sessionStarts, event.SessionID)
			}
			RecordSessionTerminated(status, reason, duration)

		case workflow.WorkflowEventSessionEvicted:
			delete(sessionStarts, event.SessionID)
		}
	}
}
