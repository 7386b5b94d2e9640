package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convassist_sessions_started_total",
			Help: "Total number of conversion sessions started",
		},
	)

	sessionsTerminatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convassist_sessions_terminated_total",
			Help: "Total number of sessions reaching a terminal status",
		},
		[]string{"status", "reason"}, // status: completed, failed
	)

	sessionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convassist_session_duration_seconds",
			Help:    "Session duration from start to terminal status in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
		},
		[]string{"status"},
	)
)

// =============================================================================
// CORRECTION LOOP METRICS
// =============================================================================

var (
	correctionAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convassist_correction_attempts_total",
			Help: "Total number of correction attempts started",
		},
	)

	validationOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convassist_validation_outcomes_total",
			Help: "Total number of validation outcomes recorded",
		},
		[]string{"result"}, // result: passed, failed
	)

	answersRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convassist_answers_recorded_total",
			Help: "Total number of metadata answers appended to ledgers",
		},
	)
)

// =============================================================================
// ARTIFACT METRICS
// =============================================================================

var (
	artifactVersionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convassist_artifact_versions_total",
			Help: "Total number of checksummed artifact versions created",
		},
	)

	checksumDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convassist_checksum_duration_seconds",
			Help:    "Artifact checksum computation duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convassist_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convassist_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSessionStarted records a session start.
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
}

// RecordSessionTerminated records a session reaching a terminal status.
func RecordSessionTerminated(status, reason string, durationSeconds float64) {
	sessionsTerminatedTotal.WithLabelValues(status, reason).Inc()
	sessionDurationSeconds.WithLabelValues(status).Observe(durationSeconds)
}

// RecordCorrectionAttempt records the start of a correction attempt.
func RecordCorrectionAttempt() {
	correctionAttemptsTotal.Inc()
}

// RecordValidationOutcome records a validation result.
func RecordValidationOutcome(result string) {
	validationOutcomesTotal.WithLabelValues(result).Inc()
}

// RecordAnswer records one ledger append.
func RecordAnswer() {
	answersRecordedTotal.Inc()
}

// RecordArtifactVersion records the creation of a checksummed artifact copy.
func RecordArtifactVersion() {
	artifactVersionsTotal.Inc()
}

// ObserveChecksumDuration records how long one artifact digest took.
func ObserveChecksumDuration(seconds float64) {
	checksumDurationSeconds.Observe(seconds)
}

// RecordLLMCall records LLM call metrics.
// This should be called after LLM generation completes.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}
