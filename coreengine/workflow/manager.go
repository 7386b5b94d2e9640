// Package workflow provides the conversion workflow state manager.
//
// The Manager composes:
//   - Per-session state machines (status and phase transition tables)
//   - RetryPolicy (correction attempt accounting)
//   - QuestionService (pending metadata question tracking)
//   - RateLimiter (sliding window rate limiting)
//   - Artifact versioning (checksummed copies per attempt)
//
// This is the main entry point for the orchestration layer.
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

// Logger is the minimal logging interface used across the package.
// Call sites tolerate a nil logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ArtifactVersioner produces checksummed, uniquely named copies of
// attempt outputs. Implemented by versionstore.Store.
type ArtifactVersioner interface {
	CreateVersion(original string, attempt int) (path string, digest string, err error)
}

// =============================================================================
// Manager Configuration
// =============================================================================

// ManagerConfig configures the workflow manager.
type ManagerConfig struct {
	// Maximum correction attempts per session
	MaxRetryAttempts int `json:"max_retry_attempts"`
	// Metadata fields every session must collect
	RequiredMetadataFields []string `json:"required_metadata_fields"`
	// Maximum metadata questions per gathering phase
	MaxMetadataQuestions int `json:"max_metadata_questions"`
	// TTL for pending metadata questions (0 disables expiry)
	QuestionTTL time.Duration `json:"question_ttl"`
	// Default rate limit configuration (nil disables rate limiting)
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

// DefaultManagerConfig returns default manager configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MaxRetryAttempts:     DefaultMaxRetryAttempts,
		MaxMetadataQuestions: 10,
		QuestionTTL:          30 * time.Minute,
		RateLimit:            DefaultRateLimitConfig(),
	}
}

// =============================================================================
// Manager
// =============================================================================

// sessionEntry pairs a session's state with its exclusive lock.
// Every mutating operation on the session runs as a single
// read-modify-write under this lock.
type sessionEntry struct {
	mu    sync.Mutex
	state *session.GlobalState
}

// WorkflowEventHandler handles workflow events.
type WorkflowEventHandler func(*WorkflowEvent)

// Manager owns one GlobalState per conversion session and exposes atomic
// transition operations on it. No other code holds a writable reference
// to a session's state; reads return deep copies.
//
// Concurrency model: a registry-level RWMutex guards the session map, and
// each session carries its own mutex. Mutations lock only their session,
// so sessions are fully independent and throughput scales with session
// count. External work (LLM calls, conversion, validation) never runs
// under a session lock; callers re-enter the manager to record outcomes.
type Manager struct {
	config *ManagerConfig
	logger Logger

	// Subsystems
	retryPolicy *RetryPolicy
	questions   *QuestionService
	rateLimiter *RateLimiter
	versions    ArtifactVersioner

	sessions map[string]*sessionEntry
	mu       sync.RWMutex

	eventHandlers []WorkflowEventHandler
	eventMu       sync.RWMutex

	startedAt time.Time
}

// NewManager creates a new workflow manager.
// versions may be nil when artifact recording is not used.
func NewManager(logger Logger, config *ManagerConfig, versions ArtifactVersioner) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}

	m := &Manager{
		config:        config,
		logger:        logger,
		retryPolicy:   NewRetryPolicy(config.MaxRetryAttempts),
		questions:     NewQuestionService(logger, config.QuestionTTL),
		versions:      versions,
		sessions:      make(map[string]*sessionEntry),
		eventHandlers: []WorkflowEventHandler{},
		startedAt:     time.Now().UTC(),
	}
	if config.RateLimit != nil {
		m.rateLimiter = NewRateLimiter(config.RateLimit)
	}

	if logger != nil {
		logger.Info("workflow_manager_initialized",
			"max_retry_attempts", m.retryPolicy.MaxAttempts(),
			"max_metadata_questions", config.MaxMetadataQuestions,
		)
	}

	return m
}

// =============================================================================
// Subsystem Access
// =============================================================================

// RetryPolicy returns the retry policy.
func (m *Manager) RetryPolicy() *RetryPolicy {
	return m.retryPolicy
}

// Questions returns the question service.
func (m *Manager) Questions() *QuestionService {
	return m.questions
}

// RateLimiter returns the rate limiter, or nil when disabled.
func (m *Manager) RateLimiter() *RateLimiter {
	return m.rateLimiter
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// StartSession creates a fresh session for a dataset and returns a
// snapshot of its initial state.
func (m *Manager) StartSession(datasetRef, ownerID string) (*session.GlobalState, error) {
	if err := m.checkRateLimit(ownerID, "start_session"); err != nil {
		return nil, err
	}

	sessionID := "sess_" + uuid.New().String()[:16]
	state := session.NewGlobalState(sessionID, datasetRef, ownerID)

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, &DuplicateSessionError{SessionID: sessionID}
	}
	m.sessions[sessionID] = &sessionEntry{state: state}
	m.mu.Unlock()

	m.emitEvent(SessionStartedEvent(state))

	if m.logger != nil {
		m.logger.Info("session_started",
			"session_id", sessionID,
			"dataset_ref", datasetRef,
			"owner_id", ownerID,
		)
	}

	return state.Clone(), nil
}

// GetState returns an immutable snapshot of a session's state.
func (m *Manager) GetState(sessionID string) (*session.GlobalState, error) {
	entry, err := m.entry(sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	snapshot := entry.state.Clone()
	entry.mu.Unlock()
	return snapshot, nil
}

// ListSessions returns snapshots of sessions matching criteria.
// A nil status matches all statuses; an empty ownerID matches all owners.
func (m *Manager) ListSessions(status *session.ConversionStatus, ownerID string) []*session.GlobalState {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	var result []*session.GlobalState
	for _, entry := range entries {
		entry.mu.Lock()
		match := (status == nil || entry.state.Status == *status) &&
			(ownerID == "" || entry.state.OwnerID == ownerID)
		if match {
			result = append(result, entry.state.Clone())
		}
		entry.mu.Unlock()
	}
	return result
}

// EvictSession removes a session and its question records.
func (m *Manager) EvictSession(sessionID, reason string) error {
	m.mu.Lock()
	entry, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return &UnknownSessionError{SessionID: sessionID}
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	entry.mu.Lock()
	ownerID := entry.state.OwnerID
	entry.mu.Unlock()

	m.questions.CancelPending(sessionID, "session_evicted")
	m.questions.CleanupSession(sessionID)

	m.emitEvent(SessionEvictedEvent(sessionID, ownerID, reason))

	if m.logger != nil {
		m.logger.Info("session_evicted",
			"session_id", sessionID,
			"reason", reason,
		)
	}
	return nil
}

// =============================================================================
// Conversation
// =============================================================================

// AskQuestion registers a pending metadata question for a session.
// Requires the metadata-gathering phase and an unexhausted question budget.
func (m *Manager) AskQuestion(sessionID, questionRef, prompt string) (*Question, error) {
	entry, err := m.entry(sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return nil, &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	if state.Phase != session.PhaseGatheringMetadata {
		phase := state.Phase
		entry.mu.Unlock()
		return nil, &InvalidPhaseError{
			SessionID: sessionID,
			Operation: "ask_question",
			Phase:     phase,
			Required:  session.PhaseGatheringMetadata,
		}
	}
	if !state.MetadataPolicy.CanAsk() {
		entry.mu.Unlock()
		return nil, &QuestionBudgetError{
			SessionID: sessionID,
			Asked:     len(state.MetadataPolicy.Asked),
			Limit:     state.MetadataPolicy.MaxQuestions,
		}
	}
	state.MetadataPolicy.MarkAsked(questionRef)
	state.Touch()
	ownerID := state.OwnerID
	entry.mu.Unlock()

	question := m.questions.Ask(sessionID, questionRef, prompt)
	m.emitEvent(QuestionAskedEvent(question, ownerID))
	return question, nil
}

// RecordAnswer appends one question/answer record to the session's ledger.
// Safe under concurrent calls for the same session: the append is a single
// read-modify-write under the session lock, so no answer is ever lost.
func (m *Manager) RecordAnswer(sessionID, questionRef, answer string) (session.QARecord, error) {
	if err := m.checkRateLimitForSession(sessionID, "record_answer"); err != nil {
		return session.QARecord{}, err
	}

	entry, err := m.entry(sessionID)
	if err != nil {
		return session.QARecord{}, err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return session.QARecord{}, &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	if !state.Phase.AcceptsAnswers() {
		phase := state.Phase
		entry.mu.Unlock()
		return session.QARecord{}, &InvalidPhaseError{
			SessionID: sessionID,
			Operation: "record_answer",
			Phase:     phase,
			Required:  session.PhaseGatheringMetadata,
		}
	}

	record := session.QARecord{
		QuestionRef: questionRef,
		Answer:      answer,
		RecordedAt:  time.Now().UTC(),
	}
	record.Position = state.Conversation.Append(record)
	state.MetadataPolicy.MarkAnswered(questionRef)
	state.Touch()
	snapshot := state.Clone()
	entry.mu.Unlock()

	m.questions.ResolveByRef(sessionID, questionRef, answer)
	m.emitEvent(AnswerRecordedEvent(snapshot, record))

	if m.logger != nil {
		m.logger.Debug("answer_recorded",
			"session_id", sessionID,
			"question_ref", questionRef,
			"position", record.Position,
		)
	}
	return record, nil
}

// =============================================================================
// Transitions
// =============================================================================

// AdvancePhase transitions the session's conversation phase.
// Entry into the metadata-gathering phase always reinitializes the
// session's MetadataRequestPolicy, including re-entry from the same
// phase; stale asked/answered bookkeeping from a prior attempt must not
// suppress questions in the next one.
func (m *Manager) AdvancePhase(sessionID string, target session.ConversationPhase) error {
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	oldPhase := state.Phase
	if !IsValidPhaseTransition(oldPhase, target) {
		entry.mu.Unlock()
		return &PhaseTransitionError{SessionID: sessionID, From: oldPhase, To: target}
	}

	state.Phase = target
	if target == session.PhaseGatheringMetadata {
		state.MetadataPolicy = session.NewMetadataRequestPolicy(
			m.config.RequiredMetadataFields,
			m.config.MaxMetadataQuestions,
		)
	}
	state.Touch()
	snapshot := state.Clone()
	entry.mu.Unlock()

	if oldPhase == session.PhaseGatheringMetadata && target != session.PhaseGatheringMetadata {
		m.questions.CancelPending(sessionID, "phase_changed")
	}
	m.emitEvent(PhaseChangedEvent(snapshot, oldPhase))

	if m.logger != nil {
		m.logger.Info("phase_changed",
			"session_id", sessionID,
			"old_phase", string(oldPhase),
			"new_phase", string(target),
		)
	}
	return nil
}

// AdvanceStatus transitions the session's conversion status.
// Terminal statuses cannot be reached through this operation; they are
// set by RecordValidationOutcome and BeginCorrectionAttempt, which also
// record the terminal reason.
func (m *Manager) AdvanceStatus(sessionID string, target session.ConversionStatus) error {
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	oldStatus := state.Status
	if target.IsTerminal() || !IsValidStatusTransition(oldStatus, target) {
		entry.mu.Unlock()
		return &StatusTransitionError{SessionID: sessionID, From: oldStatus, To: target}
	}

	state.Status = target
	state.Touch()
	snapshot := state.Clone()
	entry.mu.Unlock()

	m.emitEvent(StatusChangedEvent(snapshot, oldStatus))

	if m.logger != nil {
		m.logger.Info("status_changed",
			"session_id", sessionID,
			"old_status", string(oldStatus),
			"new_status", string(target),
		)
	}
	return nil
}

// BeginCorrectionAttempt is the retry gate. When attempts remain it
// increments the retry counter exactly once and moves the session back
// to analyzing; when the cap is reached it fails the session and
// returns RetryExhaustedError without touching the counter.
func (m *Manager) BeginCorrectionAttempt(sessionID string) (int, error) {
	entry, err := m.entry(sessionID)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return 0, &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	oldStatus := state.Status
	if oldStatus != session.StatusCorrecting {
		entry.mu.Unlock()
		return 0, &StatusTransitionError{SessionID: sessionID, From: oldStatus, To: session.StatusAnalyzing}
	}

	if !m.retryPolicy.CanAttempt(state.RetryCount) {
		retryCount := state.RetryCount
		state.Terminate(session.StatusFailed, session.TerminalReasonRetriesExhausted)
		snapshot := state.Clone()
		entry.mu.Unlock()

		m.emitEvent(StatusChangedEvent(snapshot, oldStatus))
		m.emitEvent(SessionTerminatedEvent(snapshot))

		if m.logger != nil {
			m.logger.Warn("correction_attempts_exhausted",
				"session_id", sessionID,
				"retry_count", retryCount,
				"max_attempts", m.retryPolicy.MaxAttempts(),
			)
		}
		return retryCount, &RetryExhaustedError{
			SessionID:   sessionID,
			RetryCount:  retryCount,
			MaxAttempts: m.retryPolicy.MaxAttempts(),
		}
	}

	state.RetryCount++
	state.Status = session.StatusAnalyzing
	state.Touch()
	retryCount := state.RetryCount
	snapshot := state.Clone()
	entry.mu.Unlock()

	m.emitEvent(CorrectionStartedEvent(snapshot))
	m.emitEvent(StatusChangedEvent(snapshot, oldStatus))

	if m.logger != nil {
		m.logger.Info("correction_attempt_started",
			"session_id", sessionID,
			"retry_count", retryCount,
			"remaining", m.retryPolicy.Remaining(retryCount),
		)
	}
	return retryCount, nil
}

// RecordValidationOutcome stores a validation result and drives the
// session forward: passed completes the session; failed either opens a
// correction cycle or, with the retry budget spent, fails the session.
func (m *Manager) RecordValidationOutcome(sessionID string, outcome session.ValidationOutcome) error {
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}
	oldStatus := state.Status
	if oldStatus != session.StatusValidating {
		entry.mu.Unlock()
		return &StatusTransitionError{SessionID: sessionID, From: oldStatus, To: session.StatusCompleted}
	}

	state.Validation = outcome.Clone()

	var terminated bool
	switch outcome.Result {
	case session.ValidationPassed:
		state.Terminate(session.StatusCompleted, session.TerminalReasonValidationPassed)
		terminated = true
	case session.ValidationFailed:
		if m.retryPolicy.CanAttempt(state.RetryCount) {
			state.Status = session.StatusCorrecting
			state.Phase = session.PhaseAwaitingCorrection
		} else {
			state.Terminate(session.StatusFailed, session.TerminalReasonRetriesExhausted)
			terminated = true
		}
	default:
		entry.mu.Unlock()
		return &StatusTransitionError{SessionID: sessionID, From: oldStatus, To: oldStatus}
	}
	state.Touch()
	snapshot := state.Clone()
	entry.mu.Unlock()

	m.emitEvent(ValidationCompletedEvent(snapshot, outcome))
	m.emitEvent(StatusChangedEvent(snapshot, oldStatus))
	if terminated {
		m.emitEvent(SessionTerminatedEvent(snapshot))
	}

	if m.logger != nil {
		m.logger.Info("validation_outcome_recorded",
			"session_id", sessionID,
			"result", string(outcome.Result),
			"issues", len(outcome.Issues),
			"new_status", string(snapshot.Status),
		)
	}
	return nil
}

// RecordArtifact stores a checksummed version of an attempt's output
// file and appends it to the session's version history. Recording an
// artifact while analyzing also moves the session to validating.
//
// The checksum and copy run under the session lock: they are bounded
// local disk IO, and releasing the lock mid-operation would let a
// concurrent call claim the same version number.
func (m *Manager) RecordArtifact(sessionID, filePath string) (session.ArtifactVersion, error) {
	if m.versions == nil {
		return session.ArtifactVersion{}, &VersioningDisabledError{SessionID: sessionID}
	}

	entry, err := m.entry(sessionID)
	if err != nil {
		return session.ArtifactVersion{}, err
	}

	entry.mu.Lock()
	state := entry.state
	if state.IsTerminal() {
		entry.mu.Unlock()
		return session.ArtifactVersion{}, &TerminalSessionError{SessionID: sessionID, Status: state.Status}
	}

	attempt := state.NextArtifactVersion()
	versionPath, digest, err := m.versions.CreateVersion(filePath, attempt)
	if err != nil {
		entry.mu.Unlock()
		return session.ArtifactVersion{}, err
	}

	version := session.ArtifactVersion{
		Version:   attempt,
		Path:      versionPath,
		Checksum:  digest,
		CreatedAt: time.Now().UTC(),
	}
	state.ArtifactVersions = append(state.ArtifactVersions, version)

	oldStatus := state.Status
	statusChanged := false
	if oldStatus == session.StatusAnalyzing {
		state.Status = session.StatusValidating
		statusChanged = true
	}
	state.Touch()
	snapshot := state.Clone()
	entry.mu.Unlock()

	m.emitEvent(ArtifactVersionedEvent(snapshot, version))
	if statusChanged {
		m.emitEvent(StatusChangedEvent(snapshot, oldStatus))
	}

	if m.logger != nil {
		m.logger.Info("artifact_recorded",
			"session_id", sessionID,
			"version", version.Version,
			"path", version.Path,
			"checksum", version.Checksum[:8],
		)
	}
	return version, nil
}

// =============================================================================
// Event System
// =============================================================================

// OnEvent registers an event handler. Handlers run synchronously after
// the mutation commits and outside the session lock; a panicking
// handler is recovered and logged.
func (m *Manager) OnEvent(handler WorkflowEventHandler) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	m.eventHandlers = append(m.eventHandlers, handler)
}

// emitEvent emits an event to all handlers.
func (m *Manager) emitEvent(event *WorkflowEvent) {
	m.eventMu.RLock()
	handlers := make([]WorkflowEventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.eventMu.RUnlock()

	for _, handler := range handlers {
		h := handler
		_ = SafeExecute(m.logger, "event_handler", func() error {
			h(event)
			return nil
		})
	}
}

// =============================================================================
// Rate Limiting
// =============================================================================

func (m *Manager) checkRateLimit(ownerID, operation string) error {
	if m.rateLimiter == nil {
		return nil
	}
	result := m.rateLimiter.Check(ownerID, operation)
	if result.Allowed {
		return nil
	}
	if m.logger != nil {
		m.logger.Warn("rate_limit_exceeded",
			"owner_id", ownerID,
			"operation", operation,
			"limit_type", result.LimitType,
			"retry_after", result.RetryAfter,
		)
	}
	return &RateLimitedError{
		OwnerID:    ownerID,
		LimitType:  result.LimitType,
		RetryAfter: result.RetryAfter,
	}
}

func (m *Manager) checkRateLimitForSession(sessionID, operation string) error {
	if m.rateLimiter == nil {
		return nil
	}
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	ownerID := entry.state.OwnerID
	entry.mu.Unlock()
	return m.checkRateLimit(ownerID, operation)
}

// =============================================================================
// System Status
// =============================================================================

// GetStats returns overall manager statistics.
func (m *Manager) GetStats() map[string]any {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	byStatus := make(map[string]int)
	active := 0
	for _, entry := range entries {
		entry.mu.Lock()
		byStatus[string(entry.state.Status)]++
		if entry.state.Status.IsActive() {
			active++
		}
		entry.mu.Unlock()
	}

	return map[string]any{
		"sessions": map[string]any{
			"total":     len(entries),
			"active":    active,
			"by_status": byStatus,
		},
		"questions":      m.questions.GetStats(),
		"uptime_seconds": time.Since(m.startedAt).Seconds(),
	}
}

// entry returns the live session entry for an id.
func (m *Manager) entry(sessionID string) (*sessionEntry, error) {
	m.mu.RLock()
	entry, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		return nil, &UnknownSessionError{SessionID: sessionID}
	}
	return entry, nil
}
