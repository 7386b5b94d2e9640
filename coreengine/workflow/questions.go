// Package workflow provides metadata question tracking.
//
// Features:
//   - Create and resolve pending metadata questions
//   - Per-session index for fast lookup
//   - TTL expiry for abandoned questions
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Question Status
// =============================================================================

// QuestionStatus represents the status of a metadata question.
type QuestionStatus string

const (
	// QuestionStatusPending indicates the question is awaiting an answer.
	QuestionStatusPending QuestionStatus = "pending"
	// QuestionStatusAnswered indicates the question has been answered.
	QuestionStatusAnswered QuestionStatus = "answered"
	// QuestionStatusExpired indicates the question expired unanswered.
	QuestionStatusExpired QuestionStatus = "expired"
	// QuestionStatusCancelled indicates the question was withdrawn.
	QuestionStatusCancelled QuestionStatus = "cancelled"
)

// =============================================================================
// Question
// =============================================================================

// Question is one outstanding metadata request for a session.
type Question struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// Ref is the stable question reference: the metadata field being asked for.
	Ref       string         `json:"ref"`
	Prompt    string         `json:"prompt"`
	Status    QuestionStatus `json:"status"`
	Answer    string         `json:"answer,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	// ExpiresAt is nil for questions without a TTL.
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// IsPending checks if the question still awaits an answer.
func (q *Question) IsPending() bool {
	return q.Status == QuestionStatusPending
}

// IsExpired checks if the question passed its expiry time.
func (q *Question) IsExpired() bool {
	if q.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*q.ExpiresAt)
}

// =============================================================================
// Question Service
// =============================================================================

// QuestionService tracks pending metadata questions across sessions.
// Thread-safe. The service records bookkeeping only; whether a question
// may be asked at all is governed by the session's MetadataRequestPolicy.
type QuestionService struct {
	logger     Logger
	defaultTTL time.Duration

	store     map[string]*Question
	bySession map[string][]*Question
	mu        sync.RWMutex
}

// NewQuestionService creates a question service. A zero ttl disables expiry.
func NewQuestionService(logger Logger, defaultTTL time.Duration) *QuestionService {
	return &QuestionService{
		logger:     logger,
		defaultTTL: defaultTTL,
		store:      make(map[string]*Question),
		bySession:  make(map[string][]*Question),
	}
}

// Ask creates a pending question for a session and returns it.
func (qs *QuestionService) Ask(sessionID, ref, prompt string) *Question {
	now := time.Now().UTC()
	q := &Question{
		ID:        "q_" + uuid.New().String()[:16],
		SessionID: sessionID,
		Ref:       ref,
		Prompt:    prompt,
		Status:    QuestionStatusPending,
		CreatedAt: now,
	}
	if qs.defaultTTL > 0 {
		expires := now.Add(qs.defaultTTL)
		q.ExpiresAt = &expires
	}

	qs.mu.Lock()
	qs.store[q.ID] = q
	qs.bySession[sessionID] = append(qs.bySession[sessionID], q)
	qs.mu.Unlock()

	if qs.logger != nil {
		qs.logger.Info("question_asked",
			"question_id", q.ID,
			"session_id", sessionID,
			"ref", ref,
		)
	}

	return q
}

// ResolveByRef marks the most recent pending question with the given ref as
// answered. Returns the resolved question, or nil if none was pending.
func (qs *QuestionService) ResolveByRef(sessionID, ref, answer string) *Question {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	questions := qs.bySession[sessionID]
	for i := len(questions) - 1; i >= 0; i-- {
		q := questions[i]
		if q.Ref != ref || !q.IsPending() || q.IsExpired() {
			continue
		}
		now := time.Now().UTC()
		q.Status = QuestionStatusAnswered
		q.Answer = answer
		q.AnsweredAt = &now

		if qs.logger != nil {
			qs.logger.Info("question_answered",
				"question_id", q.ID,
				"session_id", sessionID,
				"ref", ref,
			)
		}
		return q
	}
	return nil
}

// Pending returns all pending, unexpired questions for a session.
func (qs *QuestionService) Pending(sessionID string) []*Question {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	var result []*Question
	for _, q := range qs.bySession[sessionID] {
		if q.IsPending() && !q.IsExpired() {
			result = append(result, q)
		}
	}
	return result
}

// CancelPending cancels all pending questions for a session.
// Used when a session leaves the metadata-gathering phase or is evicted.
// Returns the number of questions cancelled.
func (qs *QuestionService) CancelPending(sessionID, reason string) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	count := 0
	for _, q := range qs.bySession[sessionID] {
		if q.IsPending() {
			q.Status = QuestionStatusCancelled
			count++
		}
	}

	if qs.logger != nil && count > 0 {
		qs.logger.Info("questions_cancelled",
			"session_id", sessionID,
			"count", count,
			"reason", reason,
		)
	}
	return count
}

// ExpirePending expires all pending questions past their expiry time.
// Returns the number of questions expired.
func (qs *QuestionService) ExpirePending() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	count := 0
	for _, q := range qs.store {
		if q.IsPending() && q.IsExpired() {
			q.Status = QuestionStatusExpired
			count++
		}
	}

	if qs.logger != nil && count > 0 {
		qs.logger.Info("questions_expired", "count", count)
	}
	return count
}

// CleanupSession removes all question records for a session.
func (qs *QuestionService) CleanupSession(sessionID string) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	questions := qs.bySession[sessionID]
	for _, q := range questions {
		delete(qs.store, q.ID)
	}
	delete(qs.bySession, sessionID)
	return len(questions)
}

// GetStats returns question counts by status.
func (qs *QuestionService) GetStats() map[string]int {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	stats := map[string]int{
		"total":     len(qs.store),
		"pending":   0,
		"answered":  0,
		"expired":   0,
		"cancelled": 0,
	}
	for _, q := range qs.store {
		switch q.Status {
		case QuestionStatusPending:
			stats["pending"]++
		case QuestionStatusAnswered:
			stats["answered"]++
		case QuestionStatusExpired:
			stats["expired"]++
		case QuestionStatusCancelled:
			stats["cancelled"]++
		}
	}
	return stats
}
