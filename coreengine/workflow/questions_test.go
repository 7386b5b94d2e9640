package workflow

import (
	"testing"
	"time"
)

func TestQuestionService_Ask(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)

	q := qs.Ask("sess_1", "species", "What species was recorded?")
	if q.ID == "" {
		t.Error("question should get an id")
	}
	if q.Status != QuestionStatusPending {
		t.Errorf("expected pending, got %s", q.Status)
	}
	if q.ExpiresAt == nil {
		t.Error("question should carry an expiry with a TTL configured")
	}

	pending := qs.Pending("sess_1")
	if len(pending) != 1 || pending[0].Ref != "species" {
		t.Errorf("expected 1 pending question for sess_1, got %d", len(pending))
	}
	if len(qs.Pending("sess_2")) != 0 {
		t.Error("other sessions should have no pending questions")
	}
}

func TestQuestionService_AskWithoutTTL(t *testing.T) {
	qs := NewQuestionService(nil, 0)

	q := qs.Ask("sess_1", "species", "?")
	if q.ExpiresAt != nil {
		t.Error("zero TTL should disable expiry")
	}
	if q.IsExpired() {
		t.Error("question without expiry never expires")
	}
}

func TestQuestionService_ResolveByRef(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	qs.Ask("sess_1", "species", "?")

	resolved := qs.ResolveByRef("sess_1", "species", "Mus musculus")
	if resolved == nil {
		t.Fatal("expected a resolved question")
	}
	if resolved.Status != QuestionStatusAnswered {
		t.Errorf("expected answered, got %s", resolved.Status)
	}
	if resolved.Answer != "Mus musculus" {
		t.Errorf("answer not stored: %s", resolved.Answer)
	}
	if resolved.AnsweredAt == nil {
		t.Error("resolution should stamp AnsweredAt")
	}

	if qs.ResolveByRef("sess_1", "species", "again") != nil {
		t.Error("already-answered ref should not resolve again")
	}
	if qs.ResolveByRef("sess_1", "missing", "x") != nil {
		t.Error("unknown ref should not resolve")
	}
}

func TestQuestionService_ResolveByRefPicksMostRecent(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	first := qs.Ask("sess_1", "species", "first?")
	second := qs.Ask("sess_1", "species", "second?")

	resolved := qs.ResolveByRef("sess_1", "species", "Mus musculus")
	if resolved == nil || resolved.ID != second.ID {
		t.Fatal("most recent pending question should resolve first")
	}
	if !first.IsPending() {
		t.Error("earlier question should stay pending")
	}
}

func TestQuestionService_CancelPending(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	qs.Ask("sess_1", "species", "?")
	qs.Ask("sess_1", "session_start_time", "?")
	qs.ResolveByRef("sess_1", "species", "Mus musculus")

	if count := qs.CancelPending("sess_1", "phase_changed"); count != 1 {
		t.Errorf("expected 1 cancellation, got %d", count)
	}
	if len(qs.Pending("sess_1")) != 0 {
		t.Error("no questions should remain pending")
	}
	if count := qs.CancelPending("sess_1", "again"); count != 0 {
		t.Errorf("second pass should cancel nothing, got %d", count)
	}
}

func TestQuestionService_ExpirePending(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	stale := qs.Ask("sess_1", "species", "?")
	qs.Ask("sess_1", "session_start_time", "?")

	// Backdate one question past its expiry.
	past := time.Now().UTC().Add(-time.Second)
	stale.ExpiresAt = &past

	if count := qs.ExpirePending(); count != 1 {
		t.Errorf("expected 1 expiry, got %d", count)
	}
	if stale.Status != QuestionStatusExpired {
		t.Errorf("expected expired, got %s", stale.Status)
	}
	if len(qs.Pending("sess_1")) != 1 {
		t.Error("unexpired question should remain pending")
	}
}

func TestQuestionService_CleanupSession(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	qs.Ask("sess_1", "species", "?")
	qs.Ask("sess_1", "session_start_time", "?")
	qs.Ask("sess_2", "species", "?")

	if count := qs.CleanupSession("sess_1"); count != 2 {
		t.Errorf("expected 2 records removed, got %d", count)
	}
	if len(qs.Pending("sess_1")) != 0 {
		t.Error("cleaned session should have no questions")
	}
	if len(qs.Pending("sess_2")) != 1 {
		t.Error("other sessions should be untouched")
	}
	if qs.GetStats()["total"] != 1 {
		t.Errorf("store should hold 1 record, got %d", qs.GetStats()["total"])
	}
}

func TestQuestionService_GetStats(t *testing.T) {
	qs := NewQuestionService(nil, time.Minute)
	qs.Ask("sess_1", "species", "?")
	qs.Ask("sess_1", "session_start_time", "?")
	qs.Ask("sess_1", "experimenter", "?")
	qs.ResolveByRef("sess_1", "species", "Mus musculus")
	qs.CancelPending("sess_2", "noop")

	stats := qs.GetStats()
	if stats["total"] != 3 {
		t.Errorf("expected 3 total, got %d", stats["total"])
	}
	if stats["pending"] != 2 {
		t.Errorf("expected 2 pending, got %d", stats["pending"])
	}
	if stats["answered"] != 1 {
		t.Errorf("expected 1 answered, got %d", stats["answered"])
	}
}
