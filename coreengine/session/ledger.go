// Package session provides the ConversationLedger - append-only Q/A history.
package session

import (
	"encoding/json"
	"sync"
	"time"
)

// QARecord is one question/answer exchange in the conversation.
type QARecord struct {
	// QuestionRef identifies the question (metadata field name or question id).
	QuestionRef string `json:"question_ref"`
	// Question is the question text, if known at record time.
	Question string `json:"question,omitempty"`
	// Answer is the recorded answer.
	Answer string `json:"answer"`
	// Position is the record's index in the ledger, assigned at append time.
	Position int `json:"position"`
	// RecordedAt is when the answer was appended.
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger is the append-only conversation history for one session.
//
// Append either fully succeeds, leaving the entry visible at a single
// well-defined position, or does not happen at all. Entries are never
// removed or reordered. Reads return copies, so a long-running reader
// can never observe the ledger mid-append.
type Ledger struct {
	entries []QARecord
	mu      sync.Mutex
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: []QARecord{}}
}

// Append appends one record and returns its position.
// The position and timestamp are assigned under the ledger lock, so two
// concurrent appends can never claim the same slot or lose an entry.
func (l *Ledger) Append(rec QARecord) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Position = len(l.entries)
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, rec)
	return rec.Position
}

// Len returns the number of records appended so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a stable copy of all records in append order.
func (l *Ledger) Snapshot() []QARecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]QARecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// Contains returns true if some record carries the given question ref.
// Insertion order is the source of truth for "what was already asked".
func (l *Ledger) Contains(questionRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.QuestionRef == questionRef {
			return true
		}
	}
	return false
}

// Clone returns a new ledger carrying a copy of all records.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return NewLedger()
	}
	return &Ledger{entries: l.Snapshot()}
}

// MarshalJSON serializes the ledger as its record slice.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

// UnmarshalJSON restores the ledger from a record slice.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []QARecord
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	return nil
}
