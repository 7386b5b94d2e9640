// Package session provides GlobalState - the aggregate state of one conversion job.
//
// GlobalState is exclusively owned by the workflow state manager. No other
// component holds a writable reference; readers receive deep copies.
package session

import (
	"time"
)

// =============================================================================
// Validation Outcome
// =============================================================================

// ValidationIssue is a single finding from artifact validation.
type ValidationIssue struct {
	Severity string `json:"severity"` // "error", "warning"
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// ValidationOutcome is the structured result of one validation run.
type ValidationOutcome struct {
	Result    ValidationResult  `json:"result"`
	Issues    []ValidationIssue `json:"issues,omitempty"`
	CheckedAt *time.Time        `json:"checked_at,omitempty"`
}

// NotRunOutcome returns the zero-value outcome for a fresh session.
func NotRunOutcome() ValidationOutcome {
	return ValidationOutcome{Result: ValidationNotRun}
}

// Clone returns a deep copy of the outcome.
func (v ValidationOutcome) Clone() ValidationOutcome {
	out := ValidationOutcome{Result: v.Result}
	if v.CheckedAt != nil {
		t := *v.CheckedAt
		out.CheckedAt = &t
	}
	if len(v.Issues) > 0 {
		out.Issues = make([]ValidationIssue, len(v.Issues))
		copy(out.Issues, v.Issues)
	}
	return out
}

// =============================================================================
// Artifact Versions
// =============================================================================

// ArtifactVersion is one checksummed copy of the output artifact.
// Attempt 0 is the original unversioned output.
type ArtifactVersion struct {
	Version   int       `json:"version"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Metadata Request Policy
// =============================================================================

// MetadataRequestPolicy governs which metadata questions are still outstanding.
//
// The policy is phase-scoped: it is meaningful only while the session is in
// PhaseGatheringMetadata, and it is freshly initialized on every entry into
// that phase. Stale "already asked" state from a prior attempt must never
// suppress questions in a new attempt.
type MetadataRequestPolicy struct {
	// RequiredFields are the metadata fields the conversion needs answered.
	RequiredFields []string `json:"required_fields"`
	// MaxQuestions bounds how many questions may be asked in one gathering pass.
	MaxQuestions int `json:"max_questions"`
	// Asked tracks question refs already asked in the current pass.
	Asked map[string]bool `json:"asked"`
	// Answered tracks question refs that have received an answer.
	Answered map[string]bool `json:"answered"`
}

// NewMetadataRequestPolicy creates a fresh policy with nothing asked or answered.
func NewMetadataRequestPolicy(requiredFields []string, maxQuestions int) *MetadataRequestPolicy {
	fields := make([]string, len(requiredFields))
	copy(fields, requiredFields)
	return &MetadataRequestPolicy{
		RequiredFields: fields,
		MaxQuestions:   maxQuestions,
		Asked:          make(map[string]bool),
		Answered:       make(map[string]bool),
	}
}

// MarkAsked records that a question ref has been asked.
func (p *MetadataRequestPolicy) MarkAsked(ref string) {
	p.Asked[ref] = true
}

// MarkAnswered records that a question ref has been answered.
func (p *MetadataRequestPolicy) MarkAnswered(ref string) {
	p.Answered[ref] = true
}

// WasAsked returns true if the ref was asked in the current pass.
func (p *MetadataRequestPolicy) WasAsked(ref string) bool {
	return p.Asked[ref]
}

// Outstanding returns required fields that have not yet been answered,
// in declaration order.
func (p *MetadataRequestPolicy) Outstanding() []string {
	var pending []string
	for _, f := range p.RequiredFields {
		if !p.Answered[f] {
			pending = append(pending, f)
		}
	}
	return pending
}

// CanAsk returns true if another question may be asked in this pass.
func (p *MetadataRequestPolicy) CanAsk() bool {
	return p.MaxQuestions <= 0 || len(p.Asked) < p.MaxQuestions
}

// Clone returns a deep copy of the policy.
func (p *MetadataRequestPolicy) Clone() *MetadataRequestPolicy {
	if p == nil {
		return nil
	}
	out := NewMetadataRequestPolicy(p.RequiredFields, p.MaxQuestions)
	for k, v := range p.Asked {
		out.Asked[k] = v
	}
	for k, v := range p.Answered {
		out.Answered[k] = v
	}
	return out
}

// =============================================================================
// Global State
// =============================================================================

// GlobalState is the aggregate state of one conversion session.
//
// Invariants (enforced by the workflow state manager):
//   - RetryCount never exceeds the configured cap.
//   - Conversation only grows; entries are never edited or reordered.
//   - ArtifactVersions carry unique, dense version numbers starting at 0.
//   - MetadataPolicy is freshly initialized on every entry into PhaseGatheringMetadata.
type GlobalState struct {
	// Identity
	SessionID  string `json:"session_id"`
	DatasetRef string `json:"dataset_ref"`
	OwnerID    string `json:"owner_id,omitempty"`

	// State
	Status ConversionStatus  `json:"status"`
	Phase  ConversationPhase `json:"phase"`

	// Metadata dialogue
	MetadataPolicy *MetadataRequestPolicy `json:"metadata_policy,omitempty"`
	Conversation   *Ledger                `json:"conversation"`

	// Outcome tracking
	Validation       ValidationOutcome `json:"validation"`
	RetryCount       int               `json:"retry_count"`
	ArtifactVersions []ArtifactVersion `json:"artifact_versions"`
	TerminalReason   *TerminalReason   `json:"terminal_reason,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewGlobalState creates a fresh session state in StatusInitialized.
func NewGlobalState(sessionID, datasetRef, ownerID string) *GlobalState {
	now := time.Now().UTC()
	return &GlobalState{
		SessionID:        sessionID,
		DatasetRef:       datasetRef,
		OwnerID:          ownerID,
		Status:           StatusInitialized,
		Phase:            PhaseIdle,
		Conversation:     NewLedger(),
		Validation:       NotRunOutcome(),
		RetryCount:       0,
		ArtifactVersions: []ArtifactVersion{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsTerminal returns true if the session reached a terminal status.
func (g *GlobalState) IsTerminal() bool {
	return g.Status.IsTerminal()
}

// NextArtifactVersion returns the version number the next recorded artifact
// will receive. Version numbers are dense, starting at 0 for the original.
func (g *GlobalState) NextArtifactVersion() int {
	return len(g.ArtifactVersions)
}

// Terminate marks the session terminal with the given reason.
func (g *GlobalState) Terminate(status ConversionStatus, reason TerminalReason) {
	now := time.Now().UTC()
	g.Status = status
	g.Phase = PhaseIdle
	g.TerminalReason = &reason
	g.CompletedAt = &now
	g.UpdatedAt = now
}

// Touch updates the last-modified timestamp.
func (g *GlobalState) Touch() {
	g.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the state. The workflow state manager hands
// out clones only; callers can never mutate the live object.
func (g *GlobalState) Clone() *GlobalState {
	out := &GlobalState{
		SessionID:      g.SessionID,
		DatasetRef:     g.DatasetRef,
		OwnerID:        g.OwnerID,
		Status:         g.Status,
		Phase:          g.Phase,
		MetadataPolicy: g.MetadataPolicy.Clone(),
		Conversation:   g.Conversation.Clone(),
		Validation:     g.Validation.Clone(),
		RetryCount:     g.RetryCount,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
	out.ArtifactVersions = make([]ArtifactVersion, len(g.ArtifactVersions))
	copy(out.ArtifactVersions, g.ArtifactVersions)
	if g.TerminalReason != nil {
		r := *g.TerminalReason
		out.TerminalReason = &r
	}
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
