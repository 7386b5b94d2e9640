// Package convert drives conversion sessions end to end: metadata
// gathering, format conversion, artifact versioning, validation, and
// the bounded correction loop. External collaborators (converters,
// validators, LLM providers) plug in through the interfaces defined
// here; all state mutation goes through the workflow manager.
package convert

import (
	"context"

	"github.com/datamorph-labs/convassist/coreengine/session"
)

// =============================================================================
// Logger
// =============================================================================

// Logger is the minimal structured logging interface. All implementations
// must be safe for concurrent use. A nil Logger disables logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Conversion Request
// =============================================================================

// ConversionRequest carries everything a Converter needs to produce an
// artifact from a raw dataset. The runner fills Metadata from the Q&A
// dialogue and CorrectionHints from failed validation runs before each
// correction attempt.
type ConversionRequest struct {
	SessionID  string `json:"session_id"`
	DatasetRef string `json:"dataset_ref"`

	// Format names the registered converter to use, e.g. "nwb", "zarr".
	Format string `json:"format"`

	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`

	// Metadata holds answered metadata fields keyed by field name.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CorrectionHints are guidance strings derived from the previous
	// validation failure. Empty on the first attempt.
	CorrectionHints []string `json:"correction_hints,omitempty"`
}

// Clone returns a deep copy of the request.
func (r *ConversionRequest) Clone() *ConversionRequest {
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.CorrectionHints != nil {
		out.CorrectionHints = make([]string, len(r.CorrectionHints))
		copy(out.CorrectionHints, r.CorrectionHints)
	}
	return &out
}

// =============================================================================
// Collaborator Contracts
// =============================================================================

// Converter produces one output artifact from a conversion request and
// returns the path of the produced file. Implementations are registered
// per format in the FormatRegistry and must be safe for concurrent use.
type Converter interface {
	Convert(ctx context.Context, req *ConversionRequest) (string, error)
}

// Validator checks a produced artifact and reports a structured outcome.
// A failed validation is a normal outcome, not an error; the error return
// is reserved for the validator itself being unable to run.
type Validator interface {
	Validate(ctx context.Context, artifactPath string) (session.ValidationOutcome, error)
}

// LLMProvider is the interface for LLM providers.
type LLMProvider interface {
	Generate(ctx context.Context, model string, prompt string, options map[string]any) (string, error)
}

// AnswerSource supplies answers to metadata questions. In production this
// is backed by the interactive surface relaying user replies; tests use a
// canned source.
type AnswerSource interface {
	Answer(ctx context.Context, questionRef string, prompt string) (string, error)
}
