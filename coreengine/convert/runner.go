// ConversionRunner - drives one conversion session end to end.
//
// The runner performs every external call (LLM, converter, validator)
// outside the session lock and re-enters the workflow manager only to
// record outcomes. Cancelling the runner's context abandons in-flight
// work but never leaves the session in a half-applied state: the last
// recorded outcome stands.

package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/datamorph-labs/convassist/commbus"
	"github.com/datamorph-labs/convassist/coreengine/observability"
	"github.com/datamorph-labs/convassist/coreengine/session"
	"github.com/datamorph-labs/convassist/coreengine/workflow"
)

var tracer = otel.Tracer("convassist/convert")

// =============================================================================
// Runner Config
// =============================================================================

// RunnerConfig controls LLM usage and per-step timeouts.
type RunnerConfig struct {
	// Provider and Model identify the LLM used for question drafting and
	// correction hints.
	Provider string
	Model    string

	// LLMOptions are passed through to every Generate call.
	LLMOptions map[string]any

	// Per-step timeouts. Zero disables the timeout for that step.
	LLMTimeout      time.Duration
	ConvertTimeout  time.Duration
	ValidateTimeout time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Provider:        "ollama",
		Model:           "default",
		LLMOptions:      map[string]any{"num_predict": 500},
		LLMTimeout:      60 * time.Second,
		ConvertTimeout:  10 * time.Minute,
		ValidateTimeout: 5 * time.Minute,
	}
}

// =============================================================================
// Runner
// =============================================================================

// Runner drives conversion sessions through the workflow manager.
// Safe for concurrent use; each Run call operates on its own session.
type Runner struct {
	logger    Logger
	manager   *workflow.Manager
	registry  *FormatRegistry
	validator Validator
	llm       LLMProvider
	answers   AnswerSource
	config    *RunnerConfig
	bus       commbus.CommBus

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
}

// NewRunner creates a runner. The LLM provider may be nil, in which case
// question prompts and correction hints fall back to templates.
func NewRunner(
	logger Logger,
	manager *workflow.Manager,
	registry *FormatRegistry,
	validator Validator,
	llm LLMProvider,
	answers AnswerSource,
	config *RunnerConfig,
) *Runner {
	if config == nil {
		config = DefaultRunnerConfig()
	}
	return &Runner{
		logger:    logger,
		manager:   manager,
		registry:  registry,
		validator: validator,
		llm:       llm,
		answers:   answers,
		config:    config,
	}
}

// SetEventBus attaches a bus for ConversionProgress broadcasts. Without
// a bus the runner stays silent; delivery failures never affect the run.
func (r *Runner) SetEventBus(bus commbus.CommBus) {
	r.bus = bus
}

func (r *Runner) publishProgress(ctx context.Context, sessionID, stage string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, &commbus.ConversionProgress{
		SessionID: sessionID,
		Stage:     stage,
		Payload:   payload,
	})
}

// Run executes one conversion session end to end: start, metadata Q&A,
// convert, version, validate, and the bounded correction loop. It returns
// the final session snapshot; a session that fails with retries exhausted
// returns the terminal snapshot alongside the RetryExhaustedError.
func (r *Runner) Run(ctx context.Context, ownerID string, req *ConversionRequest) (*session.GlobalState, error) {
	ctx, span := tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("convassist.dataset.ref", req.DatasetRef),
		attribute.String("convassist.format", req.Format),
	))
	defer span.End()

	r.runsStarted.Add(1)
	req = req.Clone()
	if req.Metadata == nil {
		req.Metadata = make(map[string]string)
	}

	state, err := r.manager.StartSession(req.DatasetRef, ownerID)
	if err != nil {
		r.runsFailed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	sessionID := state.SessionID
	req.SessionID = sessionID
	span.SetAttributes(attribute.String("convassist.session.id", sessionID))

	converter, release, err := r.registry.Acquire(req.Format)
	if err != nil {
		r.runsFailed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = r.manager.EvictSession(sessionID, "converter_unavailable")
		return nil, err
	}
	defer release()

	if r.logger != nil {
		r.logger.Info("run_started",
			"session_id", sessionID,
			"dataset_ref", req.DatasetRef,
			"format", req.Format,
		)
	}

	if err := r.gatherMetadata(ctx, sessionID, req); err != nil {
		r.runsFailed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = r.manager.EvictSession(sessionID, "metadata_gathering_failed")
		return nil, err
	}

	if err := r.manager.AdvanceStatus(sessionID, session.StatusAnalyzing); err != nil {
		r.runsFailed.Add(1)
		return nil, err
	}

	final, err := r.correctionLoop(ctx, sessionID, converter, req)
	if err != nil {
		r.runsFailed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return final, err
	}

	if final.Status == session.StatusCompleted {
		r.runsCompleted.Add(1)
		span.SetStatus(codes.Ok, "completed")
	} else {
		r.runsFailed.Add(1)
		span.SetStatus(codes.Error, string(final.Status))
	}

	if r.logger != nil {
		r.logger.Info("run_finished",
			"session_id", sessionID,
			"status", string(final.Status),
			"retry_count", final.RetryCount,
		)
	}
	return final, nil
}

// =============================================================================
// Metadata Gathering
// =============================================================================

// gatherMetadata runs the metadata Q&A dialogue: enters the gathering
// phase, asks one question per outstanding required field, records the
// answers, and returns to idle.
func (r *Runner) gatherMetadata(ctx context.Context, sessionID string, req *ConversionRequest) error {
	ctx, span := tracer.Start(ctx, "runner.gather_metadata", trace.WithAttributes(
		attribute.String("convassist.session.id", sessionID),
	))
	defer span.End()

	if err := r.manager.AdvancePhase(sessionID, session.PhaseGatheringMetadata); err != nil {
		return err
	}

	state, err := r.manager.GetState(sessionID)
	if err != nil {
		return err
	}

	for _, field := range state.MetadataPolicy.Outstanding() {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pre-supplied metadata needs no question.
		if answer, ok := req.Metadata[field]; ok && answer != "" {
			if _, err := r.manager.AskQuestion(sessionID, field, r.templateQuestion(field, req.DatasetRef)); err != nil {
				return err
			}
			if _, err := r.manager.RecordAnswer(sessionID, field, answer); err != nil {
				return err
			}
			continue
		}

		prompt := r.draftQuestion(ctx, field, req.DatasetRef)

		question, err := r.manager.AskQuestion(sessionID, field, prompt)
		if err != nil {
			var budget *workflow.QuestionBudgetError
			if errors.As(err, &budget) {
				if r.logger != nil {
					r.logger.Warn("question_budget_reached",
						"session_id", sessionID,
						"asked", budget.Asked,
						"limit", budget.Limit,
					)
				}
				break
			}
			return err
		}

		answer, err := r.answers.Answer(ctx, field, question.Prompt)
		if err != nil {
			return fmt.Errorf("answering %s: %w", field, err)
		}

		if _, err := r.manager.RecordAnswer(sessionID, field, answer); err != nil {
			return err
		}
		req.Metadata[field] = answer
	}

	span.SetAttributes(attribute.Int("convassist.metadata.fields", len(req.Metadata)))
	return r.manager.AdvancePhase(sessionID, session.PhaseIdle)
}

// draftQuestion asks the LLM to phrase a metadata question for a field,
// falling back to a template when no provider is configured or the call
// fails.
func (r *Runner) draftQuestion(ctx context.Context, field, datasetRef string) string {
	if r.llm == nil {
		return r.templateQuestion(field, datasetRef)
	}

	prompt := fmt.Sprintf(
		"You are helping convert the dataset %q. Write one short question asking the user to provide the %q metadata field. Reply with the question only.",
		datasetRef, field,
	)

	text, err := r.generate(ctx, prompt)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("question_draft_failed", "field", field, "error", err.Error())
		}
		return r.templateQuestion(field, datasetRef)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return r.templateQuestion(field, datasetRef)
	}
	return text
}

func (r *Runner) templateQuestion(field, datasetRef string) string {
	return fmt.Sprintf("Please provide the %s for dataset %s.", field, datasetRef)
}

// =============================================================================
// Correction Loop
// =============================================================================

// correctionLoop converts, versions, and validates until the session
// terminates. The manager's retry gate bounds the number of iterations;
// the loop itself holds no retry arithmetic.
func (r *Runner) correctionLoop(ctx context.Context, sessionID string, converter Converter, req *ConversionRequest) (*session.GlobalState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.manager.GetState(sessionID)
		}

		r.publishProgress(ctx, sessionID, "converting", map[string]any{
			"format":           req.Format,
			"correction_hints": len(req.CorrectionHints),
		})
		outputPath, convErr := r.convertOnce(ctx, sessionID, converter, req)

		if convErr == nil {
			if _, err := r.manager.RecordArtifact(sessionID, outputPath); err != nil {
				return nil, err
			}
		} else {
			// A converter failure consumes an attempt like a failed
			// validation: surface it as a critical outcome so the retry
			// gate stays the single bound on the loop.
			if r.logger != nil {
				r.logger.Error("conversion_failed", "session_id", sessionID, "error", convErr.Error())
			}
			if err := r.manager.AdvanceStatus(sessionID, session.StatusValidating); err != nil {
				return nil, err
			}
		}

		r.publishProgress(ctx, sessionID, "validating", nil)
		outcome := r.validateOnce(ctx, sessionID, outputPath, convErr)

		if err := r.manager.RecordValidationOutcome(sessionID, outcome); err != nil {
			return nil, err
		}

		state, err := r.manager.GetState(sessionID)
		if err != nil {
			return nil, err
		}
		if state.IsTerminal() {
			return state, nil
		}

		// Session is correcting: derive hints, then ask the gate for
		// another attempt.
		req.CorrectionHints = r.draftCorrectionHints(ctx, outcome)

		if _, err := r.manager.BeginCorrectionAttempt(sessionID); err != nil {
			var exhausted *workflow.RetryExhaustedError
			if errors.As(err, &exhausted) {
				final, getErr := r.manager.GetState(sessionID)
				if getErr != nil {
					return nil, getErr
				}
				return final, err
			}
			return nil, err
		}

		if err := r.manager.AdvancePhase(sessionID, session.PhaseIdle); err != nil {
			return nil, err
		}
		r.publishProgress(ctx, sessionID, "correcting", map[string]any{
			"hints": len(req.CorrectionHints),
		})
	}
}

// convertOnce runs the converter with its timeout and span.
func (r *Runner) convertOnce(ctx context.Context, sessionID string, converter Converter, req *ConversionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "runner.convert", trace.WithAttributes(
		attribute.String("convassist.session.id", sessionID),
		attribute.String("convassist.format", req.Format),
		attribute.Int("convassist.correction.hints", len(req.CorrectionHints)),
	))
	defer span.End()

	if r.config.ConvertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ConvertTimeout)
		defer cancel()
	}

	start := time.Now()
	outputPath, err := converter.Convert(ctx, req.Clone())
	durationMS := int(time.Since(start).Milliseconds())
	span.SetAttributes(attribute.Int("duration_ms", durationMS))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "converted")
	return outputPath, nil
}

// validateOnce produces the outcome to record: a synthetic critical
// failure when conversion itself failed, otherwise the validator's
// verdict. A validator that cannot run also yields a failed outcome so
// the session stays inside the state machine.
func (r *Runner) validateOnce(ctx context.Context, sessionID, artifactPath string, convErr error) session.ValidationOutcome {
	now := time.Now().UTC()

	if convErr != nil {
		return session.ValidationOutcome{
			Result: session.ValidationFailed,
			Issues: []session.ValidationIssue{{
				Severity: "error",
				Message:  fmt.Sprintf("conversion failed: %s", convErr.Error()),
			}},
			CheckedAt: &now,
		}
	}

	ctx, span := tracer.Start(ctx, "runner.validate", trace.WithAttributes(
		attribute.String("convassist.session.id", sessionID),
	))
	defer span.End()

	if r.config.ValidateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ValidateTimeout)
		defer cancel()
	}

	outcome, err := r.validator.Validate(ctx, artifactPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.logger != nil {
			r.logger.Error("validator_error", "session_id", sessionID, "error", err.Error())
		}
		return session.ValidationOutcome{
			Result: session.ValidationFailed,
			Issues: []session.ValidationIssue{{
				Severity: "error",
				Message:  fmt.Sprintf("validator error: %s", err.Error()),
			}},
			CheckedAt: &now,
		}
	}

	span.SetAttributes(
		attribute.String("convassist.validation.result", string(outcome.Result)),
		attribute.Int("convassist.validation.issues", len(outcome.Issues)),
	)
	span.SetStatus(codes.Ok, string(outcome.Result))
	return outcome
}

// draftCorrectionHints turns validation issues into guidance strings for
// the next conversion attempt. With an LLM configured the issues are
// summarized into one hint; otherwise each issue message becomes a hint.
func (r *Runner) draftCorrectionHints(ctx context.Context, outcome session.ValidationOutcome) []string {
	if len(outcome.Issues) == 0 {
		return nil
	}

	fallback := make([]string, 0, len(outcome.Issues))
	for _, issue := range outcome.Issues {
		fallback = append(fallback, issue.Message)
	}
	if r.llm == nil {
		return fallback
	}

	var sb strings.Builder
	sb.WriteString("The converted artifact failed validation. Summarize how to fix these issues in one short instruction:\n")
	for _, issue := range outcome.Issues {
		fmt.Fprintf(&sb, "- [%s] %s", issue.Severity, issue.Message)
		if issue.Location != "" {
			fmt.Fprintf(&sb, " (at %s)", issue.Location)
		}
		sb.WriteString("\n")
	}

	hint, err := r.generate(ctx, sb.String())
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("hint_draft_failed", "error", err.Error())
		}
		return fallback
	}

	hint = strings.TrimSpace(hint)
	if hint == "" {
		return fallback
	}
	return []string{hint}
}

// generate calls the LLM with the configured timeout and records the
// call metric.
func (r *Runner) generate(ctx context.Context, prompt string) (string, error) {
	if r.config.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LLMTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.llm.Generate(ctx, r.config.Model, prompt, r.config.LLMOptions)
	durationMS := int(time.Since(start).Milliseconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordLLMCall(r.config.Provider, r.config.Model, status, durationMS)

	return text, err
}

// =============================================================================
// Statistics
// =============================================================================

// GetStats returns run counters for the runner.
func (r *Runner) GetStats() map[string]any {
	return map[string]any{
		"runs_started":   r.runsStarted.Load(),
		"runs_completed": r.runsCompleted.Load(),
		"runs_failed":    r.runsFailed.Load(),
	}
}
