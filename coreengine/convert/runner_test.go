package convert_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamorph-labs/convassist/commbus"
	"github.com/datamorph-labs/convassist/coreengine/convert"
	"github.com/datamorph-labs/convassist/coreengine/session"
	"github.com/datamorph-labs/convassist/coreengine/testutil"
	"github.com/datamorph-labs/convassist/coreengine/workflow"
)

// stubVersioner satisfies workflow.ArtifactVersioner without touching disk.
type stubVersioner struct {
	calls int
}

func (s *stubVersioner) CreateVersion(original string, attempt int) (string, string, error) {
	s.calls++
	return fmt.Sprintf("%s.v%d", original, attempt), "a3f9d1c8", nil
}

// runnerFixture wires a runner with mocks. Override mocks before Run.
type runnerFixture struct {
	manager   *workflow.Manager
	registry  *convert.FormatRegistry
	converter *testutil.MockConverter
	validator *testutil.MockValidator
	answers   *testutil.MockAnswerSource
	llm       *testutil.MockLLMProvider
	runner    *convert.Runner
}

func newRunnerFixture(t *testing.T, managerCfg *workflow.ManagerConfig) *runnerFixture {
	t.Helper()

	if managerCfg == nil {
		managerCfg = workflow.DefaultManagerConfig()
		managerCfg.RequiredMetadataFields = []string{"species", "session_start_time"}
	}

	f := &runnerFixture{
		manager:   workflow.NewManager(nil, managerCfg, &stubVersioner{}),
		registry:  convert.NewFormatRegistry(nil),
		converter: testutil.NewMockConverter(),
		validator: testutil.NewMockValidator(),
		answers: testutil.NewMockAnswerSource().
			WithAnswer("species", "Mus musculus").
			WithAnswer("session_start_time", "2024-01-15T10:00:00Z"),
	}
	f.registry.Register(convert.NewFormatInfo("nwb", ".nwb"), f.converter)

	f.runner = convert.NewRunner(nil, f.manager, f.registry, f.validator, nil, f.answers, nil)
	return f
}

func (f *runnerFixture) request() *convert.ConversionRequest {
	return &convert.ConversionRequest{
		DatasetRef: "dandiset-000123",
		Format:     "nwb",
		InputPath:  "/data/raw",
		OutputPath: "/data/out.nwb",
	}
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestRunCompletesOnFirstAttempt(t *testing.T) {
	f := newRunnerFixture(t, nil)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	require.NotNil(t, final.TerminalReason)
	assert.Equal(t, session.TerminalReasonValidationPassed, *final.TerminalReason)
	assert.Equal(t, 0, final.RetryCount)
	assert.Equal(t, 1, f.converter.GetCallCount())
	assert.Equal(t, 1, f.validator.GetCallCount())

	// Both required fields were asked and answered.
	assert.ElementsMatch(t, []string{"species", "session_start_time"}, f.answers.AskedRefs())
	assert.Equal(t, 2, final.Conversation.Len())
	assert.True(t, final.Conversation.Contains("species"))

	// Answers reached the converter.
	req := f.converter.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "Mus musculus", req.Metadata["species"])
	assert.Empty(t, req.CorrectionHints)
}

func TestRunReleasesConverterSlot(t *testing.T) {
	f := newRunnerFixture(t, nil)

	_, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, 0, f.registry.GetLoad("nwb"))
}

func TestRunStats(t *testing.T) {
	f := newRunnerFixture(t, nil)

	_, _ = f.runner.Run(context.Background(), "owner-1", f.request())

	stats := f.runner.GetStats()
	assert.Equal(t, int64(1), stats["runs_started"])
	assert.Equal(t, int64(1), stats["runs_completed"])
	assert.Equal(t, int64(0), stats["runs_failed"])
}

// =============================================================================
// METADATA GATHERING
// =============================================================================

func TestRunSkipsQuestionsForSuppliedMetadata(t *testing.T) {
	f := newRunnerFixture(t, nil)

	req := f.request()
	req.Metadata = map[string]string{
		"species":            "Rattus norvegicus",
		"session_start_time": "2024-02-01T08:30:00Z",
	}

	final, err := f.runner.Run(context.Background(), "owner-1", req)

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 0, f.answers.CallCount)
	// Supplied values are still recorded in the ledger.
	assert.Equal(t, 2, final.Conversation.Len())
	assert.Equal(t, "Rattus norvegicus", f.converter.LastRequest().Metadata["species"])
}

func TestRunDraftsQuestionsWithLLM(t *testing.T) {
	f := newRunnerFixture(t, nil)
	llm := testutil.NewMockLLMProvider().WithResponse("You are helping", "What species was recorded?")
	f.runner = convert.NewRunner(nil, f.manager, f.registry, f.validator, llm, f.answers, nil)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	// One drafting call per required field.
	assert.Equal(t, 2, llm.GetCallCount())
}

func TestRunFallsBackWhenLLMFails(t *testing.T) {
	f := newRunnerFixture(t, nil)
	llm := testutil.NewMockLLMProvider().WithError(errors.New("provider down"))
	f.runner = convert.NewRunner(nil, f.manager, f.registry, f.validator, llm, f.answers, nil)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
}

func TestRunAnswerSourceFailureAbandonsSession(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.answers.WithError(errors.New("user went home"))

	_, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.Error(t, err)
	assert.Empty(t, f.manager.ListSessions(nil, ""))
	assert.Equal(t, 0, f.converter.GetCallCount())
}

// =============================================================================
// CORRECTION LOOP
// =============================================================================

func TestRunRetriesAfterFailedValidation(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.validator.WithFailFirst(1)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, 2, f.converter.GetCallCount())
	assert.Equal(t, 2, f.validator.GetCallCount())

	// The retry carried hints derived from the validation issues.
	req := f.converter.LastRequest()
	require.NotEmpty(t, req.CorrectionHints)
	assert.Contains(t, req.CorrectionHints[0], "missing required attribute")
}

func TestRunPublishesProgressEvents(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.validator.WithFailFirst(1)

	bus := commbus.NewInMemoryCommBus(5 * time.Second)
	var mu sync.Mutex
	var stages []string
	bus.Subscribe("ConversionProgress", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		stages = append(stages, msg.(*commbus.ConversionProgress).Stage)
		mu.Unlock()
		return nil, nil
	})
	f.runner.SetEventBus(bus)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, final.Status)

	// Delivery is asynchronous; two attempts with one correction between
	// them produce five stage broadcasts.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stages) == 5
	}, 2*time.Second, 10*time.Millisecond)

	// Fan-out is per-goroutine, so only the multiset is stable.
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"converting", "validating", "correcting", "converting", "validating"}, stages)
}

func TestRunRetriesAfterConverterFailure(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.converter.WithFailFirst(1)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, 2, f.converter.GetCallCount())
	// Validation only ran for the successful artifact.
	assert.Equal(t, 1, f.validator.GetCallCount())
}

func TestRunExhaustsRetries(t *testing.T) {
	cfg := workflow.DefaultManagerConfig()
	cfg.MaxRetryAttempts = 2
	cfg.RequiredMetadataFields = []string{"species"}
	f := newRunnerFixture(t, cfg)
	f.validator.WithFailFirst(100)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, final.Status)
	require.NotNil(t, final.TerminalReason)
	assert.Equal(t, session.TerminalReasonRetriesExhausted, *final.TerminalReason)
	assert.Equal(t, 2, final.RetryCount)
	// Initial attempt plus the two corrections.
	assert.Equal(t, 3, f.converter.GetCallCount())

	stats := f.runner.GetStats()
	assert.Equal(t, int64(1), stats["runs_failed"])
}

func TestRunValidatorErrorCountsAsFailure(t *testing.T) {
	cfg := workflow.DefaultManagerConfig()
	cfg.MaxRetryAttempts = 1
	cfg.RequiredMetadataFields = []string{"species"}
	f := newRunnerFixture(t, cfg)
	f.validator.WithError(errors.New("validator crashed"))

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, final.Status)
	require.NotNil(t, final.TerminalReason)
	assert.Equal(t, session.TerminalReasonRetriesExhausted, *final.TerminalReason)
}

// =============================================================================
// FORMAT RESOLUTION
// =============================================================================

func TestRunUnknownFormat(t *testing.T) {
	f := newRunnerFixture(t, nil)

	req := f.request()
	req.Format = "hdf5"

	_, err := f.runner.Run(context.Background(), "owner-1", req)

	var unknown *convert.UnknownFormatError
	require.ErrorAs(t, err, &unknown)
	// The session never outlives the failed acquire.
	assert.Empty(t, f.manager.ListSessions(nil, ""))
}

// =============================================================================
// ARTIFACT VERSIONING
// =============================================================================

func TestRunRecordsArtifactVersions(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.validator.WithFailFirst(1)

	final, err := f.runner.Run(context.Background(), "owner-1", f.request())

	require.NoError(t, err)
	require.Len(t, final.ArtifactVersions, 2)
	assert.Equal(t, 0, final.ArtifactVersions[0].Version)
	assert.Equal(t, 1, final.ArtifactVersions[1].Version)
	assert.Equal(t, "a3f9d1c8", final.ArtifactVersions[0].Checksum)
}
