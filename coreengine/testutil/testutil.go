// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datamorph-labs/convassist/coreengine/convert"
	"github.com/datamorph-labs/convassist/coreengine/session"
)

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger captures log calls for assertion. Thread-safe.
type MockLogger struct {
	mu         sync.Mutex
	DebugCalls []string
	InfoCalls  []string
	WarnCalls  []string
	ErrorCalls []string
}

// NewMockLogger creates an empty capturing logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebugCalls = append(m.DebugCalls, msg)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, msg)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarnCalls = append(m.WarnCalls, msg)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, msg)
}

// HasMessage checks whether any level recorded the message.
func (m *MockLogger) HasMessage(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, calls := range [][]string{m.DebugCalls, m.InfoCalls, m.WarnCalls, m.ErrorCalls} {
		for _, c := range calls {
			if c == msg {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

// MockLLMProvider implements convert.LLMProvider for testing.
// Configure responses by prompt prefix or use DefaultResponse.
type MockLLMProvider struct {
	// Responses maps prompt prefixes to responses.
	// First matching prefix wins.
	Responses map[string]string

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Delay simulates LLM latency.
	Delay time.Duration

	// Error causes Generate to return this error.
	Error error

	// CallCount tracks the number of Generate calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []LLMCall

	// GenerateFunc allows custom generation logic.
	// If set, this is called instead of using Responses.
	GenerateFunc func(context.Context, string, string, map[string]any) (string, error)

	mu sync.Mutex
}

// LLMCall records a single LLM call for assertion.
type LLMCall struct {
	Model   string
	Prompt  string
	Options map[string]any
}

// NewMockLLMProvider creates a MockLLMProvider with sensible defaults.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		Responses:       make(map[string]string),
		DefaultResponse: "What value should this field have?",
	}
}

// Generate implements convert.LLMProvider.
func (m *MockLLMProvider) Generate(ctx context.Context, model string, prompt string, options map[string]any) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, LLMCall{Model: model, Prompt: prompt, Options: options})
	customFunc := m.GenerateFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, model, prompt, options)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	for prefix, response := range m.Responses {
		if len(prompt) >= len(prefix) && prompt[:len(prefix)] == prefix {
			return response, nil
		}
	}

	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based response.
func (m *MockLLMProvider) WithResponse(prefix, response string) *MockLLMProvider {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMProvider) WithDelay(d time.Duration) *MockLLMProvider {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Reset clears call history.
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
}

// =============================================================================
// MOCK CONVERTER
// =============================================================================

// MockConverter implements convert.Converter for testing.
//
// By default every Convert call succeeds and returns OutputPath. FailFirst
// makes the first N calls fail, which drives the correction loop: a common
// setup is FailFirst=1 so the second attempt succeeds.
type MockConverter struct {
	// OutputPath is returned on success. Defaults to "/tmp/out.nwb".
	OutputPath string

	// FailFirst makes the first N calls return an error.
	FailFirst int

	// Error overrides the default failure error.
	Error error

	// Delay simulates conversion latency.
	Delay time.Duration

	// ConvertFunc allows custom conversion logic.
	ConvertFunc func(context.Context, *convert.ConversionRequest) (string, error)

	// CallCount tracks the number of Convert calls.
	CallCount int

	// Requests records all requests for assertion.
	Requests []*convert.ConversionRequest

	mu sync.Mutex
}

// NewMockConverter creates a MockConverter that always succeeds.
func NewMockConverter() *MockConverter {
	return &MockConverter{OutputPath: "/tmp/out.nwb"}
}

// Convert implements convert.Converter.
func (m *MockConverter) Convert(ctx context.Context, req *convert.ConversionRequest) (string, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.Requests = append(m.Requests, req)
	customFunc := m.ConvertFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if call <= m.FailFirst {
		if m.Error != nil {
			return "", m.Error
		}
		return "", fmt.Errorf("mock conversion failure %d", call)
	}

	return m.OutputPath, nil
}

// WithFailFirst makes the first n calls fail.
func (m *MockConverter) WithFailFirst(n int) *MockConverter {
	m.FailFirst = n
	return m
}

// WithOutputPath sets the success output path.
func (m *MockConverter) WithOutputPath(path string) *MockConverter {
	m.OutputPath = path
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockConverter) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastRequest returns the most recent request, or nil.
func (m *MockConverter) LastRequest() *convert.ConversionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}

// =============================================================================
// MOCK VALIDATOR
// =============================================================================

// MockValidator implements convert.Validator for testing.
//
// FailFirst drives the correction loop the same way as MockConverter:
// the first N validations fail with Issues, later ones pass.
type MockValidator struct {
	// FailFirst makes the first N validations fail.
	FailFirst int

	// Issues returned with failed outcomes. Defaults to one error issue.
	Issues []session.ValidationIssue

	// Error causes Validate itself to error instead of returning an outcome.
	Error error

	// ValidateFunc allows custom validation logic.
	ValidateFunc func(context.Context, string) (session.ValidationOutcome, error)

	// CallCount tracks the number of Validate calls.
	CallCount int

	// Paths records all validated paths for assertion.
	Paths []string

	mu sync.Mutex
}

// NewMockValidator creates a MockValidator that always passes.
func NewMockValidator() *MockValidator {
	return &MockValidator{
		Issues: []session.ValidationIssue{
			{Severity: "error", Message: "missing required attribute"},
		},
	}
}

// Validate implements convert.Validator.
func (m *MockValidator) Validate(ctx context.Context, artifactPath string) (session.ValidationOutcome, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.Paths = append(m.Paths, artifactPath)
	customFunc := m.ValidateFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, artifactPath)
	}

	if m.Error != nil {
		return session.ValidationOutcome{}, m.Error
	}

	now := time.Now().UTC()
	if call <= m.FailFirst {
		return session.ValidationOutcome{
			Result:    session.ValidationFailed,
			Issues:    m.Issues,
			CheckedAt: &now,
		}, nil
	}

	return session.ValidationOutcome{
		Result:    session.ValidationPassed,
		CheckedAt: &now,
	}, nil
}

// WithFailFirst makes the first n validations fail.
func (m *MockValidator) WithFailFirst(n int) *MockValidator {
	m.FailFirst = n
	return m
}

// WithError configures Validate to return an error.
func (m *MockValidator) WithError(err error) *MockValidator {
	m.Error = err
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockValidator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// =============================================================================
// MOCK ANSWER SOURCE
// =============================================================================

// MockAnswerSource implements convert.AnswerSource with canned answers
// keyed by question ref.
type MockAnswerSource struct {
	// Answers maps question refs to answers.
	Answers map[string]string

	// DefaultAnswer is returned for refs without a canned answer.
	DefaultAnswer string

	// Error causes Answer to return this error.
	Error error

	// CallCount tracks the number of Answer calls.
	CallCount int

	// Refs records the asked refs in order.
	Refs []string

	mu sync.Mutex
}

// NewMockAnswerSource creates a source answering everything with "unknown".
func NewMockAnswerSource() *MockAnswerSource {
	return &MockAnswerSource{
		Answers:       make(map[string]string),
		DefaultAnswer: "unknown",
	}
}

// Answer implements convert.AnswerSource.
func (m *MockAnswerSource) Answer(ctx context.Context, questionRef string, prompt string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Refs = append(m.Refs, questionRef)
	m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}

	if answer, exists := m.Answers[questionRef]; exists {
		return answer, nil
	}
	return m.DefaultAnswer, nil
}

// WithAnswer adds a canned answer for a ref.
func (m *MockAnswerSource) WithAnswer(ref, answer string) *MockAnswerSource {
	m.Answers[ref] = answer
	return m
}

// WithError configures the source to return an error.
func (m *MockAnswerSource) WithError(err error) *MockAnswerSource {
	m.Error = err
	return m
}

// AskedRefs returns the refs asked so far (thread-safe).
func (m *MockAnswerSource) AskedRefs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Refs))
	copy(out, m.Refs)
	return out
}
