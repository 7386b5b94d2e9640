package commbus

import (
	"context"
	"sync"
	"time"
)

// Middleware implementations for the bus. Middleware intercepts messages
// before and after handling for cross-cutting concerns.
//
// Available middleware:
//   - LoggingMiddleware: message traffic logging
//   - CircuitBreakerMiddleware: per-message-type failure protection
//
// The workflow manager itself does not retry its own operations; the
// circuit breaker here protects bus consumers (progress broadcast,
// store writers) from cascading handler failures.

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic. Without a logger attached
// it passes messages through silently.
type LoggingMiddleware struct {
	LogLevel string
	logger   Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logLevel string) *LoggingMiddleware {
	return &LoggingMiddleware{LogLevel: logLevel}
}

// SetLogger attaches a logger.
func (m *LoggingMiddleware) SetLogger(logger Logger) {
	m.logger = logger
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	if m.logger != nil {
		m.logger.Debug("message received",
			"message_type", GetMessageType(message),
			"category", message.Category(),
		)
	}
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if m.logger == nil {
		return result, nil
	}
	msgType := GetMessageType(message)
	if err != nil {
		m.logger.Error("message failed", "message_type", msgType, "error", err)
	} else {
		m.logger.Debug("message completed", "message_type", msgType)
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// Circuit states.
const (
	circuitClosed   = "closed"
	circuitOpen     = "open"
	circuitHalfOpen = "half-open"
)

// breakerState tracks failures for one message type.
type breakerState struct {
	failures    int
	lastFailure time.Time
	state       string
}

// CircuitBreakerMiddleware implements the circuit breaker pattern.
//
// Protects against cascading failures by:
//   - Opening the circuit after N failures
//   - Blocking requests while open
//   - Testing with a single request in half-open state
//   - Closing the circuit after a half-open success
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*breakerState
	logger           Logger
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
// A failureThreshold of 0 means the circuit never opens. Message types in
// excludedTypes bypass the breaker entirely.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{}, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*breakerState),
	}
}

// SetLogger attaches a logger for state-change reporting.
func (m *CircuitBreakerMiddleware) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// getState gets or creates state for a message type. Caller holds mu.
func (m *CircuitBreakerMiddleware) getState(msgType string) *breakerState {
	s, exists := m.states[msgType]
	if !exists {
		s = &breakerState{state: circuitClosed}
		m.states[msgType] = s
	}
	return s
}

func (m *CircuitBreakerMiddleware) logInfo(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

// Before blocks the message when its circuit is open, and moves an open
// circuit to half-open once the reset timeout has elapsed.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)

	if state.state == circuitOpen {
		if time.Since(state.lastFailure) >= m.resetTimeout {
			state.state = circuitHalfOpen
			m.logInfo("circuit half-open", "message_type", msgType)
		} else {
			m.logInfo("circuit open, blocking request", "message_type", msgType)
			return nil, nil
		}
	}

	return message, nil
}

// After records the handler outcome and transitions the circuit.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)

	if err != nil {
		state.failures++
		state.lastFailure = time.Now()

		switch {
		case state.state == circuitHalfOpen:
			// Failed the half-open probe, reopen.
			state.state = circuitOpen
			m.logInfo("circuit reopened", "message_type", msgType)
		case m.failureThreshold > 0 && state.failures >= m.failureThreshold:
			state.state = circuitOpen
			m.logInfo("circuit opened", "message_type", msgType, "failures", state.failures)
		}
		return result, nil
	}

	if state.state == circuitHalfOpen {
		state.state = circuitClosed
		state.failures = 0
		m.logInfo("circuit closed", "message_type", msgType)
	}

	return result, nil
}

// GetStates returns the current circuit state per message type.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(m.states))
	for k, v := range m.states {
		result[k] = v.state
	}
	return result
}

// Reset resets the circuit for one message type, or for all types when
// msgType is nil.
func (m *CircuitBreakerMiddleware) Reset(msgType *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType != nil {
		delete(m.states, *msgType)
	} else {
		m.states = make(map[string]*breakerState)
	}
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
