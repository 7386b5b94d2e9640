// Package commbus carries workflow lifecycle traffic between the
// conversion engine and its consumers.
//
// Components depend on the protocols defined here, never on a concrete
// bus. Three messaging patterns are supported: events fan out to every
// subscriber, commands go to a single handler fire-and-forget, and
// queries are request-response with a timeout.
package commbus

import (
	"context"
)

// =============================================================================
// COMMBUS PROTOCOLS
// =============================================================================

// Message is implemented by every bus message. The category tells the
// bus which delivery pattern applies.
type Message interface {
	// Category returns "event", "query", or "command".
	Category() string
}

// Query marks messages that expect a response.
type Query interface {
	Message
	// IsQuery distinguishes queries from other messages at compile time.
	IsQuery()
}

// Handler processes one message. For queries the returned value is the
// response; events and commands discard it.
type Handler interface {
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware intercepts messages around handling. Used for traffic
// logging and circuit breaking.
type Middleware interface {
	// Before runs ahead of delivery. Returning a nil message drops the
	// message without error.
	Before(ctx context.Context, message Message) (Message, error)

	// After runs once handling finished and may rewrite the result.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is the bus contract the bridge and daemon program against.
type CommBus interface {
	// Publish fans an event out to all subscribers.
	Publish(ctx context.Context, event Message) error

	// Send delivers a command to its single handler, fire-and-forget.
	Send(ctx context.Context, command Message) error

	// QuerySync delivers a query and waits for its response.
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe adds an event subscriber and returns its unsubscribe func.
	Subscribe(eventType string, handler HandlerFunc) func()

	// RegisterHandler binds the single handler for a query or command type.
	RegisterHandler(messageType string, handler HandlerFunc) error

	// AddMiddleware appends middleware; Before runs in registration
	// order, After in reverse.
	AddMiddleware(middleware Middleware)

	// HasHandler reports whether a handler is bound for a message type.
	HasHandler(messageType string) bool

	// GetSubscribers returns the current subscribers for an event type.
	GetSubscribers(eventType string) []HandlerFunc

	// GetStats returns bus traffic counters and registration totals.
	GetStats() map[string]any

	// Clear removes all handlers, subscribers, and middleware.
	Clear()
}

// =============================================================================
// INFRASTRUCTURE PROTOCOLS
// =============================================================================

// Logger is the canonical protocol for structured logging. A nil Logger
// disables logging wherever one is accepted.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SessionStore is the canonical protocol for session state persistence.
// Used purely as a key-value store for serialized session snapshots.
type SessionStore interface {
	Put(ctx context.Context, sessionID string, snapshot map[string]any) error
	Get(ctx context.Context, sessionID string) (map[string]any, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	List(ctx context.Context) ([]string, error)
}
