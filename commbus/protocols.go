// Package commbus provides the in-process communication bus.
//
// The orchestrator publishes run progress on the bus (stage boundaries,
// revision rounds, drafts, critiques) and answers run-state queries through
// it. The runtime subscribes per request to stream progress to callers.
//
// Protocol Categories:
//   - Message: every message has a category ("event" or "query")
//   - Query: request-response, single handler
//   - Middleware: cross-cutting interception (logging)
package commbus

import (
	"context"
)

// =============================================================================
// COMMBUS PROTOCOLS
// =============================================================================

// Message is the protocol for all commbus messages.
type Message interface {
	// Category returns the message category: "event" or "query".
	Category() string
}

// Query is the protocol for query messages that expect a response.
type Query interface {
	Message
	// IsQuery is a marker method to distinguish queries from other messages.
	IsQuery()
}

// RunEvent is a progress event scoped to one pipeline run. Subscribers on a
// shared bus filter on RunID.
type RunEvent interface {
	Message
	RunID() string
}

// Handler is the protocol for message handlers.
type Handler interface {
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware can intercept messages before and after handling.
type Middleware interface {
	// Before is called before message is handled.
	// Returns modified message, or nil to abort processing.
	Before(ctx context.Context, message Message) (Message, error)

	// After is called after message is handled.
	// Returns modified result.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is the protocol for the communication bus.
//
//   - Publish(event): fan-out to all subscribers
//   - QuerySync(query): request-response, returns result
type CommBus interface {
	// ==========================================================================
	// MESSAGING
	// ==========================================================================

	// Publish publishes an event to all subscribers.
	Publish(ctx context.Context, event Message) error

	// QuerySync sends a query and waits for response.
	QuerySync(ctx context.Context, query Query) (any, error)

	// ==========================================================================
	// REGISTRATION
	// ==========================================================================

	// Subscribe subscribes to an event type.
	// Returns an unsubscribe function.
	Subscribe(eventType string, handler HandlerFunc) func()

	// RegisterHandler registers a handler for a message type.
	// Only one handler per message type is allowed.
	RegisterHandler(messageType string, handler HandlerFunc) error

	// AddMiddleware adds middleware to the bus.
	AddMiddleware(middleware Middleware)

	// ==========================================================================
	// INTROSPECTION
	// ==========================================================================

	// HasHandler checks if a handler is registered for a message type.
	HasHandler(messageType string) bool

	// SubscriberCount returns the number of subscribers for an event type.
	SubscriberCount(eventType string) int
}

// Logger is the structured logging protocol the bus writes to.
// logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
