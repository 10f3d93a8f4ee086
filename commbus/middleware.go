package commbus

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs message traffic at debug level and failures at warn.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	fields := []any{"category", message.Category(), "message_type", GetMessageType(message)}
	if ev, ok := message.(RunEvent); ok {
		fields = append(fields, "request_id", ev.RunID())
	}
	m.logger.Debug("commbus_message", fields...)
	return message, nil
}

// After logs handler failures.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("commbus_message_failed", "message_type", GetMessageType(message), "error", err.Error())
	}
	return result, nil
}

// =============================================================================
// EVENT RECORDER
// =============================================================================

// RecordedEvent is one event captured by a Recorder.
type RecordedEvent struct {
	Type string
	At   time.Time
	Msg  Message
}

// Recorder is middleware that keeps the most recent events it has seen.
// It backs the debug event dump and test assertions.
type Recorder struct {
	limit  int
	events []RecordedEvent
	mu     sync.Mutex
}

// NewRecorder creates a Recorder keeping at most limit events (0 = 256).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

// Before records the message.
func (r *Recorder) Before(ctx context.Context, message Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Type: GetMessageType(message), At: time.Now(), Msg: message})
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append([]RecordedEvent(nil), r.events[over:]...)
	}
	return message, nil
}

// After is a no-op.
func (r *Recorder) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

// Events returns recorded events, optionally filtered to one run.
func (r *Recorder) Events(requestID string) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, 0, len(r.events))
	for _, e := range r.events {
		if requestID != "" {
			ev, ok := e.Msg.(RunEvent)
			if !ok || ev.RunID() != requestID {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Types returns the recorded event types for one run, in order.
func (r *Recorder) Types(requestID string) []string {
	events := r.Events(requestID)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*Recorder)(nil)
)
