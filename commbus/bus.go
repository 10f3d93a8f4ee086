package commbus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// subscription pairs a handler with the id its unsubscribe function removes.
type subscription struct {
	id      uint64
	handler HandlerFunc
}

// InMemoryCommBus carries run progress between the orchestrator and the
// runtime streams of one process. Events fan out to every subscriber of
// their type; queries go to the single registered handler under a timeout.
//
//	bus := NewInMemoryCommBus(5*time.Second, logger)
//	unsubscribe := bus.Subscribe(EventStageStarted, handler)
//	defer unsubscribe()
//	bus.Publish(ctx, &StageStarted{...})
type InMemoryCommBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscription
	middleware   []Middleware
	queryTimeout time.Duration
	logger       Logger
	nextID       uint64
	mu           sync.RWMutex
}

// NewInMemoryCommBus creates a new InMemoryCommBus. A nil logger discards.
func NewInMemoryCommBus(queryTimeout time.Duration, logger Logger) *InMemoryCommBus {
	if logger == nil {
		logger = nopLogger{}
	}
	return &InMemoryCommBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscription),
		middleware:   make([]Middleware, 0),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers an event to every subscriber of its type and waits for
// them. A failing or panicking subscriber is logged; it never fails the
// publisher, which has nothing useful to do with the error.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)

	processed, err := b.runMiddlewareBefore(ctx, event)
	if err != nil {
		return err
	}
	if processed == nil {
		b.logger.Debug("commbus_event_aborted", "event_type", eventType)
		return nil
	}

	b.mu.RLock()
	subs := slices.Clone(b.subscribers[eventType])
	b.mu.RUnlock()

	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("commbus_subscriber_panic", "event_type", eventType, "subscription", sub.id, "panic", r)
					err = fmt.Errorf("subscriber %d panicked: %v", sub.id, r)
				}
			}()
			if _, err := sub.handler(ctx, processed); err != nil {
				b.logger.Warn("commbus_subscriber_failed", "event_type", eventType, "subscription", sub.id, "error", err.Error())
				return err
			}
			return nil
		})
	}
	firstErr := g.Wait()

	_, _ = b.runMiddlewareAfter(ctx, event, nil, firstErr)
	return nil
}

// QuerySync sends a query and waits for response.
// Queries have a timeout and require a registered handler.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)

	processed, err := b.runMiddlewareBefore(ctx, query)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, noHandler(messageType)
	}

	b.mu.RLock()
	handler, exists := b.handlers[messageType]
	b.mu.RUnlock()
	if !exists {
		return nil, noHandler(messageType)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, e := handler(timeoutCtx, processed)
		resultCh <- result{value: v, err: e}
	}()

	select {
	case <-timeoutCtx.Done():
		err := queryTimeout(messageType, b.queryTimeout)
		_, _ = b.runMiddlewareAfter(ctx, query, nil, err)
		return nil, err
	case res := <-resultCh:
		finalResult, middlewareErr := b.runMiddlewareAfter(ctx, query, res.value, res.err)
		if middlewareErr != nil {
			return finalResult, middlewareErr
		}
		return finalResult, res.err
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe subscribes to an event type.
// Returns an unsubscribe function; calling it more than once is a no-op.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("commbus_subscribed", "event_type", eventType, "subscription", id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				kept := make([]subscription, 0, len(subs)-1)
				kept = append(kept, subs[:i]...)
				kept = append(kept, subs[i+1:]...)
				if len(kept) == 0 {
					delete(b.subscribers, eventType)
				} else {
					b.subscribers[eventType] = kept
				}
				return
			}
		}
	}
}

// RegisterHandler registers a handler for a message type.
// Only one handler per message type is allowed.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[messageType]; exists {
		return handlerRegistered(messageType)
	}
	b.handlers[messageType] = handler
	return nil
}

// AddMiddleware adds middleware to the bus.
// Middleware is executed in registration order.
func (b *InMemoryCommBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// HasHandler checks if a handler is registered for a message type.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.handlers[messageType]
	return exists
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *InMemoryCommBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// RegisteredTypes lists the message types with a handler or subscriber, sorted.
func (b *InMemoryCommBus) RegisteredTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make(map[string]struct{}, len(b.handlers)+len(b.subscribers))
	for t := range b.handlers {
		types[t] = struct{}{}
	}
	for t := range b.subscribers {
		types[t] = struct{}{}
	}
	return slices.Sorted(maps.Keys(types))
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (b *InMemoryCommBus) middlewareChain() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.middleware)
}

// runMiddlewareBefore threads the message through each Before in order. A nil
// message from any middleware aborts delivery.
func (b *InMemoryCommBus) runMiddlewareBefore(ctx context.Context, message Message) (Message, error) {
	current := message
	for _, mw := range b.middlewareChain() {
		next, err := mw.Before(ctx, current)
		if err != nil || next == nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// runMiddlewareAfter runs each After in reverse order. The last error
// reported wins; nil results keep the previous value.
func (b *InMemoryCommBus) runMiddlewareAfter(ctx context.Context, message Message, result any, err error) (any, error) {
	chain := b.middlewareChain()
	for i := len(chain) - 1; i >= 0; i-- {
		next, afterErr := chain[i].After(ctx, message, result, err)
		if afterErr != nil {
			err = afterErr
		}
		if next != nil {
			result = next
		}
	}
	return result, err
}

var _ CommBus = (*InMemoryCommBus)(nil)
