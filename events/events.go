// Package events carries transition outcomes and delivery requests from the
// engine to whoever actually sends notifications or calls webhooks.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/songzhibin97/transition-engine/internal/convert"
)

var (
	// ErrBusClosed indicates the event bus has been stopped.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the queue cannot accept more events.
	ErrChannelFull = errors.New("event queue is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event types published by the transition engine.
const (
	TypeTransitionCompleted   = "transition.completed"
	TypeTransitionRejected    = "transition.rejected"
	TypeTransitionFailed      = "transition.failed"
	TypeNotificationRequested = "notification.requested"
	TypeWebhookRequested      = "webhook.requested"
)

// AllTypes lists every event type the engine publishes.
var AllTypes = []string{
	TypeTransitionCompleted,
	TypeTransitionRejected,
	TypeTransitionFailed,
	TypeNotificationRequested,
	TypeWebhookRequested,
}

const (
	defaultBufferSize     = 100
	defaultHandlerTimeout = 5 * time.Second
)

// Event is one outcome or delivery request of a transition call.
type Event struct {
	Type        string
	ExecutionID string
	GraphID     string
	OccurredAt  time.Time
	Data        map[string]interface{}
}

// Notification is what a notification.requested event asks to be sent.
type Notification struct {
	Function   string
	Recipients []string
	Roles      []string
	Template   string
}

// Notification decodes the request of a notification.requested event.
func (e Event) Notification() (Notification, bool) {
	if e.Type != TypeNotificationRequested {
		return Notification{}, false
	}
	return Notification{
		Function:   convert.String(e.Data["function"]),
		Recipients: convert.Strings(e.Data["recipients"]),
		Roles:      convert.Strings(e.Data["roles"]),
		Template:   convert.String(e.Data["template"]),
	}, true
}

// Webhook is what a webhook.requested event asks to be called.
type Webhook struct {
	URL     string
	Method  string
	Payload map[string]interface{}
}

// Webhook decodes the request of a webhook.requested event.
func (e Event) Webhook() (Webhook, bool) {
	if e.Type != TypeWebhookRequested {
		return Webhook{}, false
	}
	payload, _ := e.Data["payload"].(map[string]interface{})
	return Webhook{
		URL:     convert.String(e.Data["url"]),
		Method:  convert.String(e.Data["method"]),
		Payload: payload,
	}, true
}

// EventHandler handles delivered events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus queues events and hands them to subscribers on a single worker.
// Handlers of one type run in subscription order and events are delivered in
// publish order. Stop delivers everything already queued before returning.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	nextID  uint64
	queue   chan Event
	timeout time.Duration
	onError func(event Event, err error)
	logger  *slog.Logger

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

// EventBusOption configures an EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets how many events may wait for delivery.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		if size > 0 {
			eb.queue = make(chan Event, size)
		}
	}
}

// WithErrorHandler is called for every failed asynchronous delivery.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		if handler != nil {
			eb.onError = handler
		}
	}
}

// WithHandlerTimeout bounds the context handed to each handler call.
func WithHandlerTimeout(d time.Duration) EventBusOption {
	return func(eb *EventBus) {
		if d > 0 {
			eb.timeout = d
		}
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) EventBusOption {
	return func(eb *EventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewEventBus creates an EventBus and starts its delivery worker.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		subs:    make(map[string][]subscription),
		queue:   make(chan Event, defaultBufferSize),
		timeout: defaultHandlerTimeout,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, option := range options {
		option(eb)
	}
	if eb.onError == nil {
		eb.onError = eb.logFailure
	}

	go eb.run()
	return eb
}

// Subscribe registers handler for eventType and returns its subscription id.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) uint64 {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: eb.nextID, handler: handler})
	return eb.nextID
}

// SubscribeFunc registers a function for eventType.
func (eb *EventBus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) uint64 {
	return eb.Subscribe(eventType, EventHandlerFunc(fn))
}

// SubscribeAll registers handler for every type in AllTypes.
func (eb *EventBus) SubscribeAll(handler EventHandler) []uint64 {
	ids := make([]uint64, 0, len(AllTypes))
	for _, t := range AllTypes {
		ids = append(ids, eb.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes subscription id from eventType, keeping the order of
// the remaining handlers.
func (eb *EventBus) Unsubscribe(eventType string, id uint64) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		rest := append(subs[:i:i], subs[i+1:]...)
		if len(rest) == 0 {
			delete(eb.subs, eventType)
		} else {
			eb.subs[eventType] = rest
		}
		return true
	}
	return false
}

// HasSubscribers reports whether eventType has at least one handler.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType]) > 0
}

// Pending returns the number of queued, undelivered events.
func (eb *EventBus) Pending() int {
	return len(eb.queue)
}

// Publish queues event without blocking.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}
	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	// closeMu stays read-locked across the send so Stop cannot close the queue under it.
	select {
	case eb.queue <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// Deliver runs the handlers of event on the calling goroutine and returns
// their joined errors.
func (eb *EventBus) Deliver(ctx context.Context, event Event) error {
	eb.closeMu.RLock()
	closed := eb.closed
	eb.closeMu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}
	return eb.dispatch(ctx, event)
}

// Stop refuses new events, delivers the queued ones and waits for the worker.
// It is safe to call more than once.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		close(eb.queue)
	}
	eb.closeMu.Unlock()
	<-eb.done
}

func (eb *EventBus) run() {
	defer close(eb.done)
	for event := range eb.queue {
		if err := eb.dispatch(context.Background(), event); err != nil {
			eb.onError(event, err)
		}
	}
}

func (eb *EventBus) dispatch(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := append([]subscription(nil), eb.subs[event.Type]...)
	eb.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := eb.call(ctx, s.handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (eb *EventBus) call(ctx context.Context, h EventHandler, event Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, eb.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

func (eb *EventBus) logFailure(event Event, err error) {
	eb.logger.Error("event delivery failed",
		"type", event.Type,
		"execution_id", event.ExecutionID,
		"graph_id", event.GraphID,
		"error", err)
}
