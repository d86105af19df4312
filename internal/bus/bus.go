// Package bus implements the in-process event bus: a durable, totally
// ordered log of domain events with synchronous publish/subscribe.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/steward/internal/eventlog"
	"github.com/petrijr/steward/pkg/api"
)

// ErrPublishDepthExceeded is returned when subscriber callbacks chain
// publishes deeper than the configured limit, which would otherwise be
// unbounded recursion.
var ErrPublishDepthExceeded = errors.New("publish depth exceeded")

// DefaultMaxPublishDepth caps reentrant publish chains started from
// subscriber callbacks.
const DefaultMaxPublishDepth = 8

// Handler is a subscriber callback. It runs synchronously on the
// publisher's goroutine, so it must be fast or hand work off; a slow
// handler delays the publisher and anyone waiting on the log lock.
type Handler func(ctx context.Context, ev api.Event)

// EventBus appends events to a Log under an exclusive lock and notifies
// subscribers synchronously, in registration order. All publishers observe
// a single total order of events as reflected by the log.
type EventBus struct {
	logMu sync.Mutex // single-writer discipline for the log
	log   eventlog.Log

	subMu  sync.RWMutex
	subs   map[string][]*Subscription
	nextID int

	logger   *slog.Logger
	maxDepth int
}

// Config describes how to construct an EventBus.
type Config struct {
	Log    eventlog.Log
	Logger *slog.Logger

	// MaxPublishDepth caps reentrant publishes; zero means
	// DefaultMaxPublishDepth.
	MaxPublishDepth int
}

// New creates an EventBus over the given log.
func New(cfg Config) *EventBus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	depth := cfg.MaxPublishDepth
	if depth <= 0 {
		depth = DefaultMaxPublishDepth
	}
	return &EventBus{
		log:      cfg.Log,
		subs:     make(map[string][]*Subscription),
		logger:   logger,
		maxDepth: depth,
	}
}

// Subscription identifies one registered handler. Handlers are not
// comparable in Go, so Subscribe hands back a handle for Unsubscribe.
type Subscription struct {
	id        int
	eventType string
	handler   Handler
}

type depthKey struct{}

func publishDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Publish appends an event to the log and then invokes every handler
// registered for eventType, in registration order, on the caller's
// goroutine.
//
// A handler that panics is recovered and logged; it neither aborts
// delivery to the remaining handlers nor rolls back persistence. An I/O
// failure while persisting is fatal to this call and is returned to the
// caller: a broken log is a correctness risk.
func (b *EventBus) Publish(ctx context.Context, eventType string, payload map[string]any) (api.Event, error) {
	return b.publishWith(ctx, eventType, payload, "")
}

// PublishCorrelated is Publish with an explicit correlation ID.
func (b *EventBus) PublishCorrelated(ctx context.Context, eventType string, payload map[string]any, correlationID string) (api.Event, error) {
	return b.publishWith(ctx, eventType, payload, correlationID)
}

func (b *EventBus) publishWith(ctx context.Context, eventType string, payload map[string]any, correlationID string) (api.Event, error) {
	if eventType == "" {
		return api.Event{}, errors.New("event type is required")
	}

	depth := publishDepth(ctx)
	if depth >= b.maxDepth {
		return api.Event{}, fmt.Errorf("%w: event type %s at depth %d", ErrPublishDepthExceeded, eventType, depth)
	}

	ev := api.Event{
		Type:          eventType,
		Payload:       payload,
		CorrelationID: correlationID,
	}

	// Append under the log lock so every publisher observes one total
	// order; the lock is released before handlers run.
	b.logMu.Lock()
	ev.Timestamp = time.Now()
	err := b.log.Append(ctx, ev)
	b.logMu.Unlock()
	if err != nil {
		return api.Event{}, fmt.Errorf("persist event %s: %w", eventType, err)
	}

	// Snapshot the registry so handlers can subscribe/unsubscribe or
	// publish again without deadlocking.
	b.subMu.RLock()
	handlers := make([]*Subscription, len(b.subs[eventType]))
	copy(handlers, b.subs[eventType])
	b.subMu.RUnlock()

	cbCtx := context.WithValue(ctx, depthKey{}, depth+1)
	for _, sub := range handlers {
		b.invoke(cbCtx, sub, ev)
	}

	return ev, nil
}

func (b *EventBus) invoke(ctx context.Context, sub *Subscription, ev api.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.String("event_type", ev.Type),
				slog.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, ev)
}

// Subscribe registers a handler for eventType and returns its handle.
func (b *EventBus) Subscribe(eventType string, h Handler) *Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, eventType: eventType, handler: h}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub
}

// Unsubscribe removes a subscription. Removing an absent or already
// removed subscription is a no-op.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	list := b.subs[sub.eventType]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// GetEvents re-reads the full log and returns events in order. eventType
// filters by type if non-empty; since excludes events at or before the
// given time if non-zero.
func (b *EventBus) GetEvents(ctx context.Context, eventType string, since time.Time) ([]api.Event, error) {
	all, err := b.log.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []api.Event
	for _, ev := range all {
		if eventType != "" && ev.Type != eventType {
			continue
		}
		if !since.IsZero() && !ev.Timestamp.After(since) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Clear truncates the log. Test/reset use only.
func (b *EventBus) Clear(ctx context.Context) error {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	return b.log.Clear(ctx)
}
