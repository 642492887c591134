package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

// Handler consumes events. Returned errors are logged and counted but never
// reach the publisher.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Publisher is the side of the bus the engines see.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	logg    *logger.Logger
	metrics *metrics.DeliveryMetrics
}

var _ Publisher = (*Bus)(nil)

// NewBus builds an empty bus. Both arguments may be nil.
func NewBus(logg *logger.Logger, m *metrics.DeliveryMetrics) *Bus {
	return &Bus{logg: logg, metrics: m}
}

// Subscribe appends a handler under name.
func (b *Bus) Subscribe(name string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.deliver(ctx, sub, event); err != nil {
			b.metrics.IncHandlerFailure(sub.name)
			if b.logg != nil {
				env := event.Env()
				logCtx := b.logg.WithFields(ctx, map[string]any{
					"subscriber":    sub.name,
					"event_id":      env.ID,
					"event_kind":    event.Kind(),
					"submission_id": env.Submission.SubmissionID,
				})
				b.logg.Error(logCtx, "event handler failed", err)
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler.Handle(ctx, event)
}

// Subscribers lists subscription names in delivery order.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		names = append(names, sub.name)
	}
	return names
}
