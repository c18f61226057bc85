// Package bus implements the event bus: it routes each published event to
// every module whose declared consumes set matches the event's type,
// preserving producer order per consumer and isolating a misbehaving
// consumer from the rest of the fan-out (§4.1).
package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Consumer is anything the bus can deliver events to: a module's inbound
// queue, the pipeline, or the store.
type Consumer interface {
	// Name identifies the consumer for logging and queue accounting.
	Name() string

	// Deliver processes one event. It must not block indefinitely; the bus
	// isolates a panicking or erroring consumer from the rest of the
	// fan-out.
	Deliver(event *eventmodel.Event) error
}

// Sink optionally mirrors every published event to an external system
// (e.g. Kafka) regardless of subscriptions.
type Sink interface {
	Mirror(event *eventmodel.Event) error
}

// subscription binds a consumer to the event types it watches.
type subscription struct {
	consumer Consumer
	all      bool
	types    map[string]bool
	queue    chan *eventmodel.Event
	done     chan struct{}
}

// Config controls the bus's back-pressure and queue sizing.
type Config struct {
	// QueueSize bounds each subscriber's in-flight queue. A publish blocks
	// once a subscriber's queue is full (§4.1 default: block).
	QueueSize int
}

// DefaultConfig returns sensible defaults for QueueSize.
func DefaultConfig() Config {
	return Config{QueueSize: 256}
}

// Bus fans published events out to every subscribed consumer.
type Bus struct {
	mu            sync.RWMutex
	logger        *slog.Logger
	config        Config
	subscriptions []*subscription
	sink          Sink
	started       bool
	errorHandlers []func(consumer string, event *eventmodel.Event, err error)
}

// New builds a Bus with the given logger and config.
func New(logger *slog.Logger, config Config) *Bus {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	return &Bus{logger: logger, config: config}
}

// WithSink attaches an external mirror sink (e.g. Kafka); every published
// event is also sent to it, best-effort. Must be called before Start.
func (b *Bus) WithSink(sink Sink) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sink = sink

	return b
}

// OnDeliveryError registers a callback invoked whenever a consumer's
// Deliver call errors or panics.
func (b *Bus) OnDeliveryError(h func(consumer string, event *eventmodel.Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorHandlers = append(b.errorHandlers, h)
}

// Subscribe registers consumer for eventTypes ("*" means every type).
// Registration is startup-only: calling Subscribe after Start panics, per
// §4.1's "no dynamic resubscription mid-scan" contract.
func (b *Bus) Subscribe(consumer Consumer, eventTypes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		panic("bus: cannot subscribe after Start")
	}

	sub := &subscription{
		consumer: consumer,
		types:    map[string]bool{},
		queue:    make(chan *eventmodel.Event, b.config.QueueSize),
		done:     make(chan struct{}),
	}

	for _, t := range eventTypes {
		if t == "*" {
			sub.all = true
		}

		sub.types[t] = true
	}

	b.subscriptions = append(b.subscriptions, sub)
}

// Start launches one delivery goroutine per subscription. No further
// Subscribe calls are permitted after Start.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	subs := append([]*subscription(nil), b.subscriptions...)
	b.mu.Unlock()

	for _, sub := range subs {
		go b.runSubscription(ctx, sub)
	}
}

// Stop signals every delivery goroutine to drain and exit.
func (b *Bus) Stop() {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscriptions...)
	b.mu.RUnlock()

	for _, sub := range subs {
		close(sub.queue)
		<-sub.done
	}
}

// Publish routes event to every matching subscriber and the optional sink.
// It blocks until the event has been durably enqueued on each matching
// subscriber's queue (§4.1: non-blocking from the producer's view once
// enqueued, but the call itself may block on a saturated queue by design).
func (b *Bus) Publish(event *eventmodel.Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscriptions...)
	sink := b.sink
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.all || sub.types[event.EventType] {
			sub.queue <- event
		}
	}

	if sink != nil {
		if err := sink.Mirror(event); err != nil && b.logger != nil {
			b.logger.Warn("bus: sink mirror failed", slog.String("event_type", event.EventType), slog.Any("error", err))
		}
	}
}

func (b *Bus) runSubscription(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			b.drain(sub)

			return
		case event, ok := <-sub.queue:
			if !ok {
				return
			}

			b.deliver(sub, event)
		}
	}
}

func (b *Bus) drain(sub *subscription) {
	for {
		select {
		case event, ok := <-sub.queue:
			if !ok {
				return
			}

			b.deliver(sub, event)
		default:
			return
		}
	}
}

func (b *Bus) deliver(sub *subscription, event *eventmodel.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.notifyError(sub.consumer.Name(), event, panicErr(r))
		}
	}()

	if err := sub.consumer.Deliver(event); err != nil {
		b.notifyError(sub.consumer.Name(), event, err)
	}
}

func (b *Bus) notifyError(consumer string, event *eventmodel.Event, err error) {
	b.mu.RLock()
	handlers := append([]func(string, *eventmodel.Event, error)(nil), b.errorHandlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(consumer, event, err)
	}
}

// SubscriberNames returns the sorted names of every registered consumer.
func (b *Bus) SubscriberNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		names = append(names, s.consumer.Name())
	}

	sort.Strings(names)

	return names
}

func panicErr(r interface{}) error {
	return &panicError{value: r}
}

type panicError struct {
	value interface{}
}

func (p *panicError) Error() string {
	return "consumer panicked: " + toString(p.value)
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}

	if s, ok := v.(string); ok {
		return s
	}

	return "unknown panic"
}
