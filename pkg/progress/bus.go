package progress

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize bounds each subscription's pending-event queue.
const DefaultQueueSize = 256

// Handler consumes one event. Handlers run on the subscription's own
// dispatch goroutine, never on the producer.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Close it to stop
// receiving events; Close is idempotent.
type Subscription struct {
	id      int
	bus     *Bus
	queue   chan Event
	filter  map[Kind]bool
	handler Handler
	done    chan struct{}
	once    sync.Once

	// mu guards closed so an Emit that snapshotted this subscription
	// before removal cannot send on the closed queue.
	mu     sync.Mutex
	closed bool
}

// Close detaches the subscription and stops its dispatch goroutine
// after the queue drains.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}

// enqueue offers the event without blocking. It reports false only on
// overflow; a concurrently closed subscription swallows the event.
func (s *Subscription) enqueue(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

// Bus fans events out to subscribers. Emit never blocks the producer:
// back-pressure is absorbed by each subscription's bounded queue, and a
// full queue drops the incoming event with a logged warning.
type Bus struct {
	mu        sync.Mutex
	subs      []*Subscription
	nextID    int
	queueSize int
	logger    *slog.Logger
	dropped   int
}

// NewBus creates a bus with the given per-subscription queue size.
// A size of zero or less uses DefaultQueueSize.
func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{queueSize: queueSize, logger: logger}
}

// Subscribe registers a handler. When kinds is non-empty only matching
// events are delivered. Handlers are invoked in registration order for
// each accepted event, each on its own goroutine.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) *Subscription {
	sub := &Subscription{
		bus:     b,
		queue:   make(chan Event, b.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	if len(kinds) > 0 {
		sub.filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.filter[k] = true
		}
	}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.dispatch(b.logger)
	return sub
}

// Emit enqueues the event on every matching subscription. Overflow
// drops the incoming event for that subscription only.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter[event.Kind] {
			continue
		}
		if !sub.enqueue(event) {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.Warn("progress queue full, dropping event",
				"event_kind", event.Kind,
				"event_id", event.EventID,
				"queue_size", b.queueSize)
		}
	}
}

// Dropped returns how many events have been dropped across all
// subscriptions since the bus was created.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close detaches every subscription and waits for their queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// dispatch delivers queued events to the handler until the queue is
// closed. A panicking handler is logged and must not disturb the
// producer or other subscribers.
func (s *Subscription) dispatch(logger *slog.Logger) {
	defer close(s.done)
	for event := range s.queue {
		s.deliver(event, logger)
	}
}

func (s *Subscription) deliver(event Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("progress handler panicked",
				"event_kind", event.Kind,
				"event_id", event.EventID,
				"panic", r)
		}
	}()
	s.handler(event)
}
