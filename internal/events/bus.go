package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Bus is an in-process Sink: Publish enqueues into a bounded buffer and a
// fixed pool of workers fans each event out to its subscribers. When the
// buffer is full the event is dropped and logged.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler

	buffer  chan Envelope
	log     logrus.FieldLogger
	now     func() time.Time
	wg      sync.WaitGroup
	dropped uint64
	stopped bool
}

func NewBus(bufferSize int, log logrus.FieldLogger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		buffer:   make(chan Envelope, bufferSize),
		log:      log,
		now:      time.Now,
	}
}

// Subscribe registers h for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
	b.log.WithField("event_type", t).Debug("event handler subscribed")
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       e.Type(),
		OccurredAt: b.now(),
		Payload:    e,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		b.dropped++
		b.log.WithField("event_type", env.Type).Warn("event bus stopped, event dropped")
		return
	}
	select {
	case b.buffer <- env:
		b.log.WithFields(logrus.Fields{"event_type": env.Type, "event_id": env.ID}).Debug("event published")
	default:
		b.dropped++
		b.log.WithFields(logrus.Fields{"event_type": env.Type, "event_id": env.ID}).Warn("event buffer full, event dropped")
	}
}

// Start launches the workers. They run until Close.
func (b *Bus) Start(ctx context.Context, workers int) {
	for i := range workers {
		b.wg.Add(1)
		go b.worker(ctx, i)
	}
	b.log.WithField("workers", workers).Info("event bus started")
}

// Close stops accepting events, lets the workers drain the buffer and waits
// for them or for ctx, whichever comes first.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.buffer)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus drain: %w", ctx.Err())
	}
}

// Dropped is the number of events discarded so far.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) worker(ctx context.Context, id int) {
	defer b.wg.Done()
	for env := range b.buffer {
		b.dispatch(ctx, env)
	}
	b.log.WithField("worker_id", id).Debug("event worker stopped")
}

func (b *Bus) dispatch(ctx context.Context, env Envelope) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[env.Type])+len(b.all))
	handlers = append(handlers, b.handlers[env.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.WithField("event_type", env.Type).Debug("no handlers for event")
		return
	}
	for _, h := range handlers {
		b.invoke(ctx, h, env)
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, env Envelope) {
	entry := b.log.WithFields(logrus.Fields{"event_type": env.Type, "event_id": env.ID})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("event handler panicked")
		}
	}()
	if err := h(ctx, env); err != nil {
		entry.WithError(err).Error("event handler failed")
	}
}
