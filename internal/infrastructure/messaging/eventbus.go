// Package messaging carries domain events from committed transactions to the
// cache, metrics and audit handlers, within one process or across instances.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is what a panicking handler is reported as.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// Observer receives bus measurements. *metrics.Metrics implements it.
type Observer interface {
	ObservePublish(eventType string)
	ObserveHandler(eventType string, d time.Duration, ok bool)
}

type nopObserver struct{}

func (nopObserver) ObservePublish(string) {}
func (nopObserver) ObserveHandler(string, time.Duration, bool) {}

// anyEvent keys the handlers registered with SubscribeAll.
const anyEvent shared.EventType = "*"

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands each delivery to a goroutine and returns from Publish
	// immediately. Otherwise handlers run on the publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize caps concurrently running async handlers (10).
	WorkerPoolSize int

	Logger   *logger.Logger
	Observer Observer
}

// InMemoryEventBus delivers events to handlers in this process. Handler
// failures never reach the publisher: the write behind the event has already
// committed, so they are logged and counted.
type InMemoryEventBus struct {
	async    bool
	slots    *semaphore.Weighted
	log      *logger.Logger
	observer Observer

	mu     sync.RWMutex
	subs   map[shared.EventType][]shared.EventHandler
	closed bool

	// done is cancelled by Close; queued async deliveries give up on it.
	done     context.Context
	stop     context.CancelFunc
	inflight sync.WaitGroup
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	done, stop := context.WithCancel(context.Background())
	return &InMemoryEventBus{
		async:    cfg.AsyncMode,
		slots:    semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		log:      cfg.Logger.With(logger.Component("eventbus")),
		observer: cfg.Observer,
		subs:     make(map[shared.EventType][]shared.EventHandler),
		done:     done,
		stop:     stop,
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(anyEvent, handler)
}

func (b *InMemoryEventBus) add(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[key] = append(b.subs[key], handler)
	return nil
}

// Publish delivers event to the type's handlers, then to the catch-all ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	typ := event.EventType()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.subs[typ]...), b.subs[anyEvent]...)
	if b.async {
		// Counted under the lock so Close cannot slip in before the goroutines.
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.observer.ObservePublish(string(typ))
	for _, h := range targets {
		if b.async {
			go b.deliverAsync(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()
	if err := b.slots.Acquire(b.done, 1); err != nil {
		return
	}
	defer b.slots.Release(1)
	b.deliver(event, h)
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	typ := string(event.EventType())
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				b.log.Error("event handler panic",
					logger.String("event_type", typ),
					logger.String("stack", string(debug.Stack())))
			}
		}()
		return h(event)
	}()

	b.observer.ObserveHandler(typ, time.Since(start), err == nil)
	if err != nil {
		b.log.Error("event handler failed", logger.String("event_type", typ), logger.Err(err))
	}
}

// Close rejects further events and waits for running handlers. Async
// deliveries still waiting for a worker slot are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stop()
	b.inflight.Wait()
	return nil
}
