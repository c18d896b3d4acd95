package bus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// DefaultDrainTimeout bounds how long Close waits for running handlers.
const DefaultDrainTimeout = 10 * time.Second

// MemoryBus delivers events to handlers in the same process. Each delivery
// runs on its own goroutine with a context detached from the publisher, so a
// finished HTTP request does not cancel the run recorder.
type MemoryBus struct {
	log *logger.Logger

	mu       sync.RWMutex
	topics   map[string][]Handler
	closed   bool
	inflight sync.WaitGroup

	// DrainTimeout bounds Close. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{log: log, topics: make(map[string][]Handler)}
}

// Publish hands event to every handler subscribed to topic and returns
// without waiting for them.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	handlers := b.topics[topic]
	// Registered under the read lock so Close cannot start draining first.
	b.inflight.Add(len(handlers))
	b.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		go b.deliver(detached, topic, event, h)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, topic string, event Event, h Handler) {
	defer b.inflight.Done()
	if err := h(ctx, event); err != nil {
		b.log.WithError(err).Warn("Event handler failed", "topic", topic, "event_id", event.ID)
	}
}

// Subscribe appends handler to topic. Handlers added later do not see
// events published earlier.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	// Copy on write keeps slices handed to running Publish calls stable.
	b.topics[topic] = append(slices.Clip(b.topics[topic]), handler)
	return nil
}

// Close rejects further publishes and waits up to DrainTimeout for handlers
// that are still running.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.topics = nil
	b.mu.Unlock()

	timeout := b.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		b.log.Warn("Bus closed with handlers still running", "timeout", timeout)
	}
	return nil
}

// Wait blocks until no handler is running or ctx ends.
func (b *MemoryBus) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
