package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
)

// Handler reacts to one event. Delivery is at-least-once, handlers must be idempotent.
type Handler func(ctx context.Context, evt domain.Event) error

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Bus is an in-process typed message bus. Events are queued on a buffered channel
// and dispatched by a fixed number of processor goroutines. Events published from
// inside a handler never block: when the channel is full they wait in an
// unbounded overflow queue that processors drain first.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler

	eventChan    chan domain.Event
	overflowMu   sync.Mutex
	overflow     []domain.Event
	overflowWake chan struct{}
	shutdownChan chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	pending      atomic.Int64
	logger       *slog.Logger
}

// NewBus creates a Bus and starts its processors.
func NewBus(bufferSize, workers int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	b := &Bus{
		handlers:     make(map[domain.EventType][]Handler),
		eventChan:    make(chan domain.Event, bufferSize),
		overflowWake: make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.eventProcessor(i + 1)
	}
	return b
}

// Subscribe registers h for events of type t. Handlers are expected to be
// registered at startup, before events flow.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

type dispatchKey struct{}

// Publish queues evt for dispatch. Outside handlers it blocks while the buffer is
// full.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	b.pending.Add(1)
	select {
	case <-b.shutdownChan:
		b.pending.Add(-1)
		return fmt.Errorf("event bus is shutting down")
	default:
	}

	if ctx.Value(dispatchKey{}) != nil {
		select {
		case b.eventChan <- evt:
		default:
			b.pushOverflow(evt)
		}
		metrics.EventsPublished.WithLabelValues(string(evt.EventType())).Inc()
		return nil
	}

	select {
	case b.eventChan <- evt:
		metrics.EventsPublished.WithLabelValues(string(evt.EventType())).Inc()
		return nil
	case <-b.shutdownChan:
		b.pending.Add(-1)
		return fmt.Errorf("event bus is shutting down")
	case <-ctx.Done():
		b.pending.Add(-1)
		return ctx.Err()
	}
}

func (b *Bus) pushOverflow(evt domain.Event) {
	b.overflowMu.Lock()
	b.overflow = append(b.overflow, evt)
	b.overflowMu.Unlock()

	select {
	case b.overflowWake <- struct{}{}:
	default:
	}
}

func (b *Bus) popOverflow() (domain.Event, bool) {
	b.overflowMu.Lock()
	defer b.overflowMu.Unlock()
	if len(b.overflow) == 0 {
		return nil, false
	}
	evt := b.overflow[0]
	b.overflow[0] = nil
	b.overflow = b.overflow[1:]
	return evt, true
}

func (b *Bus) eventProcessor(workerID int) {
	defer b.wg.Done()

	for {
		if evt, ok := b.popOverflow(); ok {
			b.dispatch(workerID, evt)
			continue
		}

		select {
		case evt := <-b.eventChan:
			b.dispatch(workerID, evt)
		case <-b.overflowWake:
		case <-b.shutdownChan:
			b.drain(workerID)
			return
		}
	}
}

func (b *Bus) drain(workerID int) {
	for {
		if evt, ok := b.popOverflow(); ok {
			b.dispatch(workerID, evt)
			continue
		}
		select {
		case evt := <-b.eventChan:
			b.dispatch(workerID, evt)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(workerID int, evt domain.Event) {
	defer b.pending.Add(-1)

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventType()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(workerID, h, evt)
	}
}

func (b *Bus) invoke(workerID int, h Handler, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"worker_id", workerID,
				"event", evt.EventType(),
				"panic", r,
			)
		}
	}()

	ctx := context.WithValue(context.Background(), dispatchKey{}, workerID)
	if err := h(ctx, evt); err != nil {
		b.logger.Error("event handler failed",
			"worker_id", workerID,
			"event", evt.EventType(),
			"error", err,
		)
	}
}

// Flush blocks until every published event has been dispatched, including
// events published by handlers meanwhile.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Shutdown stops accepting events, drains the queue and waits for processors.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down event bus")
	b.closeOnce.Do(func() { close(b.shutdownChan) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus shutdown completed")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus shutdown timed out")
		return ctx.Err()
	}
}
