package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
)

const (
	// DefaultQueueSize is used when NewDispatcher gets a non-positive size.
	DefaultQueueSize = 1024
	sendTimeout      = 5 * time.Second
)

// Sink is a single delivery target for lifecycle events.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev domain.Event) error
}

// Dispatcher fans events out to sinks from a bounded queue on its own
// goroutine. Publish never blocks: events are dropped when the queue is full.
type Dispatcher struct {
	sinks   []Sink
	queue   chan domain.Event
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts a dispatcher delivering to sinks.
func NewDispatcher(queueSize int, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan domain.Event, queueSize),
		metrics: m,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues ev for delivery.
func (d *Dispatcher) Publish(_ context.Context, ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.metrics.RecordNotifyDropped()
		slog.Warn("Notification queue full, dropping event",
			"event_type", ev.Type, "tenant_id", ev.TenantID, "session_id", ev.SessionID)
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, ev)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.Send(ctx, ev); err != nil {
		d.metrics.RecordNotifyFailure(s.Name())
		slog.Error("Notification delivery failed",
			"sink", s.Name(), "error", err,
			"event_type", ev.Type, "tenant_id", ev.TenantID, "session_id", ev.SessionID)
	}
}
