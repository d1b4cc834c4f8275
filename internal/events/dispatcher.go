package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/metrics"
)

// DispatcherConfig controls the concurrency characteristics of the dispatcher.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// PublishTimeout bounds a single broker round trip.
	PublishTimeout time.Duration
}

// Dispatcher publishes events from a bounded queue on background workers so
// request handlers never wait on the broker. A full queue drops the event.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	jobs   chan Envelope
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	ErrDispatcherClosed = errors.New("event dispatcher closed")
	ErrQueueFull        = errors.New("event queue full")
)

// NewDispatcher starts the worker pool.
func NewDispatcher(publisher Publisher, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = NoopPublisher{Logger: logger}
	}

	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		timeout:   cfg.PublishTimeout,
		now:       time.Now,
		jobs:      make(chan Envelope, cfg.QueueSize),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// Emit wraps payload in an envelope and queues it. Failures are logged and
// returned, but callers are expected to treat them as non-fatal.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, payload any) error {
	event := NewEnvelope(eventType, payload, d.now())
	event.RequestID = logging.RequestIDFromContext(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- event:
		return nil
	default:
		logging.FromContext(ctx).Warn("event queue full; dropping event", "event_type", eventType, "event_id", event.EventID)
		metrics.IncEventPublished(eventType, metrics.StatusFailed)
		return ErrQueueFull
	}
}

// Shutdown stops accepting events, waits for queued events to be published
// and closes the publisher.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return d.publisher.Close()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.jobs {
		d.publish(event)
	}
}

func (d *Dispatcher) publish(event Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Error("publish event failed", "event_type", event.EventType, "event_id", event.EventID, "error", err)
		metrics.IncEventPublished(event.EventType, metrics.StatusFailed)
		return
	}
	metrics.IncEventPublished(event.EventType, metrics.StatusSuccess)
}
