// Package publisher emits audit events with write-ahead, fail-closed
// semantics: Emit returns only after the store has accepted the event, and an
// error from Emit MUST fail the caller's operation.
//
// Mirrors (for example the Kafka sink) receive a copy asynchronously after the
// primary write. A slow or failing mirror never blocks or fails a run.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/audit/worker"

	"github.com/google/uuid"
)

type batchAppender interface {
	AppendAll(ctx context.Context, events []audit.Event) error
}

type mirror struct {
	name  string
	inbox chan audit.Event
}

// Publisher is safe for concurrent use.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mirrors   []mirror
	pending   []*worker.Worker
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithMirror copies every persisted event to sink through a buffered queue.
// Events are dropped (and counted) when the buffer is full.
func WithMirror(name string, sink audit.Sink, buffer int) Option {
	return func(p *Publisher) {
		if buffer <= 0 {
			buffer = 256
		}
		inbox := make(chan audit.Event, buffer)
		p.mirrors = append(p.mirrors, mirror{name: name, inbox: inbox})
		p.pending = append(p.pending, worker.NewWorker(sink, inbox, func(e audit.Event, err error) {
			p.metrics.incMirrorFailures()
			if p.logger != nil {
				p.logger.Warn("audit mirror append failed",
					"mirror", name,
					"run_id", e.RunID,
					"kind", e.Kind,
					"error", err,
				)
			}
		}))
	}
}

// New creates a publisher and starts any mirror workers.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, w := range p.pending {
		p.wg.Add(1)
		go func(w *worker.Worker) {
			defer p.wg.Done()
			_ = w.Run(context.Background())
		}(w)
	}
	p.pending = nil
	return p
}

// Emit validates, stamps and synchronously persists one event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event, err := p.prepare(event)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.store.Append(ctx, event); err != nil {
		p.fail(ctx, event, err)
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	p.metrics.observePersist(time.Since(start).Seconds())
	p.metrics.incEmitted(string(event.Kind))
	p.mirror(event)
	return nil
}

// EmitAll persists events together. Stores that support batches write them
// atomically; others receive them in order and stop at the first failure.
func (p *Publisher) EmitAll(ctx context.Context, events ...audit.Event) error {
	prepared := make([]audit.Event, 0, len(events))
	for _, e := range events {
		pe, err := p.prepare(e)
		if err != nil {
			return err
		}
		prepared = append(prepared, pe)
	}

	start := time.Now()
	if b, ok := p.store.(batchAppender); ok {
		if err := b.AppendAll(ctx, prepared); err != nil {
			p.fail(ctx, prepared[0], err)
			return fmt.Errorf("audit persistence failed: %w", err)
		}
	} else {
		for _, e := range prepared {
			if err := p.store.Append(ctx, e); err != nil {
				p.fail(ctx, e, err)
				return fmt.Errorf("audit persistence failed: %w", err)
			}
		}
	}
	p.metrics.observePersist(time.Since(start).Seconds())
	for _, e := range prepared {
		p.metrics.incEmitted(string(e.Kind))
		p.mirror(e)
	}
	return nil
}

// List returns a run's trail in append order.
func (p *Publisher) List(ctx context.Context, runID string) ([]audit.Event, error) {
	return p.store.ListByRun(ctx, runID)
}

// Close stops accepting mirror copies and waits for queued ones to flush.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, m := range p.mirrors {
			close(m.inbox)
		}
		p.mu.Unlock()
		p.wg.Wait()
	})
	return nil
}

func (p *Publisher) prepare(event audit.Event) (audit.Event, error) {
	if event.RunID == "" {
		return event, fmt.Errorf("audit event requires RunID")
	}
	if event.Kind == "" {
		return event, fmt.Errorf("audit event requires Kind")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	return event, nil
}

func (p *Publisher) fail(ctx context.Context, event audit.Event, err error) {
	p.metrics.incPersistFailures()
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
			"run_id", event.RunID,
			"kind", event.Kind,
			"error", err,
		)
	}
}

func (p *Publisher) mirror(event audit.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, m := range p.mirrors {
		select {
		case m.inbox <- event:
		default:
			p.metrics.incMirrorDropped()
		}
	}
}
