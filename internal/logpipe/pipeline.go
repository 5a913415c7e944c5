// Package logpipe buffers request log entries and batch-flushes them to
// the store off the request path.
package logpipe

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/storage"
)

const (
	defaultQueueSize     = 10_000
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultMaxRetries    = 3

	drainTime = 30 * time.Second
	retryBase = 500 * time.Millisecond
)

// Config sizes the pipeline. Zero values fall back to the defaults.
// The instrument fields are optional; nil disables them.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int

	QueueDepth prometheus.Gauge   // current queue length
	Dropped    prometheus.Counter // entries dropped on full queue
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Pipeline buffers log entries and batch-flushes them to the store.
// Entries are dropped if the queue is full (back-pressure on slow DB).
// With a nil store, batches are discarded after a debug log.
type Pipeline struct {
	ch    chan cfx.LogEntry
	store storage.RequestLogStore
	cfg   Config

	retryBase time.Duration
}

// New creates a Pipeline backed by store. A nil store is valid and turns
// the pipeline into a discard sink for development mode.
func New(store storage.RequestLogStore, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		ch:        make(chan cfx.LogEntry, cfg.QueueSize),
		store:     store,
		cfg:       cfg,
		retryBase: retryBase,
	}
}

// Name returns the worker identifier.
func (p *Pipeline) Name() string { return "logpipe" }

// Enqueue queues a log entry for async writing. It never blocks; returns
// false when the entry was dropped because the queue is full.
func (p *Pipeline) Enqueue(e cfx.LogEntry) bool {
	select {
	case p.ch <- e:
		p.observeDepth()
		return true
	default:
		if p.cfg.Dropped != nil {
			p.cfg.Dropped.Inc()
		}
		slog.Warn("log entry dropped, queue full",
			slog.String("request_id", e.RequestID))
		return false
	}
}

// Run processes entries until ctx is cancelled, then drains the queue.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]cfx.LogEntry, 0, p.cfg.BatchSize)

	for {
		select {
		case e := <-p.ch:
			buf = append(buf, e)
			if len(buf) >= p.cfg.BatchSize {
				p.writeBatch(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				p.writeBatch(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining entries with a timeout.
			p.drain(buf)
			return nil
		}
	}
}

func (p *Pipeline) drain(buf []cfx.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTime)
	defer cancel()

	for {
		select {
		case e := <-p.ch:
			buf = append(buf, e)
			if len(buf) >= p.cfg.BatchSize {
				p.writeBatch(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Queue empty, flush remaining.
			if len(buf) > 0 {
				p.writeBatch(ctx, buf)
			}
			return
		}
	}
}

// writeBatch persists one batch, retrying failed writes with a linearly
// growing delay. Exhausted retries drop the batch with an error log.
func (p *Pipeline) writeBatch(ctx context.Context, buf []cfx.LogEntry) {
	defer p.observeDepth()

	// Copy to avoid aliasing the caller's slice.
	batch := make([]cfx.LogEntry, len(buf))
	copy(batch, buf)

	if p.store == nil {
		slog.Debug("log batch discarded, no store configured",
			slog.Int("count", len(batch)))
		return
	}

	var err error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err = p.store.InsertLogs(ctx, batch); err == nil {
			return
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "log batch write failed",
			slog.Int("attempt", attempt+1),
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
		if attempt < p.cfg.MaxRetries-1 {
			select {
			case <-time.After(p.retryBase * time.Duration(attempt+1)):
			case <-ctx.Done():
				return
			}
		}
	}
	slog.LogAttrs(ctx, slog.LevelError, "log batch dropped after retries",
		slog.Int("count", len(batch)),
		slog.Int("attempts", p.cfg.MaxRetries),
	)
}

func (p *Pipeline) observeDepth() {
	if p.cfg.QueueDepth != nil {
		p.cfg.QueueDepth.Set(float64(len(p.ch)))
	}
}
