// Package metrics carries per-request telemetry records from the dispatcher
// to a batched sink. Capture is decoupled from persistence: handlers enqueue
// without blocking, a single drain worker flushes batches to the configured
// sink, and queue saturation drops the newest record instead of slowing a
// request down.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/telemetry"
	pkgmetrics "github.com/marmos91/docbroker/pkg/metrics"
)

// Sink persists one batch of metric records. Write is only ever called from
// the drain worker, so implementations need no locking of their own.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []*model.Metric) error
	Close() error
}

// Config tunes the collector queue and the drain worker.
type Config struct {
	// QueueSize bounds the capture queue. Records observed while the queue
	// is full are dropped.
	QueueSize int

	// BatchSize is the flush threshold.
	BatchSize int

	// FlushInterval flushes a partial batch after this much quiet time.
	FlushInterval time.Duration

	// WriteTimeout bounds a single sink write.
	WriteTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Collector is the bounded multi-producer single-consumer telemetry queue.
// Observe never blocks; the drain worker owns the sink.
type Collector struct {
	cfg   Config
	sink  Sink
	queue chan *model.Metric
	prom  pkgmetrics.QueueMetrics

	dropped atomic.Uint64
	flushed atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewCollector starts the drain worker over the sink.
func NewCollector(sink Sink, cfg Config) *Collector {
	cfg.ApplyDefaults()
	c := &Collector{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan *model.Metric, cfg.QueueSize),
		prom:  pkgmetrics.NewQueueMetrics(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.drain()
	return c
}

// Observe enqueues one record. On a full queue the record is dropped and
// counted; the caller is never delayed.
func (c *Collector) Observe(m *model.Metric) {
	if c.closed.Load() {
		return
	}
	select {
	case c.queue <- m:
		if c.prom != nil {
			c.prom.SetDepth(len(c.queue))
		}
	default:
		c.dropped.Add(1)
		if c.prom != nil {
			c.prom.AddDropped(1)
		}
	}
}

// Dropped returns how many records were discarded on saturation.
func (c *Collector) Dropped() uint64 {
	return c.dropped.Load()
}

// Flushed returns how many records reached the sink.
func (c *Collector) Flushed() uint64 {
	return c.flushed.Load()
}

// Depth returns the current queue occupancy.
func (c *Collector) Depth() int {
	return len(c.queue)
}

// Close stops capture, drains whatever is still queued into a final flush and
// closes the sink.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		<-c.done
	})
}

// drain is the single consumer. It accumulates up to BatchSize records,
// flushing early when FlushInterval elapses with a partial batch.
func (c *Collector) drain() {
	defer close(c.done)
	defer func() {
		if err := c.sink.Close(); err != nil {
			logger.Warn("telemetry sink close failed", "sink", c.sink.Name(), logger.Err(err))
		}
	}()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.Metric, 0, c.cfg.BatchSize)
	for {
		select {
		case m := <-c.queue:
			batch = append(batch, m)
			if len(batch) >= c.cfg.BatchSize {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-c.stop:
			// Final best-effort flush: pick up whatever made it into the
			// queue before Close flipped the capture gate.
			for {
				select {
				case m := <-c.queue:
					batch = append(batch, m)
					if len(batch) >= c.cfg.BatchSize {
						c.flush(batch)
						batch = batch[:0]
					}
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				c.flush(batch)
			}
			return
		}
	}
}

func (c *Collector) flush(batch []*model.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	ctx, span := telemetry.StartSinkSpan(ctx, c.sink.Name(), len(batch))
	defer span.End()

	if err := c.sink.Write(ctx, batch); err != nil {
		span.RecordError(err)
		logger.Warn("telemetry flush failed",
			"sink", c.sink.Name(),
			"records", len(batch),
			logger.Err(err))
		return
	}
	c.flushed.Add(uint64(len(batch)))
	if c.prom != nil {
		c.prom.ObserveBatch(c.sink.Name(), len(batch))
		c.prom.SetDepth(len(c.queue))
	}
}
