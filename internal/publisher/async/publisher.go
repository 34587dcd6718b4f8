// Package async decouples usage event delivery from the request path. Events
// are buffered, batched and handed to a downstream publisher in the background.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/proxyfetch/internal/metrics"
)

// ErrClosed is returned by Publish after Close has been called.
var ErrClosed = errors.New("async publisher closed")

// Downstream is the publisher batches are delivered to.
type Downstream interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls buffering and batching.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatch: flush once this many messages queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - PublishTimeout: per-message timeout for the downstream call (default 10s).
//   - Concurrency: downstream publishes in flight per batch (default 8).
type Config struct {
	BufferSize     int
	MaxBatch       int
	MaxBatchWait   time.Duration
	PublishTimeout time.Duration
	Concurrency    int
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatch       = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultPublishTimeout = 10 * time.Second
	defaultConcurrency    = 8
	dropLogInterval       = 5 * time.Second
)

type message struct {
	topic   string
	payload any
}

// Publisher buffers messages and forwards them to a Downstream. Publish never
// blocks; when the buffer is full the message is dropped and counted.
type Publisher struct {
	cfg        Config
	downstream Downstream
	queue      chan message
	stopCh     chan struct{}
	doneCh     chan struct{}
	logger     *zap.Logger
	dropLog    logThrottle
	dropped    atomic.Int64

	// mu orders enqueues against Close so nothing lands after the drain.
	mu     sync.RWMutex
	closed bool
}

// New starts the background delivery loop.
func New(downstream Downstream, cfg Config) *Publisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		cfg:        cfg,
		downstream: downstream,
		queue:      make(chan message, cfg.BufferSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger,
		dropLog:    logThrottle{interval: dropLogInterval},
	}
	go p.run()
	return p
}

// Publish enqueues payload for delivery. The returned ID is always empty since
// the downstream ID is not known yet.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("async publish: topic is required")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		metrics.ObserveUsageEvents("dropped", 1)
		p.dropped.Add(1)
		if p.dropLog.Allow(time.Now()) {
			p.logger.Warn("usage events dropped due to backpressure", zap.Int64("dropped", p.dropped.Swap(0)))
		}
	}
	return "", nil
}

// Close stops accepting messages, drains the buffer and waits for in-flight
// deliveries. It is safe to call more than once.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("async publisher close wait: %w", ctx.Err())
	}
}

func (p *Publisher) run() {
	defer close(p.doneCh)
	batch := make([]message, 0, p.cfg.MaxBatch)
	timer := time.NewTimer(p.cfg.MaxBatchWait)
	timer.Stop()
	armed := false
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
			if len(batch) >= p.cfg.MaxBatch {
				p.flush(batch)
				batch = batch[:0]
				stopTimer(timer, &armed)
			} else if !armed {
				timer.Reset(p.cfg.MaxBatchWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			p.flush(batch)
			batch = batch[:0]
		case <-p.stopCh:
			stopTimer(timer, &armed)
			p.drain(batch)
			return
		}
	}
}

func (p *Publisher) drain(batch []message) {
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
			if len(batch) >= p.cfg.MaxBatch {
				p.flush(batch)
				batch = batch[:0]
			}
		default:
			p.flush(batch)
			return
		}
	}
}

func (p *Publisher) flush(batch []message) {
	if len(batch) == 0 {
		return
	}
	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for _, msg := range batch {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
			defer cancel()
			if _, err := p.downstream.Publish(ctx, msg.topic, msg.payload); err != nil {
				failed.Add(1)
				p.logger.Warn("failed to publish usage event", zap.String("topic", msg.topic), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(failed.Load())
	metrics.ObserveUsageEvents("published", len(batch)-n)
	if n > 0 {
		metrics.ObserveUsageEvents("failed", n)
	}
}

func stopTimer(timer *time.Timer, armed *bool) {
	if !*armed {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*armed = false
}

type logThrottle struct {
	interval time.Duration
	last     atomic.Int64
}

func (t *logThrottle) Allow(now time.Time) bool {
	nano := now.UnixNano()
	last := t.last.Load()
	if nano-last < t.interval.Nanoseconds() {
		return false
	}
	return t.last.CompareAndSwap(last, nano)
}
