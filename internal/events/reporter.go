package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering for the Reporter.
//   - BufferSize: size of the internal channel (default 4096).
//   - SinkTimeout: per-sink timeout while delivering (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 4096
	defaultSinkTimeout = 10 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Reporter serializes events to its sinks in arrival order. Emit never
// blocks the caller; a single background goroutine performs all sink
// writes, so no two events interleave on the output stream.
type Reporter struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewReporter starts the delivery goroutine over the supplied sinks.
// The returned Reporter is immediately ready to accept events.
func NewReporter(cfg Config, sinks ...Sink) *Reporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

// Emit enqueues an Event for delivery. It never blocks; if the buffer is
// full the event is dropped and a rate-limited warning is logged.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	select {
	case r.events <- evt:
	default:
		r.dropped.Add(1)
		r.maybeLogDrops()
	}
}

// Close drains remaining events, closes sinks, and blocks until the
// delivery goroutine exits. Safe to call multiple times.
func (r *Reporter) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeCtx = ctx
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reporter close wait: %w", ctx.Err())
	}
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	for {
		select {
		case evt := <-r.events:
			r.deliver(evt)
		case <-r.stopCh:
			r.drain()
			r.closeSinks()
			return
		}
	}
}

func (r *Reporter) drain() {
	for {
		select {
		case evt := <-r.events:
			r.deliver(evt)
		default:
			return
		}
	}
}

func (r *Reporter) deliver(evt Event) {
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.cfg.BaseContext, r.cfg.SinkTimeout)
		if err := sink.Consume(ctx, evt); err != nil {
			r.logger.Warn("event sink consume failed",
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (r *Reporter) closeSinks() {
	ctx := r.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			r.logger.Warn("event sink close failed", zap.Error(err))
		}
	}
}

func (r *Reporter) maybeLogDrops() {
	now := time.Now().UnixNano()
	last := r.lastLog.Load()
	if now-last < dropLogInterval.Nanoseconds() {
		return
	}
	if r.lastLog.CompareAndSwap(last, now) {
		count := r.dropped.Swap(0)
		r.logger.Warn("events dropped due to backpressure", zap.Int64("dropped", count))
	}
}
