package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values fall back
// to a 1024 event queue, 256 event batches, a 250ms flush window and a 10s
// per-sink timeout.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits for
	// company before the batch is delivered.
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropReportInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub queues job events from the orchestrator and delivers them to sinks in
// batches on one goroutine. Emit never blocks: when the queue is full the
// event is counted and dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	logger *zap.Logger

	dropped    atomic.Int64
	dropReport rate.Sometimes

	closing   atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
	quit      chan struct{}
	stopped   chan struct{}
}

// NewHub starts delivering to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:        cfg,
		queue:      make(chan Event, cfg.BufferSize),
		logger:     cfg.Logger,
		dropReport: rate.Sometimes{Interval: dropReportInterval},
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err), zap.String("stage", string(evt.Stage)))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		h.dropReport.Do(func() {
			h.logger.Warn("progress events dropped",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.Int("buffer", cap(h.queue)),
			)
		})
	}
}

// Close stops intake, delivers what is queued, closes the sinks and waits for
// all of it up to ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.stopped)

	var (
		pending []Event
		timer   *time.Timer
		flushAt <-chan time.Time
	)
	deliver := func() {
		if timer != nil {
			timer.Stop()
			timer, flushAt = nil, nil
		}
		if len(pending) > 0 {
			h.deliver(pending)
			pending = nil
		}
	}
	add := func(evt Event) {
		pending = append(pending, evt)
		if len(pending) >= h.cfg.MaxBatchEvents {
			deliver()
		}
	}

	for {
		select {
		case evt := <-h.queue:
			add(evt)
			if len(pending) > 0 && timer == nil {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				flushAt = timer.C
			}
		case <-flushAt:
			timer, flushAt = nil, nil
			deliver()
		case <-h.quit:
			for {
				select {
				case evt := <-h.queue:
					add(evt)
				default:
					deliver()
					h.closeSinks()
					return
				}
			}
		}
	}
}

// deliver hands batch to every sink in turn. The slice is never reused.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
