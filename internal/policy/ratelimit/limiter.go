// Package ratelimit throttles worker dispatches with a token bucket per
// category host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter manages one bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for rawURL's host or ctx ends. It
// returns how long it waited.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}

// Worker wraps a WorkerClient so dispatches against the same category host
// are spaced out.
type Worker struct {
	next    scrape.WorkerClient
	limiter *Limiter
	logger  *zap.Logger
}

// WrapWorker returns next throttled by limiter.
func WrapWorker(next scrape.WorkerClient, limiter *Limiter, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{next: next, limiter: limiter, logger: logger}
}

// Dispatch waits for a token, then forwards req. A wait cut short by ctx is
// reported as scrape.ErrDispatchRejected since the worker was never called.
func (w *Worker) Dispatch(ctx context.Context, req scrape.DispatchRequest) error {
	waited, err := w.limiter.Wait(ctx, req.CategoryURL)
	if err != nil {
		return fmt.Errorf("%w: %w", scrape.ErrDispatchRejected, err)
	}
	if waited > time.Millisecond {
		w.logger.Debug("dispatch throttled",
			zap.String("job_id", req.JobID),
			zap.Duration("waited", waited),
		)
	}
	return w.next.Dispatch(ctx, req)
}
