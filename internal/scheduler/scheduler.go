package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// Scheduler drives a set of loops from a cron runner. Every loop gets its own
// cron entry, so a slow dispatch in one mode never delays the other; the
// SkipIfStillRunning chain drops ticks that arrive while the same loop is
// still firing.
type Scheduler struct {
	tick   time.Duration
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.RWMutex
	loops   map[scrape.JobMode]*Loop
	entries map[scrape.JobMode]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler ticking every tick. Sub-second ticks are rounded
// up to one second.
func New(tick time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tick < time.Second {
		tick = time.Second
	}
	cl := cronLogger{logger: logger.Named("cron").Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tick:    tick,
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		loops:   make(map[scrape.JobMode]*Loop),
		entries: make(map[scrape.JobMode]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a loop. Each mode may be registered once.
func (s *Scheduler) Add(loop *Loop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := loop.Mode()
	if _, ok := s.loops[mode]; ok {
		return fmt.Errorf("loop %s already registered", mode)
	}
	tick := s.tick
	id := s.cron.Schedule(cron.Every(tick), cron.FuncJob(func() {
		loop.Tick(s.ctx, tick)
	}))
	s.loops[mode] = loop
	s.entries[mode] = id
	return nil
}

// Every runs fn on its own cron entry every d, with the same skip-if-running
// chain as the loops. It backs housekeeping such as the stall watchdog.
func (s *Scheduler) Every(d time.Duration, fn func(ctx context.Context)) {
	if d < time.Second {
		d = time.Second
	}
	s.cron.Schedule(cron.Every(d), cron.FuncJob(func() {
		fn(s.ctx)
	}))
}

// Loop returns the loop registered for mode.
func (s *Scheduler) Loop(mode scrape.JobMode) (*Loop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, ok := s.loops[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scrape.ErrLoopNotFound, mode)
	}
	return loop, nil
}

// Snapshots returns every loop's state ordered by scrape.Modes.
func (s *Scheduler) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.loops))
	for _, mode := range scrape.Modes {
		if loop, ok := s.loops[mode]; ok {
			out = append(out, loop.Snapshot())
		}
	}
	return out
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
}

// Stop halts ticking and waits for running ticks until ctx expires. Jobs in
// flight are left to the worker.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
