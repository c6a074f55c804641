// Package scheduler runs the recurring history and watcher loops. Both are
// instances of the same Loop state machine, parameterized by mode.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// State is a loop lifecycle state.
type State string

// Loop states.
const (
	StateIdle     State = "idle"
	StateArmed    State = "armed"
	StateFiring   State = "firing"
	StateDisarmed State = "disarmed"
)

// Options wires a Loop to the orchestrator.
type Options struct {
	// Fire starts one run. ErrAlreadyRunning is treated as a busy skip.
	Fire func(ctx context.Context) error
	// Busy reports whether a run of this mode is in flight.
	Busy func() bool
	// Interval returns the current recurrence period. It is read on every
	// countdown reset so config edits apply without re-arming.
	Interval func() time.Duration
	// OnSkip is called when a due tick is skipped because the mode is busy.
	OnSkip func()
	Logger *zap.Logger
}

// Snapshot is a point-in-time view of a loop.
type Snapshot struct {
	Mode       scrape.JobMode `json:"mode"`
	State      State          `json:"state"`
	Remaining  time.Duration  `json:"remaining"`
	Interval   time.Duration  `json:"interval"`
	Fires      int            `json:"fires"`
	Skips      int            `json:"skips"`
	LastFireAt time.Time      `json:"lastFireAt,omitzero"`
	LastError  string         `json:"lastError,omitempty"`
}

// Loop is one recurring task: Idle -> Armed -> Firing -> Armed until
// disarmed. Disarming halts the countdown but never cancels an in-flight job.
type Loop struct {
	mode   scrape.JobMode
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	remaining  time.Duration
	fires      int
	skips      int
	lastFireAt time.Time
	lastErr    error
	now        func() time.Time
}

// NewLoop constructs an idle Loop for mode.
func NewLoop(mode scrape.JobMode, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		mode:   mode,
		opts:   opts,
		logger: logger.With(zap.String("loop", string(mode))),
		state:  StateIdle,
		now:    time.Now,
	}
}

// Mode returns the loop's run mode.
func (l *Loop) Mode() scrape.JobMode {
	return l.mode
}

// Arm starts the loop and fires one run immediately, then resets the
// countdown to a full interval. Arming an armed loop is a no-op. A fire error
// is returned to the caller but the loop stays armed; the next tick retries.
func (l *Loop) Arm(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateArmed || l.state == StateFiring {
		l.mu.Unlock()
		return nil
	}
	l.state = StateArmed
	l.mu.Unlock()
	l.logger.Info("loop armed")

	err := l.attempt(ctx)
	l.mu.Lock()
	l.remaining = l.interval()
	l.mu.Unlock()
	return err
}

// Disarm stops the countdown. It is reachable from every state.
func (l *Loop) Disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisarmed || l.state == StateIdle {
		l.state = StateDisarmed
		return
	}
	l.state = StateDisarmed
	l.remaining = 0
	l.logger.Info("loop disarmed")
}

// Armed reports whether the countdown is running.
func (l *Loop) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateArmed || l.state == StateFiring
}

// Tick advances the countdown by elapsed. At zero the countdown resets to a
// full interval and, unless the mode is busy, one run fires.
func (l *Loop) Tick(ctx context.Context, elapsed time.Duration) {
	l.mu.Lock()
	if l.state != StateArmed {
		l.mu.Unlock()
		return
	}
	l.remaining -= elapsed
	if l.remaining > 0 {
		l.mu.Unlock()
		return
	}
	l.remaining = l.interval()
	l.mu.Unlock()

	if err := l.attempt(ctx); err != nil {
		l.logger.Warn("scheduled run failed", zap.Error(err))
	}
}

// attempt fires one run unless the mode is busy.
func (l *Loop) attempt(ctx context.Context) error {
	if l.opts.Busy != nil && l.opts.Busy() {
		l.skip()
		return nil
	}
	l.mu.Lock()
	prev := l.state
	l.state = StateFiring
	l.mu.Unlock()

	err := l.opts.Fire(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFiring {
		l.state = prev
	}
	if errors.Is(err, scrape.ErrAlreadyRunning) {
		l.skips++
		if l.opts.OnSkip != nil {
			l.opts.OnSkip()
		}
		return nil
	}
	l.fires++
	l.lastFireAt = l.now()
	l.lastErr = err
	return err
}

func (l *Loop) skip() {
	l.mu.Lock()
	l.skips++
	l.mu.Unlock()
	if l.opts.OnSkip != nil {
		l.opts.OnSkip()
	}
}

// interval returns the configured period; caller holds l.mu.
func (l *Loop) interval() time.Duration {
	if l.opts.Interval == nil {
		return time.Minute
	}
	d := l.opts.Interval()
	if d <= 0 {
		return time.Second
	}
	return d
}

// Snapshot returns the loop's current state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{
		Mode:       l.mode,
		State:      l.state,
		Remaining:  l.remaining,
		Interval:   l.interval(),
		Fires:      l.fires,
		Skips:      l.skips,
		LastFireAt: l.lastFireAt,
	}
	if l.state != StateArmed && l.state != StateFiring {
		snap.Remaining = 0
	}
	if l.lastErr != nil {
		snap.LastError = l.lastErr.Error()
	}
	return snap
}
