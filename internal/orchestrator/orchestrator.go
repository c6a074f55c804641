// Package orchestrator coordinates the scrape automation: per-mode busy
// gates, the live configuration, manual and scheduled runs, the stop
// controller and the stall watchdog.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/monitor"
	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	defaultStallTimeout     = 15 * time.Minute
	defaultWatchdogInterval = 30 * time.Second
)

// Dispatcher creates a job and hands it to the worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, cfg scrape.ScraperConfig, mode scrape.JobMode, targetPage int) (scrape.Job, error)
}

// Recorder receives orchestrator measurements.
type Recorder interface {
	ObserveDispatch(mode scrape.JobMode, result string)
	ObserveStall(mode scrape.JobMode)
	SetCursor(cursor int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(scrape.JobMode, string) {}
func (nopRecorder) ObserveStall(scrape.JobMode)            {}
func (nopRecorder) SetCursor(int)                          {}

// Dispatch results reported to the Recorder.
const (
	ResultAccepted = "accepted"
	ResultBusy     = "busy"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
	ResultError    = "error"
)

func dispatchResult(err error) string {
	switch {
	case err == nil:
		return ResultAccepted
	case errors.Is(err, scrape.ErrAlreadyRunning):
		return ResultBusy
	case errors.Is(err, scrape.ErrConfigInvalid):
		return ResultInvalid
	case errors.Is(err, scrape.ErrDispatchRejected):
		return ResultRejected
	default:
		return ResultError
	}
}

// Options configures an Orchestrator.
type Options struct {
	Configs    scrape.ConfigStore
	Jobs       scrape.JobStore
	Dispatcher Dispatcher
	Monitor    *monitor.Monitor
	Scheduler  *scheduler.Scheduler
	Clock      scrape.Clock
	Emitter    progress.Emitter
	Recorder   Recorder
	Logger     *zap.Logger

	// StallTimeout is the inactivity window after which a running job is
	// forced to failed.
	StallTimeout     time.Duration
	WatchdogInterval time.Duration
	// HoldCursorOnManual keeps manual history runs from moving the cursor.
	// Scheduled runs always advance it.
	HoldCursorOnManual bool
}

// Orchestrator owns the busy gates and config cell shared by both loops.
type Orchestrator struct {
	config     *configCell
	jobs       scrape.JobStore
	dispatcher Dispatcher
	monitor    *monitor.Monitor
	sched      *scheduler.Scheduler
	clock      scrape.Clock
	emitter    progress.Emitter
	recorder   Recorder
	logger     *zap.Logger

	stallTimeout     time.Duration
	watchdogInterval time.Duration
	holdOnManual     bool

	gates map[scrape.JobMode]*gate

	// lifetime bounds job watches, which outlive the request that started them.
	lifetime context.Context
	cancel   context.CancelFunc
}

// New loads the stored configuration and registers one loop per mode.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Configs == nil || opts.Jobs == nil || opts.Dispatcher == nil || opts.Monitor == nil || opts.Clock == nil {
		return nil, errors.New("orchestrator: configs, jobs, dispatcher, monitor and clock are required")
	}
	cfg, err := opts.Configs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(time.Second, logger.Named("scheduler"))
	}
	stall := opts.StallTimeout
	if stall <= 0 {
		stall = defaultStallTimeout
	}
	watchdog := opts.WatchdogInterval
	if watchdog <= 0 {
		watchdog = defaultWatchdogInterval
	}

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o := &Orchestrator{
		config:           &configCell{cfg: cfg, store: opts.Configs},
		jobs:             opts.Jobs,
		dispatcher:       opts.Dispatcher,
		monitor:          opts.Monitor,
		sched:            sched,
		clock:            opts.Clock,
		emitter:          emitter,
		recorder:         recorder,
		logger:           logger,
		stallTimeout:     stall,
		watchdogInterval: watchdog,
		holdOnManual:     opts.HoldCursorOnManual,
		gates:            make(map[scrape.JobMode]*gate, len(scrape.Modes)),
		lifetime:         lifetime,
		cancel:           cancel,
	}
	recorder.SetCursor(cfg.Cursor)
	for _, mode := range scrape.Modes {
		o.gates[mode] = &gate{}
		if err := sched.Add(o.newLoop(mode)); err != nil {
			cancel()
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) newLoop(mode scrape.JobMode) *scheduler.Loop {
	return scheduler.NewLoop(mode, scheduler.Options{
		Fire: func(ctx context.Context) error {
			_, err := o.run(ctx, mode, false)
			return err
		},
		Busy: o.gates[mode].isBusy,
		Interval: func() time.Duration {
			return o.config.get().Interval(mode)
		},
		OnSkip: func() {
			o.emitter.Emit(progress.Event{Mode: mode, TS: o.clock.Now(), Stage: progress.StageLoopSkip})
		},
		Logger: o.logger,
	})
}

// Start begins loop ticking and the stall watchdog.
func (o *Orchestrator) Start() {
	o.sched.Every(o.watchdogInterval, func(ctx context.Context) {
		o.CheckStalls(ctx)
	})
	o.sched.Start()
}

// Close stops the scheduler and detaches every job watch. Jobs in flight keep
// running in the worker.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.sched.Stop(ctx)
	o.cancel()
	return err
}

// RunOnce starts one manual run of mode. It fails with ErrAlreadyRunning if
// the mode is busy, ErrConfigInvalid without touching the store, or
// ErrDispatchRejected after marking the created job failed.
func (o *Orchestrator) RunOnce(ctx context.Context, mode scrape.JobMode) (scrape.Job, error) {
	return o.run(ctx, mode, true)
}

func (o *Orchestrator) run(ctx context.Context, mode scrape.JobMode, manual bool) (scrape.Job, error) {
	g, ok := o.gates[mode]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrLoopNotFound, mode)
	}
	if !g.acquire(manual) {
		o.recorder.ObserveDispatch(mode, ResultBusy)
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrAlreadyRunning, mode)
	}

	cfg := o.config.get()
	job, err := o.dispatcher.Dispatch(ctx, cfg, mode, cfg.TargetPage(mode))
	result := dispatchResult(err)
	o.recorder.ObserveDispatch(mode, result)
	if err != nil {
		if job.ID != "" {
			job = o.failRejected(ctx, job, err)
		}
		g.release("")
		level := zap.WarnLevel
		if result == ResultRejected || result == ResultError {
			level = zap.ErrorLevel
		}
		o.logger.Log(level, "run not started",
			zap.String("mode", string(mode)),
			zap.Bool("manual", manual),
			zap.String("result", result),
			zap.Error(err),
		)
		return job, err
	}

	g.bind(job.ID)
	w, werr := o.monitor.Watch(o.lifetime, job, func(final scrape.Job) {
		o.finish(final)
	})
	if werr != nil {
		// Without push channels the watchdog polls the row instead.
		o.logger.Error("watch failed", zap.String("job_id", job.ID), zap.Error(werr))
	} else {
		g.attach(job.ID, w)
	}
	return job, nil
}

// failRejected marks a job the worker never accepted as failed.
func (o *Orchestrator) failRejected(ctx context.Context, job scrape.Job, cause error) scrape.Job {
	failed, err := o.jobs.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, scrape.StatusUpdate{
		Status:    scrape.JobStatusFailed,
		ErrorText: cause.Error(),
	})
	if err != nil {
		o.logger.Error("mark rejected job failed", zap.String("job_id", job.ID), zap.Error(err))
		return job
	}
	o.emitter.Emit(progress.EndEvent(failed, o.clock.Now()))
	return failed
}

// finish moves the cursor for completed history jobs and then clears the
// gate owning job, so the next run of the mode reads the advanced cursor. It
// is safe to call more than once per job.
func (o *Orchestrator) finish(job scrape.Job) {
	g, ok := o.gates[job.Mode]
	if !ok {
		return
	}
	owned, manual := g.owns(job.ID)
	if !owned {
		return
	}
	if job.Mode == scrape.ModeHistory && job.Status == scrape.JobStatusCompleted && !(manual && o.holdOnManual) {
		o.advanceCursor(o.lifetime, job)
	}
	if !g.release(job.ID) {
		return
	}
	o.logger.Info("run finished",
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.String("status", string(job.Status)),
	)
}

// Active returns the in-flight job id of mode, if any.
func (o *Orchestrator) Active(mode scrape.JobMode) (string, bool) {
	g, ok := o.gates[mode]
	if !ok {
		return "", false
	}
	id, _ := g.active()
	return id, g.isBusy()
}

// Job returns a job row.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (scrape.Job, error) {
	return o.jobs.GetJob(ctx, jobID)
}

// Jobs lists job rows newest first.
func (o *Orchestrator) Jobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	return o.jobs.ListJobs(ctx, filter)
}

// Logs returns the log records of a job. Records still buffered by a live
// watch are returned in arrival order; otherwise the store's createdAt order.
func (o *Orchestrator) Logs(ctx context.Context, jobID string) ([]scrape.LogRecord, error) {
	for _, g := range o.gates {
		if id, w := g.active(); id == jobID && w != nil {
			return w.Logs(), nil
		}
	}
	if _, err := o.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.jobs.ListLogs(ctx, jobID)
}
