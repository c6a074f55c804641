// Package monitor observes a dispatched job through the store's push channels
// and reports its terminal status exactly once.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// TerminalFunc receives the final job row. It runs on the watch goroutine (or
// the Resolve caller) and must not block for long.
type TerminalFunc func(job scrape.Job)

// Monitor creates job watches.
type Monitor struct {
	jobs    scrape.JobStore
	emitter progress.Emitter
	clock   scrape.Clock
	logger  *zap.Logger
}

// New constructs a Monitor. A nil emitter discards progress events.
func New(jobs scrape.JobStore, emitter progress.Emitter, clock scrape.Clock, logger *zap.Logger) *Monitor {
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{jobs: jobs, emitter: emitter, clock: clock, logger: logger}
}

// Watch tracks one job until it reaches a terminal status.
type Watch struct {
	job        scrape.Job
	onTerminal TerminalFunc
	emitter    progress.Emitter
	clock      scrape.Clock
	logger     *zap.Logger
	cancel     context.CancelFunc

	mu           sync.Mutex
	logs         []scrape.LogRecord
	seen         map[string]struct{}
	lastActivity time.Time
	connected    bool
	final        *scrape.Job

	once sync.Once
	done chan struct{}
}

// Watch subscribes to log inserts and row updates for job and starts
// observing them. ctx bounds the subscription; cancelling it detaches the
// watch without invoking onTerminal. A job that is already terminal is
// resolved before Watch returns.
func (m *Monitor) Watch(ctx context.Context, job scrape.Job, onTerminal TerminalFunc) (*Watch, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	logSub, err := m.jobs.SubscribeLogs(watchCtx, job.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe logs for job %s: %w", job.ID, err)
	}
	jobSub, err := m.jobs.SubscribeJob(watchCtx, job.ID)
	if err != nil {
		logSub.Close()
		cancel()
		return nil, fmt.Errorf("subscribe job %s: %w", job.ID, err)
	}

	start := job.LastActivityAt
	if start.IsZero() {
		start = m.clock.Now()
	}
	w := &Watch{
		job:          job,
		onTerminal:   onTerminal,
		emitter:      m.emitter,
		clock:        m.clock,
		logger:       m.logger.With(zap.String("job_id", job.ID), zap.String("mode", string(job.Mode))),
		cancel:       cancel,
		seen:         make(map[string]struct{}),
		lastActivity: start,
		connected:    true,
		done:         make(chan struct{}),
	}
	m.emitter.Emit(progress.Event{
		JobID:   job.ID,
		Mode:    job.Mode,
		TS:      job.CreatedAt,
		Stage:   progress.StageJobStart,
		PageNum: job.PageNum,
	})

	go w.run(watchCtx, logSub, jobSub)

	// Catch up on anything written between dispatch and subscribe.
	if backlog, err := m.jobs.ListLogs(ctx, job.ID); err == nil {
		for _, rec := range backlog {
			w.ingest(rec)
		}
	}
	if current, err := m.jobs.GetJob(ctx, job.ID); err == nil && current.Status.Terminal() {
		w.Resolve(current)
	}
	return w, nil
}

func (w *Watch) run(
	ctx context.Context,
	logSub scrape.Subscription[scrape.LogRecord],
	jobSub scrape.Subscription[scrape.Job],
) {
	defer logSub.Close()
	defer jobSub.Close()

	logs := logSub.Events()
	rows := jobSub.Events()
	for logs != nil || rows != nil {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-logs:
			if !ok {
				logs = nil
				if ctx.Err() != nil {
					return
				}
				w.disconnected("logs")
				continue
			}
			w.ingest(rec)
		case row, ok := <-rows:
			if !ok {
				rows = nil
				if ctx.Err() != nil {
					return
				}
				w.disconnected("job")
				continue
			}
			w.touch()
			if row.Status.Terminal() {
				w.Resolve(row)
				return
			}
		}
	}
}

func (w *Watch) ingest(rec scrape.LogRecord) {
	if rec.JobID != w.job.ID {
		return
	}
	w.mu.Lock()
	if _, dup := w.seen[rec.ID]; dup {
		w.mu.Unlock()
		return
	}
	w.seen[rec.ID] = struct{}{}
	w.logs = append(w.logs, rec)
	w.lastActivity = w.clock.Now()
	w.mu.Unlock()
	w.emitter.Emit(progress.LogEvent(w.job.Mode, rec))
}

func (w *Watch) touch() {
	w.mu.Lock()
	w.lastActivity = w.clock.Now()
	w.mu.Unlock()
}

func (w *Watch) disconnected(channel string) {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	w.logger.Warn("push channel closed", zap.String("channel", channel))
}

// Resolve delivers job as the terminal outcome. Only the first terminal row
// wins; later calls and non-terminal rows return false.
func (w *Watch) Resolve(job scrape.Job) bool {
	if !job.Status.Terminal() {
		return false
	}
	resolved := false
	w.once.Do(func() {
		resolved = true
		w.mu.Lock()
		final := job
		w.final = &final
		w.mu.Unlock()
		w.cancel()
		close(w.done)
		w.emitter.Emit(progress.EndEvent(job, w.clock.Now()))
		if w.onTerminal != nil {
			w.onTerminal(job)
		}
	})
	return resolved
}

// Close detaches the watch without reporting a terminal status.
func (w *Watch) Close() {
	w.cancel()
}

// Logs returns the buffered log records in arrival order.
func (w *Watch) Logs() []scrape.LogRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]scrape.LogRecord(nil), w.logs...)
}

// LastActivity returns the time of the most recent push.
func (w *Watch) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

// Connected reports whether both push channels are still open.
func (w *Watch) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Final returns the terminal row once resolved.
func (w *Watch) Final() (scrape.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.final == nil {
		return scrape.Job{}, false
	}
	return *w.final, true
}

// Done closes when the watch resolves.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}
