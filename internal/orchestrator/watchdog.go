package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/monitor"
	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// CheckStalls forces in-flight jobs with no activity for longer than the
// stall timeout to failed and clears their gates. It also resolves jobs whose
// terminal push was lost. It returns the number of jobs it resolved.
func (o *Orchestrator) CheckStalls(ctx context.Context) int {
	resolved := 0
	for _, mode := range scrape.Modes {
		jobID, w := o.gates[mode].active()
		if jobID == "" {
			continue
		}
		if o.checkJob(ctx, jobID, w) {
			resolved++
		}
	}
	return resolved
}

func (o *Orchestrator) checkJob(ctx context.Context, jobID string, w *monitor.Watch) bool {
	row, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Warn("watchdog lookup failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	if row.Status.Terminal() {
		o.logger.Warn("terminal push missed", zap.String("job_id", jobID), zap.String("status", string(row.Status)))
		o.resolve(row, w)
		return true
	}

	last := row.LastActivityAt
	if w != nil && w.LastActivity().After(last) {
		last = w.LastActivity()
	}
	idle := o.clock.Now().Sub(last)
	if idle < o.stallTimeout {
		return false
	}

	failed, err := o.jobs.UpdateJobStatus(ctx, jobID, scrape.StatusUpdate{
		Status:    scrape.JobStatusFailed,
		ErrorText: scrape.StallReason,
	})
	if errors.Is(err, scrape.ErrJobTerminal) {
		// Lost the race with a worker report; take whatever landed.
		row, err := o.jobs.GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		o.resolve(row, w)
		return true
	}
	if err != nil {
		o.logger.Error("watchdog could not fail job", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	o.recorder.ObserveStall(failed.Mode)
	o.logger.Warn("job stalled",
		zap.String("job_id", jobID),
		zap.String("mode", string(failed.Mode)),
		zap.Duration("idle", idle),
		zap.Error(scrape.ErrJobStalled),
	)
	o.resolve(failed, w)
	return true
}

func (o *Orchestrator) resolve(job scrape.Job, w *monitor.Watch) {
	if w != nil {
		w.Resolve(job)
	} else {
		o.emitter.Emit(progress.EndEvent(job, o.clock.Now()))
	}
	o.finish(job)
}
