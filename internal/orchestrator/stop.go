package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/monitor"
	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// StopJob requests a halt by writing stopped to the job row. The worker
// observes it on its next poll; locally the gate clears at once. A later
// worker terminal report is recorded as the stop confirmation.
func (o *Orchestrator) StopJob(ctx context.Context, jobID string) (scrape.Job, error) {
	// Grab the watch first: the stopped push may resolve it before we do.
	var watch *monitor.Watch
	for _, g := range o.gates {
		if id, w := g.active(); id == jobID {
			watch = w
		}
	}

	job, err := o.jobs.UpdateJobStatus(ctx, jobID, scrape.StatusUpdate{Status: scrape.JobStatusStopped})
	if err != nil {
		return scrape.Job{}, fmt.Errorf("stop job %s: %w", jobID, err)
	}
	if watch != nil {
		watch.Resolve(job)
	} else {
		o.emitter.Emit(progress.EndEvent(job, o.clock.Now()))
	}
	o.finish(job)
	o.logger.Info("stop requested", zap.String("job_id", jobID), zap.String("mode", string(job.Mode)))
	return job, nil
}
