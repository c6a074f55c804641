package scrape

import (
	"fmt"
	"time"
)

// ApplyStatus computes the job row that results from applying update at now.
// Stores call it inside their write critical section so every backend shares
// the same transition rules.
func ApplyStatus(job Job, update StatusUpdate, now time.Time) (Job, error) {
	if job.Status.Terminal() {
		if job.Status == JobStatusStopped && update.FromWorker && update.Status.Terminal() {
			if job.StopConfirmedAt == nil {
				ts := now
				job.StopConfirmedAt = &ts
				job.WorkerStatus = update.Status
				job.UpdatedAt = now
			}
			return job, nil
		}
		return job, fmt.Errorf("%w: %s is %s", ErrJobTerminal, job.ID, job.Status)
	}
	switch update.Status {
	case JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusStopped:
	default:
		return job, fmt.Errorf("unknown status %q", update.Status)
	}
	job.Status = update.Status
	if update.ErrorText != "" {
		job.ErrorText = update.ErrorText
	}
	job.UpdatedAt = now
	job.LastActivityAt = now
	if update.Status == JobStatusStopped {
		ts := now
		job.StopRequestedAt = &ts
	}
	if update.FromWorker {
		job.WorkerStatus = update.Status
	}
	return job, nil
}
