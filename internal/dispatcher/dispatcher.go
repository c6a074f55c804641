// Package dispatcher creates job rows and hands them to the external worker.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// Dispatcher turns a validated configuration into one running job and one
// worker call. It never waits for the job to finish.
type Dispatcher struct {
	jobs   scrape.JobStore
	worker scrape.WorkerClient
	ids    scrape.IDGenerator
	clock  scrape.Clock
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(
	jobs scrape.JobStore,
	worker scrape.WorkerClient,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		jobs:   jobs,
		worker: worker,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Dispatch creates a running job for mode at targetPage and issues the worker
// call. A config without a category URL fails with scrape.ErrConfigInvalid
// before any row is written. When the worker rejects the call the created
// job is returned together with scrape.ErrDispatchRejected; marking it failed
// is left to the caller.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	cfg scrape.ScraperConfig,
	mode scrape.JobMode,
	targetPage int,
) (scrape.Job, error) {
	if err := cfg.ValidateForRun(); err != nil {
		return scrape.Job{}, err
	}
	if targetPage < 1 {
		return scrape.Job{}, &scrape.ValidationError{Fields: []string{"pageNum must be >= 1"}}
	}

	jobID, err := d.ids.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job, err := d.jobs.CreateJob(ctx, scrape.Job{
		ID:          jobID,
		CategoryURL: cfg.CategoryURL,
		Mode:        mode,
		Status:      scrape.JobStatusRunning,
		PageNum:     targetPage,
		CreatedAt:   d.clock.Now(),
	})
	if err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}

	req := scrape.DispatchRequest{
		CategoryURL: cfg.CategoryURL,
		JobID:       job.ID,
		PageNum:     targetPage,
		DelayMin:    cfg.DelayMin,
		DelayMax:    cfg.DelayMax,
		Mode:        mode,
	}
	if err := d.worker.Dispatch(ctx, req); err != nil {
		// Any failed hand-off means the worker never started the job.
		if errors.Is(err, scrape.ErrDispatchRejected) {
			return job, fmt.Errorf("dispatch job %s: %w", job.ID, err)
		}
		return job, fmt.Errorf("%w: dispatch job %s: %w", scrape.ErrDispatchRejected, job.ID, err)
	}
	d.logger.Info("job dispatched",
		zap.String("job_id", job.ID),
		zap.String("mode", string(mode)),
		zap.Int("page", targetPage),
	)
	return job, nil
}
