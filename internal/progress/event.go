package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobLog   Stage = "JOB_LOG"
	StageJobEnd   Stage = "JOB_END"
	StageLoopSkip Stage = "LOOP_SKIP"
)

// Event captures a single piece of orchestrator progress.
type Event struct {
	// JobID identifies the job; empty only for LOOP_SKIP events.
	JobID string
	// Mode is the run mode the event belongs to.
	Mode scrape.JobMode
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// PageNum is set on JOB_START.
	PageNum int
	// Status is the terminal status carried by JOB_END.
	Status scrape.JobStatus
	// Level and Message mirror the worker log record on JOB_LOG.
	Level   scrape.LogLevel
	Message string
	// Dur is the job wall time on JOB_END.
	Dur time.Duration
	// Note carries error text for failed or stalled jobs.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Mode == "" {
		return errors.New("mode is required")
	}
	switch e.Stage {
	case StageLoopSkip:
		return nil
	case StageJobStart, StageJobLog:
	case StageJobEnd:
		if !e.Status.Terminal() {
			return fmt.Errorf("job end requires terminal status, got %q", e.Status)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// LogEvent converts a worker log record into a JOB_LOG event.
func LogEvent(mode scrape.JobMode, rec scrape.LogRecord) Event {
	return Event{
		JobID:   rec.JobID,
		Mode:    mode,
		TS:      rec.CreatedAt,
		Stage:   StageJobLog,
		Level:   rec.Level,
		Message: rec.Message,
	}
}

// EndEvent builds the JOB_END event for a terminal job row.
func EndEvent(job scrape.Job, now time.Time) Event {
	var dur time.Duration
	if !job.CreatedAt.IsZero() && now.After(job.CreatedAt) {
		dur = now.Sub(job.CreatedAt)
	}
	return Event{
		JobID:  job.ID,
		Mode:   job.Mode,
		TS:     now,
		Stage:  StageJobEnd,
		Status: job.Status,
		Dur:    dur,
		Note:   job.ErrorText,
	}
}
