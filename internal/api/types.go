package api

import (
	"time"

	"github.com/JakeFAU/scrape-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse answers run-once.
type RunResponse struct {
	JobID string     `json:"job_id"`
	Job   scrape.Job `json:"job"`
}

// LoopView is the wire form of a loop's status.
type LoopView struct {
	Mode             scrape.JobMode  `json:"mode"`
	State            scheduler.State `json:"state"`
	RemainingSeconds int             `json:"remainingSeconds"`
	IntervalSeconds  int             `json:"intervalSeconds"`
	Fires            int             `json:"fires"`
	Skips            int             `json:"skips"`
	Busy             bool            `json:"busy"`
	ActiveJobID      string          `json:"activeJobId,omitempty"`
	LastFireAt       time.Time       `json:"lastFireAt,omitzero"`
	LastError        string          `json:"lastError,omitempty"`
}

func toLoopView(s orchestrator.LoopStatus) LoopView {
	remaining := s.Remaining
	if remaining < 0 {
		remaining = 0
	}
	return LoopView{
		Mode:             s.Mode,
		State:            s.State,
		RemainingSeconds: int((remaining + time.Second - 1) / time.Second),
		IntervalSeconds:  int(s.Interval / time.Second),
		Fires:            s.Fires,
		Skips:            s.Skips,
		Busy:             s.Busy,
		ActiveJobID:      s.ActiveJobID,
		LastFireAt:       s.LastFireAt,
		LastError:        s.LastError,
	}
}

// SetConfigRequest edits one config field from its string form.
type SetConfigRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// JobsResponse wraps a job listing.
type JobsResponse struct {
	Jobs []scrape.Job `json:"jobs"`
}

// LogsResponse wraps a job's log records.
type LogsResponse struct {
	Logs []scrape.LogRecord `json:"logs"`
}

// LoopsResponse wraps both loops.
type LoopsResponse struct {
	Loops []LoopView `json:"loops"`
}

// WorkerLogRequest is a log line reported by the worker. ID is optional and
// makes retries idempotent.
type WorkerLogRequest struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// WorkerStatusRequest is a terminal status reported by the worker.
type WorkerStatusRequest struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
