package scrape

import (
	"errors"
	"strings"
)

// Sentinel errors shared by the orchestrator components.
var (
	// ErrConfigInvalid is returned before any job is created when the
	// configuration cannot drive a run.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrDispatchRejected means a job row exists but the worker never accepted it.
	ErrDispatchRejected = errors.New("dispatch rejected")
	// ErrAlreadyRunning guards the single-active-job-per-mode invariant.
	ErrAlreadyRunning = errors.New("already running")
	// ErrJobFailed marks a worker-reported failure.
	ErrJobFailed = errors.New("job failed")
	// ErrJobStalled marks a job forced to failed by the watchdog.
	ErrJobStalled = errors.New("job stalled")
	// ErrJobNotFound is returned by stores for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal rejects transitions out of a terminal status.
	ErrJobTerminal = errors.New("job already terminal")
	// ErrLoopNotFound is returned for an unknown loop mode.
	ErrLoopNotFound = errors.New("loop not found")
)

// StallReason is the error text written to jobs failed by the watchdog.
const StallReason = "stalled: no worker activity"

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "config invalid: " + strings.Join(e.Fields, "; ")
}

// Unwrap lets callers match ErrConfigInvalid with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}
