package scrape

import (
	"fmt"
	"strings"
	"time"
)

// JobMode selects which recurring task a job belongs to.
type JobMode string

// Supported run modes.
const (
	ModeHistory JobMode = "history"
	ModeWatcher JobMode = "watcher"
)

// Modes lists every run mode in a stable order.
var Modes = []JobMode{ModeHistory, ModeWatcher}

// ParseMode converts user input into a JobMode.
func ParseMode(s string) (JobMode, error) {
	switch JobMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHistory:
		return ModeHistory, nil
	case ModeWatcher:
		return ModeWatcher, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether no further transitions are legal from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// ParseStatus converts user input into a JobStatus.
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// LogLevel classifies a worker log record.
type LogLevel string

// Log levels emitted by the worker.
const (
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// ParseLevel converts input into a LogLevel, defaulting to info.
func ParseLevel(s string) (LogLevel, error) {
	switch lvl := LogLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case "":
		return LevelInfo, nil
	case LevelInfo, LevelWarn, LevelError, LevelSuccess:
		return lvl, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// ScraperConfig is the singleton crawler configuration. Cursor is owned by
// the history loop and never decreases.
type ScraperConfig struct {
	CategoryURL            string `json:"categoryUrl" validate:"omitempty,url"`
	Cursor                 int    `json:"cursor" validate:"gte=1"`
	HistoryIntervalSeconds int    `json:"historyIntervalSeconds" validate:"gt=0"`
	WatcherIntervalSeconds int    `json:"watcherIntervalSeconds" validate:"gt=0"`
	DelayMin               int    `json:"delayMin" validate:"gte=0,ltefield=DelayMax"`
	DelayMax               int    `json:"delayMax" validate:"gte=0"`
}

// Interval returns the recurrence period configured for mode.
func (c ScraperConfig) Interval(mode JobMode) time.Duration {
	if mode == ModeWatcher {
		return time.Duration(c.WatcherIntervalSeconds) * time.Second
	}
	return time.Duration(c.HistoryIntervalSeconds) * time.Second
}

// TargetPage picks the page a run of mode should fetch: watcher runs always
// read the newest-first first page, history runs resume from the cursor.
func (c ScraperConfig) TargetPage(mode JobMode) int {
	if mode == ModeWatcher {
		return 1
	}
	return c.Cursor
}

// Job is one dispatched scrape run.
type Job struct {
	ID              string     `json:"id"`
	CategoryURL     string     `json:"categoryUrl"`
	Mode            JobMode    `json:"mode"`
	Status          JobStatus  `json:"status"`
	PageNum         int        `json:"pageNum"`
	ErrorText       string     `json:"errorText,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastActivityAt  time.Time  `json:"lastActivityAt"`
	StopRequestedAt *time.Time `json:"stopRequestedAt,omitempty"`
	StopConfirmedAt *time.Time `json:"stopConfirmedAt,omitempty"`
	WorkerStatus    JobStatus  `json:"workerStatus,omitempty"`
}

// LogRecord is a single append-only message written by the worker.
type LogRecord struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusUpdate is the patch applied to a job row.
type StatusUpdate struct {
	Status    JobStatus
	ErrorText string
	// FromWorker marks reports that originate from the external worker. A
	// worker report against a stopped job confirms the stop instead of
	// failing as an illegal transition.
	FromWorker bool
}

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Mode   JobMode
	Status JobStatus
	Limit  int
}

// DispatchRequest is the JSON body sent to the external worker.
type DispatchRequest struct {
	CategoryURL string  `json:"categoryUrl"`
	JobID       string  `json:"jobId"`
	PageNum     int     `json:"pageNum"`
	DelayMin    int     `json:"delayMin"`
	DelayMax    int     `json:"delayMax"`
	Mode        JobMode `json:"mode"`
}
