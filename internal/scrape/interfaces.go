package scrape

import (
	"context"
	"io"
	"time"
)

// JobStore persists jobs and their log records and pushes row changes to
// subscribers filtered by job id.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	// UpdateJobStatus applies a status patch. Transitions out of a terminal
	// status return ErrJobTerminal, except worker reports against a stopped
	// job which are recorded as the stop confirmation.
	UpdateJobStatus(ctx context.Context, jobID string, update StatusUpdate) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	AppendLog(ctx context.Context, rec LogRecord) (LogRecord, error)
	// ListLogs returns log records ordered by CreatedAt.
	ListLogs(ctx context.Context, jobID string) ([]LogRecord, error)
	SubscribeLogs(ctx context.Context, jobID string) (Subscription[LogRecord], error)
	SubscribeJob(ctx context.Context, jobID string) (Subscription[Job], error)
}

// Subscription is a push channel of row inserts or updates. Events closes
// when the subscription is closed or the underlying connection drops.
type Subscription[T any] interface {
	Events() <-chan T
	Close()
}

// ConfigStore persists the singleton ScraperConfig.
type ConfigStore interface {
	Load(ctx context.Context) (ScraperConfig, error)
	Save(ctx context.Context, cfg ScraperConfig) error
}

// WorkerClient issues the fire-and-forget dispatch call to the external worker.
type WorkerClient interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// BlobStore writes job transcripts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and log IDs.
type IDGenerator interface {
	NewID() (string, error)
}
