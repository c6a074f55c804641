// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/broker"
)

// JobStore keeps jobs and logs in maps and pushes inserts/updates to
// per-job subscribers. A subscriber that falls a full buffer behind is
// disconnected, which its owner observes as a closed channel.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]scrape.Job
	logs    map[string][]scrape.LogRecord
	logIDs  map[string]struct{}
	logSubs *broker.Broker[scrape.LogRecord]
	jobSubs *broker.Broker[scrape.Job]
	seq     int64
	now     func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]scrape.Job),
		logs:    make(map[string][]scrape.LogRecord),
		logIDs:  make(map[string]struct{}),
		logSubs: broker.New[scrape.LogRecord](broker.DefaultBuffer),
		jobSubs: broker.New[scrape.Job](broker.DefaultBuffer),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job row.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		return scrape.Job{}, fmt.Errorf("job id is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return scrape.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.LastActivityAt = job.CreatedAt
	s.jobs[job.ID] = job
	return job, nil
}

// UpdateJobStatus applies the patch and pushes the new row to subscribers.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	next, err := scrape.ApplyStatus(job, update, s.now())
	if err != nil {
		return job, err
	}
	s.jobs[jobID] = next
	s.jobSubs.Publish(jobID, next)
	return next, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Mode != "" && job.Mode != filter.Mode {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendLog inserts a log record and pushes it to subscribers. A record whose
// id was already stored is returned unchanged and not pushed again.
func (s *JobStore) AppendLog(_ context.Context, rec scrape.LogRecord) (scrape.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[rec.JobID]
	if !ok {
		return scrape.LogRecord{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, rec.JobID)
	}
	if rec.ID == "" {
		s.seq++
		rec.ID = fmt.Sprintf("log-%d", s.seq)
	} else if _, dup := s.logIDs[rec.ID]; dup {
		return rec, nil
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Level == "" {
		rec.Level = scrape.LevelInfo
	}
	s.logIDs[rec.ID] = struct{}{}
	s.logs[rec.JobID] = append(s.logs[rec.JobID], rec)
	job.LastActivityAt = now
	s.jobs[rec.JobID] = job
	s.logSubs.Publish(rec.JobID, rec)
	return rec, nil
}

// ListLogs returns a copy of the job's log records ordered by CreatedAt.
func (s *JobStore) ListLogs(_ context.Context, jobID string) ([]scrape.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.LogRecord, len(s.logs[jobID]))
	copy(out, s.logs[jobID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SubscribeLogs pushes every log insert for jobID until ctx ends or Close.
func (s *JobStore) SubscribeLogs(ctx context.Context, jobID string) (scrape.Subscription[scrape.LogRecord], error) {
	return s.logSubs.Subscribe(ctx, jobID), nil
}

// SubscribeJob pushes every update of jobID's row until ctx ends or Close.
func (s *JobStore) SubscribeJob(ctx context.Context, jobID string) (scrape.Subscription[scrape.Job], error) {
	return s.jobSubs.Subscribe(ctx, jobID), nil
}

// Subscribers reports how many push channels are open for jobID.
func (s *JobStore) Subscribers(jobID string) int {
	return s.logSubs.Count(jobID) + s.jobSubs.Count(jobID)
}

// DropConnections closes every open push channel, simulating a lost
// connection.
func (s *JobStore) DropConnections() {
	s.logSubs.DisconnectAll()
	s.jobSubs.DisconnectAll()
}
