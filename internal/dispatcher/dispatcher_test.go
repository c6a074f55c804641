package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	memoryStorage "github.com/JakeFAU/scrape-orchestrator/internal/storage/memory"
)

func baseConfig() scrape.ScraperConfig {
	return scrape.ScraperConfig{
		CategoryURL:            "https://x/y",
		Cursor:                 5,
		HistoryIntervalSeconds: 60,
		WatcherIntervalSeconds: 60,
		DelayMin:               2,
		DelayMax:               5,
	}
}

// TestDispatchCreatesRunningJobAndCallsWorker covers the history happy path.
func TestDispatchCreatesRunningJobAndCallsWorker(t *testing.T) {
	t.Parallel()

	store := memoryStorage.NewJobStore()
	worker := &fakeWorker{}
	d := New(store, worker, &seqIDs{}, fixedClock{}, zap.NewNop())

	job, err := d.Dispatch(context.Background(), baseConfig(), scrape.ModeHistory, 5)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusRunning, job.Status)
	require.Equal(t, scrape.ModeHistory, job.Mode)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stored.PageNum)

	require.Len(t, worker.requests(), 1)
	require.Equal(t, scrape.DispatchRequest{
		CategoryURL: "https://x/y",
		JobID:       job.ID,
		PageNum:     5,
		DelayMin:    2,
		DelayMax:    5,
		Mode:        scrape.ModeHistory,
	}, worker.requests()[0])
}

// TestDispatchRejectsEmptyCategoryURL ensures no job row is written.
func TestDispatchRejectsEmptyCategoryURL(t *testing.T) {
	t.Parallel()

	store := memoryStorage.NewJobStore()
	worker := &fakeWorker{}
	d := New(store, worker, &seqIDs{}, fixedClock{}, nil)

	cfg := baseConfig()
	cfg.CategoryURL = ""
	_, err := d.Dispatch(context.Background(), cfg, scrape.ModeHistory, 5)
	require.ErrorIs(t, err, scrape.ErrConfigInvalid)

	jobs, err := store.ListJobs(context.Background(), scrape.JobFilter{})
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Empty(t, worker.requests())
}

// TestDispatchReturnsJobOnWorkerRejection verifies the caller gets the row to fail.
func TestDispatchReturnsJobOnWorkerRejection(t *testing.T) {
	t.Parallel()

	store := memoryStorage.NewJobStore()
	worker := &fakeWorker{err: fmt.Errorf("%w: worker returned 500", scrape.ErrDispatchRejected)}
	d := New(store, worker, &seqIDs{}, fixedClock{}, nil)

	job, err := d.Dispatch(context.Background(), baseConfig(), scrape.ModeWatcher, 1)
	require.ErrorIs(t, err, scrape.ErrDispatchRejected)
	require.NotEmpty(t, job.ID)
	stored, getErr := store.GetJob(context.Background(), job.ID)
	require.NoError(t, getErr)
	require.Equal(t, scrape.JobStatusRunning, stored.Status)
}

// TestDispatchClassifiesPlainWorkerErrorsAsRejected verifies a worker error
// that carries no classification still reads as a rejection.
func TestDispatchClassifiesPlainWorkerErrorsAsRejected(t *testing.T) {
	t.Parallel()

	store := memoryStorage.NewJobStore()
	worker := &fakeWorker{err: errors.New("queue full")}
	d := New(store, worker, &seqIDs{}, fixedClock{}, nil)

	job, err := d.Dispatch(context.Background(), baseConfig(), scrape.ModeHistory, 5)
	require.ErrorIs(t, err, scrape.ErrDispatchRejected)
	require.ErrorContains(t, err, "queue full")
	require.NotEmpty(t, job.ID)
}

// TestDispatchSurfacesIDErrors verifies ID generation errors are wrapped.
func TestDispatchSurfacesIDErrors(t *testing.T) {
	t.Parallel()

	d := New(memoryStorage.NewJobStore(), &fakeWorker{}, &seqIDs{err: errors.New("entropy")}, fixedClock{}, nil)
	_, err := d.Dispatch(context.Background(), baseConfig(), scrape.ModeHistory, 5)
	require.EqualError(t, err, "generate job id: entropy")
}

type fakeWorker struct {
	mu   sync.Mutex
	reqs []scrape.DispatchRequest
	err  error
}

func (w *fakeWorker) Dispatch(_ context.Context, req scrape.DispatchRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reqs = append(w.reqs, req)
	return w.err
}

func (w *fakeWorker) requests() []scrape.DispatchRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]scrape.DispatchRequest(nil), w.reqs...)
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
	err error
}

func (s *seqIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}
