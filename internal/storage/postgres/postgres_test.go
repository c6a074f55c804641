package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

var (
	created = time.Unix(1700000000, 0).UTC()
	noTime  *time.Time
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func jobRows(mock pgxmock.PgxPoolIface, status string) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "category_url", "mode", "status", "page_num", "error_text", "created_at", "updated_at",
		"last_activity_at", "stop_requested_at", "stop_confirmed_at", "worker_status",
	}).AddRow("job-1", "https://x/y", "history", status, 5, "", created, created, created, noTime, noTime, "")
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "log-generated", nil }

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scraper_config")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreCreateJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "https://x/y", "history", "running", 5, "", created, created, created,
			pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := store.CreateJob(context.Background(), scrape.Job{
		ID:          "job-1",
		CategoryURL: "https://x/y",
		Mode:        scrape.ModeHistory,
		Status:      scrape.JobStatusRunning,
		PageNum:     5,
		CreatedAt:   created,
	})
	require.NoError(t, err)
	require.Equal(t, created, job.LastActivityAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateJobStatusCommits(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM scrape_jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(jobRows(mock, "running"))
	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("job-1", "completed", "", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	job, err := store.UpdateJobStatus(context.Background(), "job-1", scrape.StatusUpdate{
		Status:     scrape.JobStatusCompleted,
		FromWorker: true,
	})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateJobStatusRejectsTerminal(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(jobRows(mock, "failed"))
	mock.ExpectRollback()

	_, err := store.UpdateJobStatus(context.Background(), "job-1", scrape.StatusUpdate{Status: scrape.JobStatusStopped})
	require.ErrorIs(t, err, scrape.ErrJobTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectQuery(regexp.QuoteMeta("FROM scrape_jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreListJobsBuildsFilter(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectQuery(regexp.QuoteMeta("WHERE mode = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("history", "running", 5).
		WillReturnRows(jobRows(mock, "running"))

	jobs, err := store.ListJobs(context.Background(), scrape.JobFilter{
		Mode:   scrape.ModeHistory,
		Status: scrape.JobStatusRunning,
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scrape.ModeHistory, jobs[0].Mode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreAppendLogTouchesJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectExec("INSERT INTO scrape_logs").
		WithArgs("log-generated", "job-1", "page 5 fetched", "info", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scrape_jobs SET last_activity_at")).
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, err := store.AppendLog(context.Background(), scrape.LogRecord{
		JobID:     "job-1",
		Message:   "page 5 fetched",
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.Equal(t, "log-generated", rec.ID)
	require.Equal(t, scrape.LevelInfo, rec.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreAppendLogIgnoresDuplicate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectExec("INSERT INTO scrape_logs").
		WithArgs("l1", "job-1", "again", "warn", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := store.AppendLog(context.Background(), scrape.LogRecord{
		ID: "l1", JobID: "job-1", Message: "again", Level: scrape.LevelWarn, CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreAppendLogUnknownJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	mock.ExpectExec("INSERT INTO scrape_logs").
		WithArgs("l1", "ghost", "hi", "info", created).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	_, err := store.AppendLog(context.Background(), scrape.LogRecord{
		ID: "l1", JobID: "ghost", Message: "hi", CreatedAt: created,
	})
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigStoreSeedsEmptyTable(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	seed := scrape.ScraperConfig{Cursor: 1, HistoryIntervalSeconds: 300, WatcherIntervalSeconds: 60, DelayMin: 1, DelayMax: 3}
	store := NewConfigStore(mock, seed)
	mock.ExpectQuery("SELECT category_url, page_cursor").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO scraper_config").
		WithArgs("", 1, 300, 60, 1, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, seed, cfg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigStoreLoadsRow(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewConfigStore(mock, scrape.ScraperConfig{})
	mock.ExpectQuery("SELECT category_url, page_cursor").WillReturnRows(
		mock.NewRows([]string{"category_url", "page_cursor", "history_interval_seconds", "watcher_interval_seconds", "delay_min", "delay_max"}).
			AddRow("https://x/y", 7, 300, 60, 2, 5),
	)

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Cursor)
	require.Equal(t, "https://x/y", cfg.CategoryURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListenerPublishesWatchedLogs(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewJobStore(mock, fixedIDs{})
	sub, err := store.SubscribeLogs(context.Background(), "job-1")
	require.NoError(t, err)
	defer sub.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM scrape_logs WHERE id = $1")).
		WithArgs("l1").
		WillReturnRows(mock.NewRows([]string{"id", "job_id", "message", "level", "created_at"}).
			AddRow("l1", "job-1", "hello", "success", created))

	l := NewListener(nil, store, zap.NewNop())
	require.NoError(t, l.handle(context.Background(), ChannelLogs, `{"id":"l1","job_id":"job-1"}`))
	rec := <-sub.Events()
	require.Equal(t, scrape.LevelSuccess, rec.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListenerSkipsUnwatchedRows(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	l := NewListener(nil, NewJobStore(mock, fixedIDs{}), nil)
	require.NoError(t, l.handle(context.Background(), ChannelJobs, `{"id":"job-9","job_id":"job-9"}`))
	require.Error(t, l.handle(context.Background(), ChannelJobs, `{"id":""}`))
	require.Error(t, l.handle(context.Background(), "other", `{"id":"a","job_id":"b"}`))
	require.NoError(t, mock.ExpectationsWereMet())
}
