package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/broker"
)

const pgForeignKeyViolation = "23503"

// JobStore persists jobs and log records in Postgres. Push channels are fed
// by a Listener; without one running, subscriptions stay silent.
type JobStore struct {
	db   querier
	ids  scrape.IDGenerator
	now  func() time.Time
	logs *broker.Broker[scrape.LogRecord]
	rows *broker.Broker[scrape.Job]
}

// NewJobStore constructs a JobStore. ids assigns log ids the worker omitted.
func NewJobStore(db querier, ids scrape.IDGenerator) *JobStore {
	return &JobStore{
		db:   db,
		ids:  ids,
		now:  func() time.Time { return time.Now().UTC() },
		logs: broker.New[scrape.LogRecord](broker.DefaultBuffer),
		rows: broker.New[scrape.Job](broker.DefaultBuffer),
	}
}

const jobColumns = `id, category_url, mode, status, page_num, error_text, created_at, updated_at,
	last_activity_at, stop_requested_at, stop_confirmed_at, worker_status`

const insertJobSQL = `INSERT INTO scrape_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

const updateJobSQL = `UPDATE scrape_jobs SET
	status = $2, error_text = $3, updated_at = $4, last_activity_at = $5,
	stop_requested_at = $6, stop_confirmed_at = $7, worker_status = $8
WHERE id = $1`

const logColumns = `id, job_id, message, level, created_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) (scrape.Job, error) {
	if job.ID == "" {
		return scrape.Job{}, errors.New("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	job.LastActivityAt = job.CreatedAt
	if _, err := s.db.Exec(ctx, insertJobSQL, jobArgs(job)...); err != nil {
		return scrape.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus applies the patch inside a row-locking transaction.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("begin status update: %w", err)
	}
	next, err := s.applyStatus(ctx, tx, jobID, update)
	if err != nil {
		_ = tx.Rollback(ctx)
		return next, err
	}
	if err := tx.Commit(ctx); err != nil {
		return scrape.Job{}, fmt.Errorf("commit status update: %w", err)
	}
	return next, nil
}

func (s *JobStore) applyStatus(ctx context.Context, tx pgx.Tx, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		return scrape.Job{}, notFound(err, jobID)
	}
	next, err := scrape.ApplyStatus(job, update, s.now())
	if err != nil {
		return job, err
	}
	if _, err := tx.Exec(ctx, updateJobSQL,
		next.ID,
		string(next.Status),
		next.ErrorText,
		next.UpdatedAt,
		next.LastActivityAt,
		next.StopRequestedAt,
		next.StopConfirmedAt,
		string(next.WorkerStatus),
	); err != nil {
		return scrape.Job{}, fmt.Errorf("update job: %w", err)
	}
	return next, nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID))
	if err != nil {
		return scrape.Job{}, notFound(err, jobID)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// AppendLog inserts a log record and bumps the job's activity time. A record
// whose id already exists is returned unchanged.
func (s *JobStore) AppendLog(ctx context.Context, rec scrape.LogRecord) (scrape.LogRecord, error) {
	if rec.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scrape.LogRecord{}, fmt.Errorf("generate log id: %w", err)
		}
		rec.ID = id
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Level == "" {
		rec.Level = scrape.LevelInfo
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO scrape_logs (`+logColumns+`) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.JobID, rec.Message, string(rec.Level), rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return scrape.LogRecord{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, rec.JobID)
		}
		return scrape.LogRecord{}, fmt.Errorf("insert log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rec, nil
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $1`,
		rec.JobID, now,
	); err != nil {
		return rec, fmt.Errorf("touch job activity: %w", err)
	}
	return rec, nil
}

// ListLogs returns a job's log records ordered by created_at.
func (s *JobStore) ListLogs(ctx context.Context, jobID string) ([]scrape.LogRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+logColumns+` FROM scrape_logs WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	var out []scrape.LogRecord
	for rows.Next() {
		rec, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

func (s *JobStore) getLog(ctx context.Context, id string) (scrape.LogRecord, error) {
	rec, err := scanLog(s.db.QueryRow(ctx, `SELECT `+logColumns+` FROM scrape_logs WHERE id = $1`, id))
	if err != nil {
		return scrape.LogRecord{}, fmt.Errorf("get log %s: %w", id, err)
	}
	return rec, nil
}

// SubscribeLogs pushes log inserts for jobID until ctx ends or Close.
func (s *JobStore) SubscribeLogs(ctx context.Context, jobID string) (scrape.Subscription[scrape.LogRecord], error) {
	return s.logs.Subscribe(ctx, jobID), nil
}

// SubscribeJob pushes row updates for jobID until ctx ends or Close.
func (s *JobStore) SubscribeJob(ctx context.Context, jobID string) (scrape.Subscription[scrape.Job], error) {
	return s.rows.Subscribe(ctx, jobID), nil
}

func jobArgs(job scrape.Job) []any {
	return []any{
		job.ID,
		job.CategoryURL,
		string(job.Mode),
		string(job.Status),
		job.PageNum,
		job.ErrorText,
		job.CreatedAt,
		job.UpdatedAt,
		job.LastActivityAt,
		job.StopRequestedAt,
		job.StopConfirmedAt,
		string(job.WorkerStatus),
	}
}

func scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job                      scrape.Job
		mode, status, workerStat string
	)
	if err := row.Scan(
		&job.ID,
		&job.CategoryURL,
		&mode,
		&status,
		&job.PageNum,
		&job.ErrorText,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastActivityAt,
		&job.StopRequestedAt,
		&job.StopConfirmedAt,
		&workerStat,
	); err != nil {
		return scrape.Job{}, err
	}
	job.Mode = scrape.JobMode(mode)
	job.Status = scrape.JobStatus(status)
	job.WorkerStatus = scrape.JobStatus(workerStat)
	return job, nil
}

func scanLog(row pgx.Row) (scrape.LogRecord, error) {
	var (
		rec   scrape.LogRecord
		level string
	)
	if err := row.Scan(&rec.ID, &rec.JobID, &rec.Message, &level, &rec.CreatedAt); err != nil {
		return scrape.LogRecord{}, err
	}
	rec.Level = scrape.LogLevel(level)
	return rec, nil
}

func notFound(err error, jobID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return fmt.Errorf("get job %s: %w", jobID, err)
}
