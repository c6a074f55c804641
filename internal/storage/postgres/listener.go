package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Notification channels written by the schema triggers.
const (
	ChannelLogs = "scrape_logs"
	ChannelJobs = "scrape_jobs"
)

const defaultRetryDelay = 2 * time.Second

// Listener holds one connection in LISTEN mode and feeds the JobStore's push
// channels. When the connection drops every subscriber is disconnected and
// the listener reconnects.
type Listener struct {
	pool   *pgxpool.Pool
	store  *JobStore
	logger *zap.Logger
	retry  time.Duration
}

// NewListener creates a Listener for store.
func NewListener(pool *pgxpool.Pool, store *JobStore, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{pool: pool, store: store, logger: logger, retry: defaultRetryDelay}
}

// Run listens until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		l.store.logs.DisconnectAll()
		l.store.rows.DisconnectAll()
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("notification listener dropped", zap.Error(err), zap.Duration("retry_in", l.retry))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()
	for _, channel := range []string{ChannelLogs, ChannelJobs} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	l.logger.Info("listening for job notifications")
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if err := l.handle(ctx, n.Channel, n.Payload); err != nil {
			l.logger.Warn("notification dropped", zap.String("channel", n.Channel), zap.Error(err))
		}
	}
}

type notifyPayload struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
}

// handle re-reads the notified row and publishes it. Rows nobody listens
// for are skipped.
func (l *Listener) handle(ctx context.Context, channel, payload string) error {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if p.ID == "" || p.JobID == "" {
		return errors.New("payload missing keys")
	}
	switch channel {
	case ChannelLogs:
		if l.store.logs.Count(p.JobID) == 0 {
			return nil
		}
		rec, err := l.store.getLog(ctx, p.ID)
		if err != nil {
			return err
		}
		l.store.logs.Publish(p.JobID, rec)
	case ChannelJobs:
		if l.store.rows.Count(p.JobID) == 0 {
			return nil
		}
		job, err := l.store.GetJob(ctx, p.JobID)
		if err != nil {
			return err
		}
		l.store.rows.Publish(p.JobID, job)
	default:
		return fmt.Errorf("unexpected channel %q", channel)
	}
	return nil
}
