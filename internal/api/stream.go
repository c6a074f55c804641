package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operators connect from CLIs and dashboards on other origins; the API
	// key guards access.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Frame types on the log stream.
const (
	FrameLog = "log"
	FrameJob = "job"
)

// StreamFrame is one websocket message on the log stream.
type StreamFrame struct {
	Type string            `json:"type"`
	Log  *scrape.LogRecord `json:"log,omitempty"`
	Job  *scrape.Job       `json:"job,omitempty"`
}

// streamLogs replays a job's logs and then follows new ones until the job
// reaches a terminal status, which is sent as the final frame.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	logs, err := s.jobs.SubscribeLogs(ctx, jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer logs.Close()
	rows, err := s.jobs.SubscribeJob(ctx, jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rows.Close()
	// A status change before the subscriptions were open is never pushed.
	if job, err = s.jobs.GetJob(ctx, jobID); err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("log stream upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := &logStream{conn: conn, seen: make(map[string]struct{})}
	backlog, err := s.jobs.ListLogs(ctx, jobID)
	if err != nil {
		s.logger.Warn("log stream backlog failed", zap.String("job_id", jobID), zap.Error(err))
	}
	for _, rec := range backlog {
		if st.sendLog(rec) != nil {
			return
		}
	}
	if job.Status.Terminal() {
		st.finish(job)
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-logs.Events():
			if !ok {
				st.close(websocket.CloseGoingAway, "log feed closed")
				return
			}
			if st.sendLog(rec) != nil {
				return
			}
		case row, ok := <-rows.Events():
			if !ok {
				st.close(websocket.CloseGoingAway, "job feed closed")
				return
			}
			if row.Status.Terminal() {
				st.drain(ctx, s.jobs, jobID)
				st.finish(row)
				return
			}
		case <-ping.C:
			if st.write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

type logStream struct {
	conn *websocket.Conn
	seen map[string]struct{}
}

func (st *logStream) sendLog(rec scrape.LogRecord) error {
	if _, dup := st.seen[rec.ID]; dup {
		return nil
	}
	st.seen[rec.ID] = struct{}{}
	_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return st.conn.WriteJSON(StreamFrame{Type: FrameLog, Log: &rec})
}

// drain sends records that landed before the terminal row but were not yet
// pushed on the log feed.
func (st *logStream) drain(ctx context.Context, jobs scrape.JobStore, jobID string) {
	recs, err := jobs.ListLogs(ctx, jobID)
	if err != nil {
		return
	}
	for _, rec := range recs {
		if st.sendLog(rec) != nil {
			return
		}
	}
}

func (st *logStream) finish(job scrape.Job) {
	_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := st.conn.WriteJSON(StreamFrame{Type: FrameJob, Job: &job}); err != nil {
		return
	}
	st.close(websocket.CloseNormalClosure, string(job.Status))
}

func (st *logStream) write(messageType int, data []byte) error {
	_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return st.conn.WriteMessage(messageType, data)
}

func (st *logStream) close(code int, text string) {
	_ = st.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
