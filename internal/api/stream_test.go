package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	memoryStorage "github.com/JakeFAU/scrape-orchestrator/internal/storage/memory"
)

func dialStream(t *testing.T, srv *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + jobID + "/logs/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame StreamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestStreamLogsFollowsJobToTerminal(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig(), Options{})
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	run := decode[RunResponse](t, f.do(t, http.MethodPost, "/v1/modes/watcher/run", nil))
	ctx := context.Background()
	_, err := f.jobs.AppendLog(ctx, scrape.LogRecord{ID: "l1", JobID: run.JobID, Message: "started"})
	require.NoError(t, err)

	conn := dialStream(t, srv, run.JobID)
	first := readFrame(t, conn)
	require.Equal(t, FrameLog, first.Type)
	require.Equal(t, "started", first.Log.Message)

	_, err = f.jobs.AppendLog(ctx, scrape.LogRecord{ID: "l2", JobID: run.JobID, Message: "page 1 done", Level: scrape.LevelSuccess})
	require.NoError(t, err)
	second := readFrame(t, conn)
	require.Equal(t, FrameLog, second.Type)
	require.Equal(t, "l2", second.Log.ID)

	_, err = f.jobs.UpdateJobStatus(ctx, run.JobID, scrape.StatusUpdate{Status: scrape.JobStatusCompleted, FromWorker: true})
	require.NoError(t, err)
	last := readFrame(t, conn)
	require.Equal(t, FrameJob, last.Type)
	require.Equal(t, scrape.JobStatusCompleted, last.Job.Status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamLogsFinishedJobReplaysAndCloses(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig(), Options{})
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	run := decode[RunResponse](t, f.do(t, http.MethodPost, "/v1/modes/history/run", nil))
	ctx := context.Background()
	_, err := f.jobs.AppendLog(ctx, scrape.LogRecord{ID: "l1", JobID: run.JobID, Message: "only line"})
	require.NoError(t, err)
	_, err = f.jobs.UpdateJobStatus(ctx, run.JobID, scrape.StatusUpdate{Status: scrape.JobStatusFailed, ErrorText: "blocked", FromWorker: true})
	require.NoError(t, err)

	conn := dialStream(t, srv, run.JobID)
	require.Equal(t, "only line", readFrame(t, conn).Log.Message)
	end := readFrame(t, conn)
	require.Equal(t, scrape.JobStatusFailed, end.Job.Status)
	require.Equal(t, "blocked", end.Job.ErrorText)
}

func TestStreamLogsUnknownJob(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig(), Options{})
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/missing/logs/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

// finishingStore completes the job while the stream is still subscribing, so
// the terminal row is never pushed.
type finishingStore struct {
	*memoryStorage.JobStore
	once sync.Once
}

func (s *finishingStore) SubscribeJob(ctx context.Context, jobID string) (scrape.Subscription[scrape.Job], error) {
	s.once.Do(func() {
		_, _ = s.JobStore.UpdateJobStatus(ctx, jobID, scrape.StatusUpdate{Status: scrape.JobStatusCompleted, FromWorker: true})
	})
	return s.JobStore.SubscribeJob(ctx, jobID)
}

func TestStreamLogsJobEndingDuringSubscribe(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig(), Options{})
	run := decode[RunResponse](t, f.do(t, http.MethodPost, "/v1/modes/watcher/run", nil))

	srv := httptest.NewServer(NewServer(f.orch, &finishingStore{JobStore: f.jobs}, Options{}).Handler())
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, run.JobID)
	last := readFrame(t, conn)
	require.Equal(t, FrameJob, last.Type)
	require.Equal(t, scrape.JobStatusCompleted, last.Job.Status)
}
