package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

func TestClient_Dispatch_SendsPayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	var auth string
	var decodeErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		decodeErr = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := New(Config{URL: srv.URL, APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)

	err = client.Dispatch(context.Background(), scrape.DispatchRequest{
		CategoryURL: "https://x/y",
		JobID:       "job-1",
		PageNum:     5,
		DelayMin:    2,
		DelayMax:    5,
		Mode:        scrape.ModeHistory,
	})
	require.NoError(t, err)
	require.NoError(t, decodeErr)
	require.Equal(t, "Bearer k", auth)
	require.Equal(t, map[string]any{
		"categoryUrl": "https://x/y",
		"jobId":       "job-1",
		"pageNum":     float64(5),
		"delayMin":    float64(2),
		"delayMax":    float64(5),
		"mode":        "history",
	}, got)
}

func TestClient_Dispatch_NonSuccessIsRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)

	err = client.Dispatch(context.Background(), scrape.DispatchRequest{JobID: "job-2"})
	require.ErrorIs(t, err, scrape.ErrDispatchRejected)
	require.Contains(t, err.Error(), "503")
}

func TestClient_Dispatch_TransportErrorIsRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(Config{URL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	err = client.Dispatch(context.Background(), scrape.DispatchRequest{JobID: "job-3"})
	require.ErrorIs(t, err, scrape.ErrDispatchRejected)
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
