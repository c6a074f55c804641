package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gcsclient "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/scrape-orchestrator/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcsclient.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "transcripts"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	const object = "history/job-1.jsonl"
	body := `{"stage":"JOB_END"}`

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/transcripts/o")
		assert.Equal(t, object, r.URL.Query().Get("name"))
		payload, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(payload), body)
		assert.Contains(t, string(payload), "application/x-ndjson")
		_, _ = fmt.Fprintf(w, `{"name":%q,"bucket":"transcripts"}`, object)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), object, "application/x-ndjson", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "gs://transcripts/"+object, uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})

	store := newTestStore(t, handler)
	_, err := store.PutObject(context.Background(), "history/job-2.jsonl", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = gcs.Open(context.Background(), gcs.Config{})
	assert.Error(t, err)
}

func TestCloseBorrowedClientIsNoop(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	assert.NoError(t, store.Close())
}
