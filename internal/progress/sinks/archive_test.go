package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	memoryStorage "github.com/JakeFAU/scrape-orchestrator/internal/storage/memory"
)

// TestArchiveSinkWritesTranscriptOnJobEnd ensures transcripts land at the mode-scoped path.
func TestArchiveSinkWritesTranscriptOnJobEnd(t *testing.T) {
	t.Parallel()

	blobs := memoryStorage.NewBlobStore()
	sink := NewArchiveSink(blobs, "transcripts", nil)
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Mode: scrape.ModeHistory, TS: now, Stage: progress.StageJobStart, PageNum: 5},
		{JobID: "job-1", Mode: scrape.ModeHistory, TS: now, Stage: progress.StageJobLog, Level: scrape.LevelInfo, Message: "page 5 parsed"},
	}))
	_, ok := blobs.Object("transcripts/history/job-1.jsonl")
	require.False(t, ok, "transcript must wait for the job to end")

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Mode: scrape.ModeHistory, TS: now, Stage: progress.StageJobEnd, Status: scrape.JobStatusCompleted},
	}))
	data, ok := blobs.Object("transcripts/history/job-1.jsonl")
	require.True(t, ok)

	var stages []progress.Stage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var line archiveLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		stages = append(stages, line.Stage)
	}
	require.Equal(t, []progress.Stage{progress.StageJobStart, progress.StageJobLog, progress.StageJobEnd}, stages)
}

// TestArchiveSinkFlushesInFlightOnClose verifies partially observed jobs are not lost.
func TestArchiveSinkFlushesInFlightOnClose(t *testing.T) {
	t.Parallel()

	blobs := memoryStorage.NewBlobStore()
	sink := NewArchiveSink(blobs, "", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-2", Mode: scrape.ModeWatcher, TS: time.Now(), Stage: progress.StageJobStart, PageNum: 1},
	}))
	require.NoError(t, sink.Close(context.Background()))
	_, ok := blobs.Object("watcher/job-2.jsonl")
	require.True(t, ok)
}

// TestArchiveSinkSurfacesBlobErrors returns upload failures to the hub.
func TestArchiveSinkSurfacesBlobErrors(t *testing.T) {
	t.Parallel()

	sink := NewArchiveSink(failingBlobs{}, "x", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-3", Mode: scrape.ModeHistory, TS: time.Now(), Stage: progress.StageJobEnd, Status: scrape.JobStatusFailed},
	})
	require.ErrorContains(t, err, "archive job job-3")
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}
