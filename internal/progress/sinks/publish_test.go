package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	memoryPublisher "github.com/JakeFAU/scrape-orchestrator/internal/publisher/memory"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// TestPublishSinkPublishesLifecycleOnly ensures log lines stay off the topic.
func TestPublishSinkPublishesLifecycleOnly(t *testing.T) {
	t.Parallel()

	pub := memoryPublisher.New()
	sink := NewPublishSink(pub, "scrape-jobs")
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Mode: scrape.ModeWatcher, TS: now, Stage: progress.StageJobStart, PageNum: 1},
		{JobID: "job-1", Mode: scrape.ModeWatcher, TS: now, Stage: progress.StageJobLog, Message: "noise"},
		{JobID: "job-1", Mode: scrape.ModeWatcher, TS: now, Stage: progress.StageJobEnd, Status: scrape.JobStatusCompleted},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "scrape-jobs", msgs[0].Topic)
	end, ok := msgs[1].Payload.(LifecycleMessage)
	require.True(t, ok)
	require.Equal(t, scrape.JobStatusCompleted, end.Status)
}
