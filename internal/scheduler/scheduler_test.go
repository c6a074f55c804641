package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// TestSchedulerDrivesLoops runs the cron-backed ticker end to end.
func TestSchedulerDrivesLoops(t *testing.T) {
	t.Parallel()

	h := &harness{interval: time.Second}
	sched := New(time.Second, nil)
	loop := NewLoop(scrape.ModeWatcher, h.options())
	require.NoError(t, sched.Add(loop))
	require.Error(t, sched.Add(NewLoop(scrape.ModeWatcher, h.options())))

	sched.Start()
	defer func() {
		require.NoError(t, sched.Stop(context.Background()))
	}()
	require.NoError(t, loop.Arm(context.Background()))
	require.Eventually(t, func() bool { return h.fires.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

// TestSchedulerLookup reports unknown modes.
func TestSchedulerLookup(t *testing.T) {
	t.Parallel()

	sched := New(time.Second, nil)
	require.NoError(t, sched.Add(NewLoop(scrape.ModeHistory, Options{Fire: func(context.Context) error { return nil }})))
	_, err := sched.Loop(scrape.ModeWatcher)
	require.ErrorIs(t, err, scrape.ErrLoopNotFound)
	snaps := sched.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, scrape.ModeHistory, snaps[0].Mode)
}
