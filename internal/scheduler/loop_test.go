package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

type harness struct {
	mu       sync.Mutex
	busy     bool
	fires    atomic.Int32
	skips    atomic.Int32
	interval time.Duration
	err      error
}

func (h *harness) options() Options {
	return Options{
		Fire: func(context.Context) error {
			h.fires.Add(1)
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.err
		},
		Busy: func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.busy
		},
		Interval: func() time.Duration {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.interval
		},
		OnSkip: func() { h.skips.Add(1) },
	}
}

func (h *harness) setBusy(b bool) {
	h.mu.Lock()
	h.busy = b
	h.mu.Unlock()
}

// TestArmFiresImmediately asserts a dispatch attempt happens before any tick.
func TestArmFiresImmediately(t *testing.T) {
	t.Parallel()

	h := &harness{interval: 10 * time.Second}
	loop := NewLoop(scrape.ModeHistory, h.options())
	require.Equal(t, StateIdle, loop.Snapshot().State)

	require.NoError(t, loop.Arm(context.Background()))
	require.Equal(t, int32(1), h.fires.Load())
	snap := loop.Snapshot()
	require.Equal(t, StateArmed, snap.State)
	require.Equal(t, 10*time.Second, snap.Remaining)

	require.NoError(t, loop.Arm(context.Background()))
	require.Equal(t, int32(1), h.fires.Load(), "re-arming an armed loop must not fire")
}

// TestTickFiresAtZero walks the countdown to expiry.
func TestTickFiresAtZero(t *testing.T) {
	t.Parallel()

	h := &harness{interval: 3 * time.Second}
	loop := NewLoop(scrape.ModeWatcher, h.options())
	require.NoError(t, loop.Arm(context.Background()))

	loop.Tick(context.Background(), time.Second)
	loop.Tick(context.Background(), time.Second)
	require.Equal(t, int32(1), h.fires.Load())
	loop.Tick(context.Background(), time.Second)
	require.Equal(t, int32(2), h.fires.Load())
	require.Equal(t, 3*time.Second, loop.Snapshot().Remaining)
}

// TestTickSkipsWhileBusy ensures a busy mode never double-dispatches and the countdown resets.
func TestTickSkipsWhileBusy(t *testing.T) {
	t.Parallel()

	h := &harness{interval: 2 * time.Second}
	loop := NewLoop(scrape.ModeHistory, h.options())
	require.NoError(t, loop.Arm(context.Background()))
	h.setBusy(true)

	loop.Tick(context.Background(), 2*time.Second)
	require.Equal(t, int32(1), h.fires.Load())
	require.Equal(t, int32(1), h.skips.Load())
	require.Equal(t, 2*time.Second, loop.Snapshot().Remaining)

	h.setBusy(false)
	loop.Tick(context.Background(), time.Second)
	require.Equal(t, int32(1), h.fires.Load(), "skip waits one more full interval")
	loop.Tick(context.Background(), time.Second)
	require.Equal(t, int32(2), h.fires.Load())
}

// TestAlreadyRunningCountsAsSkip treats a lost gate race as a silent skip.
func TestAlreadyRunningCountsAsSkip(t *testing.T) {
	t.Parallel()

	h := &harness{interval: time.Second, err: scrape.ErrAlreadyRunning}
	loop := NewLoop(scrape.ModeHistory, h.options())
	require.NoError(t, loop.Arm(context.Background()))
	snap := loop.Snapshot()
	require.Equal(t, 0, snap.Fires)
	require.Equal(t, 1, snap.Skips)
	require.Empty(t, snap.LastError)
}

// TestArmSurfacesFireErrorButStaysArmed keeps the loop alive for the next tick.
func TestArmSurfacesFireErrorButStaysArmed(t *testing.T) {
	t.Parallel()

	boom := errors.New("worker down")
	h := &harness{interval: time.Second, err: boom}
	loop := NewLoop(scrape.ModeWatcher, h.options())
	require.ErrorIs(t, loop.Arm(context.Background()), boom)
	snap := loop.Snapshot()
	require.Equal(t, StateArmed, snap.State)
	require.Equal(t, "worker down", snap.LastError)
}

// TestDisarmHaltsTicks verifies a disarmed loop ignores ticks.
func TestDisarmHaltsTicks(t *testing.T) {
	t.Parallel()

	h := &harness{interval: time.Second}
	loop := NewLoop(scrape.ModeHistory, h.options())
	require.NoError(t, loop.Arm(context.Background()))
	loop.Disarm()
	loop.Tick(context.Background(), 5*time.Second)
	require.Equal(t, int32(1), h.fires.Load())
	require.Equal(t, StateDisarmed, loop.Snapshot().State)
	require.False(t, loop.Armed())

	require.NoError(t, loop.Arm(context.Background()))
	require.Equal(t, int32(2), h.fires.Load())
}

// TestIntervalReadFresh picks up a config change at the next reset.
func TestIntervalReadFresh(t *testing.T) {
	t.Parallel()

	h := &harness{interval: 2 * time.Second}
	loop := NewLoop(scrape.ModeWatcher, h.options())
	require.NoError(t, loop.Arm(context.Background()))
	h.mu.Lock()
	h.interval = 5 * time.Second
	h.mu.Unlock()
	loop.Tick(context.Background(), 2*time.Second)
	require.Equal(t, 5*time.Second, loop.Snapshot().Remaining)
}
