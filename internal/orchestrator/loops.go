package orchestrator

import (
	"context"

	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// StartLoop arms the loop for mode, which fires one run immediately. A config
// that cannot drive a run is rejected before arming. Errors from the first
// run are returned but the loop stays armed.
func (o *Orchestrator) StartLoop(ctx context.Context, mode scrape.JobMode) error {
	loop, err := o.sched.Loop(mode)
	if err != nil {
		return err
	}
	if err := o.config.get().ValidateForRun(); err != nil {
		return err
	}
	return loop.Arm(ctx)
}

// StopLoop disarms the loop for mode. An in-flight job keeps running.
func (o *Orchestrator) StopLoop(mode scrape.JobMode) error {
	loop, err := o.sched.Loop(mode)
	if err != nil {
		return err
	}
	loop.Disarm()
	return nil
}

// LoopStatus pairs a loop snapshot with its gate.
type LoopStatus struct {
	scheduler.Snapshot
	Busy        bool   `json:"busy"`
	ActiveJobID string `json:"activeJobId,omitempty"`
}

// Loops reports both loops in mode order.
func (o *Orchestrator) Loops() []LoopStatus {
	snaps := o.sched.Snapshots()
	out := make([]LoopStatus, 0, len(snaps))
	for _, snap := range snaps {
		id, busy := o.Active(snap.Mode)
		out = append(out, LoopStatus{Snapshot: snap, Busy: busy, ActiveJobID: id})
	}
	return out
}
