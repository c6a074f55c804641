package orchestrator

import (
	"sync"

	"github.com/JakeFAU/scrape-orchestrator/internal/monitor"
)

// gate is the busy flag of one mode. It is set the instant a run begins and
// cleared once that run's job is terminal, rejected, or stopped.
type gate struct {
	mu     sync.Mutex
	busy   bool
	jobID  string
	manual bool
	watch  *monitor.Watch
}

// acquire sets the flag; it returns false when a run is already in flight.
func (g *gate) acquire(manual bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	g.jobID = ""
	g.manual = manual
	g.watch = nil
	return true
}

func (g *gate) bind(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobID = jobID
}

func (g *gate) attach(jobID string, w *monitor.Watch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy && g.jobID == jobID {
		g.watch = w
	}
}

// release clears the flag if it still belongs to jobID. An empty jobID
// releases a gate that never got a job.
func (g *gate) release(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy || g.jobID != jobID {
		return false
	}
	g.busy = false
	g.jobID = ""
	g.manual = false
	g.watch = nil
	return true
}

// owns reports whether the flag is held by jobID and whether that run was manual.
func (g *gate) owns(jobID string) (owned, manual bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy && g.jobID == jobID, g.manual
}

func (g *gate) isBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *gate) active() (jobID string, w *monitor.Watch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jobID, g.watch
}
