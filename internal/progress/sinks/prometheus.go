package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
)

// PrometheusSink exports job progress metrics via Prometheus. It owns the
// collectors for jobs started, finished and running plus worker log volume.
type PrometheusSink struct {
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsRunning  *prometheus.GaugeVec
	jobRuntime   *prometheus.HistogramVec
	workerLogs   *prometheus.CounterVec
	loopSkips    *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_started_total",
			Help: "Total jobs dispatched to the worker.",
		}, []string{"mode"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_finished_total",
			Help: "Total jobs that reached a terminal status.",
		}, []string{"mode", "status"}),
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scrape_jobs_running",
			Help: "Jobs currently in flight per mode.",
		}, []string{"mode"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}, []string{"mode", "status"}),
		workerLogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_worker_log_records_total",
			Help: "Worker log records observed partitioned by level.",
		}, []string{"mode", "level"}),
		loopSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_loop_ticks_skipped_total",
			Help: "Scheduled ticks skipped because the mode was busy.",
		}, []string{"mode"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.workerLogs,
		s.loopSkips,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	mode := string(evt.Mode)
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.WithLabelValues(mode).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.WithLabelValues(mode).Inc()
		}
	case progress.StageJobEnd:
		status := string(evt.Status)
		s.jobsFinished.WithLabelValues(mode, status).Inc()
		if evt.Dur > 0 {
			s.jobRuntime.WithLabelValues(mode, status).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.WithLabelValues(mode).Dec()
		}
	case progress.StageJobLog:
		level := string(evt.Level)
		if level == "" {
			level = "info"
		}
		s.workerLogs.WithLabelValues(mode, level).Inc()
	case progress.StageLoopSkip:
		s.loopSkips.WithLabelValues(mode).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
