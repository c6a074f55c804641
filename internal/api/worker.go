package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// workerLog appends a log line reported by the worker. The store stamps
// createdAt and pushes the insert to the job monitor.
func (s *Server) workerLog(w http.ResponseWriter, r *http.Request) {
	var req WorkerLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.fail(w, r, &scrape.ValidationError{Fields: []string{"message is required"}})
		return
	}
	level, err := scrape.ParseLevel(req.Level)
	if err != nil {
		s.fail(w, r, &scrape.ValidationError{Fields: []string{err.Error()}})
		return
	}
	rec, err := s.jobs.AppendLog(r.Context(), scrape.LogRecord{
		ID:      req.ID,
		JobID:   chi.URLParam(r, "job_id"),
		Message: req.Message,
		Level:   level,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// workerStatus records the worker's terminal report. Against a stopped job
// it becomes the stop confirmation and the status stays stopped.
func (s *Server) workerStatus(w http.ResponseWriter, r *http.Request) {
	var req WorkerStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := scrape.ParseStatus(req.Status)
	if err != nil || !status.Terminal() {
		s.fail(w, r, &scrape.ValidationError{
			Fields: []string{fmt.Sprintf("status must be completed, failed or stopped, got %q", req.Status)},
		})
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.UpdateJobStatus(r.Context(), jobID, scrape.StatusUpdate{
		Status:     status,
		ErrorText:  req.Error,
		FromWorker: true,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("worker reported",
		zap.String("job_id", jobID),
		zap.String("reported", string(status)),
		zap.String("status", string(job.Status)),
	)
	writeJSON(w, http.StatusOK, job)
}
