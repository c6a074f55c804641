package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

func modeParam(r *http.Request) (scrape.JobMode, error) {
	mode, err := scrape.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		return "", &scrape.ValidationError{Fields: []string{err.Error()}}
	}
	return mode, nil
}

func (s *Server) runOnce(w http.ResponseWriter, r *http.Request) {
	mode, err := modeParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.op.RunOnce(r.Context(), mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{JobID: job.ID, Job: job})
}

func (s *Server) startLoop(w http.ResponseWriter, r *http.Request) {
	mode, err := modeParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.op.StartLoop(r.Context(), mode); err != nil {
		// The loop stays armed when only its first fire failed.
		if view, ok := s.loopView(mode); ok && view.State == scheduler.StateArmed {
			s.logger.Warn("loop armed but first run failed", zap.String("mode", string(mode)), zap.Error(err))
		}
		s.fail(w, r, err)
		return
	}
	view, _ := s.loopView(mode)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) stopLoop(w http.ResponseWriter, r *http.Request) {
	mode, err := modeParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.op.StopLoop(mode); err != nil {
		s.fail(w, r, err)
		return
	}
	view, _ := s.loopView(mode)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) loopView(mode scrape.JobMode) (LoopView, bool) {
	for _, st := range s.op.Loops() {
		if st.Mode == mode {
			return toLoopView(st), true
		}
	}
	return LoopView{}, false
}

func (s *Server) listLoops(w http.ResponseWriter, _ *http.Request) {
	loops := s.op.Loops()
	out := LoopsResponse{Loops: make([]LoopView, 0, len(loops))}
	for _, st := range loops {
		out.Loops = append(out.Loops, toLoopView(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) showConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.op.ShowConfig())
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var req SetConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cfg, err := s.op.SetConfig(r.Context(), req.Field, req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) replaceConfig(w http.ResponseWriter, r *http.Request) {
	var req scrape.ScraperConfig
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cfg, err := s.op.ReplaceConfig(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.op.Jobs(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []scrape.Job{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

func parseJobFilter(r *http.Request) (scrape.JobFilter, error) {
	q := r.URL.Query()
	filter := scrape.JobFilter{Limit: defaultJobLimit}
	if raw := q.Get("mode"); raw != "" {
		mode, err := scrape.ParseMode(raw)
		if err != nil {
			return filter, &scrape.ValidationError{Fields: []string{err.Error()}}
		}
		filter.Mode = mode
	}
	if raw := q.Get("status"); raw != "" {
		status, err := scrape.ParseStatus(raw)
		if err != nil {
			return filter, &scrape.ValidationError{Fields: []string{err.Error()}}
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, &scrape.ValidationError{Fields: []string{"limit must be a positive integer"}}
		}
		filter.Limit = min(limit, maxJobLimit)
	}
	return filter, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.op.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.op.StopJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.op.Logs(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []scrape.LogRecord{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}
