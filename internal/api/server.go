package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// Operator is the orchestrator surface the API drives.
type Operator interface {
	RunOnce(ctx context.Context, mode scrape.JobMode) (scrape.Job, error)
	StartLoop(ctx context.Context, mode scrape.JobMode) error
	StopLoop(mode scrape.JobMode) error
	Loops() []orchestrator.LoopStatus
	StopJob(ctx context.Context, jobID string) (scrape.Job, error)
	Job(ctx context.Context, jobID string) (scrape.Job, error)
	Jobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error)
	Logs(ctx context.Context, jobID string) ([]scrape.LogRecord, error)
	ShowConfig() scrape.ScraperConfig
	SetConfig(ctx context.Context, field, value string) (scrape.ScraperConfig, error)
	ReplaceConfig(ctx context.Context, cfg scrape.ScraperConfig) (scrape.ScraperConfig, error)
}

// Options configures the Server.
type Options struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// Ready backs /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Middleware wraps every route, e.g. request metrics.
	Middleware     []func(http.Handler) http.Handler
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and the job store.
type Server struct {
	router chi.Router
	op     Operator
	jobs   scrape.JobStore
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(op Operator, jobs scrape.JobStore, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{op: op, jobs: jobs, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Everything but the log stream is bounded by the request timeout.
		bounded := r.With(middleware.Timeout(opts.RequestTimeout))

		bounded.Post("/modes/{mode}/run", s.runOnce)
		bounded.Post("/modes/{mode}/loop/start", s.startLoop)
		bounded.Post("/modes/{mode}/loop/stop", s.stopLoop)
		bounded.Get("/loops", s.listLoops)

		bounded.Get("/config", s.showConfig)
		bounded.Patch("/config", s.setConfig)
		bounded.Put("/config", s.replaceConfig)

		bounded.Get("/jobs", s.listJobs)
		bounded.Get("/jobs/{job_id}", s.getJob)
		bounded.Post("/jobs/{job_id}/stop", s.stopJob)
		bounded.Get("/jobs/{job_id}/logs", s.listLogs)
		r.Get("/jobs/{job_id}/logs/stream", s.streamLogs)

		bounded.Post("/worker/jobs/{job_id}/logs", s.workerLog)
		bounded.Post("/worker/jobs/{job_id}/status", s.workerStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scrape.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, scrape.ErrAlreadyRunning), errors.Is(err, scrape.ErrJobTerminal):
		return http.StatusConflict
	case errors.Is(err, scrape.ErrJobNotFound), errors.Is(err, scrape.ErrLoopNotFound):
		return http.StatusNotFound
	case errors.Is(err, scrape.ErrDispatchRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &scrape.ValidationError{Fields: []string{"invalid JSON: " + err.Error()}}
	}
	return nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
