// Package worker implements the HTTP client for the external scraping worker.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Config controls Client behavior.
type Config struct {
	// URL is the worker endpoint that accepts dispatch requests.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds how long acceptance may take. The worker is expected to
	// answer as soon as it has queued the job, not when it finishes.
	Timeout time.Duration
}

// Client posts dispatch requests to the worker.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("worker url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Dispatch sends req and waits only for acceptance. Any non-2xx status or
// transport error is reported as scrape.ErrDispatchRejected.
func (c *Client) Dispatch(ctx context.Context, req scrape.DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", scrape.ErrDispatchRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", scrape.ErrDispatchRejected, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close worker response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: worker returned %d: %s",
			scrape.ErrDispatchRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	c.logger.Debug("worker accepted dispatch",
		zap.String("job_id", req.JobID),
		zap.String("mode", string(req.Mode)),
		zap.Int("page", req.PageNum),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}
