// Package client is the HTTP client the operator console uses to drive a
// running orchestrator service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JakeFAU/scrape-orchestrator/internal/api"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Config controls Client behavior.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the orchestrator's /v1 API.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	dialer *websocket.Dialer
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
	}, nil
}

// RunOnce starts one manual run of mode.
func (c *Client) RunOnce(ctx context.Context, mode scrape.JobMode) (api.RunResponse, error) {
	var out api.RunResponse
	err := c.do(ctx, http.MethodPost, "/v1/modes/"+string(mode)+"/run", nil, nil, &out)
	return out, err
}

// StartLoop arms the loop for mode.
func (c *Client) StartLoop(ctx context.Context, mode scrape.JobMode) (api.LoopView, error) {
	var out api.LoopView
	err := c.do(ctx, http.MethodPost, "/v1/modes/"+string(mode)+"/loop/start", nil, nil, &out)
	return out, err
}

// StopLoop disarms the loop for mode.
func (c *Client) StopLoop(ctx context.Context, mode scrape.JobMode) (api.LoopView, error) {
	var out api.LoopView
	err := c.do(ctx, http.MethodPost, "/v1/modes/"+string(mode)+"/loop/stop", nil, nil, &out)
	return out, err
}

// Loops returns both loops' status.
func (c *Client) Loops(ctx context.Context) ([]api.LoopView, error) {
	var out api.LoopsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/loops", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Loops, nil
}

// ShowConfig returns the current scraper config.
func (c *Client) ShowConfig(ctx context.Context) (scrape.ScraperConfig, error) {
	var out scrape.ScraperConfig
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, nil, &out)
	return out, err
}

// SetConfig edits one field from its string form.
func (c *Client) SetConfig(ctx context.Context, field, value string) (scrape.ScraperConfig, error) {
	var out scrape.ScraperConfig
	err := c.do(ctx, http.MethodPatch, "/v1/config", nil, api.SetConfigRequest{Field: field, Value: value}, &out)
	return out, err
}

// Jobs lists jobs matching filter, newest first.
func (c *Client) Jobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	q := url.Values{}
	if filter.Mode != "" {
		q.Set("mode", string(filter.Mode))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var out api.JobsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Job fetches one job row.
func (c *Client) Job(ctx context.Context, jobID string) (scrape.Job, error) {
	var out scrape.Job
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &out)
	return out, err
}

// StopJob requests a stop of jobID.
func (c *Client) StopJob(ctx context.Context, jobID string) (scrape.Job, error) {
	var out scrape.Job
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/stop", nil, nil, &out)
	return out, err
}

// Logs returns the stored log lines of jobID.
func (c *Client) Logs(ctx context.Context, jobID string) ([]scrape.LogRecord, error) {
	var out api.LogsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/logs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// FollowLogs streams jobID's logs to onLog until the job ends or ctx is
// done, and returns the final job row.
func (c *Client) FollowLogs(ctx context.Context, jobID string, onLog func(scrape.LogRecord)) (scrape.Job, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += "/v1/jobs/" + url.PathEscape(jobID) + "/logs/stream"

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return scrape.Job{}, responseError(resp)
		}
		return scrape.Job{}, fmt.Errorf("open log stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame api.StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return scrape.Job{}, ctx.Err()
			}
			return scrape.Job{}, fmt.Errorf("read log stream: %w", err)
		}
		switch frame.Type {
		case api.FrameLog:
			if frame.Log != nil && onLog != nil {
				onLog(*frame.Log)
			}
		case api.FrameJob:
			if frame.Job == nil {
				return scrape.Job{}, errors.New("log stream ended without a job")
			}
			return *frame.Job, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body api.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
