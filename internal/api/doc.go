// Package api hosts the HTTP server for operators and the external worker.
// Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /v1/modes/{mode}/run and /v1/modes/{mode}/loop/{start,stop}.
//   - GET /v1/loops, GET/PATCH/PUT /v1/config.
//   - GET /v1/jobs, GET /v1/jobs/{job_id}, POST /v1/jobs/{job_id}/stop.
//   - GET /v1/jobs/{job_id}/logs and the websocket /v1/jobs/{job_id}/logs/stream.
//   - POST /v1/worker/jobs/{job_id}/logs and /status for worker callbacks.
package api
