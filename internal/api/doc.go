// Package api hosts the HTTP server, middleware, and REST handlers.
// Routes:
//   - POST /v1/scrape accepts a job and answers 202 with its id.
//   - GET /v1/jobs/{job_id} reports counters and lifecycle state.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
