// Package main hosts the price scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts scrape jobs on POST /v1/scrape and reports progress on
//     GET /v1/jobs/{job_id}. Accepted jobs are registered in the in-memory job store and handed to the job manager.
//   - Worker pool: internal/worker bounds concurrent URL processing across all jobs (pool.size, default 50) with a
//     channel semaphore. Every URL yields exactly one record, including on panic or shutdown.
//   - Processing: internal/processor runs the primary tier's data and screenshot operations in parallel and escalates
//     only the failed dimension to the fallback tier. Screenshots are JPEG-compressed and stored in the configured
//     blob backend (memory/local/GCS).
//   - Delivery: each job owns an internal/results.Queue that flushes at batch.max_size records or batch.max_wait_ms
//     after the first buffered record. internal/dispatcher posts batches to the caller's webhook on a fixed retry
//     schedule and hands abandoned batches to the dead-letter policy (discard, or persist to Postgres/Pub/Sub).
//   - Configuration & plumbing: Viper populates config from env (SCRAPER_ prefix), an optional .env file, and an
//     optional YAML file; zap provides structured logging; Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - SIGINT/SIGTERM stops the HTTP server, cancels URLs not yet admitted to the pool, flushes every open batch
//     immediately, and waits up to server.shutdown_seconds for deliveries.
//   - Run locally: go run ./cmd/pricescraper -config config.yaml (or rely solely on env overrides).
package main
