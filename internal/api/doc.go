// Package api hosts the operator status server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the live snapshot of the current run.
//   - GET /api/runs and /api/runs/{run_id} for the run ledger via store.RunRepository.
package api
