// Package api hosts the gateway HTTP server that relays the discovery
// worker contract to dashboard code. Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discover and /v1/profiles/{name} for the two worker operations.
package api
