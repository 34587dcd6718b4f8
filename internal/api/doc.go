// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for load balancer probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/login/access-token and /v1/users/... for the account surface
//     (Bearer session tokens).
//   - /v1/proxy/... for API key management (session) and the fetch, SERP,
//     region and status surface (X-API-Key).
package api
