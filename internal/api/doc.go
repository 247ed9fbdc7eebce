// Package api hosts the HTTP server, middleware, and REST handlers of the
// lesson tracker. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions/... to open viewer sessions, relay player samples or
//     postMessage payloads, switch lessons, and end sessions.
//   - GET /api/courses/{course_id}/progress and /lessons for persisted progress
//     via the store.ProgressRepository interface.
//
// Every /v1 and /api route is scoped to the calling learner, taken from a
// bearer JWT or, with auth disabled, the X-Learner-ID header.
package api
