// Package main hosts the lesson progress tracker entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, session and progress endpoints. The learner comes
//     from a signed bearer token when auth is enabled, otherwise from the X-Learner-ID header.
//   - Sessions: internal/tracker.Manager owns one watch estimator per viewer session. Position samples and embedded
//     player messages advance the estimate; completion and periodic watch-time syncs become progress events.
//   - Fanout: events flow through the non-blocking progress Hub to the configured sinks: the progress store
//     (memory/Postgres/SQLite), the course API, Pub/Sub, a batch archive (memory/local/GCS), Prometheus and logs.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap each request
//     when tracing is enabled.
//
// Operational notes:
//   - Idle sessions are reaped on an interval; shutdown ends every open session so its final events are delivered.
//   - Per-learner rate limiting guards the session routes; the course API client carries its own request budget.
//
// Quick checklist:
//   - Configure env vars: TRACKER_SERVER_PORT, TRACKER_AUTH_ENABLED/TRACKER_AUTH_JWT_SECRET, TRACKER_DB_DRIVER and
//     TRACKER_DB_DSN, TRACKER_BACKEND_BASE_URL, pubsub and archive settings when fanout beyond the store is needed.
//   - Run locally: go run ./cmd/tracker serve --config config.yaml (or rely solely on env overrides).
//   - With auth enabled, go run ./cmd/tracker token --learner ada@example.com prints a bearer token.
package main
