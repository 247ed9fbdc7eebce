// Package tracker manages viewer sessions. Each session owns one watch
// estimator, serialises the samples sent by its player page, and turns the
// estimator's output into progress events. Delivery is fire-and-forget through
// a progress.Emitter; the tracker never waits on sinks.
package tracker
