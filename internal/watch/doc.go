// Package watch estimates how much of a lesson video a viewer actually watched.
// An Estimator consumes (currentTime, duration) samples reported by an embedded
// player, accumulates only plausible forward deltas, and reports two kinds of
// events: a one-time LessonCompleted once playback passes the completion
// threshold, and a SyncWatchTime heartbeat each time the accumulated watch time
// crosses a sync boundary. The package is pure: it never blocks, performs no
// I/O, and never returns errors for bad input.
package watch
