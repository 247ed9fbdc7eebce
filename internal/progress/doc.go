// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that viewer sessions use to report lesson progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such as
// the remote course API, Prometheus metrics, or persistent storage.
package progress
