// Package sinks implements concrete progress consumers: structured logging,
// Prometheus, the local progress repository, the remote course API, a message
// bus and a blob archive. Each sink satisfies the progress.Sink interface and
// is safe for repeated Consume/Close cycles.
package sinks
