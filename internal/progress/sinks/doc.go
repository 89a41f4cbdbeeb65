// Package sinks implements concrete progress consumers: Prometheus collectors, the
// run ledger, and structured logging. Each sink satisfies progress.Sink and tolerates
// repeated Consume/Close cycles.
package sinks
