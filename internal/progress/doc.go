// Package progress tracks run progress. State holds the shared counters behind a single
// mutex and Renderer draws the console bar; Hub batches lifecycle events on a
// background goroutine and fans them out to sinks such as Prometheus, the run ledger,
// or structured logs.
package progress
