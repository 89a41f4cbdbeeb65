package ingest

import (
	"errors"
	"fmt"
)

// Error taxonomy of the pipeline.
var (
	// ErrConnection signals a listing open that failed after every retry attempt.
	ErrConnection = errors.New("remote connection failed")
	// ErrListingFormat signals a listing line that does not match the column grammar.
	ErrListingFormat = errors.New("malformed listing line")
	// ErrConversion signals a per-location conversion failure.
	ErrConversion = errors.New("conversion failed")
	// ErrCorruptOutput signals an existing artifact that cannot be parsed.
	ErrCorruptOutput = errors.New("corrupt output artifact")
	// ErrFatalDiscovery signals that discovery aborted and the run must end.
	ErrFatalDiscovery = errors.New("fatal discovery error")
	// ErrDrained signals a sealed queue with nothing left to hand out.
	ErrDrained = errors.New("queue drained")
)

// ConnectionError is returned when opening a listing exhausts its retry budget.
type ConnectionError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last transport error.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// DiscoveryError wraps the crawler failure that aborted discovery.
type DiscoveryError struct {
	Discovered int
	Err        error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery aborted after %d files: %v", e.Discovered, e.Err)
}

// Unwrap exposes both the sentinel and the crawler error.
func (e *DiscoveryError) Unwrap() []error {
	return []error{ErrFatalDiscovery, e.Err}
}
