// Package ingest defines the core types and interfaces shared by the
// ingestion pipeline: listing records, queue items, artifacts and the
// collaborators the workers call into.
package ingest

import (
	"path"
	"strings"
	"time"
)

// Location is an absolute addressable path (or URL) to a remote file or directory.
type Location string

// String returns the location as a plain string.
func (l Location) String() string {
	return string(l)
}

// Base returns the last path element of the location.
func (l Location) Base() string {
	return path.Base(strings.TrimSuffix(string(l), "/"))
}

// Record is a single entry of a remote directory listing.
type Record struct {
	Name        string
	IsDirectory bool
	Permissions string
}

// QueueItem wraps a discovered location waiting for a worker.
type QueueItem struct {
	Location Location
	// Attempt counts how many times the location was handed to a worker in this run.
	Attempt int
	// Requeued is set when an existing artifact was found corrupted; requeued items
	// bypass the resumability check so they are reconverted exactly once.
	Requeued bool
}

// Artifact describes a converted output written to the artifact store.
type Artifact struct {
	Source   Location
	Key      string
	URI      string
	Hash     string
	Bytes    int64
	Duration time.Duration
}

// OutputKey derives the deterministic artifact key for a source location: the
// file name without its extension plus ext.
func OutputKey(loc Location, ext string) string {
	name := loc.Base()
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	if ext == "" {
		ext = ".geojson"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}
