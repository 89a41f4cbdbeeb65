package ingest

import (
	"context"
	"io"
	"time"
)

// Queue buffers discovered locations between the producer and the workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	// Dequeue blocks until an item is available. Once the queue is sealed and empty it
	// returns an error matching ErrDrained.
	Dequeue(ctx context.Context) (QueueItem, error)
	// Seal marks the end of discovery. Items may still be re-enqueued afterwards.
	Seal()
	Clear() int
	Len() int
}

// Converter turns a remote payload into a stored artifact.
type Converter interface {
	Convert(ctx context.Context, loc Location) (Artifact, error)
}

// ArtifactStore persists converted artifacts.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// ArtifactLister enumerates stored artifact keys.
type ArtifactLister interface {
	List(ctx context.Context) ([]string, error)
}

// ArtifactValidator checks whether stored artifact bytes are a well-formed document.
type ArtifactValidator interface {
	Validate(data []byte) error
}

// Fetcher streams the raw payload of a remote file.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// Publisher pushes artifact notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
