package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageDiscovered    Stage = "DISCOVERED"
	StageDiscoveryDone Stage = "DISCOVERY_DONE"
	StageProcessed     Stage = "PROCESSED"
	StageSkipped       Stage = "SKIPPED"
	StageRequeued      Stage = "REQUEUED"
	StageFailed        Stage = "FAILED"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
)

// Event captures one milestone of an ingestion run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Location is the remote file the event refers to, for per-location stages.
	Location string
	// Key is the artifact key written or checked.
	Key string
	// Bytes is the artifact size for processed locations.
	Bytes int64
	// Count carries the discovered total on DISCOVERY_DONE and RUN_DONE.
	Count int64
	// Dur is the conversion time, or the run wall time on RUN_DONE / RUN_ERROR.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageDiscoveryDone, StageRunDone, StageRunError:
	case StageDiscovered, StageProcessed, StageSkipped, StageRequeued, StageFailed:
		if e.Location == "" {
			return fmt.Errorf("%s requires location", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PerLocation reports whether the stage describes a single location.
func (s Stage) PerLocation() bool {
	switch s {
	case StageDiscovered, StageProcessed, StageSkipped, StageRequeued, StageFailed:
		return true
	default:
		return false
	}
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
