package chronicle

import (
	"time"

	"github.com/corvid-labs/chronicle/storage"
)

// Snapshot is a point-in-time capture of aggregate state at a specific
// version. Snapshots are a pure read optimization: the event log stays
// authoritative, and a missing or corrupt snapshot only costs a full replay.
type Snapshot struct {
	// StreamID identifies the aggregate stream this snapshot belongs to.
	StreamID string

	// Version is the stream version the snapshot captures.
	Version int64

	// State is the serialized aggregate state.
	State []byte

	// Checksum is the CRC-32 of State, verified on load.
	Checksum uint32

	// TakenAt is when the snapshot was created, in UTC.
	TakenAt time.Time
}

// NewSnapshot creates a checksummed snapshot of the given state.
func NewSnapshot(streamID string, version int64, state []byte) Snapshot {
	return Snapshot{
		StreamID: streamID,
		Version:  version,
		State:    state,
		Checksum: storage.SnapshotChecksum(state),
		TakenAt:  time.Now().UTC(),
	}
}

// Verify checks the snapshot's integrity. A failed check returns
// ErrSnapshotCorrupt; callers degrade to a full replay rather than fail.
func (s Snapshot) Verify() error {
	if storage.SnapshotChecksum(s.State) != s.Checksum {
		return ErrSnapshotCorrupt
	}
	return nil
}

func snapshotToRecord(s Snapshot) storage.SnapshotRecord {
	return storage.SnapshotRecord{
		StreamID: s.StreamID,
		Version:  s.Version,
		Data:     s.State,
		Checksum: s.Checksum,
		TakenAt:  s.TakenAt,
	}
}

func snapshotFromRecord(r storage.SnapshotRecord) Snapshot {
	return Snapshot{
		StreamID: r.StreamID,
		Version:  r.Version,
		State:    r.Data,
		Checksum: r.Checksum,
		TakenAt:  r.TakenAt,
	}
}

// SnapshotPolicy decides when the repository should take a new snapshot
// after a successful save.
type SnapshotPolicy interface {
	// ShouldSnapshot reports whether a snapshot is due, given the aggregate's
	// current version and the version and time of the last snapshot (0 and the
	// zero time when none exists).
	ShouldSnapshot(version, lastSnapshotVersion int64, lastTakenAt time.Time) bool
}

// SnapshotPolicyFunc adapts a function to the SnapshotPolicy interface.
type SnapshotPolicyFunc func(version, lastSnapshotVersion int64, lastTakenAt time.Time) bool

// ShouldSnapshot calls the wrapped function.
func (f SnapshotPolicyFunc) ShouldSnapshot(version, lastSnapshotVersion int64, lastTakenAt time.Time) bool {
	return f(version, lastSnapshotVersion, lastTakenAt)
}

// SnapshotEvery snapshots whenever at least n events accumulated since the
// last snapshot. n <= 0 disables snapshotting.
func SnapshotEvery(n int64) SnapshotPolicy {
	return SnapshotPolicyFunc(func(version, lastSnapshotVersion int64, _ time.Time) bool {
		if n <= 0 {
			return false
		}
		return version-lastSnapshotVersion >= n
	})
}

// SnapshotInterval snapshots when the last snapshot is older than d and at
// least one new event exists past it.
func SnapshotInterval(d time.Duration) SnapshotPolicy {
	return SnapshotPolicyFunc(func(version, lastSnapshotVersion int64, lastTakenAt time.Time) bool {
		if version <= lastSnapshotVersion {
			return false
		}
		return lastTakenAt.IsZero() || time.Since(lastTakenAt) >= d
	})
}

// SnapshotNever disables snapshotting entirely.
func SnapshotNever() SnapshotPolicy {
	return SnapshotPolicyFunc(func(_, _ int64, _ time.Time) bool {
		return false
	})
}
