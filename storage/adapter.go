// Package storage defines the backend contracts for the chronicle event store.
// A backend persists the append-only event log, aggregate snapshots and
// projection checkpoints. The in-memory and PostgreSQL implementations live in
// the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Backends should return these (or errors matching via errors.Is) so callers
// can handle failures uniformly regardless of the backing engine.
var (
	// ErrConcurrencyConflict is returned when an optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("chronicle: concurrency conflict")

	// ErrStreamNotFound is returned when a stream is required to exist but does not.
	ErrStreamNotFound = errors.New("chronicle: stream not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("chronicle: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("chronicle: no events to append")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("chronicle: invalid version")

	// ErrInvalidEvent is returned when an event record is structurally malformed.
	ErrInvalidEvent = errors.New("chronicle: invalid event")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("chronicle: adapter is closed")
)

// Metadata carries contextual information alongside an event payload.
type Metadata struct {
	// CorrelationID links related events across operations.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// Actor identifies who or what triggered this event.
	Actor string `json:"actor,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// EventRecord is an event to be appended to a stream, as seen by a backend.
type EventRecord struct {
	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// Validate reports whether the record is structurally complete.
// Malformed records must be rejected before anything is persisted.
func (r EventRecord) Validate() error {
	if r.Type == "" {
		return ErrInvalidEvent
	}
	if len(r.Data) == 0 {
		return ErrInvalidEvent
	}
	return nil
}

// StoredEvent is a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position within the stream (1-based, gapless).
	Version int64

	// GlobalPosition is the total order position across all streams.
	GlobalPosition uint64

	// Timestamp is when the event was stored, in UTC.
	Timestamp time.Time
}

// SnapshotRecord is a stored aggregate snapshot. At most one snapshot is kept
// per stream; saving replaces any previous one.
type SnapshotRecord struct {
	// StreamID is the stream identifier.
	StreamID string

	// Version is the stream version the snapshot was taken at.
	Version int64

	// Data is the serialized aggregate state.
	Data []byte

	// Checksum is a CRC-32 of Data, verified on load.
	Checksum uint32

	// TakenAt is when the snapshot was taken, in UTC.
	TakenAt time.Time
}

// Adapter is the interface event log backends must implement.
type Adapter interface {
	// Append stores events to the specified stream with optimistic concurrency
	// control. expectedVersion is one of:
	//   - AnyVersion (-1): skip the version check
	//   - NoStream (0): the stream must not exist
	//   - StreamExists (-2): the stream must exist
	//   - any positive number: the stream must be at exactly this version
	// Append is all-or-nothing: either every event in the call is durably
	// assigned a version and a global position, or none is.
	Append(ctx context.Context, streamID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves events from a stream in ascending version order.
	// fromVersion and toVersion are inclusive bounds; zero means unbounded.
	// A missing stream yields an empty slice, not an error.
	Load(ctx context.Context, streamID string, fromVersion, toVersion int64) ([]StoredEvent, error)

	// LoadFromPosition retrieves up to limit events with a global position
	// strictly greater than fromPosition, in ascending position order,
	// optionally restricted to the given event types.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]StoredEvent, error)

	// StreamVersion returns the current version of a stream, 0 if it has no events.
	StreamVersion(ctx context.Context, streamID string) (int64, error)

	// LastPosition returns the global position of the most recent event, 0 if none.
	LastPosition(ctx context.Context) (uint64, error)

	// Initialize sets up any required backing schema.
	Initialize(ctx context.Context) error

	// Close releases resources held by the adapter.
	Close() error
}

// SnapshotAdapter stores aggregate snapshots to bound replay cost.
// Snapshots are a cache, never the source of truth: a missing or corrupt
// snapshot must only force a full replay, never data loss.
type SnapshotAdapter interface {
	// SaveSnapshot upserts the snapshot for a stream (latest wins).
	SaveSnapshot(ctx context.Context, record SnapshotRecord) error

	// LoadSnapshot returns the snapshot for a stream, or nil if none exists.
	LoadSnapshot(ctx context.Context, streamID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for a stream.
	DeleteSnapshot(ctx context.Context, streamID string) error
}

// CheckpointAdapter tracks the last processed global position per projection.
type CheckpointAdapter interface {
	// GetCheckpoint returns the last processed position, 0 if none recorded.
	GetCheckpoint(ctx context.Context, projectionName string) (uint64, error)

	// SetCheckpoint records the last processed position.
	SetCheckpoint(ctx context.Context, projectionName string, position uint64) error

	// DeleteCheckpoint removes the checkpoint for a projection.
	DeleteCheckpoint(ctx context.Context, projectionName string) error

	// AllCheckpoints returns every recorded checkpoint keyed by projection name.
	AllCheckpoints(ctx context.Context) (map[string]uint64, error)
}

// HealthChecker reports backend connectivity.
type HealthChecker interface {
	// Ping checks whether the adapter can reach its backend.
	Ping(ctx context.Context) error
}
