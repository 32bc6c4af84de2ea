// Package memory provides an in-memory implementation of the chronicle storage
// contracts. It is the reference backend for tests and development; every
// invariant a durable backend must uphold is enforced here as well.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/corvid-labs/chronicle/storage"
	"github.com/google/uuid"
)

// Version constants re-exported from the storage package for convenience.
const (
	AnyVersion   = storage.AnyVersion
	NoStream     = storage.NoStream
	StreamExists = storage.StreamExists
)

// Ensure Adapter implements all storage interfaces.
var (
	_ storage.Adapter           = (*Adapter)(nil)
	_ storage.SnapshotAdapter   = (*Adapter)(nil)
	_ storage.CheckpointAdapter = (*Adapter)(nil)
	_ storage.HealthChecker     = (*Adapter)(nil)
)

// Adapter is a thread-safe in-memory event log with snapshot and checkpoint
// support. The single mutex serializes appends, which trivially satisfies the
// per-stream write serialization requirement; reads take the shared lock.
type Adapter struct {
	mu             sync.RWMutex
	streams        map[string]*stream
	globalLog      []storage.StoredEvent
	globalPosition uint64
	snapshots      map[string]storage.SnapshotRecord
	checkpoints    map[string]uint64
	closed         bool
}

type stream struct {
	version int64
	events  []storage.StoredEvent
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		streams:     make(map[string]*stream),
		snapshots:   make(map[string]storage.SnapshotRecord),
		checkpoints: make(map[string]uint64),
	}
}

// Initialize is a no-op for the memory adapter.
func (a *Adapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events to a stream with optimistic concurrency control.
// The version check and the write happen under one lock, so two concurrent
// appends with the same expected version cannot both succeed.
func (a *Adapter) Append(ctx context.Context, streamID string, events []storage.EventRecord, expectedVersion int64) ([]storage.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if streamID == "" {
		return nil, storage.ErrEmptyStreamID
	}
	if err := storage.ValidateRecords(events); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, storage.ErrAdapterClosed
	}

	s, exists := a.streams[streamID]
	var current int64
	if exists {
		current = s.version
	}

	if err := storage.CheckVersion(streamID, expectedVersion, current, exists); err != nil {
		return nil, err
	}

	if !exists {
		s = &stream{}
		a.streams[streamID] = s
	}

	now := time.Now().UTC()
	stored := make([]storage.StoredEvent, len(events))
	for i, record := range events {
		a.globalPosition++
		current++

		stored[i] = storage.StoredEvent{
			ID:             uuid.New().String(),
			StreamID:       streamID,
			Type:           record.Type,
			Data:           record.Data,
			Metadata:       record.Metadata,
			Version:        current,
			GlobalPosition: a.globalPosition,
			Timestamp:      now,
		}
		s.events = append(s.events, stored[i])
		a.globalLog = append(a.globalLog, stored[i])
	}
	s.version = current

	return stored, nil
}

// Load retrieves events for one stream in ascending version order within the
// inclusive [fromVersion, toVersion] bounds; zero means unbounded.
func (a *Adapter) Load(ctx context.Context, streamID string, fromVersion, toVersion int64) ([]storage.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if streamID == "" {
		return nil, storage.ErrEmptyStreamID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, storage.ErrAdapterClosed
	}

	s, exists := a.streams[streamID]
	if !exists {
		return []storage.StoredEvent{}, nil
	}

	events := make([]storage.StoredEvent, 0, len(s.events))
	for _, e := range s.events {
		if fromVersion > 0 && e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			break
		}
		events = append(events, e)
	}
	return events, nil
}

// LoadFromPosition retrieves up to limit events past fromPosition in global
// order, optionally filtered by event type.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]storage.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, storage.ErrAdapterClosed
	}

	limit = storage.DefaultLimit(limit, 1000)

	var events []storage.StoredEvent
	for _, e := range a.globalLog {
		if e.GlobalPosition <= fromPosition {
			continue
		}
		if !storage.MatchesTypes(e.Type, eventTypes) {
			continue
		}
		events = append(events, e)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// StreamVersion returns the current version of a stream, 0 if it has no events.
func (a *Adapter) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, storage.ErrAdapterClosed
	}

	s, exists := a.streams[streamID]
	if !exists {
		return 0, nil
	}
	return s.version, nil
}

// LastPosition returns the global position of the most recent event.
func (a *Adapter) LastPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, storage.ErrAdapterClosed
	}
	return a.globalPosition, nil
}

// Close marks the adapter closed. Subsequent operations fail with ErrAdapterClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// SaveSnapshot upserts the snapshot for a stream; the latest snapshot wins.
func (a *Adapter) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.StreamID == "" {
		return storage.ErrEmptyStreamID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.ErrAdapterClosed
	}

	a.snapshots[record.StreamID] = record
	return nil
}

// LoadSnapshot returns a copy of the stream's snapshot, or nil if none exists.
func (a *Adapter) LoadSnapshot(ctx context.Context, streamID string) (*storage.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, storage.ErrAdapterClosed
	}

	record, exists := a.snapshots[streamID]
	if !exists {
		return nil, nil
	}

	copied := record
	copied.Data = append([]byte(nil), record.Data...)
	return &copied, nil
}

// DeleteSnapshot removes the snapshot for a stream.
func (a *Adapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.ErrAdapterClosed
	}

	delete(a.snapshots, streamID)
	return nil
}

// GetCheckpoint returns the last processed position for a projection.
func (a *Adapter) GetCheckpoint(ctx context.Context, projectionName string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, storage.ErrAdapterClosed
	}
	return a.checkpoints[projectionName], nil
}

// SetCheckpoint records the last processed position for a projection.
func (a *Adapter) SetCheckpoint(ctx context.Context, projectionName string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.ErrAdapterClosed
	}

	a.checkpoints[projectionName] = position
	return nil
}

// DeleteCheckpoint removes the checkpoint for a projection.
func (a *Adapter) DeleteCheckpoint(ctx context.Context, projectionName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.ErrAdapterClosed
	}

	delete(a.checkpoints, projectionName)
	return nil
}

// AllCheckpoints returns every recorded checkpoint keyed by projection name.
func (a *Adapter) AllCheckpoints(ctx context.Context) (map[string]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, storage.ErrAdapterClosed
	}

	checkpoints := make(map[string]uint64, len(a.checkpoints))
	for name, pos := range a.checkpoints {
		checkpoints[name] = pos
	}
	return checkpoints, nil
}

// Ping reports whether the adapter is usable.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return storage.ErrAdapterClosed
	}
	return nil
}

// Reset clears all data. Useful for tests.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string]*stream)
	a.globalLog = nil
	a.globalPosition = 0
	a.snapshots = make(map[string]storage.SnapshotRecord)
	a.checkpoints = make(map[string]uint64)
}

// EventCount returns the total number of stored events.
func (a *Adapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.globalLog)
}

// StreamCount returns the number of streams with at least one event.
func (a *Adapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}
