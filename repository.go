package chronicle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corvid-labs/chronicle/storage"
)

// Repository loads and saves aggregates against an EventStore, with optional
// snapshot acceleration. The event log stays the sole source of truth: the
// repository only ever consults snapshots to shorten replay, and any snapshot
// problem silently degrades to a full replay.
type Repository struct {
	store      *EventStore
	serializer Serializer
	snapshots  storage.SnapshotAdapter
	policy     SnapshotPolicy
	logger     Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithSnapshots enables snapshot support with the given adapter and policy.
func WithSnapshots(adapter storage.SnapshotAdapter, policy SnapshotPolicy) RepositoryOption {
	return func(r *Repository) {
		r.snapshots = adapter
		r.policy = policy
	}
}

// WithRepositoryLogger sets the logger used by the repository.
func WithRepositoryLogger(logger Logger) RepositoryOption {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository creates a Repository over the given store and serializer.
func NewRepository(store *EventStore, serializer Serializer, opts ...RepositoryOption) (*Repository, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if serializer == nil {
		serializer = NewJSONSerializer()
	}
	r := &Repository{
		store:      store,
		serializer: serializer,
		policy:     SnapshotNever(),
		logger:     NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load rebuilds an aggregate's state from its stream. The aggregate must be a
// fresh instance with its ID and type already set. When a valid snapshot
// exists and the aggregate is Snapshottable, only the events past the
// snapshot version are replayed; the result is identical either way.
// An aggregate with no events and no snapshot yields AggregateNotFoundError.
func (r *Repository) Load(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID())
	if err := streamID.Validate(); err != nil {
		return err
	}

	fromVersion := int64(0)
	loadedSnapshot := false

	if snapshot, ok := r.loadSnapshot(ctx, agg, streamID); ok {
		if err := r.restoreSnapshot(agg, snapshot); err != nil {
			return err
		}
		fromVersion = snapshot.Version + 1
		loadedSnapshot = true
	}

	stored, err := r.store.ReadStream(ctx, streamID, fromVersion, 0)
	if err != nil {
		return err
	}
	if !loadedSnapshot && len(stored) == 0 {
		return NewAggregateNotFoundError(agg.AggregateType(), agg.AggregateID())
	}

	events := make([]Event, len(stored))
	for i, s := range stored {
		event, err := DeserializeEvent(r.serializer, s)
		if err != nil {
			return err
		}
		events[i] = event
	}

	return LoadFromHistory(agg, events)
}

// loadSnapshot fetches and verifies the stream's snapshot. Any failure —
// missing, unreadable, corrupt — reports no snapshot; a corrupt one is
// removed so it is not retried on every load.
func (r *Repository) loadSnapshot(ctx context.Context, agg Aggregate, streamID StreamID) (Snapshot, bool) {
	if r.snapshots == nil {
		return Snapshot{}, false
	}
	if _, ok := agg.(Snapshottable); !ok {
		return Snapshot{}, false
	}

	record, err := r.snapshots.LoadSnapshot(ctx, streamID.String())
	if err != nil {
		r.logger.Warn("snapshot load failed, replaying full stream",
			"stream", streamID.String(), "error", err)
		return Snapshot{}, false
	}
	if record == nil {
		return Snapshot{}, false
	}

	snapshot := snapshotFromRecord(*record)
	if err := snapshot.Verify(); err != nil {
		r.logger.Warn("snapshot failed integrity check, replaying full stream",
			"stream", streamID.String(), "version", snapshot.Version)
		if delErr := r.snapshots.DeleteSnapshot(ctx, streamID.String()); delErr != nil {
			r.logger.Warn("corrupt snapshot delete failed",
				"stream", streamID.String(), "error", delErr)
		}
		return Snapshot{}, false
	}
	return snapshot, true
}

func (r *Repository) restoreSnapshot(agg Aggregate, snapshot Snapshot) error {
	snapshottable := agg.(Snapshottable)
	if err := snapshottable.RestoreState(snapshot.State); err != nil {
		return fmt.Errorf("chronicle: snapshot restore failed for stream %q: %w", snapshot.StreamID, err)
	}
	if rec, ok := agg.(eventRecorder); ok {
		rec.markReplayed(snapshot.Version)
	} else if setter, ok := agg.(VersionSetter); ok {
		setter.SetVersion(snapshot.Version)
	}
	return nil
}

// Save persists the aggregate's uncommitted events. The expected version is
// the version the aggregate was loaded at, so a concurrent writer surfaces as
// ErrConcurrencyConflict and nothing is persisted. Saving an aggregate with
// no uncommitted events is a no-op. After a successful save the uncommitted
// events are cleared and the snapshot policy is consulted.
func (r *Repository) Save(ctx context.Context, agg Aggregate) error {
	return r.SaveWithMetadata(ctx, agg, Metadata{})
}

// SaveWithMetadata is Save with metadata attached to every event persisted in
// the call.
func (r *Repository) SaveWithMetadata(ctx context.Context, agg Aggregate, metadata Metadata) error {
	if agg == nil {
		return ErrNilAggregate
	}

	uncommitted := agg.UncommittedEvents()
	if len(uncommitted) == 0 {
		return nil
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID())
	if err := streamID.Validate(); err != nil {
		return err
	}

	events := make([]EventData, len(uncommitted))
	for i, event := range uncommitted {
		data, err := SerializeEvent(r.serializer, event, metadata)
		if err != nil {
			return fmt.Errorf("chronicle: failed to serialize aggregate event %d: %w", i, err)
		}
		events[i] = data
	}

	expectedVersion := agg.Version() - int64(len(uncommitted))
	if ov, ok := agg.(interface{ OriginalVersion() int64 }); ok {
		expectedVersion = ov.OriginalVersion()
	}

	if _, err := r.store.Append(ctx, streamID, expectedVersion, events...); err != nil {
		return err
	}

	agg.ClearUncommittedEvents()
	r.maybeSnapshot(ctx, agg, streamID)
	return nil
}

// Exists reports whether the aggregate's stream has at least one event.
func (r *Repository) Exists(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	version, err := r.store.StreamVersion(ctx, NewStreamID(aggregateType, aggregateID))
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return false, nil
		}
		return false, err
	}
	return version > 0, nil
}

// TakeSnapshot captures and persists a snapshot of the aggregate's current
// state regardless of policy. The aggregate must be Snapshottable.
func (r *Repository) TakeSnapshot(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}
	if r.snapshots == nil {
		return ErrNotImplemented
	}
	snapshottable, ok := agg.(Snapshottable)
	if !ok {
		return ErrNotImplemented
	}
	if agg.Version() < 1 {
		return NewUninitializedStateError(agg.AggregateType(), agg.AggregateID())
	}

	state, err := snapshottable.SnapshotState()
	if err != nil {
		return fmt.Errorf("chronicle: snapshot state capture failed: %w", err)
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID())
	snapshot := NewSnapshot(streamID.String(), agg.Version(), state)
	return r.snapshots.SaveSnapshot(ctx, snapshotToRecord(snapshot))
}

// maybeSnapshot takes a snapshot after a save when the policy says so.
// Snapshot failures are logged, never surfaced: the save already succeeded
// and the log is intact.
func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate, streamID StreamID) {
	if r.snapshots == nil || r.policy == nil {
		return
	}
	if _, ok := agg.(Snapshottable); !ok {
		return
	}

	lastVersion := int64(0)
	var lastTakenAt time.Time
	if record, err := r.snapshots.LoadSnapshot(ctx, streamID.String()); err == nil && record != nil {
		lastVersion = record.Version
		lastTakenAt = record.TakenAt
	}

	if !r.policy.ShouldSnapshot(agg.Version(), lastVersion, lastTakenAt) {
		return
	}

	if err := r.TakeSnapshot(ctx, agg); err != nil {
		r.logger.Warn("snapshot failed after save",
			"stream", streamID.String(), "version", agg.Version(), "error", err)
		return
	}
	r.logger.Debug("snapshot taken",
		"stream", streamID.String(), "version", agg.Version())
}
