package chronicle

// Aggregate is an event-sourced domain object: a pure state machine whose
// state is derived entirely from its own event stream.
//
// ApplyEvent is the aggregate's reducer. It must be deterministic — replaying
// the same event sequence must always yield the same state — because both
// snapshotting and projections depend on that property. Version bookkeeping
// is handled by the library (Raise, LoadFromHistory), never by the reducer.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the category of this aggregate (e.g., "Account").
	AggregateType() string

	// Version returns the version of the last applied event, 0 if none.
	Version() int64

	// ApplyEvent folds an event into the aggregate's state.
	ApplyEvent(event any) error

	// UncommittedEvents returns events raised but not yet persisted.
	UncommittedEvents() []any

	// ClearUncommittedEvents discards raised events after successful persistence.
	// It must not be called until the event store has confirmed the append.
	ClearUncommittedEvents()
}

// VersionSetter is implemented by aggregates whose version can be set
// directly. AggregateBase implements it; it is used during load and save.
type VersionSetter interface {
	SetVersion(v int64)
}

// Snapshottable is implemented by aggregates that can capture and restore
// their state as an opaque blob, enabling snapshot-accelerated loads.
type Snapshottable interface {
	// SnapshotState returns the serialized aggregate state.
	SnapshotState() ([]byte, error)

	// RestoreState replaces the aggregate's state from a snapshot blob.
	// Implementations must tolerate blobs written by older schema versions.
	RestoreState(data []byte) error
}

// AggregateFactory creates an empty aggregate instance for the given ID.
type AggregateFactory func(id string) Aggregate

// AggregateBase provides the bookkeeping half of the Aggregate interface.
// Embed it in domain types; the domain type supplies ApplyEvent.
type AggregateBase struct {
	id                string
	aggregateType     string
	version           int64
	originalVersion   int64
	initialized       bool
	uncommittedEvents []any
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{id: id, aggregateType: aggregateType}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate category.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the version of the last applied event.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// SetVersion sets the aggregate version directly.
func (a *AggregateBase) SetVersion(v int64) {
	a.version = v
	if v > 0 {
		a.initialized = true
	}
}

// OriginalVersion returns the version the aggregate had when it was loaded,
// before any new events were raised. It is the expected version for the next
// append.
func (a *AggregateBase) OriginalVersion() int64 {
	return a.originalVersion
}

// StreamID returns the stream identity for this aggregate.
func (a *AggregateBase) StreamID() StreamID {
	return NewStreamID(a.aggregateType, a.id)
}

// Initialized reports whether at least one event has been applied.
func (a *AggregateBase) Initialized() bool {
	return a.initialized
}

// EnsureInitialized returns an UninitializedStateError when no event has been
// applied yet. Domain state accessors should call it instead of returning
// zero values for an aggregate that never existed.
func (a *AggregateBase) EnsureInitialized() error {
	if !a.initialized {
		return NewUninitializedStateError(a.aggregateType, a.id)
	}
	return nil
}

// UncommittedEvents returns events raised but not yet persisted.
func (a *AggregateBase) UncommittedEvents() []any {
	return a.uncommittedEvents
}

// ClearUncommittedEvents discards raised events and advances the original
// version to the current one. Call only after a confirmed append.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommittedEvents = nil
	a.originalVersion = a.version
}

// HasUncommittedEvents reports whether events are waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommittedEvents) > 0
}

// recordRaised tracks a newly raised event and assigns it the next version.
func (a *AggregateBase) recordRaised(event any) {
	a.uncommittedEvents = append(a.uncommittedEvents, event)
	a.version++
	a.initialized = true
}

// markReplayed advances the version after a historical event was applied.
func (a *AggregateBase) markReplayed(version int64) {
	a.version = version
	a.originalVersion = version
	a.initialized = true
}

// eventRecorder is the unexported hook Raise and LoadFromHistory use to reach
// the AggregateBase bookkeeping through the embedding aggregate.
type eventRecorder interface {
	recordRaised(event any)
	markReplayed(version int64)
}

// Raise folds a new event into the aggregate and records it as uncommitted.
// The event receives the next sequential version. Command handlers call Raise
// once per produced event, after all business invariants have been checked —
// a rejected command must not raise anything.
func Raise(agg Aggregate, event any) error {
	if agg == nil {
		return ErrNilAggregate
	}
	if err := agg.ApplyEvent(event); err != nil {
		return err
	}
	if rec, ok := agg.(eventRecorder); ok {
		rec.recordRaised(event)
	}
	return nil
}

// LoadFromHistory replays historical events into the aggregate in order.
// Each event's stream identity must match the aggregate; a mismatch aborts
// the replay with an IDMismatchError before the event is folded.
func LoadFromHistory(agg Aggregate, events []Event) error {
	if agg == nil {
		return ErrNilAggregate
	}

	expected := BuildStreamID(agg.AggregateType(), agg.AggregateID())
	for _, event := range events {
		if event.StreamID != expected {
			return NewIDMismatchError(expected, event.StreamID)
		}
		if err := agg.ApplyEvent(event.Data); err != nil {
			return err
		}
		if rec, ok := agg.(eventRecorder); ok {
			rec.markReplayed(event.Version)
		} else if setter, ok := agg.(VersionSetter); ok {
			setter.SetVersion(event.Version)
		}
	}
	return nil
}

// LoadFromSnapshot restores the aggregate from a snapshot and then replays
// only the events past the snapshot version. The result must be identical to
// a full replay from version 1 — that equivalence is the correctness property
// snapshotting rests on, and the repository's tests hold it to account.
func LoadFromSnapshot(agg Aggregate, snapshot Snapshot, tail []Event) error {
	if agg == nil {
		return ErrNilAggregate
	}

	snapshottable, ok := agg.(Snapshottable)
	if !ok {
		return ErrNotImplemented
	}

	if err := snapshottable.RestoreState(snapshot.State); err != nil {
		return err
	}
	if rec, ok := agg.(eventRecorder); ok {
		rec.markReplayed(snapshot.Version)
	} else if setter, ok := agg.(VersionSetter); ok {
		setter.SetVersion(snapshot.Version)
	}

	return LoadFromHistory(agg, tail)
}
