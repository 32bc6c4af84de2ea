package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corvid-labs/chronicle/storage"
)

// Projection derives a read model from the event log. Projections are pure
// consumers: they never write events, and replaying the same events in the
// same order must always produce the same read model.
type Projection interface {
	// Name returns the unique identifier for this projection, used for
	// checkpointing and management.
	Name() string

	// HandledEvents returns the event types this projection consumes.
	// An empty list means all event types.
	HandledEvents() []string

	// Apply processes a single event. Events arrive in global position order.
	Apply(ctx context.Context, event Event) error
}

// BatchProjection is a Projection that can process events in batches.
// Implementations that cannot batch should return ErrNotImplemented from
// ApplyBatch to fall back to sequential Apply calls.
type BatchProjection interface {
	Projection

	// ApplyBatch processes multiple events in order.
	ApplyBatch(ctx context.Context, events []Event) error
}

// LiveProjection receives events in real time for dashboards and
// notifications. Live projections are transient: they are not checkpointed
// and missed events are not replayed to them.
type LiveProjection interface {
	// Name returns the unique identifier for this projection.
	Name() string

	// HandledEvents returns the event types this projection consumes.
	HandledEvents() []string

	// OnEvent is called for each event as it is appended. It must not block
	// for long periods.
	OnEvent(ctx context.Context, event Event)
}

// ProjectionState represents the lifecycle state of a managed projection.
type ProjectionState string

const (
	// ProjectionStateStopped indicates the projection is not running.
	ProjectionStateStopped ProjectionState = "stopped"

	// ProjectionStateCatchingUp indicates the projection is replaying
	// history toward the head of the log.
	ProjectionStateCatchingUp ProjectionState = "catching_up"

	// ProjectionStateRunning indicates the projection is at the head and
	// processing new events as they arrive.
	ProjectionStateRunning ProjectionState = "running"

	// ProjectionStateRebuilding indicates the projection is being rebuilt
	// from the beginning of the log.
	ProjectionStateRebuilding ProjectionState = "rebuilding"

	// ProjectionStateFaulted indicates the projection stopped on an error.
	ProjectionStateFaulted ProjectionState = "faulted"
)

// ProjectionStatus describes a managed projection's current state.
type ProjectionStatus struct {
	// Name is the projection name.
	Name string

	// State is the current lifecycle state.
	State ProjectionState

	// LastPosition is the global position of the last processed event.
	LastPosition uint64

	// EventsProcessed is the total number of events processed since start.
	EventsProcessed uint64

	// LastProcessedAt is when the last event was processed.
	LastProcessedAt time.Time

	// Lag is the number of positions behind the head of the log.
	Lag uint64

	// Error is the message of the fault when State is faulted.
	Error string
}

// CheckpointStore tracks the last processed global position per projection.
// A checkpoint is written only after the events up to it have been fully
// applied, so a crash between the two replays events rather than losing them.
type CheckpointStore interface {
	// GetCheckpoint returns the last processed position, 0 if none exists.
	GetCheckpoint(ctx context.Context, projectionName string) (uint64, error)

	// SetCheckpoint stores the last processed position.
	SetCheckpoint(ctx context.Context, projectionName string, position uint64) error

	// DeleteCheckpoint removes the checkpoint for a projection.
	DeleteCheckpoint(ctx context.Context, projectionName string) error

	// GetAllCheckpoints returns checkpoints for all projections.
	GetAllCheckpoints(ctx context.Context) (map[string]uint64, error)
}

// adapterCheckpointStore adapts a storage.CheckpointAdapter to CheckpointStore.
type adapterCheckpointStore struct {
	adapter storage.CheckpointAdapter
}

// NewCheckpointStore wraps a storage checkpoint adapter as a CheckpointStore.
func NewCheckpointStore(adapter storage.CheckpointAdapter) CheckpointStore {
	return &adapterCheckpointStore{adapter: adapter}
}

func (s *adapterCheckpointStore) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	return s.adapter.GetCheckpoint(ctx, name)
}

func (s *adapterCheckpointStore) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	return s.adapter.SetCheckpoint(ctx, name, position)
}

func (s *adapterCheckpointStore) DeleteCheckpoint(ctx context.Context, name string) error {
	return s.adapter.DeleteCheckpoint(ctx, name)
}

func (s *adapterCheckpointStore) GetAllCheckpoints(ctx context.Context) (map[string]uint64, error) {
	return s.adapter.AllCheckpoints(ctx)
}

// ProjectionBase provides Name and HandledEvents for projection types.
type ProjectionBase struct {
	name          string
	handledEvents []string
}

// NewProjectionBase creates a ProjectionBase.
func NewProjectionBase(name string, handledEvents ...string) ProjectionBase {
	return ProjectionBase{name: name, handledEvents: handledEvents}
}

// Name returns the projection name.
func (p *ProjectionBase) Name() string {
	return p.name
}

// HandledEvents returns the event types this projection consumes.
func (p *ProjectionBase) HandledEvents() []string {
	return p.handledEvents
}

// HandlesEvent reports whether the projection consumes the given event type.
func (p *ProjectionBase) HandlesEvent(eventType string) bool {
	if len(p.handledEvents) == 0 {
		return true
	}
	for _, et := range p.handledEvents {
		if et == eventType {
			return true
		}
	}
	return false
}

// KeyedProjection maintains a keyed read model: each handled event maps to an
// upsert or a delete of one entry in a ReadModelStore. Deletes act as
// tombstones — deleting an absent key is a no-op, which keeps replays
// idempotent.
type KeyedProjection[T any] struct {
	name     string
	store    ReadModelStore[T]
	key      func(Event) string
	handlers map[string]keyedHandler[T]
	types    []string
}

type keyedHandler[T any] struct {
	apply  func(ctx context.Context, event Event, current *T) (T, error)
	delete bool
}

// NewKeyedProjection creates a keyed projection over the given store.
// key derives the read model key from an event; by default it is the event's
// stream ID.
func NewKeyedProjection[T any](name string, store ReadModelStore[T], key func(Event) string) *KeyedProjection[T] {
	if key == nil {
		key = func(e Event) string { return e.StreamID }
	}
	return &KeyedProjection[T]{
		name:     name,
		store:    store,
		key:      key,
		handlers: make(map[string]keyedHandler[T]),
	}
}

// On registers an upsert handler for an event type. current is nil when no
// entry exists for the key yet; the returned value replaces the entry.
// A nil handler panics at registration rather than at apply time.
func (p *KeyedProjection[T]) On(eventType string, apply func(ctx context.Context, event Event, current *T) (T, error)) *KeyedProjection[T] {
	if apply == nil {
		panic(fmt.Sprintf("chronicle: projection %q registered a nil handler for event type %q", p.name, eventType))
	}
	p.handlers[eventType] = keyedHandler[T]{apply: apply}
	p.types = append(p.types, eventType)
	return p
}

// OnDelete registers a tombstone handler: the event removes the entry for its
// key. Subsequent events for the same key re-create the entry only through an
// On handler.
func (p *KeyedProjection[T]) OnDelete(eventType string) *KeyedProjection[T] {
	p.handlers[eventType] = keyedHandler[T]{delete: true}
	p.types = append(p.types, eventType)
	return p
}

// Name returns the projection name.
func (p *KeyedProjection[T]) Name() string {
	return p.name
}

// HandledEvents returns the registered event types.
func (p *KeyedProjection[T]) HandledEvents() []string {
	return p.types
}

// Store returns the read model store backing the projection.
func (p *KeyedProjection[T]) Store() ReadModelStore[T] {
	return p.store
}

// Apply routes the event to its registered handler. An event type in the
// handled set without a handler is a programming error and fails fast rather
// than being silently skipped.
func (p *KeyedProjection[T]) Apply(ctx context.Context, event Event) error {
	handler, ok := p.handlers[event.Type]
	if !ok {
		return fmt.Errorf("chronicle: projection %q has no handler for event type %q", p.name, event.Type)
	}

	k := p.key(event)
	if handler.delete {
		return p.store.Delete(ctx, k)
	}

	var current *T
	if existing, err := p.store.Get(ctx, k); err == nil {
		current = &existing
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	updated, err := handler.apply(ctx, event, current)
	if err != nil {
		return err
	}
	return p.store.Upsert(ctx, k, updated)
}

// Reset clears the read model. Called when the projection is rebuilt.
func (p *KeyedProjection[T]) Reset(ctx context.Context) error {
	return p.store.Clear(ctx)
}

// CompositeProjection fans one event stream out to several child projections
// under a single checkpoint. A failing child is marked faulted and skipped
// from then on; its siblings keep processing. The composite only reports an
// error when every child has faulted.
type CompositeProjection struct {
	name     string
	children []Projection
	logger   Logger

	mu      sync.RWMutex
	faulted map[string]error
}

// NewCompositeProjection creates a composite over the given children.
// Child names must be unique.
func NewCompositeProjection(name string, logger Logger, children ...Projection) (*CompositeProjection, error) {
	if name == "" {
		return nil, ErrEmptyProjectionName
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	seen := make(map[string]struct{}, len(children))
	for _, child := range children {
		if child == nil {
			return nil, ErrNilProjection
		}
		if child.Name() == "" {
			return nil, ErrEmptyProjectionName
		}
		if _, dup := seen[child.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrProjectionAlreadyRegistered, child.Name())
		}
		seen[child.Name()] = struct{}{}
	}
	return &CompositeProjection{
		name:     name,
		children: children,
		logger:   logger,
		faulted:  make(map[string]error),
	}, nil
}

// Name returns the composite's name.
func (c *CompositeProjection) Name() string {
	return c.name
}

// HandledEvents returns the union of the children's handled event types.
// Any child handling all events makes the composite handle all events.
func (c *CompositeProjection) HandledEvents() []string {
	var union []string
	seen := make(map[string]struct{})
	for _, child := range c.children {
		types := child.HandledEvents()
		if len(types) == 0 {
			return nil
		}
		for _, t := range types {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				union = append(union, t)
			}
		}
	}
	return union
}

// Apply delivers the event to every healthy child that handles its type.
func (c *CompositeProjection) Apply(ctx context.Context, event Event) error {
	for _, child := range c.children {
		if c.isFaulted(child.Name()) {
			continue
		}
		if !projectionHandles(child, event.Type) {
			continue
		}
		if err := child.Apply(ctx, event); err != nil {
			c.markFaulted(child.Name(), err)
			c.logger.Error("projection faulted, isolating from siblings",
				"composite", c.name,
				"projection", child.Name(),
				"position", event.GlobalPosition,
				"error", err)
		}
	}

	if c.allFaulted() {
		return fmt.Errorf("chronicle: all projections in composite %q faulted", c.name)
	}
	return nil
}

// FaultedChildren returns the names and errors of faulted children.
func (c *CompositeProjection) FaultedChildren() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.faulted))
	for name, err := range c.faulted {
		out[name] = err
	}
	return out
}

// ClearFaults restores faulted children to processing, typically before a
// rebuild.
func (c *CompositeProjection) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faulted = make(map[string]error)
}

func (c *CompositeProjection) isFaulted(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.faulted[name]
	return ok
}

func (c *CompositeProjection) markFaulted(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faulted[name] = err
}

func (c *CompositeProjection) allFaulted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.children) > 0 && len(c.faulted) == len(c.children)
}

// projectionHandles reports whether a projection consumes the given type.
func projectionHandles(p interface{ HandledEvents() []string }, eventType string) bool {
	types := p.HandledEvents()
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// Resettable is implemented by projections that can wipe their read model
// ahead of a rebuild.
type Resettable interface {
	Reset(ctx context.Context) error
}
