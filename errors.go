package chronicle

import (
	"errors"
	"fmt"

	"github.com/corvid-labs/chronicle/storage"
)

// Sentinel errors for common conditions. Check them with errors.Is().
// Storage-level sentinels are aliased from the storage package so a caller can
// match an error without caring which layer produced it.
var (
	// ErrConcurrencyConflict indicates an optimistic concurrency violation on append.
	// Recoverable: reload the aggregate and retry at the caller's discretion.
	ErrConcurrencyConflict = storage.ErrConcurrencyConflict

	// ErrStreamNotFound indicates the requested stream does not exist.
	ErrStreamNotFound = storage.ErrStreamNotFound

	// ErrAggregateNotFound indicates the aggregate's stream has no events.
	ErrAggregateNotFound = errors.New("chronicle: aggregate not found")

	// ErrInvalidEvent indicates a structurally malformed event. Never retried,
	// never partially persisted.
	ErrInvalidEvent = storage.ErrInvalidEvent

	// ErrUninitializedState indicates aggregate state was accessed before any
	// event was applied. This is a programming error and is never silently
	// defaulted.
	ErrUninitializedState = errors.New("chronicle: uninitialized aggregate state")

	// ErrBusinessRule indicates a command was rejected by an aggregate invariant
	// before any event was produced.
	ErrBusinessRule = errors.New("chronicle: business rule violation")

	// ErrIDMismatch indicates an event was applied to an aggregate with a
	// different identity.
	ErrIDMismatch = errors.New("chronicle: aggregate ID mismatch")

	// ErrSerializationFailed indicates event payload encoding or decoding failed.
	ErrSerializationFailed = errors.New("chronicle: serialization failed")

	// ErrSnapshotCorrupt indicates a snapshot failed its integrity check.
	// The repository recovers by replaying the full stream.
	ErrSnapshotCorrupt = errors.New("chronicle: snapshot corrupt")

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = storage.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = storage.ErrNoEvents

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = storage.ErrInvalidVersion

	// ErrStoreClosed indicates the event store has been closed.
	ErrStoreClosed = storage.ErrAdapterClosed

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("chronicle: nil aggregate")

	// ErrNilStore indicates a nil event store was passed.
	ErrNilStore = errors.New("chronicle: nil event store")

	// ErrNotImplemented indicates an optional operation is not implemented.
	ErrNotImplemented = errors.New("chronicle: not implemented")

	// Projection registration errors.

	// ErrNilProjection indicates a nil projection was passed.
	ErrNilProjection = errors.New("chronicle: nil projection")

	// ErrEmptyProjectionName indicates a projection with an empty name.
	ErrEmptyProjectionName = errors.New("chronicle: projection name is required")

	// ErrProjectionAlreadyRegistered indicates a duplicate projection name.
	ErrProjectionAlreadyRegistered = errors.New("chronicle: projection already registered")

	// ErrProjectionNotFound indicates no projection with the given name exists.
	ErrProjectionNotFound = errors.New("chronicle: projection not found")

	// ErrEngineAlreadyRunning indicates the projection engine was started twice.
	ErrEngineAlreadyRunning = errors.New("chronicle: projection engine already running")

	// ErrNoCheckpointStore indicates the engine was started without a checkpoint store.
	ErrNoCheckpointStore = errors.New("chronicle: no checkpoint store configured")
)

// ConcurrencyError provides detailed information about a concurrency conflict.
// It carries both the expected and actual stream versions so callers can make
// automated retry decisions.
type ConcurrencyError = storage.ConcurrencyError

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return storage.NewConcurrencyError(streamID, expected, actual)
}

// StreamNotFoundError provides detailed information about a missing stream.
type StreamNotFoundError = storage.StreamNotFoundError

// AggregateNotFoundError reports a load against an aggregate with no events.
type AggregateNotFoundError struct {
	AggregateType string
	AggregateID   string
}

// Error returns the error message.
func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("chronicle: aggregate %s-%s not found", e.AggregateType, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *AggregateNotFoundError) Is(target error) bool {
	return target == ErrAggregateNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *AggregateNotFoundError) Unwrap() error {
	return ErrAggregateNotFound
}

// NewAggregateNotFoundError creates a new AggregateNotFoundError.
func NewAggregateNotFoundError(aggregateType, aggregateID string) *AggregateNotFoundError {
	return &AggregateNotFoundError{AggregateType: aggregateType, AggregateID: aggregateID}
}

// InvalidEventError reports a structurally malformed event.
type InvalidEventError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("chronicle: invalid event: %s %s", e.Field, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *InvalidEventError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *InvalidEventError) Unwrap() error {
	return ErrInvalidEvent
}

// NewInvalidEventError creates a new InvalidEventError.
func NewInvalidEventError(field, reason string) *InvalidEventError {
	return &InvalidEventError{Field: field, Reason: reason}
}

// UninitializedStateError reports state access on an aggregate that has not
// applied any event yet.
type UninitializedStateError struct {
	AggregateType string
	AggregateID   string
}

// Error returns the error message.
func (e *UninitializedStateError) Error() string {
	return fmt.Sprintf("chronicle: state of aggregate %s-%s accessed before any event was applied",
		e.AggregateType, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *UninitializedStateError) Is(target error) bool {
	return target == ErrUninitializedState
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UninitializedStateError) Unwrap() error {
	return ErrUninitializedState
}

// NewUninitializedStateError creates a new UninitializedStateError.
func NewUninitializedStateError(aggregateType, aggregateID string) *UninitializedStateError {
	return &UninitializedStateError{AggregateType: aggregateType, AggregateID: aggregateID}
}

// BusinessRuleError reports a command rejected by an aggregate invariant.
// The rejection happens before any event is produced.
type BusinessRuleError struct {
	AggregateID string
	Rule        string
}

// Error returns the error message.
func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("chronicle: business rule violated on %q: %s", e.AggregateID, e.Rule)
}

// Is reports whether this error matches the target error.
func (e *BusinessRuleError) Is(target error) bool {
	return target == ErrBusinessRule
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *BusinessRuleError) Unwrap() error {
	return ErrBusinessRule
}

// NewBusinessRuleError creates a new BusinessRuleError.
func NewBusinessRuleError(aggregateID, rule string) *BusinessRuleError {
	return &BusinessRuleError{AggregateID: aggregateID, Rule: rule}
}

// IDMismatchError reports an event applied to the wrong aggregate instance.
type IDMismatchError struct {
	AggregateID string
	StreamID    string
}

// Error returns the error message.
func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("chronicle: event from stream %q applied to aggregate %q", e.StreamID, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *IDMismatchError) Is(target error) bool {
	return target == ErrIDMismatch
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *IDMismatchError) Unwrap() error {
	return ErrIDMismatch
}

// NewIDMismatchError creates a new IDMismatchError.
func NewIDMismatchError(aggregateID, streamID string) *IDMismatchError {
	return &IDMismatchError{AggregateID: aggregateID, StreamID: streamID}
}

// SerializationError provides detailed information about a codec failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("chronicle: failed to %s event type %q: %v", e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{EventType: eventType, Operation: operation, Cause: cause}
}
