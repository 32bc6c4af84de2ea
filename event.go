package chronicle

import (
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/chronicle/storage"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking, allowing append regardless of current version.
	AnyVersion = storage.AnyVersion

	// NoStream indicates the stream must not exist (for creating new streams).
	NoStream = storage.NoStream

	// StreamExists indicates the stream must exist (for appending to existing streams).
	StreamExists = storage.StreamExists
)

// StreamID uniquely identifies an event stream.
// It consists of a category (aggregate type) and an instance ID.
type StreamID struct {
	// Category is the aggregate type (e.g., "Account", "Order").
	Category string

	// ID is the unique identifier within the category.
	ID string
}

// NewStreamID creates a StreamID from category and ID.
func NewStreamID(category, id string) StreamID {
	return StreamID{Category: category, ID: id}
}

// ParseStreamID parses a stream ID string in the format "Category-ID".
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return StreamID{}, fmt.Errorf("chronicle: invalid stream ID format %q, expected 'Category-ID'", s)
	}
	return StreamID{Category: parts[0], ID: parts[1]}, nil
}

// String returns the stream ID as "Category-ID".
func (s StreamID) String() string {
	return s.Category + "-" + s.ID
}

// IsZero reports whether the StreamID is empty.
func (s StreamID) IsZero() bool {
	return s.Category == "" && s.ID == ""
}

// Validate checks if the StreamID is valid.
func (s StreamID) Validate() error {
	if s.Category == "" {
		return fmt.Errorf("chronicle: stream category is required")
	}
	if s.ID == "" {
		return fmt.Errorf("chronicle: stream ID is required")
	}
	return nil
}

// Metadata contains contextual information about an event: correlation and
// causation identity plus the acting principal.
type Metadata struct {
	// CorrelationID links related events across operations.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// Actor identifies who or what triggered this event.
	Actor string `json:"actor,omitempty"`

	// Custom contains arbitrary key-value pairs.
	Custom map[string]string `json:"custom,omitempty"`
}

// WithCorrelationID returns a copy of Metadata with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy of Metadata with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithActor returns a copy of Metadata with the actor set.
func (m Metadata) WithActor(actor string) Metadata {
	m.Actor = actor
	return m
}

// WithCustom returns a copy of Metadata with a custom key-value pair added.
func (m Metadata) WithCustom(key, value string) Metadata {
	merged := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		merged[k] = v
	}
	merged[key] = value
	m.Custom = merged
	return m
}

// IsEmpty reports whether the Metadata has no values set.
func (m Metadata) IsEmpty() bool {
	return m.CorrelationID == "" && m.CausationID == "" && m.Actor == "" && len(m.Custom) == 0
}

// EventData represents an event to be stored: the type tag, the serialized
// payload and optional metadata.
type EventData struct {
	// Type is the event type identifier (e.g., "AccountOpened").
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// NewEventData creates a new EventData with the given type and data.
func NewEventData(eventType string, data []byte) EventData {
	return EventData{Type: eventType, Data: data}
}

// WithMetadata returns a copy of EventData with the metadata set.
func (e EventData) WithMetadata(m Metadata) EventData {
	e.Metadata = m
	return e
}

// Validate checks that the event is structurally complete. Malformed events
// fail fast and are never partially persisted.
func (e EventData) Validate() error {
	if e.Type == "" {
		return NewInvalidEventError("type", "is required")
	}
	if len(e.Data) == 0 {
		return NewInvalidEventError("data", "is required")
	}
	return nil
}

// StoredEvent represents a persisted event with all storage metadata. Once
// stored, an event is immutable: it is never rewritten or deleted.
type StoredEvent struct {
	// ID is the globally unique event identifier.
	ID string

	// StreamID identifies the stream this event belongs to.
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

// Validate checks that the stored event carries every mandatory attribute.
func (e StoredEvent) Validate() error {
	if e.ID == "" {
		return NewInvalidEventError("id", "is required")
	}
	if e.StreamID == "" {
		return NewInvalidEventError("streamId", "is required")
	}
	if e.Type == "" {
		return NewInvalidEventError("type", "is required")
	}
	if e.Version < 1 {
		return NewInvalidEventError("version", "must be positive")
	}
	if e.Timestamp.IsZero() {
		return NewInvalidEventError("timestamp", "is required")
	}
	return nil
}

// Event represents a deserialized event with its payload as a Go value.
// This is the high-level representation handed to aggregates and projections.
type Event struct {
	// ID is the globally unique event identifier.
	ID string

	// StreamID identifies the stream this event belongs to.
	StreamID string

	// Type is the event type identifier.
	Type string

	// Data is the deserialized event payload.
	Data any

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position within the stream (1-based).
	Version int64

	// GlobalPosition is the total order position across all streams.
	GlobalPosition uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// EventFromStored creates an Event from a StoredEvent with its deserialized payload.
func EventFromStored(stored StoredEvent, data any) Event {
	return Event{
		ID:             stored.ID,
		StreamID:       stored.StreamID,
		Type:           stored.Type,
		Data:           data,
		Metadata:       stored.Metadata,
		Version:        stored.Version,
		GlobalPosition: stored.GlobalPosition,
		Timestamp:      stored.Timestamp,
	}
}

// Conversions between the core and storage representations.

func metadataToStorage(m Metadata) storage.Metadata {
	return storage.Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		Actor:         m.Actor,
		Custom:        m.Custom,
	}
}

func metadataFromStorage(m storage.Metadata) Metadata {
	return Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		Actor:         m.Actor,
		Custom:        m.Custom,
	}
}

func storedEventFromStorage(e storage.StoredEvent) StoredEvent {
	return StoredEvent{
		ID:             e.ID,
		StreamID:       e.StreamID,
		Type:           e.Type,
		Data:           e.Data,
		Metadata:       metadataFromStorage(e.Metadata),
		Version:        e.Version,
		GlobalPosition: e.GlobalPosition,
		Timestamp:      e.Timestamp,
	}
}
