package storage

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking. Use when concurrent modifications are acceptable.
	AnyVersion int64 = -1

	// NoStream requires the stream to not exist. Use for creating new streams.
	NoStream int64 = 0

	// StreamExists requires the stream to exist, at any version.
	StreamExists int64 = -2
)

// ExtractCategory returns the category portion of a stream ID.
// Stream IDs follow the "Category-ID" convention; the category is everything
// before the first hyphen. An ID without a hyphen is its own category.
func ExtractCategory(streamID string) string {
	if streamID == "" {
		return ""
	}
	parts := strings.SplitN(streamID, "-", 2)
	return parts[0]
}

// ConcurrencyError reports an optimistic concurrency check failure on Append.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("chronicle: concurrency conflict on stream %q: expected version %d, got %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StreamNotFoundError reports an operation against a stream that does not exist.
type StreamNotFoundError struct {
	StreamID string
}

// NewStreamNotFoundError creates a new StreamNotFoundError.
func NewStreamNotFoundError(streamID string) *StreamNotFoundError {
	return &StreamNotFoundError{StreamID: streamID}
}

// Error implements the error interface.
func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("chronicle: stream %q not found", e.StreamID)
}

// Is reports whether this error matches ErrStreamNotFound.
func (e *StreamNotFoundError) Is(target error) bool {
	return target == ErrStreamNotFound
}

// CheckVersion validates an expected version against the current stream state.
// This is the single optimistic concurrency rule shared by every backend; the
// backend must additionally enforce (streamID, version) uniqueness at the
// storage layer so the check and the write cannot race.
func CheckVersion(streamID string, expected, current int64, exists bool) error {
	switch expected {
	case AnyVersion:
		return nil
	case NoStream:
		if exists {
			return NewConcurrencyError(streamID, expected, current)
		}
		return nil
	case StreamExists:
		if !exists {
			return NewStreamNotFoundError(streamID)
		}
		return nil
	default:
		if expected < 0 {
			return ErrInvalidVersion
		}
		if current != expected {
			return NewConcurrencyError(streamID, expected, current)
		}
		return nil
	}
}

// SnapshotChecksum computes the integrity checksum stored with a snapshot.
func SnapshotChecksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ValidateRecords checks every record in an append call before anything is
// written, so a malformed event never results in a partial append.
func ValidateRecords(records []EventRecord) error {
	if len(records) == 0 {
		return ErrNoEvents
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: record %d", err, i)
		}
	}
	return nil
}

// DefaultLimit returns defaultValue when limit is not positive.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}

// MatchesTypes reports whether eventType passes the filter. An empty filter
// matches everything.
func MatchesTypes(eventType string, eventTypes []string) bool {
	if len(eventTypes) == 0 {
		return true
	}
	for _, t := range eventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
