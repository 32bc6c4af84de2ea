// Package msgpack provides a MessagePack serializer for chronicle.
//
// MessagePack produces smaller payloads than JSON with the same schema
// flexibility, which matters for high-volume event streams.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	serializer.Register("AccountOpened", AccountOpened{})
package msgpack

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	chronicle "github.com/corvid-labs/chronicle"
)

// Serializer is a MessagePack implementation of chronicle.Serializer.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

var _ chronicle.Serializer = (*Serializer)(nil)

// NewSerializer creates a MessagePack Serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{registry: make(map[string]reflect.Type)}
}

// Register adds a mapping from eventType to the Go type of example.
func (s *Serializer) Register(eventType string, example any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// RegisterAll registers multiple events using their struct names as type tags.
func (s *Serializer) RegisterAll(examples ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, example := range examples {
		t := reflect.TypeOf(example)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		s.registry[t.Name()] = t
	}
}

// Lookup returns the Go type for an event type tag.
func (s *Serializer) Lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.registry[eventType]
	return t, ok
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event any) ([]byte, error) {
	if event == nil {
		return nil, chronicle.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, chronicle.NewSerializationError(reflect.TypeOf(event).Name(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to an event. Unregistered type
// tags decode into a map so retired event types still replay.
func (s *Serializer) Deserialize(data []byte, eventType string) (any, error) {
	if len(data) == 0 {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.Lookup(eventType)
	if !ok {
		var result map[string]any
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}
