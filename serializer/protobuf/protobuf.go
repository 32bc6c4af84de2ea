// Package protobuf provides a Protocol Buffers serializer for chronicle.
//
// Only types implementing proto.Message can be serialized here; for plain Go
// structs use the JSON or MessagePack serializers. Deserialization requires
// registration — there is no generic fallback representation for a protobuf
// payload without its message descriptor.
package protobuf

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"

	chronicle "github.com/corvid-labs/chronicle"
)

var (
	// ErrNotProtoMessage indicates the event does not implement proto.Message.
	ErrNotProtoMessage = errors.New("chronicle/protobuf: event must implement proto.Message")

	// ErrTypeNotRegistered indicates the event type tag has no registration.
	ErrTypeNotRegistered = errors.New("chronicle/protobuf: event type not registered")
)

// Serializer implements chronicle.Serializer using Protocol Buffers.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

var _ chronicle.Serializer = (*Serializer)(nil)

// NewSerializer creates a protobuf serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{registry: make(map[string]reflect.Type)}
}

// Register adds an event type to the registry. The example must implement
// proto.Message (directly or through its pointer type).
func (s *Serializer) Register(eventType string, example any) error {
	if !implementsProtoMessage(example) {
		return chronicle.NewSerializationError(eventType, "register", ErrNotProtoMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
	return nil
}

// MustRegister registers an event type and panics on error.
func (s *Serializer) MustRegister(eventType string, example any) {
	if err := s.Register(eventType, example); err != nil {
		panic(err)
	}
}

// Lookup returns the registered type for an event type tag.
func (s *Serializer) Lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.registry[eventType]
	return t, ok
}

// Serialize converts a proto.Message event to its wire format.
func (s *Serializer) Serialize(event any) ([]byte, error) {
	if event == nil {
		return nil, chronicle.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	msg, ok := asProtoMessage(event)
	if !ok {
		return nil, chronicle.NewSerializationError(reflect.TypeOf(event).String(), "serialize", ErrNotProtoMessage)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, chronicle.NewSerializationError(reflect.TypeOf(event).String(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts protobuf wire bytes back to an event value.
// An empty payload is valid: a message whose fields are all zero marshals to
// zero bytes.
func (s *Serializer) Deserialize(data []byte, eventType string) (any, error) {
	if data == nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be nil"))
	}

	t, ok := s.Lookup(eventType)
	if !ok {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", ErrTypeNotRegistered)
	}

	ptr := reflect.New(t)
	msg, ok := ptr.Interface().(proto.Message)
	if !ok {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", ErrNotProtoMessage)
	}

	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

func implementsProtoMessage(event any) bool {
	if _, ok := event.(proto.Message); ok {
		return true
	}
	t := reflect.TypeOf(event)
	if t == nil {
		return false
	}
	if t.Kind() != reflect.Ptr {
		t = reflect.PointerTo(t)
	}
	return t.Implements(reflect.TypeOf((*proto.Message)(nil)).Elem())
}

func asProtoMessage(event any) (proto.Message, bool) {
	if msg, ok := event.(proto.Message); ok {
		return msg, true
	}
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Struct && v.CanInterface() {
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		if msg, ok := ptr.Interface().(proto.Message); ok {
			return msg, true
		}
	}
	return nil, false
}
