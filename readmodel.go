package chronicle

import (
	"context"
	"errors"
	"sync"
)

// Read model errors.
var (
	// ErrNotFound indicates the requested read model was not found.
	ErrNotFound = errors.New("chronicle: not found")

	// ErrAlreadyExists indicates a read model with the same ID already exists.
	ErrAlreadyExists = errors.New("chronicle: already exists")
)

// ReadModelStore provides keyed storage for projection-built read models.
// T is the read model type; stores hand out copies, so mutating a returned
// value never affects stored state.
type ReadModelStore[T any] interface {
	// Get retrieves a read model by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (T, error)

	// GetMany retrieves multiple read models by ID. Missing IDs are skipped.
	GetMany(ctx context.Context, ids []string) ([]T, error)

	// GetAll returns every stored read model.
	GetAll(ctx context.Context) ([]T, error)

	// Search returns all read models matching the predicate.
	Search(ctx context.Context, match func(T) bool) ([]T, error)

	// Count returns the number of stored read models.
	Count(ctx context.Context) (int64, error)

	// Insert creates a new read model. Returns ErrAlreadyExists on a
	// duplicate ID.
	Insert(ctx context.Context, id string, model T) error

	// Update modifies an existing read model in place. Returns ErrNotFound
	// if absent.
	Update(ctx context.Context, id string, updateFn func(*T)) error

	// Upsert creates or replaces a read model.
	Upsert(ctx context.Context, id string, model T) error

	// Delete removes a read model by ID. Deleting an absent ID is a no-op:
	// projections replay tombstone events idempotently.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a read model with the given ID is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// Clear removes all read models. Used when a projection is rebuilt.
	Clear(ctx context.Context) error
}

// InMemoryReadModelStore is a map-backed ReadModelStore. It is safe for
// concurrent use and suitable for tests, prototypes and single-process
// deployments.
type InMemoryReadModelStore[T any] struct {
	mu   sync.RWMutex
	data map[string]T
}

// NewInMemoryReadModelStore creates an empty in-memory read model store.
func NewInMemoryReadModelStore[T any]() *InMemoryReadModelStore[T] {
	return &InMemoryReadModelStore[T]{data: make(map[string]T)}
}

// Get retrieves a read model by ID.
func (s *InMemoryReadModelStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.data[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return model, nil
}

// GetMany retrieves multiple read models by ID, skipping missing ones.
func (s *InMemoryReadModelStore[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]T, 0, len(ids))
	for _, id := range ids {
		if model, ok := s.data[id]; ok {
			results = append(results, model)
		}
	}
	return results, nil
}

// GetAll returns every stored read model.
func (s *InMemoryReadModelStore[T]) GetAll(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]T, 0, len(s.data))
	for _, model := range s.data {
		results = append(results, model)
	}
	return results, nil
}

// Search returns all read models matching the predicate.
func (s *InMemoryReadModelStore[T]) Search(ctx context.Context, match func(T) bool) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []T
	for _, model := range s.data {
		if match(model) {
			results = append(results, model)
		}
	}
	return results, nil
}

// Count returns the number of stored read models.
func (s *InMemoryReadModelStore[T]) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

// Insert creates a new read model.
func (s *InMemoryReadModelStore[T]) Insert(ctx context.Context, id string, model T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; exists {
		return ErrAlreadyExists
	}
	s.data[id] = model
	return nil
}

// Update modifies an existing read model in place.
func (s *InMemoryReadModelStore[T]) Update(ctx context.Context, id string, updateFn func(*T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	updateFn(&model)
	s.data[id] = model
	return nil
}

// Upsert creates or replaces a read model.
func (s *InMemoryReadModelStore[T]) Upsert(ctx context.Context, id string, model T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[id] = model
	return nil
}

// Delete removes a read model by ID. Absent IDs are a no-op.
func (s *InMemoryReadModelStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Exists reports whether a read model with the given ID is stored.
func (s *InMemoryReadModelStore[T]) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[id]
	return exists, nil
}

// Clear removes all read models.
func (s *InMemoryReadModelStore[T]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]T)
	return nil
}

// Len returns the number of stored read models without a context.
func (s *InMemoryReadModelStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
