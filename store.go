package chronicle

import (
	"context"
	"sync"

	"github.com/corvid-labs/chronicle/storage"
)

// DefaultSubscriberBuffer is the per-subscriber queue size used when none is
// configured.
const DefaultSubscriberBuffer = 256

// DefaultReadBatchSize is the page size used by ForEachEvent when none is given.
const DefaultReadBatchSize = 500

// EventStore is the primary interface for appending and reading events.
// It wraps a storage adapter with validation, live subscriptions and logging.
// All methods are safe for concurrent use.
type EventStore struct {
	adapter storage.Adapter
	logger  Logger

	mu               sync.RWMutex
	subscribers      map[uint64]*liveSubscriber
	nextSubscriberID uint64
	subscriberBuffer int
	closed           bool
}

// StoreOption configures an EventStore.
type StoreOption func(*EventStore)

// WithStoreLogger sets the logger used by the store.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *EventStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber queue size for live
// subscriptions. When a slow subscriber's queue fills up, the oldest queued
// event is dropped to make room and the drop is counted and logged; the
// subscriber must re-read from its last known position to recover. Lossiness
// here is deliberate — a live tail is a latency optimization, never the record.
func WithSubscriberBuffer(n int) StoreOption {
	return func(s *EventStore) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// NewEventStore creates an EventStore backed by the given adapter.
func NewEventStore(adapter storage.Adapter, opts ...StoreOption) (*EventStore, error) {
	if adapter == nil {
		return nil, ErrNilStore
	}
	s := &EventStore{
		adapter:          adapter,
		logger:           NewNopLogger(),
		subscribers:      make(map[uint64]*liveSubscriber),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Adapter returns the underlying storage adapter.
func (s *EventStore) Adapter() storage.Adapter {
	return s.adapter
}

// Initialize sets up the backing schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	return s.adapter.Initialize(ctx)
}

// Append stores events to a stream with optimistic concurrency control.
// expectedVersion is AnyVersion, NoStream, StreamExists or an exact version.
// The append is all-or-nothing; on success the stored events (with assigned
// versions and global positions) are returned and fanned out to live
// subscribers.
func (s *EventStore) Append(ctx context.Context, streamID StreamID, expectedVersion int64, events ...EventData) ([]StoredEvent, error) {
	if err := streamID.Validate(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}

	records := make([]storage.EventRecord, len(events))
	for i, e := range events {
		records[i] = storage.EventRecord{
			Type:     e.Type,
			Data:     e.Data,
			Metadata: metadataToStorage(e.Metadata),
		}
	}

	stored, err := s.adapter.Append(ctx, streamID.String(), records, expectedVersion)
	if err != nil {
		return nil, err
	}

	result := make([]StoredEvent, len(stored))
	for i, e := range stored {
		result[i] = storedEventFromStorage(e)
	}

	s.logger.Debug("events appended",
		"stream", streamID.String(),
		"count", len(result),
		"version", result[len(result)-1].Version)

	s.publish(result)
	return result, nil
}

// StreamBatch groups events destined for one stream together with that
// stream's concurrency expectation, for use with AppendBatch.
type StreamBatch struct {
	StreamID        StreamID
	ExpectedVersion int64
	Events          []EventData
}

// AppendBatch appends to several streams in a single call. Each batch is
// validated and appended with the same per-stream ordering and concurrency
// semantics as Append. Batches are processed in order and the first failure
// stops the call, returning the events stored so far alongside the error;
// atomicity holds per stream, not across the whole batch.
func (s *EventStore) AppendBatch(ctx context.Context, batches []StreamBatch) ([]StoredEvent, error) {
	if len(batches) == 0 {
		return nil, ErrNoEvents
	}

	var stored []StoredEvent
	for _, batch := range batches {
		events, err := s.Append(ctx, batch.StreamID, batch.ExpectedVersion, batch.Events...)
		if err != nil {
			return stored, err
		}
		stored = append(stored, events...)
	}
	return stored, nil
}

// ReadStream reads a stream's events in ascending version order.
// fromVersion and toVersion are inclusive; zero means unbounded. A stream
// that does not exist yields an empty slice.
func (s *EventStore) ReadStream(ctx context.Context, streamID StreamID, fromVersion, toVersion int64) ([]StoredEvent, error) {
	if err := streamID.Validate(); err != nil {
		return nil, err
	}
	if fromVersion < 0 || toVersion < 0 {
		return nil, ErrInvalidVersion
	}

	stored, err := s.adapter.Load(ctx, streamID.String(), fromVersion, toVersion)
	if err != nil {
		return nil, err
	}

	result := make([]StoredEvent, len(stored))
	for i, e := range stored {
		result[i] = storedEventFromStorage(e)
	}
	return result, nil
}

// ReadStreamBatch reads several streams in one call, returning each stream's
// events keyed by stream ID. Bounds carry the same inclusive semantics as
// ReadStream; streams without events map to empty slices.
func (s *EventStore) ReadStreamBatch(ctx context.Context, streamIDs []StreamID, fromVersion, toVersion int64) (map[StreamID][]StoredEvent, error) {
	result := make(map[StreamID][]StoredEvent, len(streamIDs))
	for _, streamID := range streamIDs {
		events, err := s.ReadStream(ctx, streamID, fromVersion, toVersion)
		if err != nil {
			return nil, err
		}
		result[streamID] = events
	}
	return result, nil
}

// ReadAll reads up to limit events across all streams with a global position
// strictly greater than fromPosition, in ascending position order, optionally
// filtered by event type.
func (s *EventStore) ReadAll(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]StoredEvent, error) {
	stored, err := s.adapter.LoadFromPosition(ctx, fromPosition, limit, eventTypes...)
	if err != nil {
		return nil, err
	}

	result := make([]StoredEvent, len(stored))
	for i, e := range stored {
		result[i] = storedEventFromStorage(e)
	}
	return result, nil
}

// ForEachEvent pages through the global log from fromPosition, invoking fn
// for each event in position order. It stops when fn returns an error, the
// context is canceled, or the log is exhausted, and returns the position of
// the last event handed to fn.
func (s *EventStore) ForEachEvent(ctx context.Context, fromPosition uint64, batchSize int, fn func(StoredEvent) error, eventTypes ...string) (uint64, error) {
	batchSize = storage.DefaultLimit(batchSize, DefaultReadBatchSize)

	position := fromPosition
	for {
		if err := ctx.Err(); err != nil {
			return position, err
		}

		batch, err := s.ReadAll(ctx, position, batchSize, eventTypes...)
		if err != nil {
			return position, err
		}
		if len(batch) == 0 {
			return position, nil
		}

		for _, event := range batch {
			if err := fn(event); err != nil {
				return position, err
			}
			position = event.GlobalPosition
		}
	}
}

// StreamVersion returns the current version of a stream, 0 if it has no events.
func (s *EventStore) StreamVersion(ctx context.Context, streamID StreamID) (int64, error) {
	if err := streamID.Validate(); err != nil {
		return 0, err
	}
	return s.adapter.StreamVersion(ctx, streamID.String())
}

// LastPosition returns the global position of the most recent event, 0 if none.
func (s *EventStore) LastPosition(ctx context.Context) (uint64, error) {
	return s.adapter.LastPosition(ctx)
}

// Ping reports backend connectivity when the adapter supports health checks.
func (s *EventStore) Ping(ctx context.Context) error {
	if hc, ok := s.adapter.(storage.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Close shuts down live subscriptions and releases the adapter.
func (s *EventStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*liveSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[uint64]*liveSubscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce()
	}
	return s.adapter.Close()
}

// liveSubscriber is one live-tail consumer with its bounded queue.
type liveSubscriber struct {
	id         uint64
	ch         chan StoredEvent
	eventTypes []string

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

func (l *liveSubscriber) closeOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// offer enqueues an event, evicting the oldest queued event when full.
// It reports how many events were evicted for this offer.
func (l *liveSubscriber) offer(event StoredEvent) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	var evicted uint64
	for {
		select {
		case l.ch <- event:
			l.dropped += evicted
			return evicted
		default:
			select {
			case <-l.ch:
				evicted++
			default:
			}
		}
	}
}

// LiveSubscription is a live tail of newly appended events. Events arrive
// after being durably stored; events from a single Append call arrive
// together in batch order, but delivery order across concurrent Append calls
// may differ from global-position order. Delivery is at-most-once with a
// bounded queue: Dropped reports how many events were evicted because the
// consumer fell behind.
type LiveSubscription struct {
	sub    *liveSubscriber
	cancel func()
}

// Events returns the subscription's event channel. The channel is closed when
// the subscription or the store is closed.
func (s *LiveSubscription) Events() <-chan StoredEvent {
	return s.sub.ch
}

// Dropped returns the number of events evicted due to a full queue.
func (s *LiveSubscription) Dropped() uint64 {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.dropped
}

// Close terminates the subscription.
func (s *LiveSubscription) Close() {
	s.cancel()
}

// Subscribe registers a live subscription for events appended after this call,
// optionally filtered by event type. The subscription ends when ctx is
// canceled, Close is called, or the store is closed. Live subscriptions are
// lossy under sustained backpressure and make no ordering guarantee across
// concurrent appends; consumers that must not miss events, or that need
// strict global-position order, should use a catch-up subscription anchored
// at a position instead.
func (s *EventStore) Subscribe(ctx context.Context, eventTypes ...string) (*LiveSubscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.nextSubscriberID++
	sub := &liveSubscriber{
		id:         s.nextSubscriberID,
		ch:         make(chan StoredEvent, s.subscriberBuffer),
		eventTypes: eventTypes,
	}
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	remove := func() {
		s.mu.Lock()
		delete(s.subscribers, sub.id)
		s.mu.Unlock()
		sub.closeOnce()
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			remove()
		}()
	}

	return &LiveSubscription{sub: sub, cancel: remove}, nil
}

// publish fans out freshly appended events to live subscribers.
func (s *EventStore) publish(events []StoredEvent) {
	s.mu.RLock()
	subs := make([]*liveSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		for _, event := range events {
			if !storage.MatchesTypes(event.Type, sub.eventTypes) {
				continue
			}
			if evicted := sub.offer(event); evicted > 0 {
				s.logger.Warn("slow subscriber, dropping oldest events",
					"subscriber", sub.id,
					"evicted", evicted,
					"position", event.GlobalPosition)
			}
		}
	}
}
