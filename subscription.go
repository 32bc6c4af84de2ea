package chronicle

import (
	"context"
	"sync"
	"time"
)

// Subscription is an active event subscription.
type Subscription interface {
	// Events returns the channel events are delivered on. It is closed when
	// the subscription ends.
	Events() <-chan StoredEvent

	// Close stops the subscription.
	Close() error

	// Err returns the error that ended the subscription, if any.
	Err() error
}

// EventFilter decides which events a subscription delivers.
type EventFilter interface {
	// Matches reports whether the event should be delivered.
	Matches(event StoredEvent) bool
}

// EventTypeFilter matches events by type.
type EventTypeFilter struct {
	eventTypes map[string]struct{}
}

// NewEventTypeFilter creates a filter matching only the given event types.
func NewEventTypeFilter(eventTypes ...string) *EventTypeFilter {
	f := &EventTypeFilter{eventTypes: make(map[string]struct{}, len(eventTypes))}
	for _, t := range eventTypes {
		f.eventTypes[t] = struct{}{}
	}
	return f
}

// Matches reports whether the event type is in the filter.
func (f *EventTypeFilter) Matches(event StoredEvent) bool {
	_, ok := f.eventTypes[event.Type]
	return ok
}

// CategoryFilter matches events whose stream belongs to a category.
type CategoryFilter struct {
	category string
}

// NewCategoryFilter creates a filter for one stream category.
func NewCategoryFilter(category string) *CategoryFilter {
	return &CategoryFilter{category: category}
}

// Matches reports whether the event's stream is in the category.
func (f *CategoryFilter) Matches(event StoredEvent) bool {
	streamID, err := ParseStreamID(event.StreamID)
	if err != nil {
		return false
	}
	return streamID.Category == f.category
}

// CompositeFilter combines filters with AND semantics.
type CompositeFilter struct {
	filters []EventFilter
}

// NewCompositeFilter creates a filter that matches only when all do.
func NewCompositeFilter(filters ...EventFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Matches reports whether every filter matches.
func (f *CompositeFilter) Matches(event StoredEvent) bool {
	for _, filter := range f.filters {
		if !filter.Matches(event) {
			return false
		}
	}
	return true
}

// SubscriptionOptions configures a catch-up subscription.
type SubscriptionOptions struct {
	// BufferSize is the delivery channel buffer. Default 256.
	BufferSize int

	// BatchSize is how many events are read per fetch. Default 100.
	BatchSize int

	// PollInterval bounds how long the subscription waits before checking for
	// new events when the live wakeup is quiet. Default 500ms.
	PollInterval time.Duration

	// Filter optionally restricts which events are delivered. Filtered-out
	// events still advance the position.
	Filter EventFilter
}

// DefaultSubscriptionOptions returns the defaults for NewCatchupSubscription.
func DefaultSubscriptionOptions() SubscriptionOptions {
	return SubscriptionOptions{
		BufferSize:   256,
		BatchSize:    100,
		PollInterval: 500 * time.Millisecond,
	}
}

func (o SubscriptionOptions) withDefaults() SubscriptionOptions {
	d := DefaultSubscriptionOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// CatchupSubscription delivers every event after a starting position, in
// global order, exactly once per subscription: first the stored history, then
// new events as they are appended. All reads are driven by the subscription's
// own position, so the handoff from history to live tailing has no gap and no
// duplicates; the store's live feed is used only as a wakeup to cut polling
// latency. Delivery blocks when the consumer falls behind — unlike the
// store's lossy live subscriptions, a catch-up subscription never drops.
type CatchupSubscription struct {
	store *EventStore
	opts  SubscriptionOptions

	eventCh chan StoredEvent
	stopCh  chan struct{}

	mu       sync.RWMutex
	position uint64
	err      error
	closed   bool
	started  bool
}

// NewCatchupSubscription creates a subscription starting just after
// fromPosition. Call Start to begin delivery.
func NewCatchupSubscription(store *EventStore, fromPosition uint64, opts ...SubscriptionOptions) (*CatchupSubscription, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	options := DefaultSubscriptionOptions()
	if len(opts) > 0 {
		options = opts[0].withDefaults()
	}
	return &CatchupSubscription{
		store:    store,
		opts:     options,
		position: fromPosition,
		eventCh:  make(chan StoredEvent, options.BufferSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the subscription. Calling Start twice is a no-op.
func (s *CatchupSubscription) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *CatchupSubscription) run(ctx context.Context) {
	defer close(s.eventCh)

	// The live feed only signals "something was appended"; events are always
	// fetched by position so a dropped signal costs latency, not data.
	wakeup, err := s.store.Subscribe(ctx)
	if err != nil {
		s.setErr(err)
		return
	}
	defer wakeup.Close()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		delivered, err := s.fetchAndDeliver(ctx)
		if err != nil {
			s.setErr(err)
			return
		}
		if delivered < 0 {
			return
		}
		if delivered == s.opts.BatchSize {
			// More history likely waiting; keep fetching without pausing.
			continue
		}

		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		case _, ok := <-wakeup.Events():
			if !ok {
				return
			}
		}
	}
}

// fetchAndDeliver reads one batch past the current position and delivers it.
// It returns the batch size, or -1 when the subscription was stopped.
func (s *CatchupSubscription) fetchAndDeliver(ctx context.Context) (int, error) {
	s.mu.RLock()
	position := s.position
	s.mu.RUnlock()

	events, err := s.store.ReadAll(ctx, position, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		if s.opts.Filter != nil && !s.opts.Filter.Matches(event) {
			s.advance(event.GlobalPosition)
			continue
		}

		select {
		case s.eventCh <- event:
			s.advance(event.GlobalPosition)
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.stopCh:
			return -1, nil
		}
	}
	return len(events), nil
}

func (s *CatchupSubscription) advance(position uint64) {
	s.mu.Lock()
	s.position = position
	s.mu.Unlock()
}

// Events returns the delivery channel.
func (s *CatchupSubscription) Events() <-chan StoredEvent {
	return s.eventCh
}

// Close stops the subscription.
func (s *CatchupSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return nil
}

// Err returns the error that ended the subscription, if any.
func (s *CatchupSubscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Position returns the global position of the last event the subscription
// advanced past.
func (s *CatchupSubscription) Position() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *CatchupSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
