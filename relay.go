package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher delivers stored events to an external system: a message broker,
// a topic, a webhook. Publish must be idempotent from the consumer's point of
// view or tolerate redelivery, because the relay guarantees at-least-once.
type Publisher interface {
	// Publish delivers a batch of events in order.
	Publish(ctx context.Context, events []StoredEvent) error

	// Close releases resources held by the publisher.
	Close() error
}

// RelayRoute binds a named publisher to a slice of the event log.
type RelayRoute struct {
	// Name identifies the route; it keys the route's checkpoint.
	Name string

	// Filter restricts which events the route publishes. Nil publishes all.
	Filter EventFilter

	// Publisher receives the route's events.
	Publisher Publisher
}

// EventRelay forwards stored events to external publishers. Each route runs
// independently with its own checkpoint, so one slow broker never holds back
// another, and a restart resumes where the route left off. Delivery is
// at-least-once: the checkpoint advances only after a successful publish.
type EventRelay struct {
	store       *EventStore
	checkpoints CheckpointStore
	logger      Logger

	batchSize    int
	pollInterval time.Duration
	retry        RetryPolicy

	mu     sync.Mutex
	routes []RelayRoute

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// RelayOption configures an EventRelay.
type RelayOption func(*EventRelay)

// WithRelayLogger sets the relay's logger.
func WithRelayLogger(logger Logger) RelayOption {
	return func(r *EventRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRelayBatchSize sets how many events are published per batch.
func WithRelayBatchSize(size int) RelayOption {
	return func(r *EventRelay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithRelayPollInterval sets how often routes poll for new events when idle.
func WithRelayPollInterval(interval time.Duration) RelayOption {
	return func(r *EventRelay) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithRelayRetryPolicy sets the backoff policy for failed publishes.
func WithRelayRetryPolicy(policy RetryPolicy) RelayOption {
	return func(r *EventRelay) {
		if policy != nil {
			r.retry = policy
		}
	}
}

// NewEventRelay creates a relay over the given store and checkpoint store.
func NewEventRelay(store *EventStore, checkpoints CheckpointStore, opts ...RelayOption) (*EventRelay, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if checkpoints == nil {
		return nil, ErrNoCheckpointStore
	}
	r := &EventRelay{
		store:        store,
		checkpoints:  checkpoints,
		logger:       NewNopLogger(),
		batchSize:    100,
		pollInterval: 200 * time.Millisecond,
		retry:        ExponentialBackoffRetry(10, 100*time.Millisecond, 30*time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AddRoute registers a route. Must be called before Start.
func (r *EventRelay) AddRoute(route RelayRoute) error {
	if route.Name == "" {
		return fmt.Errorf("chronicle: relay route name is required")
	}
	if route.Publisher == nil {
		return fmt.Errorf("chronicle: relay route %q has no publisher", route.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.routes {
		if existing.Name == route.Name {
			return fmt.Errorf("chronicle: relay route %q already registered", route.Name)
		}
	}
	r.routes = append(r.routes, route)
	return nil
}

// Start launches one forwarding goroutine per route.
func (r *EventRelay) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrEngineAlreadyRunning
	}
	r.stopCh = make(chan struct{})

	r.mu.Lock()
	routes := make([]RelayRoute, len(r.routes))
	copy(routes, r.routes)
	r.mu.Unlock()

	for _, route := range routes {
		r.wg.Add(1)
		go r.runRoute(ctx, route)
	}

	r.logger.Info("event relay started", "routes", len(routes))
	return nil
}

// Stop gracefully stops all routes and closes their publishers.
func (r *EventRelay) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, route := range r.routes {
		if err := route.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", route.Name, err))
		}
	}
	r.logger.Info("event relay stopped")
	return errors.Join(errs...)
}

// checkpointKey namespaces relay checkpoints away from projection names.
func (r *EventRelay) checkpointKey(routeName string) string {
	return "relay:" + routeName
}

func (r *EventRelay) runRoute(ctx context.Context, route RelayRoute) {
	defer r.wg.Done()

	key := r.checkpointKey(route.Name)
	position, err := r.checkpoints.GetCheckpoint(ctx, key)
	if err != nil {
		r.logger.Error("relay checkpoint read failed, starting from beginning",
			"route", route.Name, "error", err)
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			newPosition, err := r.forwardBatch(ctx, route, key, position)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				r.logger.Error("relay publish failed",
					"route", route.Name, "attempt", attempt, "error", err)
				if !r.retry.ShouldRetry(attempt, err) {
					r.logger.Error("relay route halted after retries exhausted",
						"route", route.Name, "attempts", attempt+1)
					return
				}
				delay := r.retry.Delay(attempt)
				attempt++
				select {
				case <-r.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			if attempt > 0 {
				r.logger.Info("relay route recovered", "route", route.Name)
				attempt = 0
			}
			position = newPosition
		}
	}
}

// forwardBatch publishes one batch for a route and advances its checkpoint.
func (r *EventRelay) forwardBatch(ctx context.Context, route RelayRoute, key string, position uint64) (uint64, error) {
	events, err := r.store.ReadAll(ctx, position, r.batchSize)
	if err != nil {
		return position, err
	}
	if len(events) == 0 {
		return position, nil
	}

	matched := events[:0:0]
	for _, event := range events {
		if route.Filter == nil || route.Filter.Matches(event) {
			matched = append(matched, event)
		}
	}

	if len(matched) > 0 {
		if err := route.Publisher.Publish(ctx, matched); err != nil {
			return position, err
		}
		r.logger.Debug("relay batch published",
			"route", route.Name, "events", len(matched))
	}

	newPosition := events[len(events)-1].GlobalPosition
	if err := r.checkpoints.SetCheckpoint(ctx, key, newPosition); err != nil {
		// Publish succeeded but the checkpoint did not; the batch will be
		// redelivered after restart. Acceptable under at-least-once.
		return position, fmt.Errorf("chronicle: relay checkpoint write failed: %w", err)
	}
	return newPosition, nil
}
