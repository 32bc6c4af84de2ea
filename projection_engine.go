package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProjectionMetrics collects measurements about projection processing.
type ProjectionMetrics interface {
	// RecordEventProcessed records that a single event was processed.
	RecordEventProcessed(projectionName, eventType string, duration time.Duration, success bool)

	// RecordBatchProcessed records that a batch of events was processed.
	RecordBatchProcessed(projectionName string, count int, duration time.Duration, success bool)

	// RecordCheckpoint records a checkpoint update.
	RecordCheckpoint(projectionName string, position uint64)

	// RecordError records a projection error.
	RecordError(projectionName string, err error)
}

// noopProjectionMetrics discards all measurements.
type noopProjectionMetrics struct{}

func (noopProjectionMetrics) RecordEventProcessed(string, string, time.Duration, bool) {}
func (noopProjectionMetrics) RecordBatchProcessed(string, int, time.Duration, bool)    {}
func (noopProjectionMetrics) RecordCheckpoint(string, uint64)                          {}
func (noopProjectionMetrics) RecordError(string, error)                                {}

// NewNopProjectionMetrics returns a ProjectionMetrics that discards everything.
func NewNopProjectionMetrics() ProjectionMetrics {
	return noopProjectionMetrics{}
}

// RetryPolicy decides how a projection worker reacts to processing errors.
type RetryPolicy interface {
	// ShouldRetry reports whether the attempt (0-based) should be retried.
	ShouldRetry(attempt int, err error) bool

	// Delay returns how long to wait before the next attempt.
	Delay(attempt int) time.Duration
}

type exponentialBackoffRetry struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ExponentialBackoffRetry retries up to maxRetries times with exponentially
// growing delays, capped at maxDelay.
func ExponentialBackoffRetry(maxRetries int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return &exponentialBackoffRetry{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

func (r *exponentialBackoffRetry) ShouldRetry(attempt int, err error) bool {
	return err != nil && attempt < r.maxRetries
}

func (r *exponentialBackoffRetry) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 62 {
		return r.maxDelay
	}
	delay := r.baseDelay * (1 << uint(attempt))
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

type noRetry struct{}

// NoRetry returns a policy that never retries.
func NoRetry() RetryPolicy { return noRetry{} }

func (noRetry) ShouldRetry(int, error) bool { return false }
func (noRetry) Delay(int) time.Duration    { return 0 }

// WorkerOptions configures a projection worker.
type WorkerOptions struct {
	// BatchSize is the maximum number of events read per poll. Default 100.
	BatchSize int

	// PollInterval is how often to poll for new events when idle. Default 100ms.
	PollInterval time.Duration

	// RetryPolicy governs error backoff. Default: exponential, 100ms to 30s.
	RetryPolicy RetryPolicy

	// StartFromBeginning ignores the stored checkpoint and replays from the
	// start of the log.
	StartFromBeginning bool
}

// DefaultWorkerOptions returns the defaults used by RegisterProjection.
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		RetryPolicy:  ExponentialBackoffRetry(10, 100*time.Millisecond, 30*time.Second),
	}
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	d := DefaultWorkerOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = d.RetryPolicy
	}
	return o
}

// ProjectionEngine runs registered projections against the global event log.
// Each projection gets its own worker goroutine that catches up from its
// checkpoint and then tails the head of the log, so one slow projection never
// delays another. Checkpoints advance only after events are applied:
// processing is at-least-once and projections must be idempotent.
type ProjectionEngine struct {
	store       *EventStore
	serializer  Serializer
	checkpoints CheckpointStore
	metrics     ProjectionMetrics
	logger      Logger

	mu      sync.RWMutex
	workers map[string]*projectionWorker
	live    map[string]*liveWorker

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// EngineOption configures a ProjectionEngine.
type EngineOption func(*ProjectionEngine)

// WithCheckpointStore sets the checkpoint store. Required before Start.
func WithCheckpointStore(store CheckpointStore) EngineOption {
	return func(e *ProjectionEngine) { e.checkpoints = store }
}

// WithProjectionMetrics sets the metrics collector.
func WithProjectionMetrics(metrics ProjectionMetrics) EngineOption {
	return func(e *ProjectionEngine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger Logger) EngineOption {
	return func(e *ProjectionEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineSerializer sets the serializer used to decode event payloads
// before they reach projections.
func WithEngineSerializer(serializer Serializer) EngineOption {
	return func(e *ProjectionEngine) {
		if serializer != nil {
			e.serializer = serializer
		}
	}
}

// NewProjectionEngine creates an engine over the given store.
func NewProjectionEngine(store *EventStore, opts ...EngineOption) *ProjectionEngine {
	e := &ProjectionEngine{
		store:      store,
		serializer: NewJSONSerializer(),
		metrics:    noopProjectionMetrics{},
		logger:     NewNopLogger(),
		workers:    make(map[string]*projectionWorker),
		live:       make(map[string]*liveWorker),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func validateProjectionName(name string) error {
	if name == "" {
		return ErrEmptyProjectionName
	}
	return nil
}

// RegisterProjection registers a checkpointed projection. Must be called
// before Start.
func (e *ProjectionEngine) RegisterProjection(projection Projection, opts ...WorkerOptions) error {
	if projection == nil {
		return ErrNilProjection
	}
	if err := validateProjectionName(projection.Name()); err != nil {
		return err
	}

	options := DefaultWorkerOptions()
	if len(opts) > 0 {
		options = opts[0].withDefaults()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workers[projection.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrProjectionAlreadyRegistered, projection.Name())
	}
	e.workers[projection.Name()] = &projectionWorker{
		projection: projection,
		options:    options,
		stopCh:     make(chan struct{}),
		state:      ProjectionStateStopped,
	}
	e.logger.Info("projection registered", "name", projection.Name())
	return nil
}

// RegisterLive registers a transient live projection. It receives only events
// appended while the engine runs, without checkpointing.
func (e *ProjectionEngine) RegisterLive(projection LiveProjection) error {
	if projection == nil {
		return ErrNilProjection
	}
	if err := validateProjectionName(projection.Name()); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.live[projection.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrProjectionAlreadyRegistered, projection.Name())
	}
	e.live[projection.Name()] = &liveWorker{projection: projection}
	e.logger.Info("live projection registered", "name", projection.Name())
	return nil
}

// Unregister removes a projection by name. A running worker is stopped.
func (e *ProjectionEngine) Unregister(name string) error {
	if err := validateProjectionName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if worker, ok := e.workers[name]; ok {
		worker.closeOnce.Do(func() { close(worker.stopCh) })
		delete(e.workers, name)
		e.logger.Info("projection unregistered", "name", name)
		return nil
	}
	if _, ok := e.live[name]; ok {
		delete(e.live, name)
		e.logger.Info("live projection unregistered", "name", name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
}

// Start launches a worker per registered projection. Checkpointed projections
// catch up from their stored positions; live projections begin receiving new
// events immediately.
func (e *ProjectionEngine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineAlreadyRunning
	}
	if e.checkpoints == nil {
		e.running.Store(false)
		return ErrNoCheckpointStore
	}

	e.stopCh = make(chan struct{})

	e.mu.RLock()
	for _, worker := range e.workers {
		e.wg.Add(1)
		go e.runWorker(ctx, worker)
	}
	for _, worker := range e.live {
		e.wg.Add(1)
		go e.runLiveWorker(ctx, worker)
	}
	e.mu.RUnlock()

	e.logger.Info("projection engine started")
	return nil
}

// Stop gracefully stops all workers, waiting up to the context deadline.
func (e *ProjectionEngine) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("projection engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the engine is running.
func (e *ProjectionEngine) IsRunning() bool {
	return e.running.Load()
}

// Status returns the status of a projection by name.
func (e *ProjectionEngine) Status(ctx context.Context, name string) (*ProjectionStatus, error) {
	e.mu.RLock()
	worker, ok := e.workers[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
	}

	status := worker.status()
	if head, err := e.store.LastPosition(ctx); err == nil && head > status.LastPosition {
		status.Lag = head - status.LastPosition
	}
	return status, nil
}

// AllStatuses returns the status of every checkpointed projection.
func (e *ProjectionEngine) AllStatuses(ctx context.Context) []*ProjectionStatus {
	e.mu.RLock()
	workers := make([]*projectionWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.RUnlock()

	head, _ := e.store.LastPosition(ctx)
	statuses := make([]*ProjectionStatus, 0, len(workers))
	for _, w := range workers {
		status := w.status()
		if head > status.LastPosition {
			status.Lag = head - status.LastPosition
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// projectionWorker is the per-projection processing state.
type projectionWorker struct {
	projection Projection
	options    WorkerOptions

	stopCh    chan struct{}
	closeOnce sync.Once

	mu              sync.RWMutex
	state           ProjectionState
	lastPosition    uint64
	eventsProcessed uint64
	lastProcessedAt time.Time
	lastError       error
}

func (w *projectionWorker) status() *ProjectionStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	status := &ProjectionStatus{
		Name:            w.projection.Name(),
		State:           w.state,
		LastPosition:    w.lastPosition,
		EventsProcessed: w.eventsProcessed,
		LastProcessedAt: w.lastProcessedAt,
	}
	if w.lastError != nil {
		status.Error = w.lastError.Error()
	}
	return status
}

func (w *projectionWorker) setState(state ProjectionState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *projectionWorker) recordProgress(position uint64, processed int) {
	w.mu.Lock()
	w.lastPosition = position
	w.eventsProcessed += uint64(processed)
	w.lastProcessedAt = time.Now()
	w.lastError = nil
	if w.state == ProjectionStateFaulted {
		w.state = ProjectionStateRunning
	}
	w.mu.Unlock()
}

func (w *projectionWorker) recordError(err error) {
	w.mu.Lock()
	w.lastError = err
	w.state = ProjectionStateFaulted
	w.mu.Unlock()
}

// runWorker drives one checkpointed projection: catch up, then tail.
func (e *ProjectionEngine) runWorker(ctx context.Context, worker *projectionWorker) {
	defer e.wg.Done()

	name := worker.projection.Name()
	worker.setState(ProjectionStateCatchingUp)

	var position uint64
	if !worker.options.StartFromBeginning {
		pos, err := e.checkpoints.GetCheckpoint(ctx, name)
		if err != nil {
			e.logger.Error("checkpoint read failed, starting from beginning",
				"projection", name, "error", err)
		} else {
			position = pos
		}
	}
	worker.mu.Lock()
	worker.lastPosition = position
	worker.mu.Unlock()

	ticker := time.NewTicker(worker.options.PollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-e.stopCh:
			worker.setState(ProjectionStateStopped)
			return
		case <-worker.stopCh:
			worker.setState(ProjectionStateStopped)
			return
		case <-ctx.Done():
			worker.setState(ProjectionStateStopped)
			return
		case <-ticker.C:
			caughtUp, err := e.processBatch(ctx, worker)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					worker.setState(ProjectionStateStopped)
					return
				}
				worker.recordError(err)
				e.metrics.RecordError(name, err)

				// Log at power-of-two attempt counts to keep sustained
				// outages from flooding the log.
				if attempt&(attempt+1) == 0 {
					e.logger.Error("projection batch failed",
						"projection", name, "attempt", attempt, "error", err)
				}
				if !worker.options.RetryPolicy.ShouldRetry(attempt, err) {
					e.logger.Error("projection halted after retries exhausted",
						"projection", name, "attempts", attempt+1)
					return
				}
				delay := worker.options.RetryPolicy.Delay(attempt)
				attempt++
				select {
				case <-e.stopCh:
					worker.setState(ProjectionStateStopped)
					return
				case <-worker.stopCh:
					worker.setState(ProjectionStateStopped)
					return
				case <-ctx.Done():
					worker.setState(ProjectionStateStopped)
					return
				case <-time.After(delay):
				}
				continue
			}
			if attempt > 0 {
				e.logger.Info("projection recovered", "projection", name, "attempts", attempt)
				attempt = 0
			}
			if caughtUp {
				worker.setState(ProjectionStateRunning)
			}
		}
	}
}

// processBatch reads, decodes and applies one batch, then advances the
// checkpoint. It reports whether the worker reached the head of the log.
// A panicking projection is converted into an error so one bad handler
// cannot kill the engine.
func (e *ProjectionEngine) processBatch(ctx context.Context, worker *projectionWorker) (caughtUp bool, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("chronicle: projection %q panicked: %v", worker.projection.Name(), r)
		}
	}()

	worker.mu.RLock()
	position := worker.lastPosition
	worker.mu.RUnlock()

	stored, err := e.store.ReadAll(ctx, position, worker.options.BatchSize)
	if err != nil {
		return false, err
	}
	if len(stored) == 0 {
		return true, nil
	}

	var handled []Event
	for _, s := range stored {
		if !projectionHandles(worker.projection, s.Type) {
			continue
		}
		event, err := DeserializeEvent(e.serializer, s)
		if err != nil {
			return false, err
		}
		handled = append(handled, event)
	}

	start := time.Now()
	if err := e.applyEvents(ctx, worker.projection, handled); err != nil {
		e.metrics.RecordBatchProcessed(worker.projection.Name(), len(handled), time.Since(start), false)
		return false, err
	}
	if len(handled) > 0 {
		e.metrics.RecordBatchProcessed(worker.projection.Name(), len(handled), time.Since(start), true)
	}

	// The checkpoint covers the whole batch, including events the projection
	// does not handle, so skipped types never cause re-reads.
	newPosition := stored[len(stored)-1].GlobalPosition
	if err := e.checkpoints.SetCheckpoint(ctx, worker.projection.Name(), newPosition); err != nil {
		return false, fmt.Errorf("chronicle: checkpoint write failed: %w", err)
	}
	e.metrics.RecordCheckpoint(worker.projection.Name(), newPosition)
	worker.recordProgress(newPosition, len(handled))

	return len(stored) < worker.options.BatchSize, nil
}

func (e *ProjectionEngine) applyEvents(ctx context.Context, projection Projection, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	if batcher, ok := projection.(BatchProjection); ok {
		err := batcher.ApplyBatch(ctx, events)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotImplemented) {
			return err
		}
	}

	for _, event := range events {
		start := time.Now()
		if err := projection.Apply(ctx, event); err != nil {
			e.metrics.RecordEventProcessed(projection.Name(), event.Type, time.Since(start), false)
			return err
		}
		e.metrics.RecordEventProcessed(projection.Name(), event.Type, time.Since(start), true)
	}
	return nil
}

// liveWorker feeds one live projection from a store subscription.
type liveWorker struct {
	projection LiveProjection
}

func (e *ProjectionEngine) runLiveWorker(ctx context.Context, worker *liveWorker) {
	defer e.wg.Done()

	sub, err := e.store.Subscribe(ctx, worker.projection.HandledEvents()...)
	if err != nil {
		e.logger.Error("live projection subscribe failed",
			"projection", worker.projection.Name(), "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case stored, ok := <-sub.Events():
			if !ok {
				return
			}
			event, err := DeserializeEvent(e.serializer, stored)
			if err != nil {
				e.logger.Error("live projection decode failed",
					"projection", worker.projection.Name(),
					"eventType", stored.Type, "error", err)
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.logger.Error("live projection panicked",
							"projection", worker.projection.Name(), "panic", r)
					}
				}()
				worker.projection.OnEvent(ctx, event)
			}()
		}
	}
}
