// Package metrics provides Prometheus metrics integration for chronicle.
//
// This package enables observability for event sourcing operations:
// event store appends and loads, projection processing, and error counts
// by type.
//
// Basic usage:
//
//	collector := metrics.New(metrics.WithMetricsServiceName("billing"))
//	collector.MustRegister()
//
//	// Instrument a storage adapter
//	adapter := collector.WrapAdapter(memory.NewAdapter())
//
//	// Instrument the projection engine
//	engine := chronicle.NewProjectionEngine(store,
//		chronicle.WithProjectionMetrics(collector))
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chronicle "github.com/corvid-labs/chronicle"
	"github.com/corvid-labs/chronicle/storage"
)

// Default metric labels.
const (
	LabelEventType      = "event_type"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend           = "append"
	OperationLoad             = "load"
	OperationLoadFromPosition = "load_from_position"
	OperationStreamVersion    = "stream_version"
	OperationLastPosition     = "last_position"
)

// Metrics holds all Prometheus metrics for chronicle.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Event store metrics
	eventStoreOperationsTotal   *prometheus.CounterVec
	eventStoreOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal         *prometheus.CounterVec
	eventsLoadedTotal           *prometheus.CounterVec

	// Projection metrics
	projectionEventsTotal *prometheus.CounterVec
	projectionDuration    *prometheus.HistogramVec
	projectionBatchSize   *prometheus.HistogramVec
	projectionLag         *prometheus.GaugeVec
	projectionCheckpoint  *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

var _ chronicle.ProjectionMetrics = (*Metrics)(nil)

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "chronicle",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	// Event store metrics
	m.eventStoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventstore_operations_total",
			Help:      "Total number of event store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.eventStoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventstore_operation_duration_seconds",
			Help:      "Duration of event store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to streams.",
		},
		[]string{LabelService, LabelEventType},
	)

	m.eventsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_loaded_total",
			Help:      "Total number of events loaded from streams.",
		},
		[]string{LabelService},
	)

	// Projection metrics
	m.projectionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_events_total",
			Help:      "Total number of events processed by projections.",
		},
		[]string{LabelService, LabelProjectionName, LabelEventType, LabelStatus},
	)

	m.projectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_duration_seconds",
			Help:      "Duration of projection event processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_batch_size_events",
			Help:      "Number of events applied per projection batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_lag_events",
			Help:      "Number of events behind the latest position for each projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionCheckpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_checkpoint_position",
			Help:      "Current checkpoint position for each projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	// Error metrics
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventStoreOperationsTotal,
		m.eventStoreOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.projectionEventsTotal,
		m.projectionDuration,
		m.projectionBatchSize,
		m.projectionLag,
		m.projectionCheckpoint,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ProjectionMetrics implementation
// =============================================================================

// RecordEventProcessed records a single projection event application.
func (m *Metrics) RecordEventProcessed(projectionName, eventType string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.projectionEventsTotal.WithLabelValues(m.serviceName, projectionName, eventType, status).Inc()
	m.projectionDuration.WithLabelValues(m.serviceName, projectionName).Observe(duration.Seconds())
}

// RecordBatchProcessed records a projection batch application.
func (m *Metrics) RecordBatchProcessed(projectionName string, count int, duration time.Duration, success bool) {
	if success {
		m.projectionBatchSize.WithLabelValues(m.serviceName, projectionName).Observe(float64(count))
	}
}

// RecordCheckpoint records the checkpoint position for a projection.
func (m *Metrics) RecordCheckpoint(projectionName string, position uint64) {
	m.projectionCheckpoint.WithLabelValues(m.serviceName, projectionName).Set(float64(position))
}

// RecordError records a projection error, classified by sentinel.
func (m *Metrics) RecordError(projectionName string, err error) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
}

// RecordProjectionLag records the current lag for a projection.
func (m *Metrics) RecordProjectionLag(projectionName string, lag uint64) {
	m.projectionLag.WithLabelValues(m.serviceName, projectionName).Set(float64(lag))
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, chronicle.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, chronicle.ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, chronicle.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, chronicle.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, chronicle.ErrSnapshotCorrupt):
		return "snapshot_corrupt"
	case errors.Is(err, chronicle.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, chronicle.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, chronicle.ErrNoEvents):
		return "no_events"
	case errors.Is(err, chronicle.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, chronicle.ErrStoreClosed):
		return "store_closed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Storage Adapter Middleware
// =============================================================================

// AdapterMiddleware wraps a storage.Adapter with metrics collection.
type AdapterMiddleware struct {
	adapter storage.Adapter
	metrics *Metrics
}

var _ storage.Adapter = (*AdapterMiddleware)(nil)

// WrapAdapter wraps an adapter with metrics collection.
func (m *Metrics) WrapAdapter(adapter storage.Adapter) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// Append stores events with metrics.
func (am *AdapterMiddleware) Append(ctx context.Context, streamID string, events []storage.EventRecord, expectedVersion int64) ([]storage.StoredEvent, error) {
	start := time.Now()
	stored, err := am.adapter.Append(ctx, streamID, events, expectedVersion)
	am.observe(OperationAppend, start, err)

	if err != nil {
		am.metrics.errorsTotal.WithLabelValues(am.metrics.serviceName, errorTypeName(err)).Inc()
	} else {
		for _, e := range events {
			am.metrics.eventsAppendedTotal.WithLabelValues(am.metrics.serviceName, e.Type).Inc()
		}
	}
	return stored, err
}

// Load retrieves events with metrics.
func (am *AdapterMiddleware) Load(ctx context.Context, streamID string, fromVersion, toVersion int64) ([]storage.StoredEvent, error) {
	start := time.Now()
	events, err := am.adapter.Load(ctx, streamID, fromVersion, toVersion)
	am.observe(OperationLoad, start, err)

	if err != nil {
		am.metrics.errorsTotal.WithLabelValues(am.metrics.serviceName, errorTypeName(err)).Inc()
	} else {
		am.metrics.eventsLoadedTotal.WithLabelValues(am.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// LoadFromPosition loads events from a global position with metrics.
func (am *AdapterMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]storage.StoredEvent, error) {
	start := time.Now()
	events, err := am.adapter.LoadFromPosition(ctx, fromPosition, limit, eventTypes...)
	am.observe(OperationLoadFromPosition, start, err)

	if err != nil {
		am.metrics.errorsTotal.WithLabelValues(am.metrics.serviceName, errorTypeName(err)).Inc()
	} else {
		am.metrics.eventsLoadedTotal.WithLabelValues(am.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// StreamVersion returns the current stream version with metrics.
func (am *AdapterMiddleware) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	start := time.Now()
	version, err := am.adapter.StreamVersion(ctx, streamID)
	am.observe(OperationStreamVersion, start, err)
	return version, err
}

// LastPosition returns the last global position with metrics.
func (am *AdapterMiddleware) LastPosition(ctx context.Context) (uint64, error) {
	start := time.Now()
	pos, err := am.adapter.LastPosition(ctx)
	am.observe(OperationLastPosition, start, err)
	return pos, err
}

// Initialize initializes the underlying adapter.
func (am *AdapterMiddleware) Initialize(ctx context.Context) error {
	return am.adapter.Initialize(ctx)
}

// Close closes the underlying adapter.
func (am *AdapterMiddleware) Close() error {
	return am.adapter.Close()
}

// Unwrap returns the wrapped adapter so callers can reach optional
// interfaces such as storage.SnapshotAdapter.
func (am *AdapterMiddleware) Unwrap() storage.Adapter {
	return am.adapter
}

func (am *AdapterMiddleware) observe(operation string, start time.Time, err error) {
	am.metrics.eventStoreOperationDuration.WithLabelValues(am.metrics.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	am.metrics.eventStoreOperationsTotal.WithLabelValues(am.metrics.serviceName, operation, status).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// EventStoreOperationsTotal returns the event store operations counter.
func (m *Metrics) EventStoreOperationsTotal() *prometheus.CounterVec {
	return m.eventStoreOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// ProjectionEventsTotal returns the projection events counter.
func (m *Metrics) ProjectionEventsTotal() *prometheus.CounterVec {
	return m.projectionEventsTotal
}

// ProjectionLag returns the projection lag gauge.
func (m *Metrics) ProjectionLag() *prometheus.GaugeVec {
	return m.projectionLag
}

// ProjectionCheckpoint returns the projection checkpoint gauge.
func (m *Metrics) ProjectionCheckpoint() *prometheus.GaugeVec {
	return m.projectionCheckpoint
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
