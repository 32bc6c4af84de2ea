// Package tracing provides OpenTelemetry integration for chronicle.
//
// This package enables distributed tracing for event sourcing operations:
// event store appends and loads, and projection event application.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("billing"))
//	adapter := tracing.NewAdapterMiddleware(memory.NewAdapter(), tracer)
//	store, _ := chronicle.NewEventStore(adapter)
//
// The spans capture stream IDs, event types and counts, versions, global
// positions, and error details on failure.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chronicle "github.com/corvid-labs/chronicle"
	"github.com/corvid-labs/chronicle/storage"
)

const (
	// TracerName is the name of the chronicle tracer.
	TracerName = "github.com/corvid-labs/chronicle"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "chronicle"
)

// Tracer wraps an OpenTelemetry tracer for chronicle operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// =============================================================================
// Storage Adapter Middleware
// =============================================================================

// AdapterMiddleware wraps a storage.Adapter with tracing.
type AdapterMiddleware struct {
	adapter storage.Adapter
	tracer  *Tracer
}

var _ storage.Adapter = (*AdapterMiddleware)(nil)

// NewAdapterMiddleware wraps an adapter with tracing.
func NewAdapterMiddleware(adapter storage.Adapter, tracer *Tracer) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Append stores events with tracing.
func (m *AdapterMiddleware) Append(ctx context.Context, streamID string, events []storage.EventRecord, expectedVersion int64) ([]storage.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.append",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
		attribute.Int64("chronicle.expected_version", expectedVersion),
		attribute.Int("chronicle.events.count", len(events)),
	)

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("chronicle.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, streamID, events, expectedVersion)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		if len(stored) > 0 {
			span.SetAttributes(
				attribute.Int64("chronicle.stored.version", stored[len(stored)-1].Version),
				attribute.Int64("chronicle.stored.global_position", int64(stored[len(stored)-1].GlobalPosition)),
			)
		}
	}

	return stored, err
}

// Load retrieves events with tracing.
func (m *AdapterMiddleware) Load(ctx context.Context, streamID string, fromVersion, toVersion int64) ([]storage.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
		attribute.Int64("chronicle.from_version", fromVersion),
		attribute.Int64("chronicle.to_version", toVersion),
	)

	events, err := m.adapter.Load(ctx, streamID, fromVersion, toVersion)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}

	return events, err
}

// LoadFromPosition loads events from a global position with tracing.
func (m *AdapterMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]storage.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load_from_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.Int64("chronicle.from_position", int64(fromPosition)),
		attribute.Int("chronicle.limit", limit),
	)
	if len(eventTypes) > 0 {
		span.SetAttributes(attribute.StringSlice("chronicle.events.filter", eventTypes))
	}

	events, err := m.adapter.LoadFromPosition(ctx, fromPosition, limit, eventTypes...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}

	return events, err
}

// StreamVersion returns the current stream version with tracing.
func (m *AdapterMiddleware) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.stream_version",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
	)

	version, err := m.adapter.StreamVersion(ctx, streamID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("chronicle.stream.version", version))
	}

	return version, err
}

// LastPosition returns the last global position with tracing.
func (m *AdapterMiddleware) LastPosition(ctx context.Context) (uint64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.last_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("chronicle.service", m.tracer.serviceName))

	pos, err := m.adapter.LastPosition(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("chronicle.last_position", int64(pos)))
	}

	return pos, err
}

// Initialize initializes the adapter with tracing.
func (m *AdapterMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.initialize",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("chronicle.service", m.tracer.serviceName))

	err := m.adapter.Initialize(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Close closes the adapter.
func (m *AdapterMiddleware) Close() error {
	return m.adapter.Close()
}

// Unwrap returns the wrapped adapter so callers can reach optional
// interfaces such as storage.SnapshotAdapter.
func (m *AdapterMiddleware) Unwrap() storage.Adapter {
	return m.adapter
}

// =============================================================================
// Projection Middleware
// =============================================================================

// ProjectionMiddleware wraps a projection with tracing.
type ProjectionMiddleware struct {
	projection chronicle.Projection
	tracer     *Tracer
}

var _ chronicle.Projection = (*ProjectionMiddleware)(nil)

// NewProjectionMiddleware wraps a projection with tracing.
func NewProjectionMiddleware(projection chronicle.Projection, tracer *Tracer) *ProjectionMiddleware {
	return &ProjectionMiddleware{
		projection: projection,
		tracer:     tracer,
	}
}

// Name returns the projection name.
func (m *ProjectionMiddleware) Name() string {
	return m.projection.Name()
}

// HandledEvents returns the handled event types.
func (m *ProjectionMiddleware) HandledEvents() []string {
	return m.projection.HandledEvents()
}

// Apply applies an event with tracing.
func (m *ProjectionMiddleware) Apply(ctx context.Context, event chronicle.Event) error {
	spanName := fmt.Sprintf("projection.%s.apply", m.projection.Name())

	ctx, span := m.tracer.StartSpan(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.projection.name", m.projection.Name()),
		attribute.String("chronicle.event.type", event.Type),
		attribute.String("chronicle.event.id", event.ID),
		attribute.String("chronicle.event.stream_id", event.StreamID),
		attribute.Int64("chronicle.event.version", event.Version),
		attribute.Int64("chronicle.event.global_position", int64(event.GlobalPosition)),
	)

	err := m.projection.Apply(ctx, event)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
