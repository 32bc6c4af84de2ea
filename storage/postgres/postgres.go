// Package postgres provides a PostgreSQL backend for the chronicle event store.
//
// The events table enforces (stream_id, version) uniqueness, so the
// optimistic concurrency check cannot race with the write even across
// processes; global ordering comes from a BIGSERIAL position column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corvid-labs/chronicle/storage"
)

// uniqueViolation is the PostgreSQL error code raised when the
// (stream_id, version) constraint rejects a concurrent append.
const uniqueViolation = "23505"

// Ensure Adapter implements the storage contracts.
var (
	_ storage.Adapter           = (*Adapter)(nil)
	_ storage.SnapshotAdapter   = (*Adapter)(nil)
	_ storage.CheckpointAdapter = (*Adapter)(nil)
	_ storage.HealthChecker     = (*Adapter)(nil)
)

// Adapter is a PostgreSQL implementation of the storage interfaces.
type Adapter struct {
	db     *sql.DB
	schema string
	closed atomic.Bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSchema sets the database schema name. Default "chronicle".
func WithSchema(schema string) Option {
	return func(a *Adapter) {
		if schema != "" {
			a.schema = schema
		}
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *Adapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *Adapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *Adapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter opens a connection pool for the given connection string.
func NewAdapter(connStr string, opts ...Option) (*Adapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to open database: %w", err)
	}

	a := &Adapter{db: db, schema: "chronicle"}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewAdapterWithDB wraps an existing connection pool.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *Adapter {
	a := &Adapter{db: db, schema: "chronicle"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize creates the schema and tables.
func (a *Adapter) Initialize(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.streams (
				stream_id       VARCHAR(500) PRIMARY KEY,
				category        VARCHAR(250) NOT NULL,
				version         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				global_position BIGSERIAL PRIMARY KEY,
				event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
				stream_id       VARCHAR(500) NOT NULL,
				version         BIGINT NOT NULL,
				event_type      VARCHAR(500) NOT NULL,
				data            JSONB NOT NULL,
				metadata        JSONB,
				timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(stream_id, version)
			)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_stream ON %s.events(stream_id, version)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshots (
				stream_id       VARCHAR(500) PRIMARY KEY,
				version         BIGINT NOT NULL,
				data            BYTEA NOT NULL,
				checksum        BIGINT NOT NULL,
				taken_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.checkpoints (
				projection_name VARCHAR(500) PRIMARY KEY,
				position        BIGINT NOT NULL DEFAULT 0,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema),
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("chronicle/postgres: migration failed: %w", err)
		}
	}
	return nil
}

// Append stores events with optimistic concurrency control.
func (a *Adapter) Append(ctx context.Context, streamID string, events []storage.EventRecord, expectedVersion int64) ([]storage.StoredEvent, error) {
	if a.closed.Load() {
		return nil, storage.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, storage.ErrEmptyStreamID
	}
	if err := storage.ValidateRecords(events); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	streamExists := true
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams
		WHERE stream_id = $1
		FOR UPDATE`, a.schema), streamID).Scan(&currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		streamExists = false
		currentVersion = 0
	} else if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to read stream version: %w", err)
	}

	if err := storage.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	if !streamExists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.streams (stream_id, category, version)
			VALUES ($1, $2, 0)`, a.schema), streamID, storage.ExtractCategory(streamID))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, storage.NewConcurrencyError(streamID, expectedVersion, currentVersion)
			}
			return nil, fmt.Errorf("chronicle/postgres: failed to create stream: %w", err)
		}
	}

	stored := make([]storage.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to marshal metadata: %w", err)
		}

		var (
			globalPosition uint64
			eventID        string
			timestamp      time.Time
		)
		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (stream_id, version, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING global_position, event_id, timestamp`, a.schema),
			streamID, currentVersion, event.Type, event.Data, metadataJSON,
		).Scan(&globalPosition, &eventID, &timestamp)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, storage.NewConcurrencyError(streamID, expectedVersion, currentVersion-1)
			}
			return nil, fmt.Errorf("chronicle/postgres: failed to insert event: %w", err)
		}

		stored[i] = storage.StoredEvent{
			ID:             eventID,
			StreamID:       streamID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalPosition: globalPosition,
			Timestamp:      timestamp.UTC(),
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.streams
		SET version = $1, updated_at = NOW()
		WHERE stream_id = $2`, a.schema), currentVersion, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to commit: %w", err)
	}
	return stored, nil
}

// Load retrieves a stream's events within the inclusive version bounds.
func (a *Adapter) Load(ctx context.Context, streamID string, fromVersion, toVersion int64) ([]storage.StoredEvent, error) {
	if a.closed.Load() {
		return nil, storage.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, storage.ErrEmptyStreamID
	}

	query := fmt.Sprintf(`
		SELECT global_position, event_id, stream_id, version, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE stream_id = $1 AND version >= $2`, a.schema)
	args := []any{streamID, max64(fromVersion, 1)}
	if toVersion > 0 {
		query += ` AND version <= $3`
		args = append(args, toVersion)
	}
	query += ` ORDER BY version`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadFromPosition retrieves events past a global position, optionally
// filtered by event type.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int, eventTypes ...string) ([]storage.StoredEvent, error) {
	if a.closed.Load() {
		return nil, storage.ErrAdapterClosed
	}
	limit = storage.DefaultLimit(limit, 1000)

	query := fmt.Sprintf(`
		SELECT global_position, event_id, stream_id, version, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE global_position > $1`, a.schema)
	args := []any{fromPosition}
	if len(eventTypes) > 0 {
		query += ` AND event_type = ANY($2) ORDER BY global_position LIMIT $3`
		args = append(args, eventTypes, limit)
	} else {
		query += ` ORDER BY global_position LIMIT $2`
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// StreamVersion returns the current version of a stream, 0 if absent.
func (a *Adapter) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	if a.closed.Load() {
		return 0, storage.ErrAdapterClosed
	}
	if streamID == "" {
		return 0, storage.ErrEmptyStreamID
	}

	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams WHERE stream_id = $1`, a.schema), streamID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to read stream version: %w", err)
	}
	return version, nil
}

// LastPosition returns the global position of the most recent event.
func (a *Adapter) LastPosition(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, storage.ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_position) FROM %s.events`, a.schema)).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to read last position: %w", err)
	}
	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return a.db.Close()
}

// SaveSnapshot upserts the snapshot for a stream.
func (a *Adapter) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if a.closed.Load() {
		return storage.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots (stream_id, version, data, checksum, taken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			checksum = EXCLUDED.checksum,
			taken_at = EXCLUDED.taken_at`, a.schema),
		record.StreamID, record.Version, record.Data, int64(record.Checksum), record.TakenAt)
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for a stream, or nil when none exists.
func (a *Adapter) LoadSnapshot(ctx context.Context, streamID string) (*storage.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, storage.ErrAdapterClosed
	}

	var (
		record   storage.SnapshotRecord
		checksum int64
	)
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, version, data, checksum, taken_at
		FROM %s.snapshots
		WHERE stream_id = $1`, a.schema), streamID).Scan(
		&record.StreamID, &record.Version, &record.Data, &checksum, &record.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load snapshot: %w", err)
	}
	record.Checksum = uint32(checksum)
	return &record, nil
}

// DeleteSnapshot removes the snapshot for a stream.
func (a *Adapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if a.closed.Load() {
		return storage.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshots WHERE stream_id = $1`, a.schema), streamID)
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to delete snapshot: %w", err)
	}
	return nil
}

// GetCheckpoint returns the last processed position for a projection.
func (a *Adapter) GetCheckpoint(ctx context.Context, projectionName string) (uint64, error) {
	if a.closed.Load() {
		return 0, storage.ErrAdapterClosed
	}

	var pos int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints
		WHERE projection_name = $1`, a.schema), projectionName).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to read checkpoint: %w", err)
	}
	return uint64(pos), nil
}

// SetCheckpoint upserts the last processed position for a projection.
func (a *Adapter) SetCheckpoint(ctx context.Context, projectionName string, position uint64) error {
	if a.closed.Load() {
		return storage.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position)
		VALUES ($1, $2)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, a.schema), projectionName, int64(position))
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to set checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoint removes a projection's checkpoint.
func (a *Adapter) DeleteCheckpoint(ctx context.Context, projectionName string) error {
	if a.closed.Load() {
		return storage.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.checkpoints WHERE projection_name = $1`, a.schema), projectionName)
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to delete checkpoint: %w", err)
	}
	return nil
}

// AllCheckpoints returns every recorded checkpoint keyed by projection name.
func (a *Adapter) AllCheckpoints(ctx context.Context) (map[string]uint64, error) {
	if a.closed.Load() {
		return nil, storage.ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT projection_name, position FROM %s.checkpoints`, a.schema))
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make(map[string]uint64)
	for rows.Next() {
		var (
			name string
			pos  int64
		)
		if err := rows.Scan(&name, &pos); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan checkpoint: %w", err)
		}
		checkpoints[name] = uint64(pos)
	}
	return checkpoints, rows.Err()
}

// Ping checks database connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return storage.ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying connection pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *Adapter) Schema() string {
	return a.schema
}

func scanEvents(rows *sql.Rows) ([]storage.StoredEvent, error) {
	events := make([]storage.StoredEvent, 0)
	for rows.Next() {
		var (
			event        storage.StoredEvent
			metadataJSON []byte
		)
		err := rows.Scan(
			&event.GlobalPosition,
			&event.ID,
			&event.StreamID,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/postgres: failed to unmarshal metadata: %w", err)
			}
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
