package chronicle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Rebuilder replays the global event log through a projection to reconstruct
// its read model from scratch. Because projections are deterministic, a
// rebuild over the same log always converges to the same read model,
// regardless of how many times it runs.
type Rebuilder struct {
	store       *EventStore
	checkpoints CheckpointStore
	serializer  Serializer
	logger      Logger
	batchSize   int
}

// RebuilderOption configures a Rebuilder.
type RebuilderOption func(*Rebuilder)

// WithRebuilderBatchSize sets the replay batch size.
func WithRebuilderBatchSize(size int) RebuilderOption {
	return func(r *Rebuilder) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithRebuilderLogger sets the rebuilder's logger.
func WithRebuilderLogger(logger Logger) RebuilderOption {
	return func(r *Rebuilder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRebuilderSerializer sets the serializer used to decode payloads.
func WithRebuilderSerializer(serializer Serializer) RebuilderOption {
	return func(r *Rebuilder) {
		if serializer != nil {
			r.serializer = serializer
		}
	}
}

// NewRebuilder creates a Rebuilder over the given store and checkpoint store.
func NewRebuilder(store *EventStore, checkpoints CheckpointStore, opts ...RebuilderOption) *Rebuilder {
	r := &Rebuilder{
		store:       store,
		checkpoints: checkpoints,
		serializer:  NewJSONSerializer(),
		logger:      NewNopLogger(),
		batchSize:   1000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RebuildProgress reports how far a rebuild has come.
type RebuildProgress struct {
	// ProjectionName is the projection being rebuilt.
	ProjectionName string

	// ProcessedEvents is the number of events replayed so far.
	ProcessedEvents uint64

	// CurrentPosition is the last replayed global position.
	CurrentPosition uint64

	// HeadPosition is the position of the log head when the rebuild started.
	HeadPosition uint64

	// StartedAt is when the rebuild started.
	StartedAt time.Time

	// Completed reports whether the rebuild finished.
	Completed bool
}

// ProgressFunc is called periodically during a rebuild.
type ProgressFunc func(progress RebuildProgress)

// RebuildOptions configures a rebuild run.
type RebuildOptions struct {
	// ToPosition stops the replay at this global position, inclusive.
	// Zero replays to the head. A bounded rebuild produces the read model
	// exactly as it stood at that point in the log.
	ToPosition uint64

	// Resume continues from the projection's existing checkpoint instead of
	// starting over. The read model is kept; use it to finish an interrupted
	// rebuild.
	Resume bool

	// KeepReadModel skips the Reset call on Resettable projections.
	KeepReadModel bool

	// OnProgress is called at ProgressInterval during the replay.
	OnProgress ProgressFunc

	// ProgressInterval is how often OnProgress fires. Default one second.
	ProgressInterval time.Duration
}

// Rebuild replays the log through the projection. The existing checkpoint is
// removed and the read model reset (unless resuming), then events are applied
// in position order with a checkpoint after every batch — an interrupted
// rebuild resumes from the last completed batch rather than starting over.
func (r *Rebuilder) Rebuild(ctx context.Context, projection Projection, opts ...RebuildOptions) error {
	if projection == nil {
		return ErrNilProjection
	}
	if projection.Name() == "" {
		return ErrEmptyProjectionName
	}

	options := RebuildOptions{ProgressInterval: time.Second}
	if len(opts) > 0 {
		options = opts[0]
		if options.ProgressInterval <= 0 {
			options.ProgressInterval = time.Second
		}
	}

	name := projection.Name()
	startedAt := time.Now()
	r.logger.Info("projection rebuild started", "projection", name, "resume", options.Resume)

	var position uint64
	if options.Resume {
		pos, err := r.checkpoints.GetCheckpoint(ctx, name)
		if err != nil {
			return fmt.Errorf("chronicle: checkpoint read failed: %w", err)
		}
		position = pos
	} else {
		if err := r.checkpoints.DeleteCheckpoint(ctx, name); err != nil {
			r.logger.Warn("checkpoint delete failed", "projection", name, "error", err)
		}
		if !options.KeepReadModel {
			if resettable, ok := projection.(Resettable); ok {
				if err := resettable.Reset(ctx); err != nil {
					return fmt.Errorf("chronicle: read model reset failed: %w", err)
				}
			}
		}
	}

	head, err := r.store.LastPosition(ctx)
	if err != nil {
		return err
	}
	if options.ToPosition > 0 && options.ToPosition < head {
		head = options.ToPosition
	}

	var processed uint64
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stored, err := r.store.ReadAll(ctx, position, r.batchSize)
		if err != nil {
			return err
		}
		if options.ToPosition > 0 {
			bounded := stored[:0]
			for _, s := range stored {
				if s.GlobalPosition <= options.ToPosition {
					bounded = append(bounded, s)
				}
			}
			stored = bounded
		}
		if len(stored) == 0 {
			break
		}

		for _, s := range stored {
			if !projectionHandles(projection, s.Type) {
				continue
			}
			event, err := DeserializeEvent(r.serializer, s)
			if err != nil {
				return err
			}
			if err := projection.Apply(ctx, event); err != nil {
				return fmt.Errorf("chronicle: rebuild of %q failed at position %d: %w",
					name, s.GlobalPosition, err)
			}
			processed++
		}

		position = stored[len(stored)-1].GlobalPosition
		if err := r.checkpoints.SetCheckpoint(ctx, name, position); err != nil {
			return fmt.Errorf("chronicle: checkpoint write failed: %w", err)
		}

		if options.OnProgress != nil && time.Since(lastProgress) >= options.ProgressInterval {
			lastProgress = time.Now()
			options.OnProgress(RebuildProgress{
				ProjectionName:  name,
				ProcessedEvents: processed,
				CurrentPosition: position,
				HeadPosition:    head,
				StartedAt:       startedAt,
			})
		}

		if options.ToPosition > 0 && position >= options.ToPosition {
			break
		}
	}

	if options.OnProgress != nil {
		options.OnProgress(RebuildProgress{
			ProjectionName:  name,
			ProcessedEvents: processed,
			CurrentPosition: position,
			HeadPosition:    head,
			StartedAt:       startedAt,
			Completed:       true,
		})
	}

	r.logger.Info("projection rebuild completed",
		"projection", name,
		"events", processed,
		"duration", time.Since(startedAt))
	return nil
}

// RebuildAll rebuilds several projections concurrently, at most concurrency
// at a time. The first failure cancels the remaining rebuilds.
func (r *Rebuilder) RebuildAll(ctx context.Context, projections []Projection, concurrency int, opts ...RebuildOptions) error {
	if len(projections) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, concurrency)

	for _, projection := range projections {
		wg.Add(1)
		go func(p Projection) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := r.Rebuild(ctx, p, opts...); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				errMu.Unlock()
			}
		}(projection)
	}
	wg.Wait()

	return firstErr
}
