package chronicle

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/chronicle/storage/memory"
)

type rebuildFixture struct {
	adapter   *memory.Adapter
	store     *EventStore
	rebuilder *Rebuilder
}

func newRebuildFixture(t *testing.T, opts ...RebuilderOption) *rebuildFixture {
	t.Helper()
	adapter := memory.NewAdapter()
	store, err := NewEventStore(adapter)
	require.NoError(t, err)

	options := append([]RebuilderOption{
		WithRebuilderSerializer(newAccountSerializer()),
	}, opts...)

	return &rebuildFixture{
		adapter:   adapter,
		store:     store,
		rebuilder: NewRebuilder(store, NewCheckpointStore(adapter), options...),
	}
}

func (f *rebuildFixture) append(t *testing.T, id string, events ...any) {
	t.Helper()
	data := make([]EventData, len(events))
	for i, event := range events {
		payload, err := json.Marshal(event)
		require.NoError(t, err)
		data[i] = NewEventData(EventTypeOf(event), payload)
	}
	_, err := f.store.Append(context.Background(), NewStreamID("Account", id), AnyVersion, data...)
	require.NoError(t, err)
}

func newBalanceViewProjection(store ReadModelStore[accountView]) *KeyedProjection[accountView] {
	return NewKeyedProjection[accountView]("BalanceView", store, nil).
		On("AccountOpened", func(ctx context.Context, event Event, current *accountView) (accountView, error) {
			opened := event.Data.(AccountOpened)
			return accountView{AccountID: opened.AccountID, Owner: opened.Owner}, nil
		}).
		On("MoneyDeposited", func(ctx context.Context, event Event, current *accountView) (accountView, error) {
			view := accountView{}
			if current != nil {
				view = *current
			}
			view.Balance += event.Data.(MoneyDeposited).Amount
			return view, nil
		}).
		On("MoneyWithdrawn", func(ctx context.Context, event Event, current *accountView) (accountView, error) {
			view := accountView{}
			if current != nil {
				view = *current
			}
			view.Balance -= event.Data.(MoneyWithdrawn).Amount
			return view, nil
		})
}

func TestRebuilderRebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		fixture := newRebuildFixture(t)

		assert.ErrorIs(t, fixture.rebuilder.Rebuild(ctx, nil), ErrNilProjection)
		assert.ErrorIs(t, fixture.rebuilder.Rebuild(ctx, newRecordingProjection("")), ErrEmptyProjectionName)
	})

	t.Run("replays the full log and checkpoints at the head", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1", Owner: "alice"},
			MoneyDeposited{AccountID: "acc-1", Amount: 100},
			MoneyWithdrawn{AccountID: "acc-1", Amount: 30},
		)
		fixture.append(t, "acc-2",
			AccountOpened{AccountID: "acc-2", Owner: "bob"},
		)

		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceViewProjection(store)

		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection))

		view, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(70), view.Balance)
		assert.Equal(t, 2, store.Len())

		position, err := fixture.adapter.GetCheckpoint(ctx, "BalanceView")
		require.NoError(t, err)
		assert.Equal(t, uint64(4), position)
	})

	t.Run("rebuild is idempotent", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1", Owner: "alice"},
			MoneyDeposited{AccountID: "acc-1", Amount: 100},
		)

		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceViewProjection(store)

		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection))
		first, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)

		// Running again resets the read model and converges to the same state.
		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection))
		second, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("ToPosition reproduces the read model as of that point", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1", Owner: "alice"},
			MoneyDeposited{AccountID: "acc-1", Amount: 100},
			MoneyWithdrawn{AccountID: "acc-1", Amount: 30},
		)

		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceViewProjection(store)

		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection, RebuildOptions{ToPosition: 2}))

		view, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), view.Balance)

		position, err := fixture.adapter.GetCheckpoint(ctx, "BalanceView")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), position)
	})

	t.Run("Resume continues from the checkpoint without resetting", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1", Owner: "alice"},
			MoneyDeposited{AccountID: "acc-1", Amount: 100},
			MoneyWithdrawn{AccountID: "acc-1", Amount: 30},
		)

		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceViewProjection(store)

		// First half of the rebuild.
		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection, RebuildOptions{ToPosition: 2}))

		// Resume finishes the remainder; the result matches a full rebuild.
		require.NoError(t, fixture.rebuilder.Rebuild(ctx, projection, RebuildOptions{Resume: true}))

		view, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(70), view.Balance)
	})

	t.Run("projection failure reports the position", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1"},
			MoneyDeposited{AccountID: "acc-1", Amount: 1},
		)

		failing := newCountingProjection("failing")
		failing.failNext(1000)

		err := fixture.rebuilder.Rebuild(ctx, failing)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "position 1")
	})

	t.Run("progress callback fires with completion", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1"},
			MoneyDeposited{AccountID: "acc-1", Amount: 1},
		)

		var final RebuildProgress
		require.NoError(t, fixture.rebuilder.Rebuild(ctx,
			newBalanceViewProjection(NewInMemoryReadModelStore[accountView]()),
			RebuildOptions{
				ProgressInterval: time.Millisecond,
				OnProgress:       func(p RebuildProgress) { final = p },
			}))

		assert.True(t, final.Completed)
		assert.Equal(t, "BalanceView", final.ProjectionName)
		assert.Equal(t, uint64(2), final.ProcessedEvents)
		assert.Equal(t, uint64(2), final.CurrentPosition)
	})

	t.Run("batching does not change the result", func(t *testing.T) {
		fixture := newRebuildFixture(t, WithRebuilderBatchSize(1))
		for i := 0; i < 7; i++ {
			fixture.append(t, "acc-1", MoneyDeposited{AccountID: "acc-1", Amount: 10})
		}
		fixture.append(t, "acc-1", AccountOpened{AccountID: "acc-1", Owner: "alice"})

		store := NewInMemoryReadModelStore[accountView]()
		require.NoError(t, fixture.rebuilder.Rebuild(ctx, newBalanceViewProjection(store)))

		view, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", view.Owner)
	})

	t.Run("canceled context aborts", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1", AccountOpened{AccountID: "acc-1"})

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		err := fixture.rebuilder.Rebuild(canceled,
			newBalanceViewProjection(NewInMemoryReadModelStore[accountView]()))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRebuilderRebuildAll(t *testing.T) {
	ctx := context.Background()

	t.Run("rebuilds every projection", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1",
			AccountOpened{AccountID: "acc-1", Owner: "alice"},
			MoneyDeposited{AccountID: "acc-1", Amount: 100},
		)

		stores := make([]*InMemoryReadModelStore[accountView], 3)
		projections := make([]Projection, 3)
		for i := range projections {
			stores[i] = NewInMemoryReadModelStore[accountView]()
			p := newBalanceViewProjection(stores[i])
			p.name = fmt.Sprintf("BalanceView-%d", i)
			projections[i] = p
		}

		require.NoError(t, fixture.rebuilder.RebuildAll(ctx, projections, 2))

		for i, store := range stores {
			view, err := store.Get(ctx, "Account-acc-1")
			require.NoError(t, err, "projection %d", i)
			assert.Equal(t, int64(100), view.Balance)
		}
	})

	t.Run("empty set is a no-op", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		assert.NoError(t, fixture.rebuilder.RebuildAll(ctx, nil, 4))
	})

	t.Run("first failure surfaces", func(t *testing.T) {
		fixture := newRebuildFixture(t)
		fixture.append(t, "acc-1", AccountOpened{AccountID: "acc-1"})

		failing := newCountingProjection("failing")
		failing.failNext(1000)

		err := fixture.rebuilder.RebuildAll(ctx, []Projection{failing}, 1)
		assert.Error(t, err)
	})
}
