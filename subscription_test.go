package chronicle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilters(t *testing.T) {
	event := func(streamID, eventType string) StoredEvent {
		return StoredEvent{StreamID: streamID, Type: eventType}
	}

	t.Run("EventTypeFilter", func(t *testing.T) {
		filter := NewEventTypeFilter("AccountOpened", "MoneyDeposited")

		assert.True(t, filter.Matches(event("Account-acc-1", "AccountOpened")))
		assert.False(t, filter.Matches(event("Account-acc-1", "MoneyWithdrawn")))
	})

	t.Run("CategoryFilter", func(t *testing.T) {
		filter := NewCategoryFilter("Account")

		assert.True(t, filter.Matches(event("Account-acc-1", "AccountOpened")))
		assert.False(t, filter.Matches(event("Order-ord-1", "OrderPlaced")))
		assert.False(t, filter.Matches(event("malformed", "AccountOpened")))
	})

	t.Run("CompositeFilter requires all to match", func(t *testing.T) {
		filter := NewCompositeFilter(
			NewCategoryFilter("Account"),
			NewEventTypeFilter("AccountOpened"),
		)

		assert.True(t, filter.Matches(event("Account-acc-1", "AccountOpened")))
		assert.False(t, filter.Matches(event("Account-acc-1", "MoneyDeposited")))
		assert.False(t, filter.Matches(event("Order-ord-1", "AccountOpened")))
	})

	t.Run("empty CompositeFilter matches everything", func(t *testing.T) {
		assert.True(t, NewCompositeFilter().Matches(event("Account-acc-1", "AccountOpened")))
	})
}

func TestCatchupSubscription(t *testing.T) {
	ctx := context.Background()
	streamID := NewStreamID("Account", "acc-1")

	receive := func(t *testing.T, sub *CatchupSubscription, n int) []StoredEvent {
		t.Helper()
		events := make([]StoredEvent, 0, n)
		timeout := time.After(3 * time.Second)
		for len(events) < n {
			select {
			case e, ok := <-sub.Events():
				if !ok {
					t.Fatalf("channel closed after %d of %d events, err: %v", len(events), n, sub.Err())
				}
				events = append(events, e)
			case <-timeout:
				t.Fatalf("timed out after %d of %d events", len(events), n)
			}
		}
		return events
	}

	t.Run("rejects nil store", func(t *testing.T) {
		_, err := NewCatchupSubscription(nil, 0)
		assert.ErrorIs(t, err, ErrNilStore)
	})

	t.Run("delivers history then live events without gaps or duplicates", func(t *testing.T) {
		store := newTestStore(t)

		// History before the subscription starts.
		for i := 0; i < 5; i++ {
			_, err := store.Append(ctx, streamID, AnyVersion,
				mustEventData(t, MoneyDeposited{AccountID: "acc-1", Amount: int64(i)}))
			require.NoError(t, err)
		}

		sub, err := NewCatchupSubscription(store, 0, SubscriptionOptions{
			PollInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, sub.Start(ctx))

		history := receive(t, sub, 5)
		for i, e := range history {
			assert.Equal(t, uint64(i+1), e.GlobalPosition)
		}

		// Live events appended after catch-up flow through the same channel.
		for i := 0; i < 3; i++ {
			_, err := store.Append(ctx, streamID, AnyVersion,
				mustEventData(t, MoneyDeposited{AccountID: "acc-1", Amount: 100}))
			require.NoError(t, err)
		}

		live := receive(t, sub, 3)
		assert.Equal(t, uint64(6), live[0].GlobalPosition)
		assert.Equal(t, uint64(8), live[2].GlobalPosition)
		assert.Equal(t, uint64(8), sub.Position())
	})

	t.Run("starts just after fromPosition", func(t *testing.T) {
		store := newTestStore(t)
		for i := 0; i < 4; i++ {
			_, err := store.Append(ctx, streamID, AnyVersion,
				mustEventData(t, MoneyDeposited{AccountID: "acc-1", Amount: int64(i)}))
			require.NoError(t, err)
		}

		sub, err := NewCatchupSubscription(store, 2, SubscriptionOptions{
			PollInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, sub.Start(ctx))

		events := receive(t, sub, 2)
		assert.Equal(t, uint64(3), events[0].GlobalPosition)
		assert.Equal(t, uint64(4), events[1].GlobalPosition)
	})

	t.Run("filtered events still advance the position", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Append(ctx, streamID, NoStream,
			mustEventData(t, AccountOpened{AccountID: "acc-1"}),
			mustEventData(t, MoneyDeposited{AccountID: "acc-1", Amount: 1}),
			mustEventData(t, MoneyWithdrawn{AccountID: "acc-1", Amount: 1}),
		)
		require.NoError(t, err)

		sub, err := NewCatchupSubscription(store, 0, SubscriptionOptions{
			PollInterval: 10 * time.Millisecond,
			Filter:       NewEventTypeFilter("MoneyDeposited"),
		})
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, sub.Start(ctx))

		events := receive(t, sub, 1)
		assert.Equal(t, "MoneyDeposited", events[0].Type)

		// Position covers the filtered-out tail as well.
		deadline := time.Now().Add(2 * time.Second)
		for sub.Position() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		assert.Equal(t, uint64(3), sub.Position())
	})

	t.Run("Start is idempotent", func(t *testing.T) {
		store := newTestStore(t)

		sub, err := NewCatchupSubscription(store, 0)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, sub.Start(ctx))
		assert.NoError(t, sub.Start(ctx))
	})

	t.Run("Close ends delivery and closes the channel", func(t *testing.T) {
		store := newTestStore(t)

		sub, err := NewCatchupSubscription(store, 0, SubscriptionOptions{
			PollInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, sub.Start(ctx))

		require.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())

		timeout := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
			case <-timeout:
				t.Fatal("channel not closed after Close")
			}
		}
	})

	t.Run("Start after Close fails", func(t *testing.T) {
		store := newTestStore(t)

		sub, err := NewCatchupSubscription(store, 0)
		require.NoError(t, err)
		require.NoError(t, sub.Close())

		assert.ErrorIs(t, sub.Start(ctx), ErrStoreClosed)
	})

	t.Run("context cancellation records the error", func(t *testing.T) {
		store := newTestStore(t)

		subCtx, cancel := context.WithCancel(ctx)
		sub, err := NewCatchupSubscription(store, 0, SubscriptionOptions{
			PollInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, sub.Start(subCtx))

		cancel()

		timeout := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					assert.ErrorIs(t, sub.Err(), context.Canceled)
					return
				}
			case <-timeout:
				t.Fatal("channel not closed after context cancellation")
			}
		}
	})
}
