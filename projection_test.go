package chronicle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProjection captures every event it is handed.
type recordingProjection struct {
	ProjectionBase
	applied []Event
	failOn  string
}

func newRecordingProjection(name string, handledEvents ...string) *recordingProjection {
	return &recordingProjection{ProjectionBase: NewProjectionBase(name, handledEvents...)}
}

func (p *recordingProjection) Apply(ctx context.Context, event Event) error {
	if p.failOn != "" && event.Type == p.failOn {
		return fmt.Errorf("handler failed on %s", event.Type)
	}
	p.applied = append(p.applied, event)
	return nil
}

func TestProjectionBase(t *testing.T) {
	t.Run("explicit handled events", func(t *testing.T) {
		base := NewProjectionBase("AccountView", "AccountOpened", "MoneyDeposited")

		assert.Equal(t, "AccountView", base.Name())
		assert.Equal(t, []string{"AccountOpened", "MoneyDeposited"}, base.HandledEvents())
		assert.True(t, base.HandlesEvent("AccountOpened"))
		assert.False(t, base.HandlesEvent("MoneyWithdrawn"))
	})

	t.Run("empty handled events means everything", func(t *testing.T) {
		base := NewProjectionBase("Audit")
		assert.True(t, base.HandlesEvent("anything"))
	})
}

func TestKeyedProjection(t *testing.T) {
	ctx := context.Background()

	newBalanceProjection := func(store ReadModelStore[accountView]) *KeyedProjection[accountView] {
		return NewKeyedProjection[accountView]("AccountBalance", store, nil).
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
			OnDelete("AccountClosed")
	}

	event := func(streamID, eventType string, data any, position uint64) Event {
		return Event{
			StreamID:       streamID,
			Type:           eventType,
			Data:           data,
			Version:        int64(position),
			GlobalPosition: position,
		}
	}

	t.Run("upserts keyed by stream ID", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceProjection(store)

		assert.Equal(t, "AccountBalance", projection.Name())
		assert.Equal(t, []string{"AccountOpened", "MoneyDeposited", "AccountClosed"}, projection.HandledEvents())

		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountOpened", AccountOpened{AccountID: "acc-1", Owner: "alice"}, 1)))
		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "MoneyDeposited", MoneyDeposited{AccountID: "acc-1", Amount: 100}, 2)))
		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-2", "AccountOpened", AccountOpened{AccountID: "acc-2", Owner: "bob"}, 3)))

		view, err := store.Get(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", view.Owner)
		assert.Equal(t, int64(100), view.Balance)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("delete handler acts as a tombstone", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceProjection(store)

		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountOpened", AccountOpened{AccountID: "acc-1"}, 1)))
		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountClosed", struct{}{}, 2)))

		_, err := store.Get(ctx, "Account-acc-1")
		assert.ErrorIs(t, err, ErrNotFound)

		// Replaying the tombstone is a no-op, not an error.
		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountClosed", struct{}{}, 2)))
	})

	t.Run("unregistered event type fails fast", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceProjection(store)

		err := projection.Apply(ctx,
			event("Account-acc-1", "MoneyWithdrawn", MoneyWithdrawn{}, 1))
		assert.Error(t, err)
	})

	t.Run("nil handler panics at registration", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := NewKeyedProjection[accountView]("AccountBalance", store, nil)

		assert.PanicsWithValue(t,
			`chronicle: projection "AccountBalance" registered a nil handler for event type "AccountOpened"`,
			func() { projection.On("AccountOpened", nil) })
	})

	t.Run("custom key function", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := NewKeyedProjection[accountView]("ByOwner", store, func(e Event) string {
			return e.Data.(AccountOpened).Owner
		}).On("AccountOpened", func(ctx context.Context, event Event, current *accountView) (accountView, error) {
			opened := event.Data.(AccountOpened)
			return accountView{AccountID: opened.AccountID, Owner: opened.Owner}, nil
		})

		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountOpened", AccountOpened{AccountID: "acc-1", Owner: "alice"}, 1)))

		view, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", view.AccountID)
	})

	t.Run("Reset clears the read model", func(t *testing.T) {
		store := NewInMemoryReadModelStore[accountView]()
		projection := newBalanceProjection(store)

		require.NoError(t, projection.Apply(ctx,
			event("Account-acc-1", "AccountOpened", AccountOpened{AccountID: "acc-1"}, 1)))
		require.Equal(t, 1, store.Len())

		require.NoError(t, projection.Reset(ctx))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("replay produces the same read model", func(t *testing.T) {
		events := []Event{
			event("Account-acc-1", "AccountOpened", AccountOpened{AccountID: "acc-1", Owner: "alice"}, 1),
			event("Account-acc-1", "MoneyDeposited", MoneyDeposited{AccountID: "acc-1", Amount: 100}, 2),
			event("Account-acc-2", "AccountOpened", AccountOpened{AccountID: "acc-2", Owner: "bob"}, 3),
			event("Account-acc-2", "AccountClosed", struct{}{}, 4),
		}

		run := func() map[string]accountView {
			store := NewInMemoryReadModelStore[accountView]()
			projection := newBalanceProjection(store)
			for _, e := range events {
				require.NoError(t, projection.Apply(ctx, e))
			}
			all, err := store.GetAll(ctx)
			require.NoError(t, err)
			out := make(map[string]accountView, len(all))
			for _, v := range all {
				out[v.AccountID] = v
			}
			return out
		}

		assert.Equal(t, run(), run())
	})
}

func TestCompositeProjection(t *testing.T) {
	ctx := context.Background()

	event := func(eventType string, position uint64) Event {
		return Event{
			StreamID:       "Account-acc-1",
			Type:           eventType,
			Data:           struct{}{},
			Version:        int64(position),
			GlobalPosition: position,
		}
	}

	t.Run("validation", func(t *testing.T) {
		_, err := NewCompositeProjection("", nil)
		assert.ErrorIs(t, err, ErrEmptyProjectionName)

		_, err = NewCompositeProjection("views", nil, nil)
		assert.ErrorIs(t, err, ErrNilProjection)

		_, err = NewCompositeProjection("views", nil,
			newRecordingProjection("dup"), newRecordingProjection("dup"))
		assert.ErrorIs(t, err, ErrProjectionAlreadyRegistered)
	})

	t.Run("routes events by handled type", func(t *testing.T) {
		opened := newRecordingProjection("opened", "AccountOpened")
		deposits := newRecordingProjection("deposits", "MoneyDeposited")

		composite, err := NewCompositeProjection("views", nil, opened, deposits)
		require.NoError(t, err)

		require.NoError(t, composite.Apply(ctx, event("AccountOpened", 1)))
		require.NoError(t, composite.Apply(ctx, event("MoneyDeposited", 2)))
		require.NoError(t, composite.Apply(ctx, event("MoneyDeposited", 3)))

		assert.Len(t, opened.applied, 1)
		assert.Len(t, deposits.applied, 2)
	})

	t.Run("HandledEvents is the union of children", func(t *testing.T) {
		composite, err := NewCompositeProjection("views", nil,
			newRecordingProjection("a", "AccountOpened"),
			newRecordingProjection("b", "MoneyDeposited", "AccountOpened"))
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"AccountOpened", "MoneyDeposited"}, composite.HandledEvents())
	})

	t.Run("catch-all child makes the composite catch-all", func(t *testing.T) {
		composite, err := NewCompositeProjection("views", nil,
			newRecordingProjection("a", "AccountOpened"),
			newRecordingProjection("audit"))
		require.NoError(t, err)

		assert.Nil(t, composite.HandledEvents())
	})

	t.Run("faulted child is isolated, siblings keep processing", func(t *testing.T) {
		healthy := newRecordingProjection("healthy")
		flaky := newRecordingProjection("flaky")
		flaky.failOn = "MoneyDeposited"

		composite, err := NewCompositeProjection("views", nil, healthy, flaky)
		require.NoError(t, err)

		require.NoError(t, composite.Apply(ctx, event("AccountOpened", 1)))
		require.NoError(t, composite.Apply(ctx, event("MoneyDeposited", 2)))
		require.NoError(t, composite.Apply(ctx, event("AccountOpened", 3)))

		// The healthy child saw everything; the flaky one stopped at its fault.
		assert.Len(t, healthy.applied, 3)
		assert.Len(t, flaky.applied, 1)

		faults := composite.FaultedChildren()
		require.Len(t, faults, 1)
		assert.Contains(t, faults, "flaky")
	})

	t.Run("all children faulted surfaces an error", func(t *testing.T) {
		first := newRecordingProjection("first")
		first.failOn = "MoneyDeposited"
		second := newRecordingProjection("second")
		second.failOn = "MoneyDeposited"

		composite, err := NewCompositeProjection("views", nil, first, second)
		require.NoError(t, err)

		err = composite.Apply(ctx, event("MoneyDeposited", 1))
		assert.Error(t, err)
	})

	t.Run("ClearFaults restores processing", func(t *testing.T) {
		flaky := newRecordingProjection("flaky")
		flaky.failOn = "MoneyDeposited"

		composite, err := NewCompositeProjection("views", nil,
			newRecordingProjection("healthy"), flaky)
		require.NoError(t, err)

		require.NoError(t, composite.Apply(ctx, event("MoneyDeposited", 1)))
		require.Len(t, composite.FaultedChildren(), 1)

		composite.ClearFaults()
		flaky.failOn = ""

		require.NoError(t, composite.Apply(ctx, event("MoneyDeposited", 2)))
		assert.Empty(t, composite.FaultedChildren())
		assert.Len(t, flaky.applied, 1)
	})
}
