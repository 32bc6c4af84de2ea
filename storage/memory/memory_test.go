package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/chronicle/storage"
)

func record(eventType string) storage.EventRecord {
	return storage.EventRecord{Type: eventType, Data: []byte(`{}`)}
}

func TestAdapterAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns versions and global positions", func(t *testing.T) {
		adapter := NewAdapter()

		stored, err := adapter.Append(ctx, "Account-acc-1",
			[]storage.EventRecord{record("AccountOpened"), record("MoneyDeposited")}, NoStream)
		require.NoError(t, err)
		require.Len(t, stored, 2)

		assert.Equal(t, int64(1), stored[0].Version)
		assert.Equal(t, int64(2), stored[1].Version)
		assert.Equal(t, uint64(1), stored[0].GlobalPosition)
		assert.Equal(t, uint64(2), stored[1].GlobalPosition)
		assert.NotEmpty(t, stored[0].ID)
		assert.NotEqual(t, stored[0].ID, stored[1].ID)
		assert.False(t, stored[0].Timestamp.IsZero())
	})

	t.Run("global positions span streams", func(t *testing.T) {
		adapter := NewAdapter()

		first, err := adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("A")}, NoStream)
		require.NoError(t, err)
		second, err := adapter.Append(ctx, "Account-acc-2", []storage.EventRecord{record("B")}, NoStream)
		require.NoError(t, err)

		assert.Equal(t, uint64(1), first[0].GlobalPosition)
		assert.Equal(t, uint64(2), second[0].GlobalPosition)
		assert.Equal(t, int64(1), second[0].Version)
	})

	t.Run("optimistic concurrency", func(t *testing.T) {
		adapter := NewAdapter()

		_, err := adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("A")}, NoStream)
		require.NoError(t, err)

		_, err = adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("B")}, NoStream)
		assert.ErrorIs(t, err, storage.ErrConcurrencyConflict)

		_, err = adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("B")}, 2)
		assert.ErrorIs(t, err, storage.ErrConcurrencyConflict)

		_, err = adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("B")}, 1)
		assert.NoError(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		adapter := NewAdapter()

		_, err := adapter.Append(ctx, "", []storage.EventRecord{record("A")}, NoStream)
		assert.ErrorIs(t, err, storage.ErrEmptyStreamID)

		_, err = adapter.Append(ctx, "Account-acc-1", nil, NoStream)
		assert.ErrorIs(t, err, storage.ErrNoEvents)

		_, err = adapter.Append(ctx, "Account-acc-1",
			[]storage.EventRecord{{Type: "", Data: []byte(`{}`)}}, NoStream)
		assert.ErrorIs(t, err, storage.ErrInvalidEvent)
	})

	t.Run("concurrent writers cannot both win the same version", func(t *testing.T) {
		adapter := NewAdapter()
		_, err := adapter.Append(ctx, "Account-acc-1", []storage.EventRecord{record("A")}, NoStream)
		require.NoError(t, err)

		const writers = 16
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = adapter.Append(ctx, "Account-acc-1",
					[]storage.EventRecord{record(fmt.Sprintf("E%d", i))}, 1)
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			}
		}
		assert.Equal(t, 1, winners)

		version, err := adapter.StreamVersion(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})
}

func TestAdapterLoad(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, adapter *Adapter, n int) {
		t.Helper()
		records := make([]storage.EventRecord, n)
		for i := range records {
			records[i] = record(fmt.Sprintf("E%d", i+1))
		}
		_, err := adapter.Append(ctx, "Account-acc-1", records, NoStream)
		require.NoError(t, err)
	}

	t.Run("inclusive bounds, zero unbounded", func(t *testing.T) {
		adapter := NewAdapter()
		seed(t, adapter, 10)

		all, err := adapter.Load(ctx, "Account-acc-1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 10)

		slice, err := adapter.Load(ctx, "Account-acc-1", 3, 7)
		require.NoError(t, err)
		require.Len(t, slice, 5)
		assert.Equal(t, int64(3), slice[0].Version)
		assert.Equal(t, int64(7), slice[4].Version)
	})

	t.Run("missing stream yields empty slice", func(t *testing.T) {
		adapter := NewAdapter()

		events, err := adapter.Load(ctx, "Account-nope", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("empty stream ID", func(t *testing.T) {
		adapter := NewAdapter()
		_, err := adapter.Load(ctx, "", 0, 0)
		assert.ErrorIs(t, err, storage.ErrEmptyStreamID)
	})
}

func TestAdapterLoadFromPosition(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()

	_, err := adapter.Append(ctx, "Account-acc-1",
		[]storage.EventRecord{record("AccountOpened"), record("MoneyDeposited")}, NoStream)
	require.NoError(t, err)
	_, err = adapter.Append(ctx, "Account-acc-2",
		[]storage.EventRecord{record("AccountOpened")}, NoStream)
	require.NoError(t, err)

	t.Run("fromPosition is exclusive", func(t *testing.T) {
		events, err := adapter.LoadFromPosition(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(2), events[0].GlobalPosition)
	})

	t.Run("type filter", func(t *testing.T) {
		events, err := adapter.LoadFromPosition(ctx, 0, 0, "AccountOpened")
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("limit", func(t *testing.T) {
		events, err := adapter.LoadFromPosition(ctx, 0, 2)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestAdapterSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("save, load, delete", func(t *testing.T) {
		adapter := NewAdapter()

		loaded, err := adapter.LoadSnapshot(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		snap := storage.SnapshotRecord{
			StreamID: "Account-acc-1",
			Version:  5,
			Data:     []byte(`{"balance":100}`),
			Checksum: storage.SnapshotChecksum([]byte(`{"balance":100}`)),
			TakenAt:  time.Now().UTC(),
		}
		require.NoError(t, adapter.SaveSnapshot(ctx, snap))

		loaded, err = adapter.LoadSnapshot(ctx, "Account-acc-1")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, int64(5), loaded.Version)

		require.NoError(t, adapter.DeleteSnapshot(ctx, "Account-acc-1"))
		loaded, err = adapter.LoadSnapshot(ctx, "Account-acc-1")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("latest snapshot wins", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.SaveSnapshot(ctx, storage.SnapshotRecord{StreamID: "s", Version: 1, Data: []byte(`a`)}))
		require.NoError(t, adapter.SaveSnapshot(ctx, storage.SnapshotRecord{StreamID: "s", Version: 2, Data: []byte(`b`)}))

		loaded, err := adapter.LoadSnapshot(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
	})

	t.Run("loaded data is a copy", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.SaveSnapshot(ctx, storage.SnapshotRecord{StreamID: "s", Version: 1, Data: []byte(`abc`)}))

		loaded, err := adapter.LoadSnapshot(ctx, "s")
		require.NoError(t, err)
		loaded.Data[0] = 'x'

		again, err := adapter.LoadSnapshot(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, byte('a'), again.Data[0])
	})

	t.Run("empty stream ID", func(t *testing.T) {
		adapter := NewAdapter()
		err := adapter.SaveSnapshot(ctx, storage.SnapshotRecord{})
		assert.ErrorIs(t, err, storage.ErrEmptyStreamID)
	})
}

func TestAdapterCheckpoints(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()

	position, err := adapter.GetCheckpoint(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), position)

	require.NoError(t, adapter.SetCheckpoint(ctx, "views", 42))
	require.NoError(t, adapter.SetCheckpoint(ctx, "audit", 7))

	position, err = adapter.GetCheckpoint(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), position)

	all, err := adapter.AllCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"views": 42, "audit": 7}, all)

	require.NoError(t, adapter.DeleteCheckpoint(ctx, "views"))
	position, err = adapter.GetCheckpoint(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), position)
}

func TestAdapterLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("closed adapter rejects everything", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Initialize(ctx))
		require.NoError(t, adapter.Ping(ctx))
		require.NoError(t, adapter.Close())

		_, err := adapter.Append(ctx, "s", []storage.EventRecord{record("A")}, NoStream)
		assert.ErrorIs(t, err, storage.ErrAdapterClosed)
		_, err = adapter.Load(ctx, "s", 0, 0)
		assert.ErrorIs(t, err, storage.ErrAdapterClosed)
		_, err = adapter.LastPosition(ctx)
		assert.ErrorIs(t, err, storage.ErrAdapterClosed)
		assert.ErrorIs(t, adapter.Ping(ctx), storage.ErrAdapterClosed)
	})

	t.Run("canceled context", func(t *testing.T) {
		adapter := NewAdapter()
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := adapter.Append(canceled, "s", []storage.EventRecord{record("A")}, NoStream)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Reset clears everything", func(t *testing.T) {
		adapter := NewAdapter()
		_, err := adapter.Append(ctx, "s", []storage.EventRecord{record("A")}, NoStream)
		require.NoError(t, err)
		require.NoError(t, adapter.SetCheckpoint(ctx, "views", 1))

		adapter.Reset()

		assert.Equal(t, 0, adapter.EventCount())
		assert.Equal(t, 0, adapter.StreamCount())
		position, err := adapter.LastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), position)
	})
}
