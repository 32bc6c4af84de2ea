package chronicle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	t.Run("NewSnapshot computes the checksum", func(t *testing.T) {
		snapshot := NewSnapshot("Account-acc-1", 5, []byte(`{"balance":100}`))

		assert.Equal(t, "Account-acc-1", snapshot.StreamID)
		assert.Equal(t, int64(5), snapshot.Version)
		assert.False(t, snapshot.TakenAt.IsZero())
		assert.NoError(t, snapshot.Verify())
	})

	t.Run("Verify detects tampered state", func(t *testing.T) {
		snapshot := NewSnapshot("Account-acc-1", 5, []byte(`{"balance":100}`))
		snapshot.State = []byte(`{"balance":9999}`)

		assert.ErrorIs(t, snapshot.Verify(), ErrSnapshotCorrupt)
	})

	t.Run("Verify detects a wrong checksum", func(t *testing.T) {
		snapshot := NewSnapshot("Account-acc-1", 5, []byte(`{"balance":100}`))
		snapshot.Checksum++

		assert.ErrorIs(t, snapshot.Verify(), ErrSnapshotCorrupt)
	})

	t.Run("record round trip preserves everything", func(t *testing.T) {
		snapshot := NewSnapshot("Account-acc-1", 5, []byte(`{"balance":100}`))

		restored := snapshotFromRecord(snapshotToRecord(snapshot))
		assert.Equal(t, snapshot, restored)
		assert.NoError(t, restored.Verify())
	})
}

func TestSnapshotInterval(t *testing.T) {
	policy := SnapshotInterval(time.Hour)

	t.Run("no new events means no snapshot", func(t *testing.T) {
		assert.False(t, policy.ShouldSnapshot(5, 5, time.Now().Add(-2*time.Hour)))
	})

	t.Run("first snapshot fires immediately", func(t *testing.T) {
		assert.True(t, policy.ShouldSnapshot(1, 0, time.Time{}))
	})

	t.Run("fires only after the interval", func(t *testing.T) {
		assert.False(t, policy.ShouldSnapshot(10, 5, time.Now().Add(-time.Minute)))
		assert.True(t, policy.ShouldSnapshot(10, 5, time.Now().Add(-2*time.Hour)))
	})
}

func TestSnapshotPolicyFunc(t *testing.T) {
	var gotVersion, gotLast int64
	policy := SnapshotPolicyFunc(func(version, lastSnapshotVersion int64, _ time.Time) bool {
		gotVersion, gotLast = version, lastSnapshotVersion
		return true
	})

	require.True(t, policy.ShouldSnapshot(7, 3, time.Time{}))
	assert.Equal(t, int64(7), gotVersion)
	assert.Equal(t, int64(3), gotLast)
}
