package chronicle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamID(t *testing.T) {
	t.Run("String follows Category-ID", func(t *testing.T) {
		assert.Equal(t, "Account-acc-1", NewStreamID("Account", "acc-1").String())
	})

	t.Run("ParseStreamID", func(t *testing.T) {
		streamID, err := ParseStreamID("Account-acc-1")
		require.NoError(t, err)
		assert.Equal(t, "Account", streamID.Category)
		assert.Equal(t, "acc-1", streamID.ID)
	})

	t.Run("ParseStreamID splits on the first hyphen only", func(t *testing.T) {
		streamID, err := ParseStreamID("Order-2024-01-15-abc")
		require.NoError(t, err)
		assert.Equal(t, "Order", streamID.Category)
		assert.Equal(t, "2024-01-15-abc", streamID.ID)
	})

	t.Run("ParseStreamID rejects malformed input", func(t *testing.T) {
		for _, input := range []string{"", "nohyphen", "-missing", "missing-"} {
			_, err := ParseStreamID(input)
			assert.Error(t, err, "input %q", input)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, NewStreamID("Account", "acc-1").Validate())
		assert.Error(t, NewStreamID("", "acc-1").Validate())
		assert.Error(t, NewStreamID("Account", "").Validate())
	})

	t.Run("IsZero", func(t *testing.T) {
		assert.True(t, StreamID{}.IsZero())
		assert.False(t, NewStreamID("Account", "acc-1").IsZero())
	})
}

func TestMetadata(t *testing.T) {
	t.Run("builders return copies", func(t *testing.T) {
		base := Metadata{}
		modified := base.
			WithCorrelationID("corr-1").
			WithCausationID("cause-1").
			WithActor("alice").
			WithCustom("tenant", "acme")

		assert.True(t, base.IsEmpty())
		assert.False(t, modified.IsEmpty())
		assert.Equal(t, "corr-1", modified.CorrelationID)
		assert.Equal(t, "cause-1", modified.CausationID)
		assert.Equal(t, "alice", modified.Actor)
		assert.Equal(t, "acme", modified.Custom["tenant"])
	})

	t.Run("WithCustom does not mutate the source map", func(t *testing.T) {
		first := Metadata{}.WithCustom("a", "1")
		second := first.WithCustom("b", "2")

		assert.Len(t, first.Custom, 1)
		assert.Len(t, second.Custom, 2)
	})
}

func TestEventDataValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		data := NewEventData("AccountOpened", []byte(`{}`))
		assert.NoError(t, data.Validate())
	})

	t.Run("missing type", func(t *testing.T) {
		err := EventData{Data: []byte(`{}`)}.Validate()
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("missing data", func(t *testing.T) {
		err := EventData{Type: "AccountOpened"}.Validate()
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestStoredEventValidate(t *testing.T) {
	valid := StoredEvent{
		ID:        "evt-1",
		StreamID:  "Account-acc-1",
		Type:      "AccountOpened",
		Data:      []byte(`{}`),
		Version:   1,
		Timestamp: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	t.Run("each mandatory field is enforced", func(t *testing.T) {
		cases := map[string]func(e StoredEvent) StoredEvent{
			"id":        func(e StoredEvent) StoredEvent { e.ID = ""; return e },
			"streamId":  func(e StoredEvent) StoredEvent { e.StreamID = ""; return e },
			"type":      func(e StoredEvent) StoredEvent { e.Type = ""; return e },
			"version":   func(e StoredEvent) StoredEvent { e.Version = 0; return e },
			"timestamp": func(e StoredEvent) StoredEvent { e.Timestamp = time.Time{}; return e },
		}
		for field, mutate := range cases {
			err := mutate(valid).Validate()
			assert.ErrorIs(t, err, ErrInvalidEvent, "field %s", field)
		}
	})
}

func TestEventFromStored(t *testing.T) {
	now := time.Now()
	stored := StoredEvent{
		ID:             "evt-1",
		StreamID:       "Account-acc-1",
		Type:           "AccountOpened",
		Data:           []byte(`{"owner":"alice"}`),
		Metadata:       Metadata{CorrelationID: "corr-1"},
		Version:        3,
		GlobalPosition: 9,
		Timestamp:      now,
	}

	event := EventFromStored(stored, AccountOpened{Owner: "alice"})

	assert.Equal(t, stored.ID, event.ID)
	assert.Equal(t, stored.StreamID, event.StreamID)
	assert.Equal(t, stored.Type, event.Type)
	assert.Equal(t, stored.Metadata, event.Metadata)
	assert.Equal(t, stored.Version, event.Version)
	assert.Equal(t, stored.GlobalPosition, event.GlobalPosition)
	assert.Equal(t, stored.Timestamp, event.Timestamp)
	assert.Equal(t, AccountOpened{Owner: "alice"}, event.Data)
}
