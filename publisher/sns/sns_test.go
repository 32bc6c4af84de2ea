package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chronicle "github.com/corvid-labs/chronicle"
)

// mockClient records Publish calls and can fail specific event IDs.
type mockClient struct {
	calls  []*sns.PublishInput
	failOn map[string]error
}

func (m *mockClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if err := m.failOn[attrValue(params, "event_id")]; err != nil {
		return nil, err
	}
	return &sns.PublishOutput{MessageId: stringPtr("msg-1")}, nil
}

func attrValue(input *sns.PublishInput, key string) string {
	attr, ok := input.MessageAttributes[key]
	if !ok || attr.StringValue == nil {
		return ""
	}
	return *attr.StringValue
}

func storedEvent(id string, position uint64) chronicle.StoredEvent {
	return chronicle.StoredEvent{
		ID:             id,
		StreamID:       "Account-acc-1",
		Type:           "MoneyDeposited",
		Data:           []byte(`{"amount":100}`),
		Version:        int64(position),
		GlobalPosition: position,
	}
}

func TestNew(t *testing.T) {
	t.Run("requires a client", func(t *testing.T) {
		_, err := New(nil, "arn:aws:sns:us-east-1:123456789:events")
		assert.Error(t, err)
	})

	t.Run("requires a topic ARN", func(t *testing.T) {
		_, err := New(&mockClient{}, "")
		assert.Error(t, err)
	})
}

func TestPublish(t *testing.T) {
	t.Run("sends payload and identity attributes", func(t *testing.T) {
		mock := &mockClient{}
		p, err := New(mock, "arn:aws:sns:us-east-1:123456789:events")
		require.NoError(t, err)

		event := storedEvent("evt-1", 7)
		event.Metadata = chronicle.Metadata{CorrelationID: "corr-1", CausationID: "cause-1"}

		require.NoError(t, p.Publish(context.Background(), []chronicle.StoredEvent{event}))
		require.Len(t, mock.calls, 1)

		call := mock.calls[0]
		assert.Equal(t, "arn:aws:sns:us-east-1:123456789:events", *call.TopicArn)
		assert.Equal(t, `{"amount":100}`, *call.Message)
		assert.Equal(t, "MoneyDeposited", attrValue(call, "event_type"))
		assert.Equal(t, "Account-acc-1", attrValue(call, "stream_id"))
		assert.Equal(t, "7", attrValue(call, "global_position"))
		assert.Equal(t, "corr-1", attrValue(call, "correlation_id"))
		assert.Equal(t, "cause-1", attrValue(call, "causation_id"))
		assert.Nil(t, call.MessageGroupId)
	})

	t.Run("fifo topics group by stream", func(t *testing.T) {
		mock := &mockClient{}
		p, err := New(mock, "arn:aws:sns:us-east-1:123456789:events.fifo", WithFIFO())
		require.NoError(t, err)

		require.NoError(t, p.Publish(context.Background(), []chronicle.StoredEvent{storedEvent("evt-1", 1)}))
		require.Len(t, mock.calls, 1)

		assert.Equal(t, "Account-acc-1", *mock.calls[0].MessageGroupId)
		assert.Equal(t, "evt-1", *mock.calls[0].MessageDeduplicationId)
	})

	t.Run("collects failures but attempts every event", func(t *testing.T) {
		boom := errors.New("throttled")
		mock := &mockClient{failOn: map[string]error{"evt-2": boom}}
		p, err := New(mock, "arn:aws:sns:us-east-1:123456789:events")
		require.NoError(t, err)

		err = p.Publish(context.Background(), []chronicle.StoredEvent{
			storedEvent("evt-1", 1), storedEvent("evt-2", 2), storedEvent("evt-3", 3),
		})

		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "evt-2")
		assert.Len(t, mock.calls, 3)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mock := &mockClient{}
		p, err := New(mock, "arn:aws:sns:us-east-1:123456789:events")
		require.NoError(t, err)

		assert.NoError(t, p.Publish(context.Background(), nil))
		assert.Empty(t, mock.calls)
	})
}

func TestClose(t *testing.T) {
	p, err := New(&mockClient{}, "arn:aws:sns:us-east-1:123456789:events")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
