// Package sns provides an AWS SNS publisher for the event relay.
// It publishes stored events to a single SNS topic.
package sns

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	chronicle "github.com/corvid-labs/chronicle"
)

// Client defines the subset of the SNS API used by the publisher.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes stored events to an AWS SNS topic. The event payload
// is the message body and the event identity travels in message attributes.
// For FIFO topics the stream ID doubles as the message group, preserving
// per-stream ordering.
type Publisher struct {
	client   Client
	topicARN string
	fifo     bool
}

var _ chronicle.Publisher = (*Publisher)(nil)

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithFIFO marks the topic as FIFO; the stream ID becomes the message group
// and the event ID the deduplication ID.
func WithFIFO() Option {
	return func(p *Publisher) {
		p.fifo = true
	}
}

// New creates an SNS Publisher for the given topic ARN.
func New(client Client, topicARN string, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("sns: client is required")
	}
	if topicARN == "" {
		return nil, fmt.Errorf("sns: topic ARN is required")
	}

	p := &Publisher{
		client:   client,
		topicARN: topicARN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends each stored event to the topic. All events are attempted
// even if some fail; errors are collected and returned joined.
func (p *Publisher) Publish(ctx context.Context, events []chronicle.StoredEvent) error {
	var errs []error
	for _, event := range events {
		input := &sns.PublishInput{
			TopicArn:          &p.topicARN,
			Message:           stringPtr(string(event.Data)),
			MessageAttributes: eventAttributes(event),
		}

		if p.fifo {
			input.MessageGroupId = stringPtr(event.StreamID)
			input.MessageDeduplicationId = stringPtr(event.ID)
		}

		if _, err := p.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to publish event %s: %w", event.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the SNS client is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}

func eventAttributes(event chronicle.StoredEvent) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"event_id":        stringAttribute(event.ID),
		"event_type":      stringAttribute(event.Type),
		"stream_id":       stringAttribute(event.StreamID),
		"version":         stringAttribute(strconv.FormatInt(event.Version, 10)),
		"global_position": stringAttribute(strconv.FormatUint(event.GlobalPosition, 10)),
	}
	if event.Metadata.CorrelationID != "" {
		attrs["correlation_id"] = stringAttribute(event.Metadata.CorrelationID)
	}
	if event.Metadata.CausationID != "" {
		attrs["causation_id"] = stringAttribute(event.Metadata.CausationID)
	}
	return attrs
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    stringPtr("String"),
		StringValue: stringPtr(value),
	}
}

func stringPtr(s string) *string {
	return &s
}
