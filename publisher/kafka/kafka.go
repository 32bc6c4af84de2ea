// Package kafka provides a Kafka publisher for the event relay.
// It writes stored events to a Kafka topic using github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	chronicle "github.com/corvid-labs/chronicle"
)

// Publisher writes stored events to a single Kafka topic. The event payload
// is the message value, the stream ID is the partition key, and the event
// identity travels in message headers. Per-stream ordering is preserved
// because all events of a stream land on the same partition.
type Publisher struct {
	writer *kafkago.Writer
}

var _ chronicle.Publisher = (*Publisher)(nil)

// Option configures a Kafka Publisher.
type Option func(*config)

type config struct {
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper
	requiredAcks kafkago.RequiredAcks
}

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(c *config) {
		c.brokers = brokers
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(c *config) {
		c.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *config) {
		c.batchTimeout = d
	}
}

// WithTransport sets a custom transport, e.g. for SASL or TLS.
func WithTransport(transport kafkago.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// WithRequiredAcks sets the acknowledgement level for writes.
func WithRequiredAcks(acks kafkago.RequiredAcks) Option {
	return func(c *config) {
		c.requiredAcks = acks
	}
}

// New creates a Kafka Publisher for the given topic.
func New(topic string, opts ...Option) (*Publisher, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	c := &config{
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		requiredAcks: kafkago.RequireAll,
	}
	for _, opt := range opts {
		opt(c)
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(c.brokers...),
			Topic:                  topic,
			Balancer:               c.balancer,
			BatchTimeout:           c.batchTimeout,
			Transport:              c.transport,
			RequiredAcks:           c.requiredAcks,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes a batch of stored events to the topic in order.
func (p *Publisher) Publish(ctx context.Context, events []chronicle.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafkago.Message, len(events))
	for i, event := range events {
		messages[i] = kafkago.Message{
			Key:     []byte(event.StreamID),
			Value:   event.Data,
			Headers: eventHeaders(event),
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// eventHeaders carries the event identity alongside the payload so consumers
// can route and deduplicate without decoding the body.
func eventHeaders(event chronicle.StoredEvent) []kafkago.Header {
	headers := []kafkago.Header{
		{Key: "event_id", Value: []byte(event.ID)},
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "stream_id", Value: []byte(event.StreamID)},
		{Key: "version", Value: []byte(strconv.FormatInt(event.Version, 10))},
		{Key: "global_position", Value: []byte(strconv.FormatUint(event.GlobalPosition, 10))},
	}
	if event.Metadata.CorrelationID != "" {
		headers = append(headers, kafkago.Header{Key: "correlation_id", Value: []byte(event.Metadata.CorrelationID)})
	}
	if event.Metadata.CausationID != "" {
		headers = append(headers, kafkago.Header{Key: "causation_id", Value: []byte(event.Metadata.CausationID)})
	}
	return headers
}
