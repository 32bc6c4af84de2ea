// Package webhook provides an HTTP publisher for the event relay.
// It sends each stored event as an HTTP POST to a configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	chronicle "github.com/corvid-labs/chronicle"
)

// Publisher sends stored events as HTTP POST requests. The event payload is
// the request body and the event identity travels in X-Chronicle headers.
type Publisher struct {
	client         *http.Client
	url            string
	defaultHeaders map[string]string
}

var _ chronicle.Publisher = (*Publisher)(nil)

// Option configures a webhook Publisher.
type Option func(*Publisher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.client.Timeout = d
	}
}

// WithDefaultHeaders sets default headers added to all requests, e.g. an
// Authorization header.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range headers {
			p.defaultHeaders[k] = v
		}
	}
}

// New creates a webhook Publisher for the given endpoint URL.
func New(url string, opts ...Option) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}

	p := &Publisher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends each stored event as an HTTP POST to the endpoint. Delivery
// stops at the first failure so the relay retries from the failed event.
func (p *Publisher) Publish(ctx context.Context, events []chronicle.StoredEvent) error {
	for _, event := range events {
		if err := p.send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; idle HTTP connections are released by the transport.
func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Publisher) send(ctx context.Context, event chronicle.StoredEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(event.Data))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	for k, v := range p.defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Chronicle-Event-ID", event.ID)
	req.Header.Set("X-Chronicle-Event-Type", event.Type)
	req.Header.Set("X-Chronicle-Stream-ID", event.StreamID)
	req.Header.Set("X-Chronicle-Version", strconv.FormatInt(event.Version, 10))
	req.Header.Set("X-Chronicle-Global-Position", strconv.FormatUint(event.GlobalPosition, 10))
	if event.Metadata.CorrelationID != "" {
		req.Header.Set("X-Chronicle-Correlation-ID", event.Metadata.CorrelationID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed for %s: %w", p.url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: status %d from %s for event %s", resp.StatusCode, p.url, event.ID)
	}
	return nil
}
