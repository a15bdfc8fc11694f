package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toncenter/examples/internal/metrics"
)

// natsPublisher is the subset of clients.NATSClient used for events
type natsPublisher interface {
	Subject(name string) string
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to <prefix>.events.<type>, and
// alerts to <prefix>.alerts.<reason>
type NATSPublisher struct {
	client natsPublisher
}

// NewNATSPublisher wraps a connected NATS client
func NewNATSPublisher(client natsPublisher) *NATSPublisher {
	return &NATSPublisher{client: client}
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subject := p.client.Subject("events." + event.Type)
	if event.Type == TypeAlert {
		subject = p.client.Subject("alerts." + event.Reason)
	}
	if err := p.client.Publish(ctx, subject, data); err != nil {
		metrics.EventPublishFailures.WithLabelValues("nats").Inc()
		return err
	}
	return nil
}
