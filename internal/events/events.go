// Package events fans engine events out to operators: log, NATS and websocket
package events

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/metrics"
)

// Event types
const (
	TypeBatchCreated    = "batch.created"
	TypeBatchSubmitted  = "batch.submitted"
	TypeBatchSuperseded = "batch.superseded"
	TypeBatchDispatched = "batch.dispatched"
	TypeBatchSettled    = "batch.settled"
	TypeLegSettled      = "leg.settled"
	TypeBatchReleased   = "batch.released"
	TypeRequestReleased = "request.released"
	TypeAlert           = "alert"
)

// Alert reasons
const (
	AlertDispatchEmpty        = "dispatch_empty"
	AlertMembersNotSent       = "members_not_sent"
	AlertLegFailed            = "leg_failed"
	AlertExpiredAfterDispatch = "expired_after_dispatch"
	AlertPayloadInvalid       = "payload_invalid"
)

// Event engine state change
type Event struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"` // alerts only
	BatchID   uint64    `json:"batch_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Jetton    string    `json:"jetton,omitempty"`
	TxRef     string    `json:"tx,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher delivers events; failures never affect engine state
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi publishes to every sink and joins their errors
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	return errors.Join(errs...)
}

// LogPublisher writes events to logrus; alerts are logged as errors
type LogPublisher struct{}

// Publish implements Publisher
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	entry := logrus.WithFields(logrus.Fields{
		"event":      event.Type,
		"batch_id":   event.BatchID,
		"request_id": event.RequestID,
		"jetton":     event.Jetton,
		"tx":         event.TxRef,
	})
	if event.Type == TypeAlert {
		metrics.AlertsRaised.WithLabelValues(event.Reason).Inc()
		entry.WithField("reason", event.Reason).Errorf("🚨 [Alert] %s", event.Message)
		return nil
	}
	entry.Debugf("📣 [Event] %s", event.Message)
	return nil
}
