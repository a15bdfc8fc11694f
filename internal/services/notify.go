package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/events"
)

// publish delivers an event; delivery failures are logged and never fail the caller
func publish(ctx context.Context, publisher events.Publisher, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("event", event.Type).Warn("⚠️ Failed to publish event")
	}
}

// alert raises an operator alert; manual intervention is likely necessary
func alert(ctx context.Context, publisher events.Publisher, reason string, event events.Event) {
	event.Type = events.TypeAlert
	event.Reason = reason
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	publish(ctx, publisher, event)
}
