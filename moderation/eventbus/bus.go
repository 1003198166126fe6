package eventbus

import (
	"context"
	"fmt"

	"github.com/accountabilityatlas/warden/moderation"
)

// Entry read from a stream.
type Message struct {
	ID     string
	Stream string
	Data   []byte
}

type Appender interface {
	Append(ctx context.Context, stream string, data []byte) (string, error)
}

type Source interface {
	// Blocks for a while waiting for new entries. May return an empty batch.
	Read(ctx context.Context, stream string) ([]Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Publishes decision events to a single outbound stream. Implements
// moderation.EventPublisher.
type Publisher struct {
	Bus    Appender
	Stream string
}

var _ moderation.EventPublisher = (*Publisher)(nil)

func (p *Publisher) publish(ctx context.Context, eventType string, evt any) error {
	data, err := Encode(eventType, evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	if _, err := p.Bus.Append(ctx, p.Stream, data); err != nil {
		eventsPublished.WithLabelValues(eventType, "error").Inc()
		return fmt.Errorf("publishing %s event: %w", eventType, err)
	}
	eventsPublished.WithLabelValues(eventType, "ok").Inc()
	return nil
}

func (p *Publisher) PublishApproved(ctx context.Context, evt moderation.ApprovedEvent) error {
	return p.publish(ctx, evt.EventType(), evt)
}

func (p *Publisher) PublishRejected(ctx context.Context, evt moderation.RejectedEvent) error {
	return p.publish(ctx, evt.EventType(), evt)
}
