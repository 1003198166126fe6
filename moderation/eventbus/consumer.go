package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountabilityatlas/warden/moderation"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("eventbus")

// Reads inbound event streams and hands each event to the dispatcher. One
// goroutine per stream; events within a stream are handled in order.
//
// Entries are acknowledged after handling, including when the handler fails
// (failures are logged and counted). The exception is context cancellation, in
// which case the entry is left pending and is re-read on the next start.
type Consumer struct {
	Source     Source
	Dispatcher moderation.Dispatcher
	Streams    []string
	Logger     *slog.Logger
}

type groupEnsurer interface {
	EnsureGroup(ctx context.Context, stream string) error
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Blocks until ctx is cancelled, or a stream fails to initialize.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Dispatcher == nil {
		return fmt.Errorf("nil dispatcher")
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("no streams to consume")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, stream := range c.Streams {
		g.Go(func() error {
			return c.consume(ctx, stream)
		})
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, stream string) error {
	logger := c.logger().With("stream", stream)

	if ge, ok := c.Source.(groupEnsurer); ok {
		if err := ge.EnsureGroup(ctx, stream); err != nil {
			return err
		}
	}
	logger.Info("consuming inbound events")

	backoff := time.Second
	for {
		msgs, err := c.Source.Read(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("stream read failed; sleeping then will retry", "err", err, "period", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, time.Minute)
			continue
		}
		backoff = time.Second

		for _, msg := range msgs {
			err := c.HandleMessage(ctx, msg)
			if err != nil && ctx.Err() != nil {
				logger.Info("shutting down with event unacknowledged", "id", msg.ID)
				return nil
			}
			if err := c.Source.Ack(ctx, stream, msg.ID); err != nil {
				logger.Error("failed to ack event", "id", msg.ID, "err", err)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Decodes and dispatches a single entry. Unknown event types are skipped.
// Handler errors and panics are logged, counted, and returned.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) (err error) {
	logger := c.logger().With("stream", msg.Stream, "id", msg.ID)

	eventType, err := PeekType(msg.Data)
	if err != nil {
		eventsConsumed.WithLabelValues("unknown", "malformed").Inc()
		logger.Error("dropping malformed event", "err", err)
		return err
	}
	logger = logger.With("eventType", eventType)

	ctx, span := tracer.Start(ctx, "HandleMessage", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("stream", msg.Stream),
		attribute.String("event_id", msg.ID),
		attribute.String("event_type", eventType),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s event: %v", eventType, r)
		}
		if err != nil && !errors.Is(err, errSkipped) {
			span.SetStatus(codes.Error, err.Error())
		}
		eventHandleDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			eventsConsumed.WithLabelValues(eventType, "ok").Inc()
		case errors.Is(err, errSkipped):
			eventsConsumed.WithLabelValues(eventType, "skipped").Inc()
			err = nil
		default:
			eventsConsumed.WithLabelValues(eventType, "error").Inc()
			logger.Error("failed to handle event", "err", err)
		}
	}()

	switch eventType {
	case moderation.EventTypeVideoSubmitted:
		var evt moderation.SubmittedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		item, err := c.Dispatcher.HandleSubmitted(ctx, evt)
		if err != nil {
			return err
		}
		if item != nil {
			logger.Debug("submission queued", "item", item.ID, "content", evt.ContentID)
		}
		return nil
	case moderation.EventTypeUserTrustTierChanged:
		var evt moderation.TrustTierChangedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		n, err := c.Dispatcher.HandleTrustTierChanged(ctx, evt)
		if n > 0 {
			logger.Info("auto-approved pending items", "user", evt.UserID, "count", n)
		}
		return err
	default:
		logger.Debug("ignoring unhandled event type")
		return errSkipped
	}
}

var errSkipped = errors.New("event type not handled")
