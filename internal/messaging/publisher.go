package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nuid"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher turns domain events into broker messages.
type EventPublisher struct {
	Publisher Publisher
	NewID     func() string
	Now       func() time.Time
}

func NewEventPublisher(publisher Publisher) *EventPublisher {
	return &EventPublisher{
		Publisher: publisher,
		NewID:     nuid.Next,
		Now:       time.Now,
	}
}

// Message wraps event in an envelope addressed to its topic. The subject id
// becomes the partition key and the trace context of ctx travels in headers.
func (p *EventPublisher) Message(ctx context.Context, event contracts.Event) (Message, error) {
	topic, ok := contracts.TopicFor(event.Kind())
	if !ok {
		return Message{}, fmt.Errorf("no topic for %s", event.Kind())
	}
	env, err := contracts.Wrap(p.NewID(), event, p.Now())
	if err != nil {
		return Message{}, err
	}
	data, err := contracts.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	header := map[string]string{}
	tracing.Inject(ctx, header)
	return Message{
		ID:     env.MessageID,
		Topic:  topic,
		Key:    event.SubjectID(),
		Data:   data,
		Header: header,
	}, nil
}

// Publish hands event to the broker. Broker failures come back wrapping
// ErrTransport so callers can decide whether to retry.
func (p *EventPublisher) Publish(ctx context.Context, event contracts.Event) error {
	ctx, span := tracing.Tracer().Start(ctx, "publish "+string(event.Kind()),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("event.subject_id", event.SubjectID())),
	)
	defer span.End()

	msg, err := p.Message(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.message_id", msg.ID),
	)
	if err := p.Publisher.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s %s: %w", event.Kind(), event.SubjectID(), err)
	}
	return nil
}
