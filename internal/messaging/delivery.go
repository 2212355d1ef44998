package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/platform/metrics"
	"github.com/the-marketplace/project/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var deliveryOutcomes = metrics.NewCounterVec(metrics.Opts{
	Name: "messaging_deliveries_total",
	Help: "Message deliveries by subscription and outcome.",
}, []string{"subscription", "outcome"})

func init() {
	metrics.Default.MustRegister(deliveryOutcomes)
}

// settler is the transport-specific side of acknowledging one delivery.
type settler interface {
	Ack() error
	Retry(delay time.Duration) error
	Term() error
}

// invoke runs handler under the subscription deadline inside a consumer span.
// A panicking handler is reported as an error.
func invoke(ctx context.Context, sub Subscription, d Delivery, handler HandlerFunc) (err error) {
	ctx = tracing.Extract(ctx, d.Header)
	ctx, span := tracing.Tracer().Start(ctx, "consume "+sub.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", d.Topic),
			attribute.String("messaging.subscription", sub.Name),
			attribute.String("messaging.message_id", d.ID),
			attribute.Int("messaging.attempt", d.Attempt),
		),
	)
	defer span.End()

	handleCtx, cancel := context.WithTimeout(ctx, sub.HandleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return handler(handleCtx, d)
}

// process runs the handler and settles the delivery: ack on success, delayed
// redelivery while attempts remain, dead-letter once they are exhausted.
func process(ctx context.Context, pub Publisher, sub Subscription, d Delivery, handler HandlerFunc, s settler, logger *log.Entry) {
	entry := logger.WithFields(log.Fields{
		"subscription": sub.Name,
		"message_id":   d.ID,
		"subject_id":   d.Key,
		"attempt":      d.Attempt,
	})

	handleErr := invoke(ctx, sub, d, handler)
	if handleErr == nil {
		if err := s.Ack(); err != nil {
			entry.WithError(err).Warn("ack failed")
		}
		deliveryOutcomes.WithLabelValues(sub.Name, "ack").Inc()
		return
	}

	if d.Attempt < sub.MaxDeliver {
		delay := sub.backoffFor(d.Attempt)
		entry.WithError(handleErr).WithField("retry_in", delay.String()).Warn("message handling failed, scheduling redelivery")
		if err := s.Retry(delay); err != nil {
			entry.WithError(err).Warn("nak failed")
		}
		deliveryOutcomes.WithLabelValues(sub.Name, "retry").Inc()
		return
	}

	dead := deadLetterMessage(sub, d, handleErr, time.Now())
	if err := pub.Publish(ctx, dead); err != nil {
		entry.WithError(err).Error("dead-letter publish failed, message will be redelivered")
		_ = s.Retry(sub.backoffFor(d.Attempt))
		deliveryOutcomes.WithLabelValues(sub.Name, "retry").Inc()
		return
	}
	entry.WithError(handleErr).WithField("dead_letter", sub.DeadLetter).Error("message dead-lettered after exhausting attempts")
	if err := s.Term(); err != nil {
		entry.WithError(err).Warn("term failed")
	}
	deliveryOutcomes.WithLabelValues(sub.Name, "dead_letter").Inc()
}

// deadLetterID names the parked copy per subscription. Every dead-letter
// subject shares one stream and its duplicate window, so two subscriptions
// parking the same message need distinct ids.
func deadLetterID(subscription, messageID string) string {
	if messageID == "" {
		return ""
	}
	return subscription + ":" + messageID
}

func deadLetterMessage(sub Subscription, d Delivery, cause error, at time.Time) Message {
	header := copyHeader(d.Header)
	header[HeaderOriginalTopic] = d.Topic
	if d.ID != "" {
		header[HeaderOriginalID] = d.ID
	}
	header[HeaderSubscription] = sub.Name
	header[HeaderDeliveryCount] = strconv.Itoa(d.Attempt)
	header[HeaderFailureReason] = cause.Error()
	header[HeaderDeadLetteredAt] = at.UTC().Format(time.RFC3339Nano)
	if d.Key != "" {
		header[HeaderPartitionKey] = d.Key
	}
	return Message{
		ID:     deadLetterID(sub.Name, d.ID),
		Topic:  sub.DeadLetter,
		Key:    d.Key,
		Data:   d.Data,
		Header: header,
	}
}
