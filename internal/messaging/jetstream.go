package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/sharding"
)

const (
	ListingEventsStream   = "LISTING_EVENTS"
	DriverEventsStream    = "DRIVER_EVENTS"
	ChecklistEventsStream = "CHECKLIST_EVENTS"
	DeadLetterStream      = "DEADLETTER"
)

const duplicateWindow = 2 * time.Minute

var streamSubjects = map[string]string{
	ListingEventsStream:   "listing.events.>",
	DriverEventsStream:    "driver.events.>",
	ChecklistEventsStream: "checklist.events.>",
	DeadLetterStream:      "deadletter.>",
}

// EnsureStreams creates (or validates) the streams backing every topic family
// and the shared dead-letter stream.
func EnsureStreams(js nats.JetStreamContext) error {
	for _, name := range []string{ListingEventsStream, DriverEventsStream, ChecklistEventsStream, DeadLetterStream} {
		if _, err := js.StreamInfo(name); err != nil {
			if !errors.Is(err, nats.ErrStreamNotFound) {
				return err
			}
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:       name,
				Subjects:   []string{streamSubjects[name]},
				Retention:  nats.LimitsPolicy,
				Storage:    nats.FileStorage,
				Replicas:   1,
				Duplicates: duplicateWindow,
			}); addErr != nil {
				return fmt.Errorf("add stream %s: %w", name, addErr)
			}
		}
	}
	return nil
}

// StreamFor returns the stream that captures topic.
func StreamFor(topic string) (string, bool) {
	for name, pattern := range streamSubjects {
		if SubjectMatches(pattern, topic) {
			return name, true
		}
	}
	return "", false
}

// DurableName turns a dotted subscription name into a valid consumer name.
func DurableName(subscription string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, subscription)
}

// JetStreamBroker implements Broker on NATS JetStream. Each subscription is a
// durable push consumer delivered to a queue group of the same name.
type JetStreamBroker struct {
	js     nats.JetStreamContext
	logger *log.Entry
}

func NewJetStreamBroker(js nats.JetStreamContext, logger *log.Entry) *JetStreamBroker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &JetStreamBroker{js: js, logger: logger.WithField("broker", "jetstream")}
}

func (b *JetStreamBroker) Publish(ctx context.Context, msg Message) error {
	out := nats.NewMsg(msg.Topic)
	out.Data = msg.Data
	for k, v := range msg.Header {
		out.Header.Set(k, v)
	}
	if msg.Key != "" {
		out.Header.Set(HeaderPartitionKey, msg.Key)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msg.ID != "" {
		opts = append(opts, nats.MsgId(msg.ID))
	}
	if _, err := b.js.PublishMsg(out, opts...); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrTransport, msg.Topic, err)
	}
	return nil
}

func (b *JetStreamBroker) Subscribe(ctx context.Context, sub Subscription, handler HandlerFunc) (Subscriber, error) {
	sub = sub.withDefaults()
	stream, ok := StreamFor(sub.Topic)
	if !ok {
		return nil, fmt.Errorf("no stream captures topic %s", sub.Topic)
	}
	name := DurableName(sub.Name)
	if err := b.ensureConsumer(stream, name, sub); err != nil {
		return nil, err
	}

	logger := b.logger.WithField("subscription", sub.Name)
	pool := sharding.NewPool(sub.Workers, sub.Workers*4)
	natsSub, err := b.js.QueueSubscribe(sub.Topic, name, func(m *nats.Msg) {
		d := deliveryFromNATS(sub.Name, m)
		submitErr := pool.Submit(ctx, d.Key, func() {
			_ = m.InProgress()
			process(ctx, b, sub, d, handler, natsSettler{msg: m}, logger)
		})
		if submitErr != nil {
			_ = m.NakWithDelay(sub.backoffFor(d.Attempt))
		}
	}, nats.Bind(stream, name), nats.ManualAck())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sub.Name, err)
	}
	logger.WithField("topic", sub.Topic).Info("subscribed")
	return &jetStreamSubscriber{sub: natsSub, pool: pool}, nil
}

func (b *JetStreamBroker) ensureConsumer(stream, name string, sub Subscription) error {
	cfg := &nats.ConsumerConfig{
		Durable:        name,
		DeliverSubject: "_deliver." + name,
		DeliverGroup:   name,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        sub.AckWait,
		// Attempts are counted by the broker, which dead-letters explicitly.
		MaxDeliver:    -1,
		FilterSubject: sub.Topic,
		MaxAckPending: sub.Workers * 64,
	}
	if _, err := b.js.ConsumerInfo(stream, name); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("consumer info %s: %w", name, err)
		}
		if _, err := b.js.AddConsumer(stream, cfg); err != nil {
			return fmt.Errorf("add consumer %s: %w", name, err)
		}
		return nil
	}
	if _, err := b.js.UpdateConsumer(stream, cfg); err != nil {
		b.logger.WithError(err).WithField("consumer", name).Warn("could not update consumer config, binding to existing")
	}
	return nil
}

type jetStreamSubscriber struct {
	sub  *nats.Subscription
	pool *sharding.Pool
}

// Unsubscribe stops delivery and waits for in-flight handlers. The durable
// consumer is left in place because the subscription is bound.
func (s *jetStreamSubscriber) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	s.pool.Close()
	return err
}

type natsSettler struct {
	msg *nats.Msg
}

func (s natsSettler) Ack() error  { return s.msg.Ack() }
func (s natsSettler) Term() error { return s.msg.Term() }

func (s natsSettler) Retry(delay time.Duration) error {
	if delay <= 0 {
		return s.msg.Nak()
	}
	return s.msg.NakWithDelay(delay)
}

func deliveryFromNATS(subscription string, m *nats.Msg) Delivery {
	header := make(map[string]string, len(m.Header))
	for k := range m.Header {
		header[k] = m.Header.Get(k)
	}
	d := Delivery{
		Message: Message{
			ID:     m.Header.Get(nats.MsgIdHdr),
			Topic:  m.Subject,
			Key:    m.Header.Get(HeaderPartitionKey),
			Data:   m.Data,
			Header: header,
		},
		Subscription: subscription,
		Attempt:      1,
	}
	if meta, err := m.Metadata(); err == nil {
		d.Attempt = int(meta.NumDelivered)
		d.Sequence = meta.Sequence.Stream
	}
	if d.ID == "" {
		d.ID = strconv.FormatUint(d.Sequence, 10)
	}
	return d
}
