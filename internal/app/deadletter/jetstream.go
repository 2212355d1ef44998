package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/the-marketplace/project/internal/messaging"
)

const replayConsumerPrefix = "deadletter-replay."

// JetStreamOpener reads parked messages with a pull consumer on the
// dead-letter stream. Consuming runs share a durable per topic so acked
// messages are not replayed twice; listing uses a throwaway consumer.
func JetStreamOpener(js nats.JetStreamContext, wait time.Duration) Opener {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return func(_ context.Context, topic string, consume bool) (Source, error) {
		durable := ""
		if consume {
			durable = messaging.DurableName(replayConsumerPrefix + topic)
		}
		sub, err := js.PullSubscribe(topic, durable,
			nats.BindStream(messaging.DeadLetterStream),
			nats.AckExplicit(),
			nats.DeliverAll(),
		)
		if err != nil {
			return nil, fmt.Errorf("pull subscribe: %w", err)
		}
		return &jetStreamSource{sub: sub, wait: wait, consume: consume, seen: map[uint64]struct{}{}}, nil
	}
}

type jetStreamSource struct {
	sub     *nats.Subscription
	wait    time.Duration
	consume bool
	seen    map[uint64]struct{}
}

func (s *jetStreamSource) Fetch(ctx context.Context, max int) ([]Parked, error) {
	msgs, err := s.sub.Fetch(max, nats.MaxWait(s.wait))
	if err != nil && !errors.Is(err, nats.ErrTimeout) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	out := make([]Parked, 0, len(msgs))
	for _, m := range msgs {
		// Unacked messages come round again after AckWait; hand each out once.
		if meta, metaErr := m.Metadata(); metaErr == nil {
			if _, dup := s.seen[meta.Sequence.Stream]; dup {
				continue
			}
			s.seen[meta.Sequence.Stream] = struct{}{}
		}
		out = append(out, natsParked{msg: m})
	}
	return out, nil
}

func (s *jetStreamSource) Close() error {
	if s.consume {
		// Keep the durable so its ack floor survives between runs.
		return s.sub.Drain()
	}
	return s.sub.Unsubscribe()
}

type natsParked struct {
	msg *nats.Msg
}

func (p natsParked) Message() messaging.Message {
	header := make(map[string]string, len(p.msg.Header))
	for k := range p.msg.Header {
		if k == nats.MsgIdHdr {
			continue
		}
		header[k] = p.msg.Header.Get(k)
	}
	return messaging.Message{
		ID:     p.msg.Header.Get(nats.MsgIdHdr),
		Topic:  p.msg.Subject,
		Key:    p.msg.Header.Get(messaging.HeaderPartitionKey),
		Data:   p.msg.Data,
		Header: header,
	}
}

func (p natsParked) Ack() error { return p.msg.Ack() }
