package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/sharding"
)

// MemoryBroker is an in-process Broker with the same delivery contract as the
// JetStream one: per-name fan-out, competing consumers within a name, bounded
// redelivery and dead-lettering. Subscriptions are durable for the broker's
// lifetime, so messages published while no consumer is attached wait.
type MemoryBroker struct {
	logger *log.Entry

	mu       sync.Mutex
	groups   map[string]*memoryGroup
	log      map[string][]Message
	sequence uint64
	inflight int
	timers   map[*time.Timer]struct{}
	closed   bool
}

type memoryGroup struct {
	sub   Subscription
	queue chan Delivery
}

func NewMemoryBroker(logger *log.Entry) *MemoryBroker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &MemoryBroker{
		logger: logger.WithField("broker", "memory"),
		groups: map[string]*memoryGroup{},
		log:    map[string][]Message{},
		timers: map[*time.Timer]struct{}{},
	}
}

const memoryQueueSize = 4096

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	msg.Header = copyHeader(msg.Header)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransport, ErrBrokerClosed)
	}
	b.sequence++
	seq := b.sequence
	b.log[msg.Topic] = append(b.log[msg.Topic], msg)
	var targets []*memoryGroup
	for _, g := range b.groups {
		if SubjectMatches(g.sub.Topic, msg.Topic) {
			targets = append(targets, g)
		}
	}
	b.inflight += len(targets)
	b.mu.Unlock()

	for _, g := range targets {
		copied := msg
		copied.Header = copyHeader(msg.Header)
		g.queue <- Delivery{Message: copied, Subscription: g.sub.Name, Attempt: 1, Sequence: seq}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, sub Subscription, handler HandlerFunc) (Subscriber, error) {
	sub = sub.withDefaults()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	g, ok := b.groups[sub.Name]
	if !ok {
		g = &memoryGroup{sub: sub, queue: make(chan Delivery, memoryQueueSize)}
		b.groups[sub.Name] = g
	} else if g.sub.Topic != sub.Topic {
		b.mu.Unlock()
		return nil, fmt.Errorf("subscription %s already bound to %s", sub.Name, g.sub.Topic)
	}
	b.mu.Unlock()

	consumerCtx, cancel := context.WithCancel(ctx)
	pool := sharding.NewPool(sub.Workers, sub.Workers*4)
	logger := b.logger.WithField("subscription", sub.Name)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-consumerCtx.Done():
				return
			case d := <-g.queue:
				s := &memorySettler{broker: b, group: g, delivery: d}
				if err := pool.Submit(consumerCtx, d.Key, func() {
					process(consumerCtx, b, sub, d, handler, s, logger)
				}); err != nil {
					// Consumer is going away; hand the message back untouched.
					go func() { g.queue <- d }()
					return
				}
			}
		}
	}()

	return &memorySubscriber{cancel: cancel, done: done, pool: pool}, nil
}

// Messages returns a copy of everything published to topic, including
// dead-lettered copies.
func (b *MemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.log[topic]))
	copy(out, b.log[topic])
	return out
}

// WaitIdle blocks until every delivery has been acked or dead-lettered.
func (b *MemoryBroker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		b.mu.Lock()
		idle := b.inflight == 0
		b.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops pending redeliveries and rejects further publishes.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = map[*time.Timer]struct{}{}
}

func (b *MemoryBroker) settled() {
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
}

func (b *MemoryBroker) redeliver(g *memoryGroup, d Delivery, delay time.Duration) {
	d.Attempt++
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.inflight--
		return
	}
	if delay <= 0 {
		select {
		case g.queue <- d:
			return
		default:
			// Queue is full; go through a timer so Close can still cancel it.
			delay = time.Millisecond
		}
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		closed := b.closed
		if closed {
			b.inflight--
		}
		b.mu.Unlock()
		if !closed {
			g.queue <- d
		}
	})
	b.timers[t] = struct{}{}
}

type memorySettler struct {
	broker   *MemoryBroker
	group    *memoryGroup
	delivery Delivery
}

func (s *memorySettler) Ack() error {
	s.broker.settled()
	return nil
}

func (s *memorySettler) Term() error {
	s.broker.settled()
	return nil
}

func (s *memorySettler) Retry(delay time.Duration) error {
	s.broker.redeliver(s.group, s.delivery, delay)
	return nil
}

type memorySubscriber struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
	pool   *sharding.Pool
}

func (s *memorySubscriber) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.pool.Close()
	})
	return nil
}

// SubjectMatches reports whether subject matches a NATS-style pattern where
// "*" matches one token and a trailing ">" matches the rest.
func SubjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, token := range pt {
		if token == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if token != "*" && token != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
