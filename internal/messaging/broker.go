package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/the-marketplace/project/internal/contracts"
)

var ErrTransport = errors.New("broker transport failure")
var ErrBrokerClosed = errors.New("broker closed")

// Header keys set by the brokers.
const (
	HeaderPartitionKey   = "Partition-Key"
	HeaderOriginalTopic  = "X-Original-Topic"
	HeaderSubscription   = "X-Subscription"
	HeaderDeliveryCount  = "X-Delivery-Count"
	HeaderFailureReason  = "X-Failure-Reason"
	HeaderDeadLetteredAt = "X-Dead-Lettered-At"
	HeaderOriginalID     = "X-Original-Message-Id"
)

// Message is one unit handed to a broker. Key groups messages about the same
// subject; ID lets the transport drop duplicate publishes.
type Message struct {
	ID     string
	Topic  string
	Key    string
	Data   []byte
	Header map[string]string
}

// Delivery is a received message together with its delivery state.
type Delivery struct {
	Message
	Subscription string
	// Attempt starts at 1 and grows with each redelivery.
	Attempt  int
	Sequence uint64
}

type HandlerFunc func(ctx context.Context, d Delivery) error

// Subscription is a named, durable binding to a topic. Every distinct name
// receives its own copy of each message; consumers sharing a name compete.
type Subscription struct {
	Name       string
	Topic      string
	DeadLetter string
	// MaxDeliver bounds handler attempts before the message is dead-lettered.
	MaxDeliver    int
	AckWait       time.Duration
	Backoff       []time.Duration
	Workers       int
	HandleTimeout time.Duration
}

const (
	defaultMaxDeliver = 5
	defaultAckWait    = 30 * time.Second
)

func (s Subscription) withDefaults() Subscription {
	if s.DeadLetter == "" {
		s.DeadLetter = contracts.DeadLetterFor(s.Name)
	}
	if s.MaxDeliver <= 0 {
		s.MaxDeliver = defaultMaxDeliver
	}
	if s.AckWait <= 0 {
		s.AckWait = defaultAckWait
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.HandleTimeout <= 0 || s.HandleTimeout > s.AckWait {
		s.HandleTimeout = s.AckWait
	}
	return s
}

// backoffFor returns the redelivery delay after the given failed attempt.
func (s Subscription) backoffFor(attempt int) time.Duration {
	if len(s.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Backoff) {
		idx = len(s.Backoff) - 1
	}
	return s.Backoff[idx]
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	Unsubscribe() error
}

type Broker interface {
	Publisher
	Subscribe(ctx context.Context, sub Subscription, handler HandlerFunc) (Subscriber, error)
}

func copyHeader(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+4)
	for k, v := range h {
		out[k] = v
	}
	return out
}
