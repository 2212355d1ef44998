package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/the-marketplace/project/internal/contracts"
)

func TestDurableName(t *testing.T) {
	got := DurableName(contracts.SubscriptionListingCreated)
	if got != "search-service_listing-indexing_created" {
		t.Fatalf("unexpected durable name %q", got)
	}
}

func TestStreamFor(t *testing.T) {
	tests := map[string]string{
		contracts.TopicListingDeleted:                                 ListingEventsStream,
		contracts.TopicDriverCreated:                                  DriverEventsStream,
		contracts.TopicChecklistSubmitted:                             ChecklistEventsStream,
		contracts.DeadLetterFor(contracts.SubscriptionListingUpdated): DeadLetterStream,
	}
	for topic, want := range tests {
		got, ok := StreamFor(topic)
		if !ok || got != want {
			t.Errorf("StreamFor(%q) = %q, %v; want %q", topic, got, ok, want)
		}
	}
	if _, ok := StreamFor("orders.events.created"); ok {
		t.Fatal("expected no stream for an unknown topic family")
	}
}

func TestSubscriptionDefaults(t *testing.T) {
	sub := Subscription{Name: contracts.SubscriptionListingDeleted, Topic: contracts.TopicListingDeleted, HandleTimeout: time.Hour}.withDefaults()
	if sub.DeadLetter != "deadletter.search-service.listing-indexing.deleted" {
		t.Fatalf("unexpected dead-letter %q", sub.DeadLetter)
	}
	if sub.MaxDeliver != defaultMaxDeliver || sub.Workers != 1 || sub.AckWait != defaultAckWait {
		t.Fatalf("unexpected defaults %+v", sub)
	}
	if sub.HandleTimeout != sub.AckWait {
		t.Fatalf("handle timeout must not outlive ack wait, got %s", sub.HandleTimeout)
	}
}

func TestBackoffFor(t *testing.T) {
	sub := Subscription{Backoff: []time.Duration{time.Second, 5 * time.Second}}
	if got := sub.backoffFor(1); got != time.Second {
		t.Fatalf("attempt 1 backoff = %s", got)
	}
	if got := sub.backoffFor(7); got != 5*time.Second {
		t.Fatalf("backoff beyond table must reuse the last step, got %s", got)
	}
	if got := (Subscription{}).backoffFor(3); got != 0 {
		t.Fatalf("no backoff table means immediate redelivery, got %s", got)
	}
}

func TestDeadLetterMessage(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := Delivery{
		Message: Message{ID: "m", Topic: contracts.TopicListingUpdated, Key: "l-1", Data: []byte("x"), Header: map[string]string{"a": "b"}},
		Attempt: 5,
	}
	sub := Subscription{Name: contracts.SubscriptionListingUpdated}.withDefaults()
	msg := deadLetterMessage(sub, d, errors.New("mapping error"), at)

	if msg.Topic != sub.DeadLetter || msg.Key != "l-1" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if msg.Header[HeaderDeadLetteredAt] != "2026-01-02T03:04:05Z" || msg.Header[HeaderSubscription] != sub.Name || msg.Header["a"] != "b" {
		t.Fatalf("unexpected headers: %v", msg.Header)
	}
	if msg.ID != contracts.SubscriptionListingUpdated+":m" || msg.Header[HeaderOriginalID] != "m" {
		t.Fatalf("dead-letter id = %q (original %q), want a subscription-scoped id", msg.ID, msg.Header[HeaderOriginalID])
	}
	if _, mutated := d.Header[HeaderOriginalTopic]; mutated {
		t.Fatal("delivery headers must not be mutated")
	}
}
