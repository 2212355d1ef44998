package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/the-marketplace/project/internal/contracts"
)

type fakePublisher struct {
	got []Message
	err error
}

func (f *fakePublisher) Publish(_ context.Context, msg Message) error {
	f.got = append(f.got, msg)
	return f.err
}

func newTestPublisher(p Publisher) *EventPublisher {
	pub := NewEventPublisher(p)
	pub.NewID = func() string { return "msg-1" }
	pub.Now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return pub
}

func TestEventPublisher_Publish(t *testing.T) {
	sink := &fakePublisher{}
	pub := newTestPublisher(sink)

	event := contracts.ListingPublished{ListingID: "l-9", PublishedAt: time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(sink.got) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.got))
	}
	msg := sink.got[0]
	if msg.Topic != contracts.TopicListingPublished || msg.Key != "l-9" || msg.ID != "msg-1" {
		t.Fatalf("unexpected message routing: %+v", msg)
	}

	env, decoded, err := contracts.Decode(msg.Data)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if env.MessageID != "msg-1" || env.SentTime == nil || !env.SentTime.Equal(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if decoded.(contracts.ListingPublished).ListingID != "l-9" {
		t.Fatalf("unexpected payload: %#v", decoded)
	}
}

func TestEventPublisher_TransportErrorSurfaces(t *testing.T) {
	sink := &fakePublisher{err: ErrTransport}
	pub := newTestPublisher(sink)

	err := pub.Publish(context.Background(), contracts.ListingDeleted{ListingID: "l-1"})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestEventPublisher_RejectsEventWithoutSubject(t *testing.T) {
	sink := &fakePublisher{}
	pub := newTestPublisher(sink)

	err := pub.Publish(context.Background(), contracts.ListingCreated{})
	if !errors.Is(err, contracts.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
	if len(sink.got) != 0 {
		t.Fatal("nothing should reach the broker")
	}
}
