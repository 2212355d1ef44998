package contracts

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWrapDecode_ListingCreated(t *testing.T) {
	created := ListingCreated{
		ListingID: "7b0b7d4e-4a5e-4a31-8f52-3f0c1f1f0a01",
		ListingDetails: ListingDetails{
			Title:        "Desk",
			Price:        50,
			CategoryName: "Furniture",
			TagNames:     []string{"oak"},
			IsActive:     true,
		},
		SellerID:  "seller-1",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	env, err := Wrap("msg-1", created, time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC))
	if err != nil {
		t.Fatalf("Wrap returned error: %v", err)
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	gotEnv, event, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if gotEnv.MessageID != "msg-1" {
		t.Fatalf("expected message id msg-1, got %q", gotEnv.MessageID)
	}
	got, ok := event.(ListingCreated)
	if !ok {
		t.Fatalf("expected ListingCreated, got %T", event)
	}
	if got.ListingID != created.ListingID || got.Title != "Desk" || got.CategoryName != "Furniture" {
		t.Fatalf("unexpected decoded event: %+v", got)
	}
}

func TestEnvelope_WireNamesAreCamelCaseAndOmitEmpty(t *testing.T) {
	deleted := ListingDeleted{ListingID: "listing-1"}
	env, err := Wrap("msg-2", deleted, time.Now())
	if err != nil {
		t.Fatalf("Wrap returned error: %v", err)
	}
	raw, _ := Marshal(env)
	body := string(raw)

	for _, want := range []string{`"messageId":"msg-2"`, `"messageType":["urn:message:Services.Core.Events.ListingEvents:ListingDeleted"]`, `"listingId":"listing-1"`, `"sentTime"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
	if strings.Contains(body, "deletedAt") || strings.Contains(body, "null") {
		t.Fatalf("absent optional fields must be omitted: %s", body)
	}
}

func TestDecode_AcceptsBareKindTag(t *testing.T) {
	raw := []byte(`{"messageId":"m","messageType":["ListingDeleted"],"message":{"listingId":"abc"}}`)
	_, event, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if event.Kind() != KindListingDeleted || event.SubjectID() != "abc" {
		t.Fatalf("unexpected event: %#v", event)
	}
}

func TestDecode_SkipsUnknownTagsBeforeKnownOne(t *testing.T) {
	raw := []byte(`{"messageId":"m","messageType":["urn:message:Other:Thing","urn:message:Services.Core.Events.DriverEvents:DriverCreated"],"message":{"driverId":"d-1","firstName":"Ada","lastName":"Lovelace"}}`)
	_, event, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	driver, ok := event.(DriverCreated)
	if !ok || driver.FirstName != "Ada" {
		t.Fatalf("unexpected event: %#v", event)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "malformed", raw: `{not json`, want: ErrInvalidEnvelope},
		{name: "no type", raw: `{"messageId":"m","message":{}}`, want: ErrInvalidEnvelope},
		{name: "unknown type", raw: `{"messageId":"m","messageType":["urn:message:X:Nope"],"message":{}}`, want: ErrUnknownMessageType},
		{name: "missing subject", raw: `{"messageId":"m","messageType":["ListingCreated"],"message":{"title":"x"}}`, want: ErrInvalidEnvelope},
		{name: "wrong field type", raw: `{"messageId":"m","messageType":["ListingCreated"],"message":{"listingId":"a","price":"cheap"}}`, want: ErrInvalidEnvelope},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWrap_RejectsMissingSubject(t *testing.T) {
	if _, err := Wrap("m", ListingCreated{}, time.Now()); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestListingUpdated_OptionalFieldsAreAdditive(t *testing.T) {
	// Payload from a producer that predates sellerId/createdAt on updates.
	raw := json.RawMessage(`{"listingId":"l-1","title":"Chair","price":12.5,"isActive":true,"updatedAt":"2026-03-02T00:00:00Z"}`)
	var updated ListingUpdated
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.SellerID != "" || updated.CreatedAt != nil {
		t.Fatalf("expected optional fields to stay empty: %+v", updated)
	}
}

func TestMessageTypeFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindListingCreated, "urn:message:Services.Core.Events.ListingEvents:ListingCreated"},
		{KindListingPublished, "urn:message:Services.Core.Events.ListingEvents:ListingPublished"},
		{KindDriverCreated, "urn:message:Services.Core.Events.DriverEvents:DriverCreated"},
		{KindChecklistSubmitted, "urn:message:Services.Core.Events.ChecklistsEvents:ChecklistSubmitted"},
	}
	for _, tt := range tests {
		if got := MessageTypeFor(tt.kind); got != tt.want {
			t.Errorf("MessageTypeFor(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
	for kind := range topicsByKind {
		if _, ok := messageNamespaces[kind]; !ok {
			t.Errorf("kind %s has a topic but no message namespace", kind)
		}
	}
}

func TestTopicFor(t *testing.T) {
	topic, ok := TopicFor(KindListingPublished)
	if !ok || topic != "listing.events.published" {
		t.Fatalf("unexpected topic %q (%v)", topic, ok)
	}
	if got := DeadLetterFor(SubscriptionListingCreated); got != "deadletter.search-service.listing-indexing.created" {
		t.Fatalf("unexpected dead-letter name %q", got)
	}
	if !IsDeadLetter(DeadLetterFor(TopicListingCreated)) {
		t.Fatal("expected dead-letter prefix to be recognised")
	}
}
