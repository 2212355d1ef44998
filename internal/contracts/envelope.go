package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")
var ErrUnknownMessageType = errors.New("unknown message type")

// messageNamespaces groups kinds under the namespace their URN tag carries.
var messageNamespaces = map[Kind]string{
	KindListingCreated:     "Services.Core.Events.ListingEvents",
	KindListingUpdated:     "Services.Core.Events.ListingEvents",
	KindListingPublished:   "Services.Core.Events.ListingEvents",
	KindListingDeleted:     "Services.Core.Events.ListingEvents",
	KindDriverCreated:      "Services.Core.Events.DriverEvents",
	KindChecklistSubmitted: "Services.Core.Events.ChecklistsEvents",
}

// Envelope wraps an event with transport metadata.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	MessageType []string        `json:"messageType"`
	Message     json.RawMessage `json:"message"`
	SentTime    *time.Time      `json:"sentTime,omitempty"`
}

// MessageTypeFor returns the envelope tag for kind, e.g.
// urn:message:Services.Core.Events.ListingEvents:ListingCreated.
func MessageTypeFor(kind Kind) string {
	namespace, ok := messageNamespaces[kind]
	if !ok {
		namespace = "Services.Core.Events"
	}
	return "urn:message:" + namespace + ":" + string(kind)
}

// KindOf resolves the first known event kind among the envelope tags.
// Bare kind names are accepted as well as URNs.
func (e Envelope) KindOf() (Kind, bool) {
	for _, tag := range e.MessageType {
		name := tag
		if idx := strings.LastIndex(tag, ":"); idx >= 0 {
			name = tag[idx+1:]
		}
		if _, ok := decoders[Kind(name)]; ok {
			return Kind(name), true
		}
	}
	return "", false
}

// Wrap builds an envelope around event.
func Wrap(messageID string, event Event, sentAt time.Time) (Envelope, error) {
	if messageID == "" {
		return Envelope{}, fmt.Errorf("%w: empty message id", ErrInvalidEnvelope)
	}
	if event == nil || event.SubjectID() == "" {
		return Envelope{}, fmt.Errorf("%w: missing subject id", ErrInvalidEnvelope)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", event.Kind(), err)
	}
	sent := sentAt.UTC()
	return Envelope{
		MessageID:   messageID,
		MessageType: []string{MessageTypeFor(event.Kind())},
		Message:     payload,
		SentTime:    &sent,
	}, nil
}

// Marshal encodes an envelope for the wire.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

type decodeFunc func(json.RawMessage) (Event, error)

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var event T
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	return event, nil
}

var decoders = map[Kind]decodeFunc{
	KindListingCreated:     decodeAs[ListingCreated],
	KindListingUpdated:     decodeAs[ListingUpdated],
	KindListingPublished:   decodeAs[ListingPublished],
	KindListingDeleted:     decodeAs[ListingDeleted],
	KindDriverCreated:      decodeAs[DriverCreated],
	KindChecklistSubmitted: decodeAs[ChecklistSubmitted],
}

// Decode parses an envelope and its payload, dispatching on the message type tag.
func Decode(data []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(env.MessageType) == 0 {
		return env, nil, fmt.Errorf("%w: no message type", ErrInvalidEnvelope)
	}
	kind, ok := env.KindOf()
	if !ok {
		return env, nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, strings.Join(env.MessageType, ","))
	}
	if len(env.Message) == 0 {
		return env, nil, fmt.Errorf("%w: empty %s payload", ErrInvalidEnvelope, kind)
	}
	event, err := decoders[kind](env.Message)
	if err != nil {
		return env, nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEnvelope, kind, err)
	}
	if event.SubjectID() == "" {
		return env, nil, fmt.Errorf("%w: %s without subject id", ErrInvalidEnvelope, kind)
	}
	return env, event, nil
}
