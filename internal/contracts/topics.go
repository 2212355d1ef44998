package contracts

import "strings"

const (
	TopicListingCreated     = "listing.events.created"
	TopicListingUpdated     = "listing.events.updated"
	TopicListingPublished   = "listing.events.published"
	TopicListingDeleted     = "listing.events.deleted"
	TopicDriverCreated      = "driver.events.created"
	TopicChecklistSubmitted = "checklist.events.submitted"
)

const (
	SubscriptionListingCreated   = "search-service.listing-indexing.created"
	SubscriptionListingUpdated   = "search-service.listing-indexing.updated"
	SubscriptionListingPublished = "search-service.listing-indexing.published"
	SubscriptionListingDeleted   = "search-service.listing-indexing.deleted"
	SubscriptionDriverCreated    = "search-service.driver-indexing.created"
)

// DeadLetterPrefix scopes every dead-letter destination.
const DeadLetterPrefix = "deadletter."

var topicsByKind = map[Kind]string{
	KindListingCreated:     TopicListingCreated,
	KindListingUpdated:     TopicListingUpdated,
	KindListingPublished:   TopicListingPublished,
	KindListingDeleted:     TopicListingDeleted,
	KindDriverCreated:      TopicDriverCreated,
	KindChecklistSubmitted: TopicChecklistSubmitted,
}

// TopicFor returns the topic events of the given kind are published to.
func TopicFor(kind Kind) (string, bool) {
	topic, ok := topicsByKind[kind]
	return topic, ok
}

// DeadLetterFor returns the dead-letter destination paired with a subscription
// or topic name.
func DeadLetterFor(name string) string {
	return DeadLetterPrefix + name
}

// IsDeadLetter reports whether name is a dead-letter destination.
func IsDeadLetter(name string) bool {
	return strings.HasPrefix(name, DeadLetterPrefix)
}
