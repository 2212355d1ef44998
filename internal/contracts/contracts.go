package contracts

import "time"

// Kind names one event type. It doubles as the dispatch tag inside an Envelope.
type Kind string

const (
	KindListingCreated     Kind = "ListingCreated"
	KindListingUpdated     Kind = "ListingUpdated"
	KindListingPublished   Kind = "ListingPublished"
	KindListingDeleted     Kind = "ListingDeleted"
	KindDriverCreated      Kind = "DriverCreated"
	KindChecklistSubmitted Kind = "ChecklistSubmitted"
)

// Event is implemented by every payload that can travel inside an Envelope.
type Event interface {
	Kind() Kind
	// SubjectID is the identifier of the entity the event describes.
	// Brokers use it as the partition key.
	SubjectID() string
}

// ListingDetails holds the listing fields shared by the create, update and
// publish payloads. It is embedded so the fields stay flat on the wire.
type ListingDetails struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Price        float64  `json:"price"`
	Location     string   `json:"location,omitempty"`
	CategoryID   string   `json:"categoryId,omitempty"`
	CategoryName string   `json:"categoryName,omitempty"`
	TagNames     []string `json:"tagNames,omitempty"`
	ResourceURL  string   `json:"resourceUrl,omitempty"`
	IsActive     bool     `json:"isActive"`
}

// ListingCreated is emitted once a listing row has been committed.
type ListingCreated struct {
	ListingID string `json:"listingId"`
	ListingDetails
	SellerID  string    `json:"sellerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListingUpdated carries the full post-update state of the listing.
// SellerID and CreatedAt were added later and may be absent on older producers.
type ListingUpdated struct {
	ListingID string `json:"listingId"`
	ListingDetails
	SellerID  string     `json:"sellerId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ListingSnapshot is the optional full state attached to ListingPublished.
type ListingSnapshot struct {
	ListingDetails
	SellerID  string    `json:"sellerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ListingPublished struct {
	ListingID   string           `json:"listingId"`
	PublishedAt time.Time        `json:"publishedAt"`
	Listing     *ListingSnapshot `json:"listing,omitempty"`
}

type ListingDeleted struct {
	ListingID string     `json:"listingId"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// DriverCreated comes from the fleet side and is indexed alongside listings.
type DriverCreated struct {
	DriverID    string    `json:"driverId"`
	AccountID   string    `json:"accountId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	ResourceURL string    `json:"resourceUrl,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChecklistSubmitted feeds the document pipeline. The indexer ignores it.
type ChecklistSubmitted struct {
	ChecklistID string    `json:"checklistId"`
	AccountID   string    `json:"accountId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (ListingCreated) Kind() Kind     { return KindListingCreated }
func (ListingUpdated) Kind() Kind     { return KindListingUpdated }
func (ListingPublished) Kind() Kind   { return KindListingPublished }
func (ListingDeleted) Kind() Kind     { return KindListingDeleted }
func (DriverCreated) Kind() Kind      { return KindDriverCreated }
func (ChecklistSubmitted) Kind() Kind { return KindChecklistSubmitted }

func (e ListingCreated) SubjectID() string     { return e.ListingID }
func (e ListingUpdated) SubjectID() string     { return e.ListingID }
func (e ListingPublished) SubjectID() string   { return e.ListingID }
func (e ListingDeleted) SubjectID() string     { return e.ListingID }
func (e DriverCreated) SubjectID() string      { return e.DriverID }
func (e ChecklistSubmitted) SubjectID() string { return e.ChecklistID }
