package listing

import (
	"errors"
	"time"

	"github.com/the-marketplace/project/internal/contracts"
)

var (
	ErrNotFound         = errors.New("listing not found")
	ErrForbidden        = errors.New("listing belongs to another seller")
	ErrTitleRequired    = errors.New("title is required")
	ErrInvalidPrice     = errors.New("price must be zero or greater")
	ErrUnknownCategory  = errors.New("category does not exist")
	ErrInvalidID        = errors.New("id must be a GUID")
	ErrAlreadyPublished = errors.New("listing is already published")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

type Category struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Listing struct {
	ID           string     `json:"id" db:"id"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description" db:"description"`
	Price        float64    `json:"price" db:"price"`
	Location     string     `json:"location" db:"location"`
	SellerID     string     `json:"sellerId" db:"seller_id"`
	CategoryID   string     `json:"categoryId" db:"category_id"`
	CategoryName string     `json:"categoryName" db:"category_name"`
	Tags         []string   `json:"tags" db:"tags"`
	Status       Status     `json:"status" db:"status"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty" db:"published_at"`
}

// Input is the writable part of a listing.
type Input struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Location    string   `json:"location"`
	CategoryID  string   `json:"categoryId"`
	Tags        []string `json:"tags"`
	IsActive    *bool    `json:"isActive,omitempty"`
}

func (l Listing) ResourceURL() string {
	return "/api/listings/" + l.ID
}

func (l Listing) details() contracts.ListingDetails {
	return contracts.ListingDetails{
		Title:        l.Title,
		Description:  l.Description,
		Price:        l.Price,
		Location:     l.Location,
		CategoryID:   l.CategoryID,
		CategoryName: l.CategoryName,
		TagNames:     l.Tags,
		ResourceURL:  l.ResourceURL(),
		IsActive:     l.IsActive,
	}
}

func (l Listing) createdEvent() contracts.ListingCreated {
	return contracts.ListingCreated{
		ListingID:      l.ID,
		ListingDetails: l.details(),
		SellerID:       l.SellerID,
		CreatedAt:      l.CreatedAt,
	}
}

func (l Listing) updatedEvent() contracts.ListingUpdated {
	createdAt := l.CreatedAt
	return contracts.ListingUpdated{
		ListingID:      l.ID,
		ListingDetails: l.details(),
		SellerID:       l.SellerID,
		CreatedAt:      &createdAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func (l Listing) publishedEvent() contracts.ListingPublished {
	return contracts.ListingPublished{
		ListingID:   l.ID,
		PublishedAt: *l.PublishedAt,
		Listing: &contracts.ListingSnapshot{
			ListingDetails: l.details(),
			SellerID:       l.SellerID,
			CreatedAt:      l.CreatedAt,
			UpdatedAt:      l.UpdatedAt,
		},
	}
}
