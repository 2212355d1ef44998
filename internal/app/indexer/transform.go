package indexer

import (
	"strconv"
	"strings"
	"time"

	"github.com/the-marketplace/project/internal/app/search"
	"github.com/the-marketplace/project/internal/contracts"
)

// Metadata keys written into search documents.
const (
	MetaCategoryID   = "CategoryId"
	MetaCategoryName = "CategoryName"
	MetaPrice        = "Price"
	MetaLocation     = "Location"
	MetaTags         = "Tags"
	MetaPublishedAt  = "PublishedAt"
)

func listingResourceURL(id, fromEvent string) string {
	if fromEvent != "" {
		return fromEvent
	}
	return "/api/listings/" + id
}

func listingMetadata(d contracts.ListingDetails) map[string]string {
	metadata := map[string]string{
		MetaPrice: strconv.FormatFloat(d.Price, 'f', 2, 64),
	}
	if d.CategoryID != "" {
		metadata[MetaCategoryID] = d.CategoryID
	}
	if d.CategoryName != "" {
		metadata[MetaCategoryName] = d.CategoryName
	}
	if d.Location != "" {
		metadata[MetaLocation] = d.Location
	}
	if len(d.TagNames) > 0 {
		metadata[MetaTags] = strings.Join(d.TagNames, ",")
	}
	return metadata
}

func listingDocument(id string, d contracts.ListingDetails, sellerID string, createdAt, updatedAt time.Time) search.Document {
	return search.Document{
		Identifier:  id,
		Name:        d.Title,
		Type:        search.TypeListing,
		AccountID:   sellerID,
		ResourceURL: listingResourceURL(id, d.ResourceURL),
		Description: d.Description,
		IsActive:    d.IsActive,
		Status:      search.StatusFor(d.IsActive),
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   updatedAt.UTC(),
		Metadata:    listingMetadata(d),
	}
}

func fromListingCreated(e contracts.ListingCreated) search.Document {
	return listingDocument(e.ListingID, e.ListingDetails, e.SellerID, e.CreatedAt, e.CreatedAt)
}

// fromListingUpdated builds the document from the update alone. Fields older
// producers leave out are taken from existing when there is one.
func fromListingUpdated(e contracts.ListingUpdated, existing *search.Document) search.Document {
	sellerID := e.SellerID
	createdAt := e.UpdatedAt
	if e.CreatedAt != nil {
		createdAt = *e.CreatedAt
	}
	var publishedAt string
	if existing != nil {
		if sellerID == "" {
			sellerID = existing.AccountID
		}
		if e.CreatedAt == nil && !existing.CreatedAt.IsZero() {
			createdAt = existing.CreatedAt
		}
		publishedAt = existing.Metadata[MetaPublishedAt]
	}
	doc := listingDocument(e.ListingID, e.ListingDetails, sellerID, createdAt, e.UpdatedAt)
	if publishedAt != "" {
		doc.Metadata[MetaPublishedAt] = publishedAt
	}
	return doc
}

func fromListingSnapshot(id string, s contracts.ListingSnapshot, publishedAt time.Time) search.Document {
	doc := listingDocument(id, s.ListingDetails, s.SellerID, s.CreatedAt, s.UpdatedAt)
	doc.IsActive = true
	doc.Status = search.StatusActive
	doc.Metadata[MetaPublishedAt] = publishedAt.UTC().Format(time.RFC3339)
	return doc
}

// markPublished patches an already indexed document in place.
func markPublished(doc search.Document, publishedAt time.Time) search.Document {
	doc.IsActive = true
	doc.Status = search.StatusActive
	if publishedAt.After(doc.UpdatedAt) {
		doc.UpdatedAt = publishedAt.UTC()
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	doc.Metadata[MetaPublishedAt] = publishedAt.UTC().Format(time.RFC3339)
	return doc
}

func fromDriverCreated(e contracts.DriverCreated) search.Document {
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = e.CreatedAt
	}
	return search.Document{
		Identifier:  e.DriverID,
		Name:        strings.TrimSpace(e.FirstName + " " + e.LastName),
		Type:        search.TypeDriver,
		AccountID:   e.AccountID,
		ResourceURL: e.ResourceURL,
		IsActive:    e.IsActive,
		Status:      search.StatusFor(e.IsActive),
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   updatedAt.UTC(),
	}
}
