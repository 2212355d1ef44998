package indexer

import (
	"testing"
	"time"

	"github.com/the-marketplace/project/internal/app/search"
	"github.com/the-marketplace/project/internal/contracts"
)

var created = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func TestFromListingCreated_Metadata(t *testing.T) {
	doc := fromListingCreated(contracts.ListingCreated{
		ListingID: "l-1",
		ListingDetails: contracts.ListingDetails{
			Title:        "Camera",
			Price:        100,
			CategoryID:   "c-9",
			CategoryName: "Electronics",
			Location:     "Leeds",
			TagNames:     []string{"a", "b"},
			IsActive:     true,
		},
		SellerID:  "seller-1",
		CreatedAt: created,
	})

	want := map[string]string{
		MetaCategoryID:   "c-9",
		MetaCategoryName: "Electronics",
		MetaPrice:        "100.00",
		MetaLocation:     "Leeds",
		MetaTags:         "a,b",
	}
	for k, v := range want {
		if doc.Metadata[k] != v {
			t.Fatalf("metadata %s: expected %q, got %q", k, v, doc.Metadata[k])
		}
	}
	if len(doc.Metadata) != len(want) {
		t.Fatalf("unexpected metadata keys: %v", doc.Metadata)
	}
	if doc.Identifier != "l-1" || doc.Name != "Camera" || doc.Type != search.TypeListing || doc.AccountID != "seller-1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.ResourceURL != "/api/listings/l-1" || doc.Status != search.StatusActive || !doc.UpdatedAt.Equal(created) {
		t.Fatalf("unexpected derived fields: %+v", doc)
	}
}

func TestListingMetadata_OmitsEmptyFields(t *testing.T) {
	got := listingMetadata(contracts.ListingDetails{Title: "x", Price: 12.5})
	if len(got) != 1 || got[MetaPrice] != "12.50" {
		t.Fatalf("expected only price, got %v", got)
	}
}

func TestFromListingUpdated_FillsMissingFieldsFromExisting(t *testing.T) {
	updatedAt := created.Add(time.Hour)
	existing := &search.Document{
		Identifier: "l-1",
		AccountID:  "seller-1",
		CreatedAt:  created,
		Metadata:   map[string]string{MetaPublishedAt: "2026-04-02T10:00:00Z"},
	}
	doc := fromListingUpdated(contracts.ListingUpdated{
		ListingID:      "l-1",
		ListingDetails: contracts.ListingDetails{Title: "Camera v2", Price: 90, IsActive: true},
		UpdatedAt:      updatedAt,
	}, existing)

	if doc.AccountID != "seller-1" || !doc.CreatedAt.Equal(created) || !doc.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("expected carried-over owner and creation time, got %+v", doc)
	}
	if doc.Metadata[MetaPublishedAt] == "" {
		t.Fatalf("publish marker dropped: %v", doc.Metadata)
	}

	// Without an existing document the update stands on its own.
	doc = fromListingUpdated(contracts.ListingUpdated{ListingID: "l-2", UpdatedAt: updatedAt}, nil)
	if !doc.CreatedAt.Equal(updatedAt) || doc.AccountID != "" || doc.Status != search.StatusInactive {
		t.Fatalf("unexpected standalone update document: %+v", doc)
	}
}

func TestFromDriverCreated(t *testing.T) {
	doc := fromDriverCreated(contracts.DriverCreated{
		DriverID:  "d-1",
		AccountID: "acct-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		IsActive:  true,
		CreatedAt: created,
	})
	if doc.Name != "Ada Lovelace" || doc.Type != search.TypeDriver || !doc.UpdatedAt.Equal(created) {
		t.Fatalf("unexpected driver document: %+v", doc)
	}
}

func TestMarkPublished(t *testing.T) {
	publishedAt := created.Add(2 * time.Hour)
	doc := markPublished(search.Document{Identifier: "l-1", UpdatedAt: created}, publishedAt)
	if !doc.IsActive || doc.Status != search.StatusActive || !doc.UpdatedAt.Equal(publishedAt) {
		t.Fatalf("unexpected patch: %+v", doc)
	}
	if doc.Metadata[MetaPublishedAt] != "2026-04-02T11:30:00Z" {
		t.Fatalf("unexpected published marker: %v", doc.Metadata)
	}
}
