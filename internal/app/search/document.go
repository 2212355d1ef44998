package search

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidPage     = errors.New("pageNumber must be at least 1")
	ErrInvalidPageSize = errors.New("pageSize must be positive")
	ErrInvalidDocument = errors.New("invalid document")
)

// Document types indexed today.
const (
	TypeListing = "Listing"
	TypeDriver  = "Driver"
)

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// StatusFor maps the active flag onto a status.
func StatusFor(active bool) Status {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// Document is the denormalized read-model entry. Identifier is the upsert key.
type Document struct {
	Identifier  string            `json:"identifier" db:"identifier"`
	Name        string            `json:"name" db:"name"`
	Type        string            `json:"type" db:"type"`
	AccountID   string            `json:"accountId" db:"account_id"`
	ResourceURL string            `json:"resourceUrl" db:"resource_url"`
	Description string            `json:"description,omitempty" db:"description"`
	IsActive    bool              `json:"isActive" db:"is_active"`
	Status      Status            `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
}

func (d Document) clone() Document {
	if d.Metadata != nil {
		metadata := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			metadata[k] = v
		}
		d.Metadata = metadata
	}
	return d
}

func (d Document) validate() error {
	if d.Identifier == "" {
		return errors.Join(ErrInvalidDocument, errors.New("identifier is required"))
	}
	return nil
}

// Query describes one search request. Zero-valued filters are ignored.
type Query struct {
	SearchBy   string
	PageNumber int
	PageSize   int
	Type       string
	AccountID  string
	IsActive   *bool
}

// Offset is the zero-based index of the first document on the page.
func (q Query) Offset() int {
	return (q.PageNumber - 1) * q.PageSize
}

// Result is one page of documents plus the number of documents that matched.
type Result struct {
	Documents []Document
	Total     int64
}

// Page is the paginated response envelope.
type Page struct {
	Data         []Document `json:"data"`
	TotalRecords int64      `json:"totalRecords"`
	PageNumber   int        `json:"pageNumber"`
	PageSize     int        `json:"pageSize"`
	TotalPages   int        `json:"totalPages"`
}

func NewPage(result Result, q Query) Page {
	data := result.Documents
	if data == nil {
		data = []Document{}
	}
	totalPages := 0
	if q.PageSize > 0 {
		totalPages = int((result.Total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}
	return Page{
		Data:         data,
		TotalRecords: result.Total,
		PageNumber:   q.PageNumber,
		PageSize:     q.PageSize,
		TotalPages:   totalPages,
	}
}

// Repository is the read-model store contract every backend satisfies.
// Save is an upsert keyed by Identifier and must be visible to the next
// Search; Delete of a missing identifier succeeds.
type Repository interface {
	Save(ctx context.Context, doc Document) error
	Delete(ctx context.Context, identifier string) error
	Get(ctx context.Context, identifier string) (Document, error)
	Search(ctx context.Context, q Query) (Result, error)
}
