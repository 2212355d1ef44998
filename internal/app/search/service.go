package search

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/the-marketplace/project/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100

	// MaxOffset bounds (pageNumber-1)*pageSize; search engines take the
	// offset as a 32-bit integer.
	MaxOffset = math.MaxInt32
)

type Service struct {
	Repository  Repository
	MaxPageSize int
}

func NewService(repository Repository, maxPageSize int) *Service {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Service{Repository: repository, MaxPageSize: maxPageSize}
}

// Normalize validates paging and applies the page size default and ceiling.
func (s *Service) Normalize(q Query) (Query, error) {
	if q.PageNumber < 1 {
		return q, ErrInvalidPage
	}
	switch {
	case q.PageSize == 0:
		q.PageSize = DefaultPageSize
	case q.PageSize < 0:
		return q, ErrInvalidPageSize
	case q.PageSize > s.MaxPageSize:
		q.PageSize = s.MaxPageSize
	}
	if q.PageNumber-1 > MaxOffset/q.PageSize {
		return q, fmt.Errorf("%w: page %d is beyond the last reachable page", ErrInvalidPage, q.PageNumber)
	}
	q.SearchBy = strings.TrimSpace(q.SearchBy)
	return q, nil
}

// Search runs q against the read model. Backend failures are returned as-is;
// there is no fallback to the system of record.
func (s *Service) Search(ctx context.Context, q Query) (Page, error) {
	q, err := s.Normalize(q)
	if err != nil {
		return Page{}, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "search.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.term", q.SearchBy),
		attribute.Int("search.page_number", q.PageNumber),
		attribute.Int("search.page_size", q.PageSize),
	)

	result, err := s.Repository.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, fmt.Errorf("search read model: %w", err)
	}
	span.SetAttributes(attribute.Int64("search.total", result.Total))
	return NewPage(result, q), nil
}

func (s *Service) Get(ctx context.Context, identifier string) (Document, error) {
	return s.Repository.Get(ctx, identifier)
}
