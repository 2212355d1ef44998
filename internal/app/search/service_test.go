package search

import (
	"context"
	"errors"
	"math"
	"testing"
)

type failingRepository struct {
	MemoryRepository
	err error
}

func (r *failingRepository) Search(context.Context, Query) (Result, error) {
	return Result{}, r.err
}

func (r *failingRepository) Get(context.Context, string) (Document, error) {
	return Document{}, r.err
}

func TestService_Normalize(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 50)

	tests := []struct {
		name     string
		in       Query
		wantSize int
		wantErr  error
	}{
		{name: "default size", in: Query{PageNumber: 1}, wantSize: DefaultPageSize},
		{name: "capped", in: Query{PageNumber: 1, PageSize: 500}, wantSize: 50},
		{name: "kept", in: Query{PageNumber: 3, PageSize: 20}, wantSize: 20},
		{name: "page zero", in: Query{PageNumber: 0, PageSize: 10}, wantErr: ErrInvalidPage},
		{name: "negative size", in: Query{PageNumber: 1, PageSize: -1}, wantErr: ErrInvalidPageSize},
		{name: "last reachable page", in: Query{PageNumber: MaxOffset/10 + 1, PageSize: 10}, wantSize: 10},
		{name: "offset overflows", in: Query{PageNumber: math.MaxInt/10 + 2, PageSize: 10}, wantErr: ErrInvalidPage},
		{name: "offset beyond bound", in: Query{PageNumber: MaxOffset/10 + 2, PageSize: 10}, wantErr: ErrInvalidPage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Normalize(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr == nil && got.PageSize != tc.wantSize {
				t.Fatalf("expected page size %d, got %d", tc.wantSize, got.PageSize)
			}
		})
	}
}

func TestService_SearchEnvelope(t *testing.T) {
	repo := NewMemoryRepository()
	seed(t, repo, listing("x", "Desk", baseTime))
	svc := NewService(repo, 0)

	page, err := svc.Search(context.Background(), Query{SearchBy: "  desk ", PageNumber: 1})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if page.PageSize != DefaultPageSize || page.TotalPages != 1 || len(page.Data) != 1 || page.Data[0].Name != "Desk" {
		t.Fatalf("unexpected page: %+v", page)
	}

	page, err = svc.Search(context.Background(), Query{SearchBy: "zzzzzz", PageNumber: 1})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if page.Data == nil || len(page.Data) != 0 || page.TotalPages != 0 {
		t.Fatalf("expected empty non-nil data, got %+v", page)
	}
}

func TestService_SearchRejectsUnreachablePage(t *testing.T) {
	repo := NewMemoryRepository()
	for i := 0; i < 25; i++ {
		seed(t, repo, listing(string(rune('a'+i)), "Desk", baseTime))
	}
	svc := NewService(repo, 0)

	page, err := svc.Search(context.Background(), Query{PageNumber: math.MaxInt/10 + 2, PageSize: 10})
	if !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v (page with %d documents)", err, len(page.Data))
	}
}

func TestService_SearchSurfacesBackendFailure(t *testing.T) {
	boom := errors.New("cluster unavailable")
	svc := NewService(&failingRepository{err: boom}, 0)

	_, err := svc.Search(context.Background(), Query{PageNumber: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
