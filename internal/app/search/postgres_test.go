package search

import (
	"strings"
	"testing"
)

func TestBuildSearchSQL_WithTermAndFilters(t *testing.T) {
	active := true
	sql, args := buildSearchSQL(Query{SearchBy: "desk", PageNumber: 3, PageSize: 10, Type: TypeListing, IsActive: &active})

	for _, want := range []string{
		"word_similarity($1, name)",
		"name ILIKE $2",
		"type = $3",
		"is_active = $4",
		"count(*) OVER() AS total",
		"ORDER BY score DESC, created_at DESC, identifier",
		"LIMIT $5 OFFSET $6",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected SQL to contain %q:\n%s", want, sql)
		}
	}
	if len(args) != 6 || args[0] != "desk" || args[1] != "%desk%" || args[4] != 10 || args[5] != 20 {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBuildSearchSQL_EmptyTermOrdersByRecency(t *testing.T) {
	sql, args := buildSearchSQL(Query{PageNumber: 1, PageSize: 10})
	if strings.Contains(sql, "WHERE") || !strings.Contains(sql, "0::float8 AS score") {
		t.Fatalf("unexpected SQL for empty term:\n%s", sql)
	}
	if !strings.Contains(sql, "LIMIT $1 OFFSET $2") || len(args) != 2 {
		t.Fatalf("unexpected paging: %s %#v", sql, args)
	}
}

func TestBuildCountSQL(t *testing.T) {
	sql, args := buildCountSQL(Query{AccountID: "seller-1"})
	if sql != "SELECT count(*) FROM search_items\nWHERE account_id = $1" || len(args) != 1 {
		t.Fatalf("unexpected count SQL: %q %#v", sql, args)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape: %q", got)
	}
}

func TestMetadataTextIsStable(t *testing.T) {
	got := metadataText(map[string]string{"Price": "50.00", "CategoryName": "Furniture", "Location": "Leeds"})
	if got != "Furniture Leeds 50.00" {
		t.Fatalf("unexpected metadata text: %q", got)
	}
}
