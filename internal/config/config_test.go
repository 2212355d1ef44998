package config

import (
	"testing"
	"time"
)

func TestLoad_SearchIndexerDefaults(t *testing.T) {
	cfg, err := Load[SearchIndexer]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":8083" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.Indexer.MaxDeliver != 5 || cfg.Indexer.Workers != 8 {
		t.Fatalf("unexpected indexer defaults: %+v", cfg.Indexer)
	}
	if len(cfg.Indexer.Backoff) != 4 || cfg.Indexer.Backoff[0] != time.Second {
		t.Fatalf("unexpected backoff: %v", cfg.Indexer.Backoff)
	}
	if cfg.Search.Backend != "opensearch" || cfg.Search.OpenSearch.Index != "marketplace" {
		t.Fatalf("unexpected search defaults: %+v", cfg.Search)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SEARCH_BACKEND", "postgres")
	t.Setenv("SEARCH_MAX_PAGE_SIZE", "50")
	t.Setenv("SEARCH_REQUIRE_AUTH", "true")

	cfg, err := Load[SearchAPI]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Search.Backend != "postgres" || cfg.Search.MaxPageSize != 50 || !cfg.RequireAuth {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}
