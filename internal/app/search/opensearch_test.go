package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/the-marketplace/project/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request)
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	c.mu.Lock()
	c.requests = append(c.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	c.mu.Unlock()
	c.handle(w, r)
}

func (c *fakeCluster) last() recordedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func newTestOpenSearch(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*OpenSearchRepository, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{handle: handle}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)
	repo := NewOpenSearchRepository(config.OpenSearch{URL: srv.URL, Index: "marketplace", Timeout: 2 * time.Second}, nil)
	return repo, cluster
}

func TestOpenSearch_SaveWaitsForRefresh(t *testing.T) {
	repo, cluster := newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	doc := listing("abc", "Desk", baseTime)
	doc.Metadata = map[string]string{"Price": "50.00"}
	if err := repo.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	req := cluster.last()
	if req.Method != http.MethodPut || req.Path != "/marketplace/_doc/abc" || req.Query != "refresh=wait_for" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Body["name"] != "Desk" || req.Body["accountId"] != "seller-1" {
		t.Fatalf("unexpected body: %v", req.Body)
	}
}

func TestOpenSearch_DeleteMissingSucceeds(t *testing.T) {
	repo, _ := newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	})
	if err := repo.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
}

func TestOpenSearch_GetNotFound(t *testing.T) {
	repo, _ := newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"found":false}`))
	})
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenSearch_Search(t *testing.T) {
	repo, cluster := newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":25},"hits":[{"_source":{"identifier":"x","name":"Desk","type":"Listing"}}]}}`))
	})

	res, err := repo.Search(context.Background(), Query{SearchBy: "desk", PageNumber: 2, PageSize: 10, Type: TypeListing})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if res.Total != 25 || len(res.Documents) != 1 || res.Documents[0].Identifier != "x" {
		t.Fatalf("unexpected result: %+v", res)
	}

	req := cluster.last()
	if req.Method != http.MethodPost || req.Path != "/marketplace/_search" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Body["from"] != float64(10) || req.Body["size"] != float64(10) || req.Body["track_total_hits"] != true {
		t.Fatalf("unexpected paging in body: %v", req.Body)
	}
	raw, _ := json.Marshal(req.Body["query"])
	for _, want := range []string{`"fuzziness":"AUTO"`, `"name^2"`, `"metadata.*"`, `{"term":{"type":"Listing"}}`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("expected query to contain %s: %s", want, raw)
		}
	}
}

func TestOpenSearch_BackendErrors(t *testing.T) {
	repo, _ := newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"parse_exception"}`))
	})
	_, err := repo.Search(context.Background(), Query{PageNumber: 1, PageSize: 10})
	if !errors.Is(err, ErrBackend) || !strings.Contains(err.Error(), "parse_exception") {
		t.Fatalf("expected ErrBackend with detail, got %v", err)
	}

	repo, _ = newTestOpenSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := repo.Save(context.Background(), listing("x", "Desk", baseTime)); !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend after retries, got %v", err)
	}
}

func TestOpenSearch_EnsureIndexCreatesOnce(t *testing.T) {
	exists := false
	repo, cluster := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			if exists {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			exists = true
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
	})

	for i := 0; i < 2; i++ {
		if err := repo.EnsureIndex(context.Background()); err != nil {
			t.Fatalf("EnsureIndex error: %v", err)
		}
	}
	puts := 0
	for _, req := range cluster.requests {
		if req.Method == http.MethodPut {
			puts++
			if _, ok := req.Body["mappings"]; !ok {
				t.Fatalf("create request missing mappings: %v", req.Body)
			}
		}
	}
	if puts != 1 {
		t.Fatalf("expected index to be created once, got %d", puts)
	}
}
