package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	platformauth "github.com/the-marketplace/project/internal/platform/auth"
	"golang.org/x/time/rate"
)

type fakeMarketplace struct {
	mu       sync.Mutex
	listings map[string]string
	visible  atomic.Bool
	created  atomic.Int32
}

func (f *fakeMarketplace) listingAPI() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/categories", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "cat-1", "name": "Furniture"}})
	})
	mux.HandleFunc("POST /api/listings", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := "listing-" + string(rune('a'+f.created.Add(1)))
		f.mu.Lock()
		f.listings[id] = r.Header.Get("Authorization")
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	return mux
}

func (f *fakeMarketplace) searchAPI() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/search/") && !f.visible.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func newTestRunner(t *testing.T, f *fakeMarketplace) *runner {
	t.Helper()
	listingSrv := httptest.NewServer(f.listingAPI())
	searchSrv := httptest.NewServer(f.searchAPI())
	t.Cleanup(listingSrv.Close)
	t.Cleanup(searchSrv.Close)

	cfg := config.LoadGenerator{
		ListingAPIBase:  listingSrv.URL + "/",
		SearchAPIBase:   searchSrv.URL,
		Sellers:         2,
		RequestTimeout:  time.Second,
		LagProbeTimeout: time.Second,
	}
	r := newRunner(cfg, platformauth.NewManager("loadgen-secret", time.Hour), log.NewEntry(log.New()))
	r.pollEvery = 5 * time.Millisecond
	return r
}

func TestCreateListingRecordsSellerListing(t *testing.T) {
	f := &fakeMarketplace{listings: map[string]string{}}
	f.visible.Store(true)
	r := newTestRunner(t, f)
	if err := r.loadCategories(context.Background()); err != nil {
		t.Fatalf("load categories: %v", err)
	}
	sellers, err := r.setupSellers()
	if err != nil {
		t.Fatalf("setup sellers: %v", err)
	}

	r.createListing(context.Background(), sellers[0], rand.New(rand.NewSource(1)))
	r.lagProbes.Wait()

	if _, ok := sellers[0].randomListing(rand.New(rand.NewSource(1))); !ok {
		t.Fatal("expected the seller to remember the created listing")
	}
	if r.requestsSuccess.Load() < 2 {
		t.Fatalf("expected category and create requests to succeed, got %d", r.requestsSuccess.Load())
	}
}

func TestProbeIndexLagWaitsForVisibility(t *testing.T) {
	f := &fakeMarketplace{listings: map[string]string{}}
	r := newTestRunner(t, f)

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.visible.Store(true)
	}()
	start := time.Now()
	r.probeIndexLag(context.Background(), "listing-a", start)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Fatalf("expected the probe to return once the listing is visible, took %s", elapsed)
	}
}

func TestRequestJSONUnexpectedStatus(t *testing.T) {
	f := &fakeMarketplace{listings: map[string]string{}}
	r := newTestRunner(t, f)

	status, err := r.requestJSON(context.Background(), "listing_create", http.MethodPost, r.cfg.ListingAPIBase+"/api/listings", map[string]any{}, "", nil, http.StatusCreated)
	if err == nil || status != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got status=%d err=%v", status, err)
	}
	if r.requestsError.Load() != 1 {
		t.Fatalf("expected one error request, got %d", r.requestsError.Load())
	}
}

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		rate float64
		want time.Duration
	}{
		{rate: 0, want: time.Second},
		{rate: 2, want: 500 * time.Millisecond},
		{rate: 1000, want: 25 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := intervalFor(tc.rate); got != tc.want {
			t.Fatalf("intervalFor(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestSearchLimit(t *testing.T) {
	if got := searchLimit(0); got != rate.Every(time.Second) {
		t.Fatalf("searchLimit(0) = %v, want one per second", got)
	}
	if got := searchLimit(5); got != rate.Limit(5) {
		t.Fatalf("searchLimit(5) = %v, want 5", got)
	}
}
