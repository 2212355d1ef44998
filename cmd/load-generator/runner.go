package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/platform/metrics"
	"golang.org/x/time/rate"
)

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "loadgen_requests_total",
		Help: "HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "loadgen_actions_total",
		Help: "Seller and buyer actions executed by the load generator.",
	}, []string{"action", "outcome"})

	indexLag = metrics.NewHistogramVec(metrics.Opts{
		Name: "loadgen_index_lag_seconds",
		Help: "Time from a listing write being accepted to it being visible in search.",
	}, []string{"outcome"}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30})

	activeSellersGauge = metrics.NewGauge(metrics.Opts{
		Name: "loadgen_active_sellers",
		Help: "Virtual sellers currently sending writes.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, indexLag, activeSellersGauge)
}

var searchTerms = []string{"desk", "chair", "lamp", "bike", "sofa", "phone", "table", "oak", "vintage", "leather"}

type tokenSigner interface {
	Sign(userID, username string) (string, error)
}

type seller struct {
	Index int
	ID    string
	Token string

	mu       sync.Mutex
	listings []string
}

type runner struct {
	cfg        config.LoadGenerator
	tokens     tokenSigner
	logger     *log.Entry
	client     *http.Client
	categories []string
	pollEvery  time.Duration

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	lagProbes       sync.WaitGroup
}

func newRunner(cfg config.LoadGenerator, tokens tokenSigner, logger *log.Entry) *runner {
	cfg.ListingAPIBase = trimRightSlash(cfg.ListingAPIBase)
	cfg.SearchAPIBase = trimRightSlash(cfg.SearchAPIBase)
	return &runner{
		cfg:       cfg,
		tokens:    tokens,
		logger:    logger,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		pollEvery: 250 * time.Millisecond,
	}
}

func (r *runner) waitForDependencies(ctx context.Context) error {
	for _, base := range []string{r.cfg.ListingAPIBase, r.cfg.SearchAPIBase} {
		if err := r.waitForHTTPStatus(ctx, base+"/readyz", http.StatusOK, r.cfg.StartupWait); err != nil {
			return fmt.Errorf("%s not ready: %w", base, err)
		}
	}
	return nil
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == expectedStatus {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollEvery):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

// Run drives sellers and searchers until ctx is done, then waits for any
// outstanding index-lag probes.
func (r *runner) Run(ctx context.Context) error {
	if err := r.loadCategories(ctx); err != nil {
		return err
	}
	sellers, err := r.setupSellers()
	if err != nil {
		return err
	}
	r.logger.WithFields(log.Fields{
		"sellers":         len(sellers),
		"rate_per_seller": r.cfg.ActionsPerSellerPerSecond,
		"searches_per_s":  r.cfg.SearchesPerSecond,
	}).Info("load generator initialized")

	var wg sync.WaitGroup
	for _, s := range sellers {
		wg.Add(1)
		go func(s *seller) {
			defer wg.Done()
			r.runSeller(ctx, s)
		}(s)
	}
	if r.cfg.SearchesPerSecond > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runSearcher(ctx)
		}()
	}
	go r.logProgress(ctx)

	wg.Wait()
	r.lagProbes.Wait()
	return nil
}

func (r *runner) loadCategories(ctx context.Context) error {
	var categories []struct {
		ID string `json:"id"`
	}
	if _, err := r.requestJSON(ctx, "categories", http.MethodGet, r.cfg.ListingAPIBase+"/api/categories", nil, "", &categories, http.StatusOK); err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	for _, c := range categories {
		r.categories = append(r.categories, c.ID)
	}
	if len(r.categories) == 0 {
		return errors.New("listing api returned no categories")
	}
	return nil
}

func (r *runner) setupSellers() ([]*seller, error) {
	sellers := make([]*seller, 0, r.cfg.Sellers)
	for i := 0; i < r.cfg.Sellers; i++ {
		s := &seller{Index: i, ID: uuid.NewString()}
		token, err := r.tokens.Sign(s.ID, fmt.Sprintf("load-seller-%04d", i))
		if err != nil {
			return nil, fmt.Errorf("sign token for seller %d: %w", i, err)
		}
		s.Token = token
		sellers = append(sellers, s)
	}
	return sellers, nil
}

func (r *runner) runSeller(ctx context.Context, s *seller) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Sellers, 1)) * float64(s.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	activeSellersGauge.Inc()
	defer activeSellersGauge.Dec()

	interval := intervalFor(r.cfg.ActionsPerSellerPerSecond)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(s.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, s, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, s *seller, rng *rand.Rand) {
	id, ok := s.randomListing(rng)
	choice := rng.Float64()
	switch {
	case !ok || choice < 0.50:
		r.createListing(ctx, s, rng)
	case choice < 0.75:
		r.updateListing(ctx, s, rng, id)
	case choice < 0.90:
		r.publishListing(ctx, s, id)
	default:
		r.deleteListing(ctx, s, id)
	}
}

func (r *runner) listingInput(rng *rand.Rand) map[string]any {
	term := searchTerms[rng.Intn(len(searchTerms))]
	return map[string]any{
		"title":       fmt.Sprintf("Load %s %d", term, rng.Intn(1_000_000)),
		"description": "Generated " + term + " listing",
		"price":       float64(rng.Intn(50_000)) / 100,
		"location":    "Leeds",
		"categoryId":  r.categories[rng.Intn(len(r.categories))],
		"tags":        []string{term},
	}
}

func (r *runner) createListing(ctx context.Context, s *seller, rng *rand.Rand) {
	var created struct {
		ID string `json:"id"`
	}
	_, err := r.requestJSON(ctx, "listing_create", http.MethodPost, r.cfg.ListingAPIBase+"/api/listings", r.listingInput(rng), s.Token, &created, http.StatusCreated)
	if err != nil || created.ID == "" {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	s.addListing(created.ID)
	actionsTotal.WithLabelValues("create", "success").Inc()

	r.lagProbes.Add(1)
	go func() {
		defer r.lagProbes.Done()
		r.probeIndexLag(ctx, created.ID, time.Now())
	}()
}

func (r *runner) updateListing(ctx context.Context, s *seller, rng *rand.Rand, id string) {
	_, err := r.requestJSON(ctx, "listing_update", http.MethodPut, r.cfg.ListingAPIBase+"/api/listings/"+id, r.listingInput(rng), s.Token, nil, http.StatusOK)
	r.countAction("update", err)
}

func (r *runner) publishListing(ctx context.Context, s *seller, id string) {
	_, err := r.requestJSON(ctx, "listing_publish", http.MethodPost, r.cfg.ListingAPIBase+"/api/listings/"+id+"/publish", nil, s.Token, nil, http.StatusOK, http.StatusConflict)
	r.countAction("publish", err)
}

func (r *runner) deleteListing(ctx context.Context, s *seller, id string) {
	_, err := r.requestJSON(ctx, "listing_delete", http.MethodDelete, r.cfg.ListingAPIBase+"/api/listings/"+id, nil, s.Token, nil, http.StatusNoContent)
	if err == nil {
		s.removeListing(id)
	}
	r.countAction("delete", err)
}

func (r *runner) countAction(action string, err error) {
	if err != nil {
		actionsTotal.WithLabelValues(action, "error").Inc()
		return
	}
	actionsTotal.WithLabelValues(action, "success").Inc()
}

// probeIndexLag polls the search api until id is visible or the probe times
// out, and records how long that took.
func (r *runner) probeIndexLag(ctx context.Context, id string, accepted time.Time) {
	timeout := r.cfg.LagProbeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// The probe outlives the run so the last writes still get measured.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	target := r.cfg.SearchAPIBase + "/api/search/" + url.PathEscape(id)
	for {
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
		if err != nil {
			return
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				indexLag.WithLabelValues("visible").Observe(time.Since(accepted).Seconds())
				return
			}
		}
		select {
		case <-probeCtx.Done():
			indexLag.WithLabelValues("timeout").Observe(time.Since(accepted).Seconds())
			return
		case <-time.After(r.pollEvery):
		}
	}
}

func (r *runner) runSearcher(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	limiter := rate.NewLimiter(searchLimit(r.cfg.SearchesPerSecond), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		q := url.Values{
			"searchBy":   {searchTerms[rng.Intn(len(searchTerms))]},
			"pageNumber": {strconv.Itoa(1 + rng.Intn(3))},
			"pageSize":   {"20"},
		}
		_, err := r.requestJSON(ctx, "search", http.MethodGet, r.cfg.SearchAPIBase+"/api/search?"+q.Encode(), nil, "", nil, http.StatusOK)
		r.countAction("search", err)
	}
}

func (r *runner) requestJSON(ctx context.Context, endpoint, method, requestURL string, payload any, token string, out any, expectedStatuses ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	statusText := strconv.Itoa(resp.StatusCode)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	for _, expected := range expectedStatuses {
		if resp.StatusCode != expected {
			continue
		}
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.WithFields(log.Fields{
				"success_requests": r.requestsSuccess.Load(),
				"error_requests":   r.requestsError.Load(),
			}).Info("progress")
		}
	}
}

func (s *seller) addListing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, id)
}

func (s *seller) randomListing(rng *rand.Rand) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listings) == 0 {
		return "", false
	}
	return s.listings[rng.Intn(len(s.listings))], true
}

func (s *seller) removeListing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, existing := range s.listings {
		if existing != id {
			continue
		}
		s.listings[idx] = s.listings[len(s.listings)-1]
		s.listings = s.listings[:len(s.listings)-1]
		return
	}
}

func intervalFor(perSecond float64) time.Duration {
	if perSecond <= 0 {
		return time.Second
	}
	interval := time.Duration(float64(time.Second) / perSecond)
	if interval < 25*time.Millisecond {
		interval = 25 * time.Millisecond
	}
	return interval
}

func searchLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Every(time.Second)
	}
	return rate.Limit(perSecond)
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
