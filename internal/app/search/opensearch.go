package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
)

var ErrBackend = errors.New("search backend error")

// OpenSearchRepository talks to an OpenSearch (or Elasticsearch) cluster over
// its REST API. Writes wait for a refresh so the next search sees them.
type OpenSearchRepository struct {
	http     *retryablehttp.Client
	baseURL  string
	index    string
	username string
	password string
}

func NewOpenSearchRepository(cfg config.OpenSearch, logger *log.Entry) *OpenSearchRepository {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = retryLogger{entry: loggerOrDefault(logger).WithField("component", "opensearch")}

	index := cfg.Index
	if index == "" {
		index = "marketplace"
	}
	return &OpenSearchRepository{
		http:     rc,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		index:    index,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// indexDefinition configures the standard analyzer with English stopwords and
// maps metadata values as text with a keyword sub-field.
var indexDefinition = map[string]any{
	"settings": map[string]any{
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"default": map[string]any{
					"type":      "standard",
					"stopwords": "_english_",
				},
			},
		},
	},
	"mappings": map[string]any{
		"dynamic_templates": []any{
			map[string]any{
				"metadata_strings": map[string]any{
					"path_match":         "metadata.*",
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type":   "text",
						"fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}},
					},
				},
			},
		},
		"properties": map[string]any{
			"identifier":  map[string]any{"type": "keyword"},
			"name":        map[string]any{"type": "text", "fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}}},
			"type":        map[string]any{"type": "keyword"},
			"accountId":   map[string]any{"type": "keyword"},
			"resourceUrl": map[string]any{"type": "keyword"},
			"description": map[string]any{"type": "text"},
			"isActive":    map[string]any{"type": "boolean"},
			"status":      map[string]any{"type": "keyword"},
			"createdAt":   map[string]any{"type": "date"},
			"updatedAt":   map[string]any{"type": "date"},
			"metadata":    map[string]any{"type": "object", "dynamic": true},
		},
	},
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (r *OpenSearchRepository) EnsureIndex(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodHead, "/"+r.index, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: check index %s: status %d", ErrBackend, r.index, resp.StatusCode)
	}

	resp, err = r.do(ctx, http.MethodPut, "/"+r.index, nil, indexDefinition)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body := readError(resp.Body)
		// Another instance won the race.
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(body, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: create index %s: status %d: %s", ErrBackend, r.index, resp.StatusCode, body)
	}
	return nil
}

func (r *OpenSearchRepository) Save(ctx context.Context, doc Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	params := url.Values{"refresh": {"wait_for"}}
	resp, err := r.do(ctx, http.MethodPut, r.docPath(doc.Identifier), params, doc)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: index %s: status %d: %s", ErrBackend, doc.Identifier, resp.StatusCode, readError(resp.Body))
	}
	return nil
}

func (r *OpenSearchRepository) Delete(ctx context.Context, identifier string) error {
	params := url.Values{"refresh": {"wait_for"}}
	resp, err := r.do(ctx, http.MethodDelete, r.docPath(identifier), params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: delete %s: status %d: %s", ErrBackend, identifier, resp.StatusCode, readError(resp.Body))
	}
	return nil
}

func (r *OpenSearchRepository) Get(ctx context.Context, identifier string) (Document, error) {
	resp, err := r.do(ctx, http.MethodGet, r.docPath(identifier), nil, nil)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Document{}, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("%w: get %s: status %d: %s", ErrBackend, identifier, resp.StatusCode, readError(resp.Body))
	}
	var body struct {
		Found  bool     `json:"found"`
		Source Document `json:"_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Document{}, fmt.Errorf("%w: decode document: %v", ErrBackend, err)
	}
	if !body.Found {
		return Document{}, ErrNotFound
	}
	return body.Source, nil
}

func (r *OpenSearchRepository) Search(ctx context.Context, q Query) (Result, error) {
	resp, err := r.do(ctx, http.MethodPost, "/"+r.index+"/_search", nil, buildSearchRequest(q))
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: search: status %d: %s", ErrBackend, resp.StatusCode, readError(resp.Body))
	}

	var body struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%w: decode search response: %v", ErrBackend, err)
	}

	result := Result{Total: body.Hits.Total.Value, Documents: make([]Document, 0, len(body.Hits.Hits))}
	for _, hit := range body.Hits.Hits {
		result.Documents = append(result.Documents, hit.Source)
	}
	return result, nil
}

// Ping checks cluster reachability for readiness probes.
func (r *OpenSearchRepository) Ping(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ping: status %d", ErrBackend, resp.StatusCode)
	}
	return nil
}

// buildSearchRequest renders q as a search DSL body.
func buildSearchRequest(q Query) map[string]any {
	var must any = map[string]any{"match_all": map[string]any{}}
	if q.SearchBy != "" {
		must = map[string]any{
			"multi_match": map[string]any{
				"query":     q.SearchBy,
				"fields":    []string{"name^2", "description", "metadata.*"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		}
	}

	var filters []any
	if q.Type != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"type": q.Type}})
	}
	if q.AccountID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"accountId": q.AccountID}})
	}
	if q.IsActive != nil {
		filters = append(filters, map[string]any{"term": map[string]any{"isActive": *q.IsActive}})
	}

	boolQuery := map[string]any{"must": must}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]any{
		"from":             q.Offset(),
		"size":             q.PageSize,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{"createdAt": map[string]any{"order": "desc"}},
		},
	}
}

func (r *OpenSearchRepository) docPath(identifier string) string {
	return "/" + r.index + "/_doc/" + url.PathEscape(identifier)
}

func (r *OpenSearchRepository) do(ctx context.Context, method, path string, params url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	target := r.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrBackend, method, path, err)
	}
	return resp, nil
}

func readError(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return strings.TrimSpace(string(raw))
}

func loggerOrDefault(logger *log.Entry) *log.Entry {
	if logger == nil {
		return log.NewEntry(log.StandardLogger())
	}
	return logger
}

// retryLogger adapts logrus to retryablehttp.LeveledLogger.
type retryLogger struct {
	entry *log.Entry
}

func (l retryLogger) fields(keysAndValues []any) *log.Entry {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return l.entry.WithFields(fields)
}

func (l retryLogger) Error(msg string, keysAndValues ...any) { l.fields(keysAndValues).Error(msg) }
func (l retryLogger) Info(msg string, keysAndValues ...any)  { l.fields(keysAndValues).Debug(msg) }
func (l retryLogger) Debug(msg string, keysAndValues ...any) { l.fields(keysAndValues).Debug(msg) }
func (l retryLogger) Warn(msg string, keysAndValues ...any)  { l.fields(keysAndValues).Warn(msg) }
