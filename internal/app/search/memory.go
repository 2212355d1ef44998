package search

import (
	"context"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
)

const nameBoost = 2.0

// MemoryRepository keeps the read model in process. Matching follows the
// same rules as the search engine backend: per-field fuzzy term matching with
// the name field boosted, best field wins.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: map[string]Document{}}
}

func (r *MemoryRepository) Save(_ context.Context, doc Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.docs[doc.Identifier] = doc.clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, identifier string) error {
	r.mu.Lock()
	delete(r.docs, identifier)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, identifier string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[identifier]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.clone(), nil
}

type scoredDocument struct {
	doc   Document
	score float64
}

func (r *MemoryRepository) Search(_ context.Context, q Query) (Result, error) {
	terms := tokenize(q.SearchBy)

	r.mu.RLock()
	matches := make([]scoredDocument, 0, len(r.docs))
	for _, doc := range r.docs {
		if !matchesFilters(doc, q) {
			continue
		}
		score := 0.0
		if len(terms) > 0 {
			score = scoreDocument(doc, terms)
			if score <= 0 {
				continue
			}
		}
		matches = append(matches, scoredDocument{doc: doc.clone(), score: score})
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if !matches[i].doc.CreatedAt.Equal(matches[j].doc.CreatedAt) {
			return matches[i].doc.CreatedAt.After(matches[j].doc.CreatedAt)
		}
		return matches[i].doc.Identifier < matches[j].doc.Identifier
	})

	result := Result{Total: int64(len(matches))}
	start := q.Offset()
	if start < 0 {
		start = 0
	}
	if start >= len(matches) {
		return result, nil
	}
	end := start + q.PageSize
	if q.PageSize <= 0 || end > len(matches) {
		end = len(matches)
	}
	result.Documents = make([]Document, 0, end-start)
	for _, m := range matches[start:end] {
		result.Documents = append(result.Documents, m.doc)
	}
	return result, nil
}

func matchesFilters(doc Document, q Query) bool {
	if q.Type != "" && doc.Type != q.Type {
		return false
	}
	if q.AccountID != "" && doc.AccountID != q.AccountID {
		return false
	}
	if q.IsActive != nil && doc.IsActive != *q.IsActive {
		return false
	}
	return true
}

// scoreDocument returns the best boosted field score for terms.
func scoreDocument(doc Document, terms []string) float64 {
	best := nameBoost * scoreField(doc.Name, terms)
	if s := scoreField(doc.Description, terms); s > best {
		best = s
	}
	for _, value := range doc.Metadata {
		if s := scoreField(value, terms); s > best {
			best = s
		}
	}
	return best
}

// scoreField sums, over query terms, the best similarity to any field token.
// An exact token scores 1; a fuzzy hit scores less the more edits it needs.
func scoreField(text string, terms []string) float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	total := 0.0
	for _, term := range terms {
		allowed := autoFuzziness(term)
		best := 0.0
		for _, token := range tokens {
			if token == term {
				best = 1
				break
			}
			if allowed == 0 {
				continue
			}
			dist := levenshtein.ComputeDistance(term, token)
			if dist <= allowed {
				if s := 1 - float64(dist)/float64(allowed+1); s > best {
					best = s
				}
			}
		}
		total += best
	}
	// Shorter fields with the same hits rank higher, like length norms do.
	return total / (1 + 0.05*float64(len(tokens)))
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
