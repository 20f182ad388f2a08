package retrieve

import (
	"errors"
	"fmt"
	"strings"

	"codemap/internal/extract"
	"codemap/internal/store"
)

// DefaultSearchLimit bounds result sets when the caller passes no limit.
const DefaultSearchLimit = 20

// ErrEmptyQuery is returned for blank search input.
var ErrEmptyQuery = errors.New("empty search query")

var validKinds = map[string]bool{
	extract.KindModule:   true,
	extract.KindClass:    true,
	extract.KindFunction: true,
	extract.KindMethod:   true,
	extract.KindVariable: true,
}

// Searcher ranks entities against free-text queries. Scoring lives in the
// store's full-text index; this layer validates input and applies defaults.
type Searcher struct {
	store store.Store
}

// NewSearcher creates a searcher over the given store.
func NewSearcher(s store.Store) *Searcher {
	return &Searcher{store: s}
}

// Search returns up to limit results best-first. kinds, when non-empty,
// restricts results to those kind values. Ties in score come back in
// ascending fqname order.
func (s *Searcher) Search(query string, kinds []string, limit int) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	normalized, err := NormalizeKinds(kinds)
	if err != nil {
		return nil, err
	}
	return s.store.SearchFTS(query, normalized, limit)
}

// NormalizeKinds lowercases and trims kind filters, rejecting values
// outside the entity kind set. Empty entries are dropped.
func NormalizeKinds(kinds []string) ([]string, error) {
	var out []string
	for _, k := range kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !validKinds[k] {
			return nil, fmt.Errorf("unknown kind %q", k)
		}
		out = append(out, k)
	}
	return out, nil
}
