package eval

import (
	"errors"

	"codemap/internal/retrieve"
	"codemap/internal/store"
)

// Retriever returns up to k fqnames for a query, best first.
type Retriever interface {
	Name() string
	Retrieve(query string, k int) ([]string, error)
}

// SearchRetriever scores queries through the full-text search engine.
type SearchRetriever struct {
	searcher *retrieve.Searcher
	kinds    []string
}

// NewSearchRetriever creates a search-backed retriever. kinds, when
// non-empty, is applied as the search kind filter on every query.
func NewSearchRetriever(s store.Store, kinds []string) *SearchRetriever {
	return &SearchRetriever{searcher: retrieve.NewSearcher(s), kinds: kinds}
}

func (r *SearchRetriever) Name() string { return "search" }

func (r *SearchRetriever) Retrieve(query string, k int) ([]string, error) {
	results, err := r.searcher.Search(query, r.kinds, k)
	if err != nil {
		return nil, err
	}
	fqnames := make([]string, len(results))
	for i, res := range results {
		fqnames[i] = res.Entity.FQName
	}
	return fqnames, nil
}

// LookupRetriever resolves queries through the tiered name resolver. A
// unique resolution yields one fqname; an ambiguous one yields the
// candidate set, and a miss yields nothing.
type LookupRetriever struct {
	resolver *retrieve.Resolver
}

// NewLookupRetriever creates a lookup-backed retriever.
func NewLookupRetriever(s store.Store) *LookupRetriever {
	return &LookupRetriever{resolver: retrieve.NewResolver(s)}
}

func (r *LookupRetriever) Name() string { return "lookup" }

func (r *LookupRetriever) Retrieve(query string, k int) ([]string, error) {
	e, err := r.resolver.Resolve(query)
	if err != nil {
		var amb *retrieve.AmbiguousError
		if errors.As(err, &amb) {
			fqnames := make([]string, 0, k)
			for _, c := range amb.Candidates {
				if len(fqnames) == k {
					break
				}
				fqnames = append(fqnames, c.FQName)
			}
			return fqnames, nil
		}
		if errors.Is(err, retrieve.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []string{e.FQName}, nil
}
