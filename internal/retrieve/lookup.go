package retrieve

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"codemap/internal/extract"
	"codemap/internal/store"
)

// ErrNotFound is returned when no entity matches a lookup or snippet query.
var ErrNotFound = errors.New("entity not found")

// fuzzyThreshold is the minimum normalized similarity a fuzzy candidate
// must reach before it can resolve.
const fuzzyThreshold = 0.5

// AmbiguousError reports a lookup that matched several equally ranked
// entities. Candidates are ordered by fqname.
type AmbiguousError struct {
	Query      string
	Candidates []store.NameRef
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous name %q: %d candidates", e.Query, len(e.Candidates))
}

// kindRank orders kinds when fuzzy scores tie; definitions beat variables.
var kindRank = map[string]int{
	extract.KindClass:    0,
	extract.KindFunction: 1,
	extract.KindMethod:   2,
	extract.KindModule:   3,
	extract.KindVariable: 4,
}

// Resolver resolves name queries to a single best entity through ordered
// tiers: exact fqname, unique short name, case-insensitive variants of
// both, then scored fuzzy matching.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the best entity for name. It stops at the first tier
// that produces a unique match; several exact ties at one tier yield an
// *AmbiguousError, and ErrNotFound means nothing cleared the fuzzy
// threshold.
func (r *Resolver) Resolve(name string) (*store.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrNotFound)
	}

	// Tier 1: exact fqname.
	e, err := r.store.EntityByFQName(name)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return e, nil
	}

	// The store query is case-insensitive, covering tiers 2 and 3 in one
	// fetch; exact-case filtering happens here.
	cands, err := r.store.EntitiesByShortName(name)
	if err != nil {
		return nil, err
	}
	dotted := strings.Contains(name, ".")

	// Tier 2: exact short name. Only dot-free queries can name a segment.
	if !dotted {
		var exact []store.Entity
		for _, c := range cands {
			if shortName(c.FQName) == name {
				exact = append(exact, c)
			}
		}
		if pick, err := uniqueOf(name, exact); pick != nil || err != nil {
			return pick, err
		}
	}

	// Tier 3: case-insensitive fqname, then case-insensitive short name.
	var ciExact []store.Entity
	for _, c := range cands {
		if strings.EqualFold(c.FQName, name) {
			ciExact = append(ciExact, c)
		}
	}
	if pick, err := uniqueOf(name, ciExact); pick != nil || err != nil {
		return pick, err
	}
	if !dotted {
		if pick, err := uniqueOf(name, cands); pick != nil || err != nil {
			return pick, err
		}
	}

	return r.fuzzy(name)
}

// fuzzy scans every indexed name, scoring the query against both the
// fqname and its final segment. Ties on score are broken by kind, then by
// shortest fqname; exact ties after that are ambiguous.
func (r *Resolver) fuzzy(name string) (*store.Entity, error) {
	refs, err := r.store.ListNames()
	if err != nil {
		return nil, err
	}

	type scored struct {
		ref   store.NameRef
		score float64
	}
	q := strings.ToLower(name)
	var matches []scored
	for _, ref := range refs {
		fq := strings.ToLower(ref.FQName)
		s := similarity(q, fq)
		if short := strings.ToLower(shortName(ref.FQName)); short != fq {
			if alt := similarity(q, short); alt > s {
				s = alt
			}
		}
		if s >= fuzzyThreshold {
			matches = append(matches, scored{ref: ref, score: s})
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ra, rb := kindRank[a.ref.Kind], kindRank[b.ref.Kind]; ra != rb {
			return ra < rb
		}
		if len(a.ref.FQName) != len(b.ref.FQName) {
			return len(a.ref.FQName) < len(b.ref.FQName)
		}
		return a.ref.FQName < b.ref.FQName
	})

	top := matches[0]
	var ties []store.NameRef
	for _, m := range matches {
		if m.score == top.score &&
			kindRank[m.ref.Kind] == kindRank[top.ref.Kind] &&
			len(m.ref.FQName) == len(top.ref.FQName) {
			ties = append(ties, m.ref)
		}
	}
	if len(ties) > 1 {
		return nil, &AmbiguousError{Query: name, Candidates: ties}
	}

	e, err := r.store.EntityByFQName(top.ref.FQName)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

func uniqueOf(query string, cands []store.Entity) (*store.Entity, error) {
	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		return &cands[0], nil
	default:
		refs := make([]store.NameRef, len(cands))
		for i, c := range cands {
			refs[i] = store.NameRef{FQName: c.FQName, Kind: c.Kind}
		}
		return nil, &AmbiguousError{Query: query, Candidates: refs}
	}
}

// similarity is 1 - editDistance/maxLen, in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func shortName(fqname string) string {
	if i := strings.LastIndexByte(fqname, '.'); i >= 0 {
		return fqname[i+1:]
	}
	return fqname
}
