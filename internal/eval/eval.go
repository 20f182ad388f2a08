package eval

import (
	"errors"
	"fmt"
	"sort"

	"codemap/internal/retrieve"
	"codemap/internal/store"
)

// QueryResult reports retrieval quality for a single labeled query.
type QueryResult struct {
	Query            string          `json:"query"`
	RelevantCount    int             `json:"relevant"`
	EligibleCount    int             `json:"eligible"`
	RetrievedCount   int             `json:"retrieved"`
	MatchedCount     int             `json:"matched"`
	Recall           float64         `json:"recall"`
	Precision        float64         `json:"precision"`
	Hit              bool            `json:"hit"`
	SkippedRecall    bool            `json:"skipped_recall,omitempty"`
	MatchedFQNames   []string        `json:"matched_fqnames,omitempty"`
	ExcludedRelevant []store.NameRef `json:"excluded_relevant,omitempty"`
}

// Report aggregates retrieval quality across a labeled query set.
type Report struct {
	K             int           `json:"k"`
	Retriever     string        `json:"retriever"`
	Kinds         []string      `json:"kinds,omitempty"`
	NumQueries    int           `json:"num_queries"`
	RecallQueries int           `json:"recall_queries"`
	MeanRecall    float64       `json:"mean_recall"`
	MeanPrecision float64       `json:"mean_precision"`
	HitRate       float64       `json:"hit_rate"`
	Warnings      []string      `json:"warnings,omitempty"`
	PerQuery      []QueryResult `json:"per_query"`
}

// Runner scores retrievers against labeled query sets.
type Runner struct {
	store store.Store
}

// NewRunner creates a runner over the given store.
func NewRunner(s store.Store) *Runner {
	return &Runner{store: s}
}

// Run evaluates ret at depth k over the qrels. kinds, when non-empty,
// restricts which relevant entities are eligible, mirroring a search kind
// filter; excluded entities are reported as warnings.
//
// recall@k divides by the query's eligible relevant count, so a query with
// no eligible relevant entities is excluded from the recall mean (the
// denominator is undefined). Such queries still count toward precision@k
// and hit rate, necessarily with zero matches.
func (r *Runner) Run(qrels []QrelsEntry, ret Retriever, k int, kinds []string) (*Report, error) {
	if k <= 0 {
		return nil, errors.New("k must be > 0")
	}
	kinds, err := retrieve.NormalizeKinds(kinds)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(kinds))
	for _, kd := range kinds {
		allowed[kd] = true
	}

	// Kinds the qrels don't label come from the index.
	dbKinds := map[string]string{}
	if len(allowed) > 0 {
		var unlabeled []string
		seen := map[string]bool{}
		for _, entry := range qrels {
			for _, fq := range entry.Relevant {
				if entry.Kinds[fq] == "" && !seen[fq] {
					seen[fq] = true
					unlabeled = append(unlabeled, fq)
				}
			}
		}
		dbKinds, err = r.store.KindsByFQName(unlabeled)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{K: k, Retriever: ret.Name(), Kinds: kinds}
	var recallSum, precisionSum float64
	var recallN, hits int
	warnset := map[string]bool{}

	for _, entry := range qrels {
		res := QueryResult{Query: entry.Query, RelevantCount: len(entry.Relevant)}

		eligible := make(map[string]bool, len(entry.Relevant))
		for _, fq := range entry.Relevant {
			if len(allowed) > 0 {
				kind := entry.Kinds[fq]
				if kind == "" {
					kind = dbKinds[fq]
				}
				if !allowed[kind] {
					if kind == "" {
						kind = "unknown"
					}
					res.ExcludedRelevant = append(res.ExcludedRelevant, store.NameRef{FQName: fq, Kind: kind})
					continue
				}
			}
			eligible[fq] = true
		}
		res.EligibleCount = len(eligible)
		if n := len(res.ExcludedRelevant); n > 0 {
			warnset[fmt.Sprintf("query %q: %d/%d relevant entities excluded by kinds filter", entry.Query, n, len(entry.Relevant))] = true
		}

		got, err := ret.Retrieve(entry.Query, k)
		if err != nil {
			return nil, fmt.Errorf("retrieve %q: %w", entry.Query, err)
		}
		if len(got) > k {
			got = got[:k]
		}
		res.RetrievedCount = len(got)

		matched := map[string]bool{}
		for _, fq := range got {
			if eligible[fq] && !matched[fq] {
				matched[fq] = true
				res.MatchedFQNames = append(res.MatchedFQNames, fq)
			}
		}
		sort.Strings(res.MatchedFQNames)
		res.MatchedCount = len(res.MatchedFQNames)

		res.Precision = float64(res.MatchedCount) / float64(k)
		precisionSum += res.Precision
		if res.EligibleCount > 0 {
			res.Recall = float64(res.MatchedCount) / float64(res.EligibleCount)
			recallSum += res.Recall
			recallN++
		} else {
			res.SkippedRecall = true
		}
		if res.MatchedCount > 0 {
			res.Hit = true
			hits++
		}
		report.PerQuery = append(report.PerQuery, res)
	}

	report.NumQueries = len(report.PerQuery)
	report.RecallQueries = recallN
	if recallN > 0 {
		report.MeanRecall = recallSum / float64(recallN)
	}
	if report.NumQueries > 0 {
		report.MeanPrecision = precisionSum / float64(report.NumQueries)
		report.HitRate = float64(hits) / float64(report.NumQueries)
	}
	for w := range warnset {
		report.Warnings = append(report.Warnings, w)
	}
	sort.Strings(report.Warnings)
	return report, nil
}
