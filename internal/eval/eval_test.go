package eval

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemap/internal/store"
)

// fakeRetriever serves canned result lists. With ignoreK set it returns the
// full list regardless of k, exercising the runner's own truncation.
type fakeRetriever struct {
	results map[string][]string
	err     error
	ignoreK bool
}

func (r *fakeRetriever) Name() string { return "fake" }

func (r *fakeRetriever) Retrieve(query string, k int) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	got := r.results[query]
	if !r.ignoreK && len(got) > k {
		got = got[:k]
	}
	return got, nil
}

func newEvalStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedKinds(t *testing.T, s *store.SQLiteStore, kinds map[string]string) {
	t.Helper()
	var ents []store.Entity
	for fq, kind := range kinds {
		ents = append(ents, store.Entity{
			FQName:      fq,
			Kind:        kind,
			StartLine:   1,
			EndLine:     2,
			ContentHash: "hash-" + fq,
		})
	}
	skipped, err := s.ReplaceFile("seed.py", "filehash", ents)
	require.NoError(t, err)
	require.Empty(t, skipped)
}

func TestRun_RecallPrecisionHit(t *testing.T) {
	runner := NewRunner(newEvalStore(t))
	ret := &fakeRetriever{results: map[string][]string{
		"good": {"a.x", "a.y", "b.one", "b.two", "b.three"},
		"miss": {"c.one", "c.two"},
	}}
	qrels := []QrelsEntry{
		{Query: "good", Relevant: []string{"a.x", "a.y"}},
		{Query: "miss", Relevant: []string{"m.wanted"}},
	}

	rep, err := runner.Run(qrels, ret, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.K)
	assert.Equal(t, "fake", rep.Retriever)
	assert.Equal(t, 2, rep.NumQueries)
	assert.Equal(t, 2, rep.RecallQueries)

	good := rep.PerQuery[0]
	assert.Equal(t, 2, good.MatchedCount)
	assert.InDelta(t, 1.0, good.Recall, 1e-9)
	assert.InDelta(t, 0.4, good.Precision, 1e-9)
	assert.True(t, good.Hit)
	assert.Equal(t, []string{"a.x", "a.y"}, good.MatchedFQNames)

	miss := rep.PerQuery[1]
	assert.Zero(t, miss.MatchedCount)
	assert.InDelta(t, 0.0, miss.Recall, 1e-9)
	assert.False(t, miss.Hit)

	assert.InDelta(t, 0.5, rep.MeanRecall, 1e-9)
	assert.InDelta(t, 0.2, rep.MeanPrecision, 1e-9)
	assert.InDelta(t, 0.5, rep.HitRate, 1e-9)
}

func TestRun_EmptyRelevantSkipsRecall(t *testing.T) {
	runner := NewRunner(newEvalStore(t))
	ret := &fakeRetriever{results: map[string][]string{
		"labeled":   {"a.x"},
		"unlabeled": {"b.y"},
	}}
	qrels := []QrelsEntry{
		{Query: "labeled", Relevant: []string{"a.x"}},
		{Query: "unlabeled"},
	}

	rep, err := runner.Run(qrels, ret, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.NumQueries)
	assert.Equal(t, 1, rep.RecallQueries)
	// The unlabeled query is excluded from the recall mean entirely.
	assert.InDelta(t, 1.0, rep.MeanRecall, 1e-9)
	assert.True(t, rep.PerQuery[1].SkippedRecall)
	assert.Zero(t, rep.PerQuery[1].Precision)
	assert.InDelta(t, 0.5, rep.HitRate, 1e-9)
}

func TestRun_KindsFilterExcludesRelevant(t *testing.T) {
	s := newEvalStore(t)
	seedKinds(t, s, map[string]string{"app.parser": "module"})
	runner := NewRunner(s)
	ret := &fakeRetriever{results: map[string][]string{
		"q": {"app.Codec", "app.parser"},
	}}
	qrels := []QrelsEntry{{
		Query:    "q",
		Relevant: []string{"app.parser", "app.Codec", "ghost.name"},
		Kinds:    map[string]string{"app.Codec": "class"},
	}}

	rep, err := runner.Run(qrels, ret, 5, []string{"class"})
	require.NoError(t, err)

	res := rep.PerQuery[0]
	assert.Equal(t, 3, res.RelevantCount)
	assert.Equal(t, 1, res.EligibleCount)
	// app.parser's kind comes from the index; ghost.name has no kind at all.
	require.Len(t, res.ExcludedRelevant, 2)
	assert.Equal(t, store.NameRef{FQName: "app.parser", Kind: "module"}, res.ExcludedRelevant[0])
	assert.Equal(t, store.NameRef{FQName: "ghost.name", Kind: "unknown"}, res.ExcludedRelevant[1])

	assert.Equal(t, 1, res.MatchedCount)
	assert.InDelta(t, 1.0, res.Recall, 1e-9)

	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], `query "q": 2/3 relevant entities excluded by kinds filter`)
}

func TestRun_DuplicateRetrievedCountedOnce(t *testing.T) {
	runner := NewRunner(newEvalStore(t))
	ret := &fakeRetriever{results: map[string][]string{
		"q": {"a.x", "a.x", "a.x"},
	}}
	qrels := []QrelsEntry{{Query: "q", Relevant: []string{"a.x"}}}

	rep, err := runner.Run(qrels, ret, 3, nil)
	require.NoError(t, err)

	res := rep.PerQuery[0]
	assert.Equal(t, 1, res.MatchedCount)
	assert.InDelta(t, 1.0, res.Recall, 1e-9)
	assert.InDelta(t, 1.0/3.0, res.Precision, 1e-9)
}

func TestRun_TruncatesRetrievedToK(t *testing.T) {
	runner := NewRunner(newEvalStore(t))
	ret := &fakeRetriever{
		ignoreK: true,
		results: map[string][]string{"q": {"a.one", "a.two", "a.three", "a.four"}},
	}
	qrels := []QrelsEntry{{Query: "q", Relevant: []string{"a.four"}}}

	rep, err := runner.Run(qrels, ret, 2, nil)
	require.NoError(t, err)

	res := rep.PerQuery[0]
	assert.Equal(t, 2, res.RetrievedCount)
	// a.four sits past the cutoff and must not count as matched.
	assert.Zero(t, res.MatchedCount)
}

func TestRun_InvalidK(t *testing.T) {
	runner := NewRunner(newEvalStore(t))

	_, err := runner.Run([]QrelsEntry{{Query: "q"}}, &fakeRetriever{}, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k must be > 0")
}

func TestRun_InvalidKindFilter(t *testing.T) {
	runner := NewRunner(newEvalStore(t))

	_, err := runner.Run([]QrelsEntry{{Query: "q"}}, &fakeRetriever{}, 5, []string{"struct"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestRun_RetrieverErrorPropagates(t *testing.T) {
	runner := NewRunner(newEvalStore(t))
	ret := &fakeRetriever{err: errors.New("index melted")}

	_, err := runner.Run([]QrelsEntry{{Query: "q", Relevant: []string{"a.x"}}}, ret, 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `retrieve "q"`)
	assert.Contains(t, err.Error(), "index melted")
}
