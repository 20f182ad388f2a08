package retrieve

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemap/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEntities(t *testing.T, s *store.SQLiteStore, path string, ents ...store.Entity) {
	t.Helper()
	skipped, err := s.ReplaceFile(path, "filehash-"+path, ents)
	require.NoError(t, err)
	require.Empty(t, skipped)
}

func ent(fqname, kind string) store.Entity {
	return store.Entity{
		FQName:      fqname,
		Kind:        kind,
		StartLine:   1,
		EndLine:     2,
		ContentHash: "hash-" + fqname,
	}
}

func newLookupResolver(t *testing.T) *Resolver {
	t.Helper()
	s := newTestStore(t)
	seedEntities(t, s, "seed.py",
		ent("app.parser", "module"),
		ent("app.parser.Parser", "class"),
		ent("app.parser.parse", "function"),
		ent("app.util.Parser", "class"),
		ent("app.config", "module"),
		ent("app.config.load", "function"),
	)
	return NewResolver(s)
}

func TestResolve_ExactFQName(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("app.parser.parse")
	require.NoError(t, err)
	assert.Equal(t, "app.parser.parse", e.FQName)

	// An exact fqname wins even when its short name is ambiguous.
	e, err = r.Resolve("app.util.Parser")
	require.NoError(t, err)
	assert.Equal(t, "app.util.Parser", e.FQName)
}

func TestResolve_UniqueShortName(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("load")
	require.NoError(t, err)
	assert.Equal(t, "app.config.load", e.FQName)
}

func TestResolve_AmbiguousShortName(t *testing.T) {
	r := newLookupResolver(t)

	_, err := r.Resolve("Parser")
	require.Error(t, err)
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "Parser", amb.Query)
	require.Len(t, amb.Candidates, 2)
	assert.Equal(t, "app.parser.Parser", amb.Candidates[0].FQName)
	assert.Equal(t, "app.util.Parser", amb.Candidates[1].FQName)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestResolve_CaseInsensitiveFQName(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("APP.CONFIG.LOAD")
	require.NoError(t, err)
	assert.Equal(t, "app.config.load", e.FQName)
}

func TestResolve_CaseInsensitiveShortName(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("LOAD")
	require.NoError(t, err)
	assert.Equal(t, "app.config.load", e.FQName)
}

func TestResolve_FuzzyTypo(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("lod")
	require.NoError(t, err)
	assert.Equal(t, "app.config.load", e.FQName)
}

func TestResolve_FuzzyPrefersDefinitionKinds(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s, "seed.py",
		ent("app.jobs.runner", "variable"),
		ent("app.jobs.Runner", "class"),
	)
	r := NewResolver(s)

	// Both short names score identically; the class outranks the variable.
	e, err := r.Resolve("runnr")
	require.NoError(t, err)
	assert.Equal(t, "app.jobs.Runner", e.FQName)
}

func TestResolve_FuzzyPrefersShorterFQName(t *testing.T) {
	r := newLookupResolver(t)

	// Both Parser classes tie on score and kind; the shorter fqname wins.
	e, err := r.Resolve("Parsr")
	require.NoError(t, err)
	assert.Equal(t, "app.util.Parser", e.FQName)
}

func TestResolve_FuzzyFullTieIsAmbiguous(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s, "seed.py",
		ent("app.aa.Worker", "class"),
		ent("app.bb.Worker", "class"),
	)
	r := NewResolver(s)

	_, err := r.Resolve("Workr")
	require.Error(t, err)
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	require.Len(t, amb.Candidates, 2)
	assert.Equal(t, "app.aa.Worker", amb.Candidates[0].FQName)
	assert.Equal(t, "app.bb.Worker", amb.Candidates[1].FQName)
}

func TestResolve_DottedSuffixResolvesThroughFuzzy(t *testing.T) {
	r := newLookupResolver(t)

	e, err := r.Resolve("util.Parser")
	require.NoError(t, err)
	assert.Equal(t, "app.util.Parser", e.FQName)
}

func TestResolve_NotFoundBelowThreshold(t *testing.T) {
	r := newLookupResolver(t)

	_, err := r.Resolve("zzzzzzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_EmptyName(t *testing.T) {
	r := newLookupResolver(t)

	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve("   ")
	assert.ErrorIs(t, err, ErrNotFound)
}
