package retrieve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemap/internal/extract"
	"codemap/internal/store"
)

const snippetSource = `"""App."""


def run(job):
    """Run."""
    return job
`

// newSnippetFixture writes a real source file and indexes app.run over
// lines 4-6 with its true content hash.
func newSnippetFixture(t *testing.T) (*SnippetExtractor, *store.SQLiteStore, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "app.py")
	require.NoError(t, os.WriteFile(path, []byte(snippetSource), 0o644))

	text, ok := extract.SpanText([]byte(snippetSource), 4, 6)
	require.True(t, ok)

	s := newTestStore(t)
	e := store.Entity{
		FQName:      "app.run",
		Kind:        "function",
		Signature:   "run(job)",
		StartLine:   4,
		EndLine:     6,
		ContentHash: extract.HashText(text),
	}
	seedEntities(t, s, "app.py", e)
	return NewSnippetExtractor(s, root), s, path
}

func TestSnippet_ReturnsExactSpan(t *testing.T) {
	x, s, _ := newSnippetFixture(t)

	got, err := x.Snippet("app.run")
	require.NoError(t, err)
	assert.Equal(t, "def run(job):\n    \"\"\"Run.\"\"\"\n    return job", got)

	// Read works from an already-resolved entity as well.
	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	viaRead, err := x.Read(e)
	require.NoError(t, err)
	assert.Equal(t, got, viaRead)
}

func TestSnippet_ExactNamesOnly(t *testing.T) {
	x, _, _ := newSnippetFixture(t)

	// Short names are not resolved here; only exact fqnames.
	_, err := x.Snippet("run")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = x.Snippet("no.such.name")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnippet_StaleAfterEdit(t *testing.T) {
	x, _, path := newSnippetFixture(t)

	edited := `"""App."""


def run(job):
    """Run twice."""
    return job
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	_, err := x.Snippet("app.run")
	assert.ErrorIs(t, err, ErrStaleSnippet)
	assert.Contains(t, err.Error(), "app.run")
}

func TestSnippet_CorruptWhenFileShrinks(t *testing.T) {
	x, _, path := newSnippetFixture(t)

	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	_, err := x.Snippet("app.run")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSnippet_MissingSourceFile(t *testing.T) {
	x, _, path := newSnippetFixture(t)

	require.NoError(t, os.Remove(path))

	_, err := x.Snippet("app.run")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "app.py")
}
