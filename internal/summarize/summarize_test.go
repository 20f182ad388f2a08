package summarize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemap/internal/extract"
	"codemap/internal/retrieve"
	"codemap/internal/store"
)

// fakeBackend records each request and answers with fn, or a canned
// summary when fn is nil.
type fakeBackend struct {
	fn   func(req Request) (string, error)
	reqs []Request
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Summarize(ctx context.Context, req Request) (string, error) {
	b.reqs = append(b.reqs, req)
	if b.fn != nil {
		return b.fn(req)
	}
	return "Purpose: describes " + req.FQName + "\nCoverage: full", nil
}

const fillerSource = `"""App."""

MAX = 5

def run(job):
    return job
`

// newFillerFixture indexes a module, a function and a variable over a real
// source file so snippet reads succeed.
func newFillerFixture(t *testing.T, backend Summarizer) (*Filler, *store.SQLiteStore, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "app.py")
	require.NoError(t, os.WriteFile(path, []byte(fillerSource), 0o644))

	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	span := func(start, end int) string {
		text, ok := extract.SpanText([]byte(fillerSource), start, end)
		require.True(t, ok)
		return extract.HashText(text)
	}
	ents := []store.Entity{
		{FQName: "app", Kind: "module", StartLine: 1, EndLine: 6, ContentHash: span(1, 6)},
		{FQName: "app.MAX", Kind: "variable", Signature: "MAX", StartLine: 3, EndLine: 3, ContentHash: span(3, 3)},
		{FQName: "app.run", Kind: "function", Signature: "run(job)", StartLine: 5, EndLine: 6, ContentHash: span(5, 6)},
	}
	skipped, err := s.ReplaceFile("app.py", "filehash", ents)
	require.NoError(t, err)
	require.Empty(t, skipped)

	snippets := retrieve.NewSnippetExtractor(s, root)
	return NewFiller(s, snippets, backend), s, path
}

func TestFill_BackfillsMissingSummaries(t *testing.T) {
	backend := &fakeBackend{}
	filler, s, _ := newFillerFixture(t, backend)

	var seen []string
	rep, err := filler.Fill(context.Background(), Options{
		OnEntity: func(i, total int, e store.Entity) {
			seen = append(seen, e.FQName)
			assert.Equal(t, 2, total)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Selected)
	assert.Equal(t, 2, rep.Updated)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Skipped)
	// Functions sort before modules; the variable is never selected.
	assert.Equal(t, []string{"app.run", "app"}, seen)

	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Equal(t, "Purpose: describes app.run\nCoverage: full", e.Summary)
	assert.Equal(t, "fake", e.SummaryBackend)

	v, err := s.EntityByFQName("app.MAX")
	require.NoError(t, err)
	assert.Empty(t, v.Summary)

	require.Len(t, backend.reqs, 2)
	assert.Equal(t, "app.run", backend.reqs[0].FQName)
	assert.Equal(t, "run(job)", backend.reqs[0].Signature)
	assert.Contains(t, backend.reqs[0].Code, "def run(job):")
	assert.False(t, backend.reqs[0].Truncated)
}

func TestFill_SecondRunHasNothingToDo(t *testing.T) {
	backend := &fakeBackend{}
	filler, _, _ := newFillerFixture(t, backend)

	_, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)

	rep, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, rep.Selected)
	assert.Len(t, backend.reqs, 2)
}

func TestFill_RecordsBackendFailureAndContinues(t *testing.T) {
	backend := &fakeBackend{fn: func(req Request) (string, error) {
		if req.FQName == "app.run" {
			return "", errors.New("backend exploded")
		}
		return "Purpose: ok\nCoverage: full", nil
	}}
	filler, s, _ := newFillerFixture(t, backend)

	rep, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "app.run", rep.Failures[0].FQName)
	assert.Contains(t, rep.Failures[0].Err, "backend exploded")

	failed, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Empty(t, failed.Summary)
	assert.Contains(t, failed.SummaryError, "backend exploded")

	ok, err := s.EntityByFQName("app")
	require.NoError(t, err)
	assert.NotEmpty(t, ok.Summary)
}

func TestFill_SkipsStaleSnippets(t *testing.T) {
	backend := &fakeBackend{}
	filler, s, path := newFillerFixture(t, backend)

	// The file changed after indexing; nothing should reach the backend.
	require.NoError(t, os.WriteFile(path, []byte("CHANGED = 1\nx = 2\ny = 3\nz = 4\na = 5\nb = 6\n"), 0o644))

	rep, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Selected)
	assert.Equal(t, 2, rep.Skipped)
	assert.Zero(t, rep.Updated)
	require.Len(t, rep.Skips, 2)
	assert.Empty(t, backend.reqs)

	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Empty(t, e.Summary)
	assert.Empty(t, e.SummaryError)
}

func TestFill_EmptySummaryIsFailure(t *testing.T) {
	backend := &fakeBackend{fn: func(Request) (string, error) { return "   ", nil }}
	filler, s, _ := newFillerFixture(t, backend)

	rep, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Failed)
	assert.Contains(t, rep.Failures[0].Err, "empty summary from fake")

	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Contains(t, e.SummaryError, "empty summary")
}

func TestFill_LimitBoundsSelection(t *testing.T) {
	backend := &fakeBackend{}
	filler, _, _ := newFillerFixture(t, backend)

	rep, err := filler.Fill(context.Background(), Options{Limit: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Selected)
	assert.Equal(t, 1, rep.Updated)
	require.Len(t, backend.reqs, 1)
	assert.Equal(t, "app.run", backend.reqs[0].FQName)
}

func TestFill_CancelledContextStopsRun(t *testing.T) {
	backend := &fakeBackend{}
	filler, _, _ := newFillerFixture(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	rep, err := filler.Fill(ctx, Options{
		OnEntity: func(i, total int, e store.Entity) {
			if i == 1 {
				cancel()
			}
		},
	})

	assert.ErrorIs(t, err, context.Canceled)
	// The in-flight entity completes; the rest of the batch does not start.
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 2, rep.Selected)
}

func TestFill_TruncatesOversizeCode(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	b.WriteString("def big():\n")
	line := "    v = \"" + strings.Repeat("a", 90) + "\"\n"
	for range 300 {
		b.WriteString(line)
	}
	src := b.String()
	require.Greater(t, len(src), MaxCodeChars)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.py"), []byte(src), 0o644))

	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	text, ok := extract.SpanText([]byte(src), 1, 301)
	require.True(t, ok)
	skipped, err := s.ReplaceFile("big.py", "fh", []store.Entity{{
		FQName:      "big.big",
		Kind:        "function",
		StartLine:   1,
		EndLine:     301,
		ContentHash: extract.HashText(text),
	}})
	require.NoError(t, err)
	require.Empty(t, skipped)

	backend := &fakeBackend{}
	filler := NewFiller(s, retrieve.NewSnippetExtractor(s, root), backend)

	rep, err := filler.Fill(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)

	require.Len(t, backend.reqs, 1)
	assert.True(t, backend.reqs[0].Truncated)
	assert.Len(t, backend.reqs[0].Code, MaxCodeChars)
}

func TestFillOne_PersistsAndReturns(t *testing.T) {
	backend := &fakeBackend{}
	filler, s, _ := newFillerFixture(t, backend)

	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)

	summary, err := filler.FillOne(context.Background(), e, 0)
	require.NoError(t, err)
	assert.Equal(t, "Purpose: describes app.run\nCoverage: full", summary)

	stored, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Equal(t, summary, stored.Summary)
	assert.Equal(t, "fake", stored.SummaryBackend)
}

func TestFillOne_RecordsBackendFailure(t *testing.T) {
	backend := &fakeBackend{fn: func(Request) (string, error) {
		return "", errors.New("no model loaded")
	}}
	filler, s, _ := newFillerFixture(t, backend)

	e, err := s.EntityByFQName("app.run")
	require.NoError(t, err)

	_, err = filler.FillOne(context.Background(), e, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model loaded")

	stored, err := s.EntityByFQName("app.run")
	require.NoError(t, err)
	assert.Contains(t, stored.SummaryError, "no model loaded")
	assert.Empty(t, stored.Summary)
}

func TestRequest_PromptBody(t *testing.T) {
	req := Request{
		Kind:      "function",
		FQName:    "app.run",
		Signature: "run(job)",
		Docstring: "Run one job.",
		Code:      "def run(job):\n    return job",
		Truncated: true,
	}

	body := req.PromptBody()
	assert.Contains(t, body, "kind: function")
	assert.Contains(t, body, "fqname: app.run")
	assert.Contains(t, body, "code_truncated: true")
	assert.Contains(t, body, "def run(job):")
	assert.Contains(t, body, "Coverage: full|partial|unclear")
}
