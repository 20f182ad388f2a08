package retrieve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"codemap/internal/extract"
	"codemap/internal/store"
)

// ErrStaleSnippet means the live file no longer matches the indexed span's
// content hash. The stale text is never returned.
var ErrStaleSnippet = errors.New("snippet is stale")

// ErrCorrupt means the stored span cannot be read from the live file at
// all, e.g. the file shrank below the span.
var ErrCorrupt = errors.New("snippet span is corrupt")

// SnippetExtractor reads back the exact source text of indexed entities.
type SnippetExtractor struct {
	store      store.Store
	sourceRoot string
}

// NewSnippetExtractor creates an extractor rooted at sourceRoot, which
// must be the same root the index was built from.
func NewSnippetExtractor(s store.Store, sourceRoot string) *SnippetExtractor {
	return &SnippetExtractor{store: s, sourceRoot: sourceRoot}
}

// Snippet returns the source text for an exact fqname. Names are not
// fuzzy-matched here; resolve first if the caller has a loose query.
func (x *SnippetExtractor) Snippet(fqname string) (string, error) {
	e, err := x.store.EntityByFQName(fqname)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, fqname)
	}
	return x.Read(e)
}

// Read extracts the span for an already-resolved entity, verifying the
// content hash before returning text.
func (x *SnippetExtractor) Read(e *store.Entity) (string, error) {
	path := filepath.Join(x.sourceRoot, filepath.FromSlash(e.SourcePath))
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: source file %s", ErrNotFound, e.SourcePath)
		}
		return "", err
	}

	text, ok := extract.SpanText(src, e.StartLine, e.EndLine)
	if !ok {
		return "", fmt.Errorf("%w: lines %d-%d outside %s", ErrCorrupt, e.StartLine, e.EndLine, e.SourcePath)
	}
	if extract.HashText(text) != e.ContentHash {
		return "", fmt.Errorf("%w: %s changed since indexing", ErrStaleSnippet, e.FQName)
	}
	return text, nil
}
