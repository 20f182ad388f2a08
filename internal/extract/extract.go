package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Entity kinds. The store schema enforces the same closed set.
const (
	KindModule   = "module"
	KindClass    = "class"
	KindFunction = "function"
	KindMethod   = "method"
	KindVariable = "variable"
)

// Entity is one symbol extracted from a source file. Lines are 1-based and
// inclusive; columns are 0-based byte offsets. ContentHash covers the file's
// lines StartLine..EndLine joined with newlines.
type Entity struct {
	FQName       string
	Kind         string
	Signature    string
	Docstring    string
	StartLine    int
	StartCol     int
	EndLine      int
	EndCol       int
	ContentHash  string
	ParentFQName string
}

// ParseError reports a file that could not be parsed. The file is skipped;
// the indexing run continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Warning flags a non-fatal extraction anomaly, currently only duplicate
// fqnames within one file (first occurrence wins).
type Warning struct {
	Path   string
	FQName string
	Reason string
}

// Extractor parses source files with tree-sitter and extracts entity records.
type Extractor struct {
	registry *Registry
}

// NewExtractor creates an extractor backed by the given registry.
func NewExtractor(r *Registry) *Extractor {
	return &Extractor{registry: r}
}

// File parses src and returns the file's entities in document order, the
// module entity first. If no grammar is registered for the path it returns
// nothing. A syntax error yields a *ParseError and no entities.
func (x *Extractor) File(relPath string, src []byte) ([]Entity, []Warning, error) {
	spec, _ := x.registry.Lookup(relPath)
	if spec == nil {
		return nil, nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, nil, &ParseError{Path: relPath, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if node := firstErrorNode(root); node != nil {
		return nil, nil, &ParseError{
			Path: relPath,
			Err:  fmt.Errorf("syntax error at line %d", int(node.StartPoint().Row)+1),
		}
	}

	ents, err := spec.Extract(relPath, src, root)
	if err != nil {
		return nil, nil, &ParseError{Path: relPath, Err: err}
	}
	if len(ents) == 0 {
		return nil, nil, nil
	}

	ents, warnings := dedupe(relPath, ents)

	// Hashes are computed centrally from the same line slice the snippet
	// reader reconstructs, so round-trips stay byte-exact.
	lines := strings.Split(string(src), "\n")
	for i := range ents {
		text, ok := SpanLines(lines, ents[i].StartLine, ents[i].EndLine)
		if !ok {
			return nil, nil, &ParseError{
				Path: relPath,
				Err:  errors.New("entity span outside file: " + ents[i].FQName),
			}
		}
		ents[i].ContentHash = HashText(text)
	}
	return ents, warnings, nil
}

// dedupe drops later entities whose fqname already appeared in the file.
func dedupe(path string, ents []Entity) ([]Entity, []Warning) {
	seen := make(map[string]bool, len(ents))
	out := ents[:0]
	var warnings []Warning
	for _, e := range ents {
		if seen[e.FQName] {
			warnings = append(warnings, Warning{Path: path, FQName: e.FQName, Reason: "duplicate entity"})
			continue
		}
		seen[e.FQName] = true
		out = append(out, e)
	}
	return out, warnings
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// SpanLines returns lines start..end (1-based, inclusive) joined with
// newlines. ok is false when the span falls outside the slice.
func SpanLines(lines []string, start, end int) (string, bool) {
	if start < 1 || end < start || end > len(lines) {
		return "", false
	}
	return strings.Join(lines[start-1:end], "\n"), true
}

// SpanText is SpanLines over raw file contents.
func SpanText(src []byte, start, end int) (string, bool) {
	return SpanLines(strings.Split(string(src), "\n"), start, end)
}

// HashText returns the hex sha256 of a span's text.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
