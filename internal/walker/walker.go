package walker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds metadata about a discovered source file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
}

// maxFileSize is the largest file we'll consider (1 MB).
const maxFileSize = 1 << 20

// defaultIgnores seed .codemapignore when the source root has none.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	".idea",
	".vscode",
	".codemap",
	".mypy_cache",
	".pytest_cache",
	".tox",
	"__pycache__",
	"venv",
	"env",
	"node_modules",
	"vendor",
	"dist",
	"build",
}

const ignoreFileName = ".codemapignore"

// Walk streams the indexable files under root: regular files whose extension
// is in allowedExts, at most 1 MB, non-empty, outside ignored directories.
// The error channel carries at most one error and is closed when the walk
// ends. Cancelling ctx stops the walk early without an error.
func Walk(ctx context.Context, root string, allowedExts map[string]bool) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		w := &walker{
			ctx:      ctx,
			root:     absRoot,
			exts:     allowedExts,
			patterns: ignorePatterns(absRoot),
			out:      files,
		}
		if err := filepath.WalkDir(absRoot, w.visit); err != nil {
			errs <- err
		}
	}()

	return files, errs
}

type walker struct {
	ctx      context.Context
	root     string
	exts     map[string]bool
	patterns []string
	out      chan<- FileInfo
}

func (w *walker) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		// Unreadable entries are not fatal to the run.
		return nil
	}
	select {
	case <-w.ctx.Done():
		return fs.SkipAll
	default:
	}

	rel, relErr := filepath.Rel(w.root, path)
	if relErr != nil || rel == "." {
		return nil
	}
	rel = filepath.ToSlash(rel)

	if d.IsDir() {
		if w.ignored(d.Name(), rel) {
			return filepath.SkipDir
		}
		return nil
	}
	if d.Type()&fs.ModeSymlink != 0 {
		return nil
	}
	if !w.exts[strings.TrimPrefix(filepath.Ext(path), ".")] {
		return nil
	}

	info, infoErr := d.Info()
	if infoErr != nil {
		return nil
	}
	if info.Size() == 0 || info.Size() > maxFileSize {
		return nil
	}

	select {
	case w.out <- FileInfo{Path: path, RelPath: rel, Size: info.Size()}:
		return nil
	case <-w.ctx.Done():
		return fs.SkipAll
	}
}

// ignored reports whether a directory should be pruned from the walk.
// A pattern matches the directory's name, its root-relative path, a parent
// of that path, or either of those as a glob.
func (w *walker) ignored(name, rel string) bool {
	for _, p := range w.patterns {
		if name == p || rel == p {
			return true
		}
		if strings.HasPrefix(rel, p+"/") {
			return true
		}
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ignorePatterns returns the patterns from the root's .codemapignore,
// writing the file with the defaults first when it does not exist yet.
// Blank lines and # comments are skipped.
func ignorePatterns(root string) []string {
	path := filepath.Join(root, ignoreFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		writeDefaultIgnoreFile(path)
		return defaultIgnores
	}
	if err != nil {
		return defaultIgnores
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return defaultIgnores
	}
	return patterns
}

func writeDefaultIgnoreFile(path string) {
	content := "# Directories excluded from indexing, one pattern per line.\n" +
		"# Exact names, path prefixes, and globs are supported.\n\n" +
		strings.Join(defaultIgnores, "\n") + "\n"
	// Failing to write is fine; the defaults still apply in memory.
	os.WriteFile(path, []byte(content), 0o644)
}
