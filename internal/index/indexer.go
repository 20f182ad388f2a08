package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codemap/internal/extract"
	"codemap/internal/extract/languages"
	"codemap/internal/store"
)

// ErrIndexRunning is returned when an indexing run is already in progress
// on this indexer.
var ErrIndexRunning = errors.New("indexing run already in progress")

// ProgressFunc receives progress updates during indexing.
type ProgressFunc func(stage string, done, total int)

// Config holds the indexer configuration.
type Config struct {
	DBPath     string
	SourceRoot string
	Workers    int
	OnProgress ProgressFunc
}

// Indexer scans a source tree and reconciles the entity index with it.
type Indexer struct {
	store     *store.SQLiteStore
	extractor *extract.Extractor
	registry  *extract.Registry
	config    Config
	running   atomic.Bool
}

// New creates an Indexer with the given configuration.
func New(cfg Config) (*Indexer, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := extract.NewRegistry()
	languages.RegisterPython(reg)

	return &Indexer{
		store:     s,
		extractor: extract.NewExtractor(reg),
		registry:  reg,
		config:    cfg,
	}, nil
}

// Index runs one full scan of the source root. At most one run may be
// active per indexer; concurrent calls get ErrIndexRunning.
func (idx *Indexer) Index(ctx context.Context) (*Report, error) {
	if !idx.running.CompareAndSwap(false, true) {
		return nil, ErrIndexRunning
	}
	defer idx.running.Store(false)

	start := time.Now()
	runID := uuid.NewString()

	report, seen, err := runPipeline(
		ctx,
		idx.config.SourceRoot,
		idx.store,
		idx.extractor,
		idx.registry,
		idx.config.Workers,
		idx.config.OnProgress,
	)
	report.RunID = runID
	report.Duration = time.Since(start)
	if err != nil {
		// The walk may be incomplete; pruning now could drop live files.
		return report, err
	}

	pruned, err := idx.store.PruneFilesExcept(seen)
	if err != nil {
		return report, fmt.Errorf("prune: %w", err)
	}
	report.FilesPruned = pruned

	absRoot, err := filepath.Abs(idx.config.SourceRoot)
	if err != nil {
		absRoot = idx.config.SourceRoot
	}
	if err := idx.store.SetMeta("source_root", absRoot); err != nil {
		return report, fmt.Errorf("set meta: %w", err)
	}
	if err := idx.store.SetMeta("last_run_id", runID); err != nil {
		return report, fmt.Errorf("set meta: %w", err)
	}
	if err := idx.store.SetMeta("last_indexed_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return report, fmt.Errorf("set meta: %w", err)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Store exposes the open store so retrieval commands can share the indexer's
// connection.
func (idx *Indexer) Store() store.Store {
	return idx.store
}

// Close releases resources.
func (idx *Indexer) Close() error {
	return idx.store.Close()
}
