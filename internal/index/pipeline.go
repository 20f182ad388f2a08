package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"codemap/internal/extract"
	"codemap/internal/store"
	"codemap/internal/walker"
)

// FileError records a file the run could not index.
type FileError struct {
	Path string
	Err  string
}

// Report summarizes one indexing run.
type Report struct {
	RunID          string
	FilesTotal     int
	FilesIndexed   int
	FilesUnchanged int
	FilesFailed    int
	FilesPruned    int
	Entities       int
	Duration       time.Duration
	ParseErrors    []FileError
	Warnings       []string
}

// fileWork is a changed file headed for extraction.
type fileWork struct {
	info walker.FileInfo
	hash string
	src  []byte
}

// entityBatch is the entities extracted from a single file.
type entityBatch struct {
	work     fileWork
	entities []extract.Entity
	warnings []extract.Warning
}

func runPipeline(
	ctx context.Context,
	root string,
	s store.Store,
	extractor *extract.Extractor,
	registry *extract.Registry,
	numWorkers int,
	onProgress ProgressFunc,
) (*Report, map[string]bool, error) {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	report := &Report{}
	var filesTotal, filesUnchanged, filesFailed atomic.Int64

	var mu sync.Mutex // guards seen and report.ParseErrors
	seen := make(map[string]bool)

	// Stage 1: walk (only files with registered grammars).
	fileCh, walkErrCh := walker.Walk(ctx, root, registry.Extensions())

	// Stage 2: hash + unchanged check (N workers).
	workCh := make(chan fileWork, numWorkers)
	var hashWg sync.WaitGroup
	for range numWorkers {
		hashWg.Add(1)
		go func() {
			defer hashWg.Done()
			for fi := range fileCh {
				if ctx.Err() != nil {
					continue
				}
				filesTotal.Add(1)

				// Every walked file counts as present, even when it fails
				// below; pruning must not drop its previous entities.
				mu.Lock()
				seen[fi.RelPath] = true
				mu.Unlock()

				src, err := os.ReadFile(fi.Path)
				if err != nil {
					filesFailed.Add(1)
					mu.Lock()
					report.ParseErrors = append(report.ParseErrors, FileError{Path: fi.RelPath, Err: err.Error()})
					mu.Unlock()
					continue
				}
				h := sha256.Sum256(src)
				hash := hex.EncodeToString(h[:])

				existing, err := s.FileHash(fi.RelPath)
				if err == nil && existing == hash {
					filesUnchanged.Add(1)
					continue // unchanged
				}

				workCh <- fileWork{info: fi, hash: hash, src: src}
			}
		}()
	}
	go func() {
		hashWg.Wait()
		close(workCh)
	}()

	// Stage 3: extract (N workers).
	batchCh := make(chan entityBatch, numWorkers)
	var extractWg sync.WaitGroup
	for range numWorkers {
		extractWg.Add(1)
		go func() {
			defer extractWg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					continue
				}
				ents, warnings, err := extractor.File(w.info.RelPath, w.src)
				if err != nil {
					filesFailed.Add(1)
					mu.Lock()
					report.ParseErrors = append(report.ParseErrors, FileError{Path: w.info.RelPath, Err: err.Error()})
					mu.Unlock()
					continue
				}
				if len(ents) == 0 {
					continue
				}
				batchCh <- entityBatch{work: w, entities: ents, warnings: warnings}
			}
		}()
	}
	go func() {
		extractWg.Wait()
		close(batchCh)
	}()

	// Stage 4: store (1 worker, one transaction per file).
	var storeErr error
	var storeWg sync.WaitGroup
	storeWg.Add(1)
	go func() {
		defer storeWg.Done()
		for b := range batchCh {
			ents := make([]store.Entity, len(b.entities))
			for i, e := range b.entities {
				ents[i] = store.Entity{
					FQName:       e.FQName,
					Kind:         e.Kind,
					Signature:    e.Signature,
					Docstring:    e.Docstring,
					SourcePath:   b.work.info.RelPath,
					StartLine:    e.StartLine,
					StartCol:     e.StartCol,
					EndLine:      e.EndLine,
					EndCol:       e.EndCol,
					ContentHash:  e.ContentHash,
					ParentFQName: e.ParentFQName,
				}
			}

			skipped, err := s.ReplaceFile(b.work.info.RelPath, b.work.hash, ents)
			if err != nil {
				fmt.Fprintf(os.Stderr, "store error %s: %v\n", b.work.info.RelPath, err)
				storeErr = err
				continue
			}

			report.FilesIndexed++
			report.Entities += len(ents) - len(skipped)
			for _, w := range b.warnings {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s: %s", w.Path, w.FQName, w.Reason))
			}
			for _, fq := range skipped {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s: fqname already indexed from another file", b.work.info.RelPath, fq))
			}
			if onProgress != nil {
				onProgress("Indexing files", report.FilesIndexed, int(filesTotal.Load()))
			}
		}
	}()

	storeWg.Wait()

	report.FilesTotal = int(filesTotal.Load())
	report.FilesUnchanged = int(filesUnchanged.Load())
	report.FilesFailed = int(filesFailed.Load())
	sort.Slice(report.ParseErrors, func(i, j int) bool { return report.ParseErrors[i].Path < report.ParseErrors[j].Path })
	sort.Strings(report.Warnings)

	if err := <-walkErrCh; err != nil {
		return report, seen, fmt.Errorf("walk: %w", err)
	}
	if ctx.Err() != nil {
		return report, seen, ctx.Err()
	}
	if storeErr != nil {
		return report, seen, fmt.Errorf("storage failed: %w", storeErr)
	}
	return report, seen, nil
}
