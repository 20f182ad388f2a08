package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"codemap/internal/index"
	"codemap/internal/tui"

	"github.com/spf13/cobra"
)

var (
	flagWorkers int
	flagTUI     bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Scan a source tree and build the entity index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}

		rootArg := s.SourceRoot
		if len(args) == 1 {
			rootArg = args[0]
		}
		if rootArg == "" {
			return fmt.Errorf("source path required: codemap index <path>")
		}
		root, err := filepath.Abs(rootArg)
		if err != nil {
			return err
		}

		// Default DB path is <source-root>/.codemap/index.db.
		dbPath := s.DB
		if dbPath == "" {
			dbPath = filepath.Join(root, ".codemap", "index.db")
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}

		cfg := index.Config{
			DBPath:     dbPath,
			SourceRoot: root,
			Workers:    flagWorkers,
		}

		if flagTUI {
			rep, err := tui.RunIndexing(cfg)
			printIndexDetails(rep)
			return err
		}

		idx, err := index.New(cfg)
		if err != nil {
			return err
		}
		defer idx.Close()

		fmt.Printf("Indexing %s...\n", root)
		rep, err := idx.Index(cmd.Context())

		if rep != nil {
			fmt.Printf("\nDone in %s\n", rep.Duration.Round(time.Millisecond))
			fmt.Printf("  Files:    %d total, %d indexed, %d unchanged, %d failed, %d pruned\n",
				rep.FilesTotal, rep.FilesIndexed, rep.FilesUnchanged, rep.FilesFailed, rep.FilesPruned)
			fmt.Printf("  Entities: %d\n", rep.Entities)
			printIndexDetails(rep)
		}

		return err
	},
}

// printIndexDetails lists per-file parse errors and indexing warnings.
func printIndexDetails(rep *index.Report) {
	if rep == nil {
		return
	}
	if len(rep.ParseErrors) > 0 {
		fmt.Printf("\nParse errors (%d):\n", len(rep.ParseErrors))
		for _, pe := range rep.ParseErrors {
			fmt.Printf("  %s: %s\n", pe.Path, pe.Err)
		}
	}
	if len(rep.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(rep.Warnings))
		for _, w := range rep.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
}

func init() {
	indexCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "parallel workers")
	indexCmd.Flags().BoolVar(&flagTUI, "tui", false, "show interactive progress")
	rootCmd.AddCommand(indexCmd)
}
