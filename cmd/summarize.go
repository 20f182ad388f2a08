package cmd

import (
	"fmt"
	"time"

	"codemap/internal/llm"
	"codemap/internal/retrieve"
	"codemap/internal/store"
	"codemap/internal/summarize"

	"github.com/spf13/cobra"
)

var (
	flagSumLimit   int
	flagSumTimeout time.Duration
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Backfill missing entity summaries through an LLM",
	Long: `Select indexed entities with no summary and generate one per entity
through the configured backend. Failures are recorded per entity and
never abort the run; entities whose source changed since indexing are
skipped until the next 'codemap index'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		dbPath, err := s.dbPath()
		if err != nil {
			return err
		}
		st, err := openStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		root, err := sourceRoot(st, s)
		if err != nil {
			return err
		}
		backend, err := buildSummarizer(s)
		if err != nil {
			return err
		}

		filler := summarize.NewFiller(st, retrieve.NewSnippetExtractor(st, root), backend)
		rep, err := filler.Fill(cmd.Context(), summarize.Options{
			Limit:   flagSumLimit,
			Timeout: flagSumTimeout,
			OnEntity: func(i, total int, e store.Entity) {
				fmt.Printf("[%d/%d] %-9s %s\n", i, total, e.Kind, e.FQName)
			},
		})

		if rep != nil {
			fmt.Printf("\nSummarized %d of %d entities (%d failed, %d skipped) via %s\n",
				rep.Updated, rep.Selected, rep.Failed, rep.Skipped, backend.Name())
			if len(rep.Failures) > 0 {
				fmt.Printf("\nFailures:\n")
				for _, f := range rep.Failures {
					fmt.Printf("  %s: %s\n", f.FQName, f.Err)
				}
			}
			if len(rep.Skips) > 0 {
				fmt.Printf("\nSkipped (re-index to retry):\n")
				for _, f := range rep.Skips {
					fmt.Printf("  %s: %s\n", f.FQName, f.Err)
				}
			}
		}

		return err
	},
}

// buildSummarizer maps the configured backend name to an implementation.
func buildSummarizer(s settings) (summarize.Summarizer, error) {
	switch s.Summarizer {
	case "ollama":
		return llm.NewOllama(s.OllamaURL, s.Model), nil
	case "codex":
		return llm.NewSubprocess(s.CodexBin), nil
	default:
		return nil, fmt.Errorf("unknown summarizer %q (want ollama or codex)", s.Summarizer)
	}
}

func init() {
	summarizeCmd.Flags().IntVar(&flagSumLimit, "limit", summarize.DefaultLimit, "maximum entities per run")
	summarizeCmd.Flags().DurationVar(&flagSumTimeout, "timeout", summarize.DefaultTimeout, "per-entity backend timeout")
	rootCmd.AddCommand(summarizeCmd)
}
