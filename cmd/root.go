package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "codemap",
	Short: "Local source-code index and retrieval engine",
	Long: `codemap scans a source tree, indexes its code entities in SQLite,
and answers symbol lookups, full-text searches, and snippet requests
against that index. Summaries for indexed entities can be backfilled
through a local LLM.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "database path (default <source-root>/.codemap/index.db)")
	pf.String("source-root", "", "root of the indexed source tree")
	pf.String("ollama", "http://localhost:11434", "ollama base URL")
	pf.String("model", "qwen2.5:7b", "ollama model for summaries")
	pf.String("summarizer", "ollama", "summary backend: ollama or codex")
	pf.String("codex-bin", "codex", "codex binary for the codex backend")
}
