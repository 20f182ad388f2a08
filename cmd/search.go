package cmd

import (
	"fmt"
	"strings"

	"codemap/internal/retrieve"

	"github.com/spf13/cobra"
)

var (
	flagSearchKinds string
	flagSearchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over indexed entities",
	Long: `Search fqnames, signatures, docstrings, and summaries. Results come
back best-first; exact and suffix name matches rank above plain text
hits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
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

		results, err := retrieve.NewSearcher(st).Search(query, parseKindsCSV(flagSearchKinds), flagSearchLimit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Printf("No results for %q\n", query)
			return nil
		}

		fmt.Printf("%d results for %q:\n\n", len(results), query)
		for i, r := range results {
			fmt.Printf("%3d. %-9s %s  (%.1f)\n", i+1, r.Entity.Kind, r.Entity.FQName, r.Score)
			if detail := resultDetail(r.Entity.Signature, r.Entity.Summary); detail != "" {
				fmt.Printf("     %s\n", detail)
			}
			fmt.Printf("     %s:%d-%d\n", r.Entity.SourcePath, r.Entity.StartLine, r.Entity.EndLine)
		}
		return nil
	},
}

// resultDetail picks one line of context for a search hit: the signature
// when present, otherwise the first summary line.
func resultDetail(signature, summary string) string {
	if signature != "" {
		return signature
	}
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	return summary
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchKinds, "kinds", "", "comma-separated kind filter (e.g. class,function)")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", retrieve.DefaultSearchLimit, "maximum results")
	rootCmd.AddCommand(searchCmd)
}
