package cmd

import (
	"errors"
	"fmt"
	"strings"

	"codemap/internal/retrieve"

	"github.com/spf13/cobra"
)

// lookupSnippetLines caps how much code the lookup view shows.
const lookupSnippetLines = 40

var lookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Resolve a symbol name to its best-matching entity",
	Long: `Resolve a name to a single entity. Exact fully qualified names win,
then unique short names, then case-insensitive matches, then fuzzy
matching. A name that matches several entities equally well fails with
the candidate list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
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

		e, err := retrieve.NewResolver(st).Resolve(name)
		var amb *retrieve.AmbiguousError
		if errors.As(err, &amb) {
			fmt.Printf("Ambiguous name %q, %d candidates:\n", amb.Query, len(amb.Candidates))
			for _, c := range amb.Candidates {
				fmt.Printf("  %-9s %s\n", c.Kind, c.FQName)
			}
			return fmt.Errorf("disambiguate with a fully qualified name")
		}
		if errors.Is(err, retrieve.ErrNotFound) {
			return fmt.Errorf("no matches for: %s", name)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s  (%s)\n%s:%d-%d\n%s\n", e.FQName, e.Kind, e.SourcePath, e.StartLine, e.EndLine, e.Signature)

		if e.Summary != "" {
			fmt.Printf("\nSummary:\n%s\n", e.Summary)
		} else {
			fmt.Printf("\nSummary:\n<empty> (run `codemap summarize` to populate)\n")
		}

		root, rootErr := sourceRoot(st, s)
		if rootErr != nil {
			fmt.Printf("\nSnippet:\n(unavailable: %v)\n", rootErr)
			return nil
		}
		text, snipErr := retrieve.NewSnippetExtractor(st, root).Read(e)
		if snipErr != nil {
			fmt.Printf("\nSnippet:\n(unavailable: %v)\n", snipErr)
			return nil
		}
		fmt.Printf("\nSnippet:\n%s\n", headLines(text, lookupSnippetLines))
		return nil
	},
}

// headLines returns the first n lines of text, noting how much was cut.
func headLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return fmt.Sprintf("%s\n... (%d more lines)", strings.Join(lines[:n], "\n"), len(lines)-n)
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
