package cmd

import (
	"errors"
	"fmt"

	"codemap/internal/retrieve"

	"github.com/spf13/cobra"
)

var snippetCmd = &cobra.Command{
	Use:   "snippet <fqname>",
	Short: "Print the exact source text of an indexed entity",
	Long: `Print the source span recorded for a fully qualified name. The live
file is verified against the indexed content hash first; text from a
file that changed since indexing is never returned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fqname := args[0]
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

		e, err := st.EntityByFQName(fqname)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("no entity %q in index (snippet takes exact fqnames; try 'codemap lookup')", fqname)
		}

		root, err := sourceRoot(st, s)
		if err != nil {
			return err
		}
		text, err := retrieve.NewSnippetExtractor(st, root).Read(e)
		if errors.Is(err, retrieve.ErrStaleSnippet) || errors.Is(err, retrieve.ErrCorrupt) {
			return fmt.Errorf("%v\nRun 'codemap index %s' to refresh the index", err, root)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s  (%s)\n%s:%d-%d\n\n%s\n", e.FQName, e.Kind, e.SourcePath, e.StartLine, e.EndLine, text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snippetCmd)
}
