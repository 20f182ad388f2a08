package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index location, contents, and last run",
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

		counts, err := st.Counts()
		if err != nil {
			return err
		}
		root, _ := st.GetMeta("source_root")
		lastAt, _ := st.GetMeta("last_indexed_at")
		lastRun, _ := st.GetMeta("last_run_id")

		fmt.Printf("Index: %s\n", dbPath)
		if root != "" {
			fmt.Printf("  Source root:  %s\n", root)
		}
		if lastAt != "" {
			fmt.Printf("  Last indexed: %s (run %s)\n", lastAt, lastRun)
		}
		fmt.Printf("  Files:    %d\n", counts.Files)
		fmt.Printf("  Entities: %d\n", counts.Entities)

		kinds := make([]string, 0, len(counts.ByKind))
		for k := range counts.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("    %-9s %d\n", k, counts.ByKind[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
