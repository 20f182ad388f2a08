package cmd

import (
	"encoding/json"
	"fmt"

	"codemap/internal/eval"

	"github.com/spf13/cobra"
)

var (
	flagEvalK         int
	flagEvalRetriever string
	flagEvalKinds     string
	flagEvalJSON      bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <qrels-file>",
	Short: "Score retrieval quality against a labeled query set",
	Long: `Run every query in a qrels file (.json or .jsonl) through a retriever
and report recall@k, precision@k, and hit rate. Queries whose relevant
entities are all excluded by the kinds filter are left out of the
recall mean.`,
	Args: cobra.ExactArgs(1),
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

		qrels, err := eval.LoadQrels(args[0])
		if err != nil {
			return err
		}

		kinds := parseKindsCSV(flagEvalKinds)
		var ret eval.Retriever
		switch flagEvalRetriever {
		case "search":
			ret = eval.NewSearchRetriever(st, kinds)
		case "lookup":
			ret = eval.NewLookupRetriever(st)
		default:
			return fmt.Errorf("unknown retriever %q (want search or lookup)", flagEvalRetriever)
		}

		rep, err := eval.NewRunner(st).Run(qrels, ret, flagEvalK, kinds)
		if err != nil {
			return err
		}

		if flagEvalJSON {
			out, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("Evaluated %d queries (retriever=%s, k=%d)\n", rep.NumQueries, rep.Retriever, rep.K)
		fmt.Printf("  Mean recall@%d:    %.3f  (over %d queries with eligible relevant)\n", rep.K, rep.MeanRecall, rep.RecallQueries)
		fmt.Printf("  Mean precision@%d: %.3f\n", rep.K, rep.MeanPrecision)
		fmt.Printf("  Hit rate:          %.3f\n", rep.HitRate)

		if len(rep.Warnings) > 0 {
			fmt.Printf("\nWarnings:\n")
			for _, w := range rep.Warnings {
				fmt.Printf("  %s\n", w)
			}
		}

		fmt.Printf("\nPer query:\n")
		for _, q := range rep.PerQuery {
			recall := fmt.Sprintf("%.2f", q.Recall)
			if q.SkippedRecall {
				recall = "n/a"
			}
			fmt.Printf("  recall=%-5s precision=%.2f matched=%d/%d  %q\n",
				recall, q.Precision, q.MatchedCount, q.EligibleCount, q.Query)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().IntVar(&flagEvalK, "k", 10, "top-k cutoff")
	evalCmd.Flags().StringVar(&flagEvalRetriever, "retriever", "search", "retriever to score: search or lookup")
	evalCmd.Flags().StringVar(&flagEvalKinds, "kinds", "", "comma-separated kind filter for eligibility")
	evalCmd.Flags().BoolVar(&flagEvalJSON, "json", false, "print the full report as JSON")
	rootCmd.AddCommand(evalCmd)
}
