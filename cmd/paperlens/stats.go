package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperlens/backend/internal/evaluation"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the evaluation report and usage counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		records := application.Tracker.Records()
		fmt.Print(evaluation.RenderReport(evaluation.GenerateReport(records)))

		if baseline, _ := cmd.Flags().GetBool("baseline"); baseline && len(records) > 0 {
			fmt.Println()
			fmt.Print(evaluation.RenderComparison(evaluation.CompareWithBaseline(&records[len(records)-1])))
		}

		um := application.Tracker.UserMetrics()
		fmt.Println()
		fmt.Println(heading("Usage"))
		fmt.Printf("  %s %d\n", label("Papers uploaded:"), um.PapersUploaded)
		fmt.Printf("  %s %d\n", label("Analyses generated:"), um.AnalysesGenerated)
		fmt.Printf("  %s %d\n", label("Critiques generated:"), um.CritiquesGenerated)
		fmt.Printf("  %s %d\n", label("Figures explained:"), um.FiguresExplained)
		fmt.Printf("  %s %d\n", label("Chat messages:"), um.ChatMessages)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("baseline", false, "compare the latest evaluation with competitor baselines")
	rootCmd.AddCommand(statsCmd)
}
