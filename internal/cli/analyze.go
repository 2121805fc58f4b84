package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ticketwatch/internal/app"
)

var (
	analyzeSubject int64
	analyzeDate    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute volatility digests from stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			SubjectID: analyzeSubject,
			Date:      time.Now().UTC().Add(-24 * time.Hour),
		}
		if analyzeDate != "" {
			date, err := time.Parse("2006-01-02", analyzeDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			opts.Date = date
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().Int64Var(&analyzeSubject, "subject", 0, "Subject id to analyze (all active subjects when omitted)")
	analyzeCmd.Flags().StringVar(&analyzeDate, "date", "", "Analysis date (YYYY-MM-DD, defaults to yesterday)")
}
