package cli

import (
	"github.com/spf13/cobra"

	"ticketwatch/internal/app"
)

var (
	showLimit       int
	showEscalations bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent trigger records or escalation tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:       showLimit,
			Escalations: showEscalations,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Maximum rows to display")
	showCmd.Flags().BoolVar(&showEscalations, "escalations", false, "Show escalation tasks instead of triggers")
}
