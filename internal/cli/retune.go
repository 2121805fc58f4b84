package cli

import (
	"github.com/spf13/cobra"
)

var retuneCmd = &cobra.Command{
	Use:   "retune",
	Short: "Run one cadence optimization pass over monitors and rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Retune(cmd.Context())
	},
}
