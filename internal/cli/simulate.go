package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ticketwatch/internal/app"
)

var (
	simulateType       string
	simulateTarget     string
	simulatePct        string
	simulateBaseline   string
	simulatePrice      string
	simulateQuantity   int
	simulateHistorical string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate a synthetic rule against a synthetic snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Type:     simulateType,
			Quantity: simulateQuantity,
		}

		var err error
		if opts.Price, err = decimal.NewFromString(simulatePrice); err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		if simulateTarget != "" {
			if opts.TargetPrice, err = decimal.NewFromString(simulateTarget); err != nil {
				return fmt.Errorf("invalid --target-price value: %w", err)
			}
		}
		if simulatePct != "" {
			if opts.TargetPercentage, err = decimal.NewFromString(simulatePct); err != nil {
				return fmt.Errorf("invalid --target-percentage value: %w", err)
			}
		}
		if simulateBaseline != "" {
			baseline, err := decimal.NewFromString(simulateBaseline)
			if err != nil {
				return fmt.Errorf("invalid --baseline value: %w", err)
			}
			opts.BaselinePrice = &baseline
		}
		if simulateHistorical != "" {
			low, err := decimal.NewFromString(simulateHistorical)
			if err != nil {
				return fmt.Errorf("invalid --historical-low value: %w", err)
			}
			opts.HistoricalLow = &low
		}

		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateType, "type", "absolute_price", "Alert type to simulate")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Observed price")
	simulateCmd.Flags().StringVar(&simulateTarget, "target-price", "", "Rule target price")
	simulateCmd.Flags().StringVar(&simulatePct, "target-percentage", "", "Rule target percentage")
	simulateCmd.Flags().StringVar(&simulateBaseline, "baseline", "", "Rule baseline price")
	simulateCmd.Flags().IntVar(&simulateQuantity, "quantity", 0, "Available quantity")
	simulateCmd.Flags().StringVar(&simulateHistorical, "historical-low", "", "Historical low price for best_deal")
	_ = simulateCmd.MarkFlagRequired("price")
}
