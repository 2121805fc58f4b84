package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/alert"
	"ticketwatch/internal/storage"
)

// SimulateOptions describe a synthetic rule and snapshot pair.
type SimulateOptions struct {
	Type             string
	TargetPrice      decimal.Decimal
	TargetPercentage decimal.Decimal
	BaselinePrice    *decimal.Decimal
	Price            decimal.Decimal
	Quantity         int
	HistoricalLow    *decimal.Decimal
}

// SimulateAlert evaluates a synthetic rule against a synthetic snapshot
// and prints the outcome. No persistence or dispatch is involved.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	rule := storage.AlertRule{
		ID:               uuid.New(),
		Type:             storage.AlertType(opts.Type),
		TargetPrice:      opts.TargetPrice,
		TargetPercentage: opts.TargetPercentage,
		BaselinePrice:    opts.BaselinePrice,
		Active:           true,
		Params:           storage.RuleParams{},
	}
	snap := storage.PriceSnapshot{
		PriceMin:          opts.Price,
		PriceMax:          opts.Price,
		PriceAvg:          opts.Price,
		AvailableQuantity: opts.Quantity,
		RecordedAt:        a.Clock.Now(),
	}
	evalCtx := alert.Context{
		Now:           a.Clock.Now(),
		HistoricalLow: opts.HistoricalLow,
	}

	matched, err := alert.NewEvaluator(a.Logger).Evaluate(rule, snap, evalCtx)
	if err != nil {
		return err
	}

	if !matched {
		fmt.Fprintf(os.Stdout, "no match: %s at price %s\n", rule.Type, opts.Price.StringFixed(2))
		return nil
	}
	urgency := alert.ClassifyUrgency(rule, snap)
	fmt.Fprintf(os.Stdout, "match: %s at price %s (urgency %s)\n", rule.Type, opts.Price.StringFixed(2), urgency)
	return nil
}
