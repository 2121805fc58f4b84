package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"ticketwatch/internal/analytics"
)

// Analyze computes the volatility digest for one subject and day, or
// for every active subject when no subject is given.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	analyzer := analytics.NewAnalyzer(store, store, a.Clock, a.Logger)

	if opts.SubjectID == 0 {
		return analyzer.RunDigest(ctx)
	}

	rec, err := analyzer.CalculateForSubject(ctx, opts.SubjectID, opts.Date)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintln(os.Stdout, "no snapshots for that subject and date")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tAvg\tMin\tMax\tVolatility\tChanges\tMax Change%\tTrend\tPoints")
	fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.4f\t%d\t%.2f\t%s\t%d\n",
		rec.AnalysisDate.Format("2006-01-02"),
		rec.AvgPrice.StringFixed(2),
		rec.MinPrice.StringFixed(2),
		rec.MaxPrice.StringFixed(2),
		rec.VolatilityScore,
		rec.PriceChangesCount,
		rec.MaxSingleChange,
		rec.Trend,
		rec.DataPoints,
	)
	return writer.Flush()
}

// Retune runs one cadence optimization pass over monitors and rules.
func (a *App) Retune(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newOptimizer(store).Run(ctx)
}
