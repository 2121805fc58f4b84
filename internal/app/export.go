package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ticketwatch/internal/storage"
)

// Export renders a subject's volatility history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.SubjectID == 0 {
		return errors.New("--subject is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -90)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListVolatilityBetween(ctx, opts.SubjectID, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no volatility records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting volatility history")

	if opts.CSVPath != "" {
		if err := writeVolatilityCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeVolatilityPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleRecords(records []storage.VolatilityRecord, max int) []storage.VolatilityRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.VolatilityRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeVolatilityCSV(path string, records []storage.VolatilityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"analysis_date", "avg_price", "min_price", "max_price", "volatility_score", "price_changes_count", "max_single_change", "trend", "data_points"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		record := []string{
			rec.AnalysisDate.Format("2006-01-02"),
			rec.AvgPrice.String(),
			rec.MinPrice.String(),
			rec.MaxPrice.String(),
			strconv.FormatFloat(rec.VolatilityScore, 'f', -1, 64),
			strconv.Itoa(rec.PriceChangesCount),
			strconv.FormatFloat(rec.MaxSingleChange, 'f', -1, 64),
			string(rec.Trend),
			strconv.Itoa(rec.DataPoints),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeVolatilityPNG(path string, records []storage.VolatilityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	avg := make([]float64, len(records))
	minPrice := make([]float64, len(records))
	maxPrice := make([]float64, len(records))
	score := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.AnalysisDate
		avg[i] = rec.AvgPrice.InexactFloat64()
		minPrice[i] = rec.MinPrice.InexactFloat64()
		maxPrice[i] = rec.MaxPrice.InexactFloat64()
		score[i] = rec.VolatilityScore
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volatility",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Avg",
				XValues: x,
				YValues: avg,
			},
			chart.TimeSeries{
				Name:    "Min",
				XValues: x,
				YValues: minPrice,
			},
			chart.TimeSeries{
				Name:    "Max",
				XValues: x,
				YValues: maxPrice,
			},
			chart.TimeSeries{
				Name:    "Volatility",
				XValues: x,
				YValues: score,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
