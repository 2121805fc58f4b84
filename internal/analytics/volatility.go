package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/clock"
	"ticketwatch/internal/storage"
)

// Analyzer computes daily price volatility digests per subject.
type Analyzer struct {
	snapshots storage.SnapshotStore
	records   storage.VolatilityStore
	clk       clock.Clock
	log       zerolog.Logger
}

// NewAnalyzer wires the volatility analyzer.
func NewAnalyzer(snapshots storage.SnapshotStore, records storage.VolatilityStore, clk clock.Clock, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		snapshots: snapshots,
		records:   records,
		clk:       clk,
		log:       log.With().Str("component", "volatility").Logger(),
	}
}

// CalculateForSubject builds and persists the volatility record for one
// subject and calendar day. Returns nil without error when no snapshots
// exist for that day. Idempotent: a rerun overwrites the prior record.
func (a *Analyzer) CalculateForSubject(ctx context.Context, subjectID int64, date time.Time) (*storage.VolatilityRecord, error) {
	snaps, err := a.snapshots.ListForSubjectOn(ctx, subjectID, date)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	rec := Summarize(subjectID, date, snaps)
	rec.CreatedAt = a.clk.Now()

	if err := a.records.UpsertVolatility(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist volatility record: %w", err)
	}

	a.log.Debug().
		Int64("subject_id", subjectID).
		Float64("volatility_score", rec.VolatilityScore).
		Str("trend", string(rec.Trend)).
		Int("data_points", rec.DataPoints).
		Msg("volatility digest computed")
	return &rec, nil
}

// RunDigest computes yesterday's digest for every subject with an
// active rule or monitor. Failures on one subject never abort the rest.
func (a *Analyzer) RunDigest(ctx context.Context) error {
	subjects, err := a.records.ActiveSubjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active subjects: %w", err)
	}

	date := a.clk.Now().Add(-24 * time.Hour)
	var failed int
	for _, subjectID := range subjects {
		if _, err := a.CalculateForSubject(ctx, subjectID, date); err != nil {
			failed++
			a.log.Error().Err(err).Int64("subject_id", subjectID).Msg("digest failed for subject")
		}
	}

	a.log.Info().
		Int("subjects", len(subjects)).
		Int("failed", failed).
		Time("date", date).
		Msg("volatility digest run finished")
	if failed == len(subjects) && failed > 0 {
		return fmt.Errorf("digest failed for all %d subjects", failed)
	}
	return nil
}

// Summarize computes the statistical summary of one day of snapshots.
// Snapshots must belong to a single subject; order is normalised here.
func Summarize(subjectID int64, date time.Time, snaps []storage.PriceSnapshot) storage.VolatilityRecord {
	ordered := make([]storage.PriceSnapshot, len(snaps))
	copy(ordered, snaps)
	sortByTime(ordered)

	prices := make([]float64, len(ordered))
	min, max := ordered[0].CurrentPrice(), ordered[0].CurrentPrice()
	sum := decimal.Zero
	for i, snap := range ordered {
		p := snap.CurrentPrice()
		prices[i], _ = p.Float64()
		sum = sum.Add(p)
		if p.LessThan(min) {
			min = p
		}
		if p.GreaterThan(max) {
			max = p
		}
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(ordered))))

	rec := storage.VolatilityRecord{
		SubjectID:       subjectID,
		AnalysisDate:    time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		AvgPrice:        avg,
		MinPrice:        min,
		MaxPrice:        max,
		VolatilityScore: volatilityScore(prices),
		Trend:           trendDirection(prices),
		HourlyBuckets:   bucketByHour(ordered),
		DataPoints:      len(ordered),
	}
	rec.PriceChangesCount, rec.MaxSingleChange = successiveChanges(prices)
	return rec
}

// volatilityScore is the coefficient of variation: population standard
// deviation over mean, 0 when the mean is not positive.
func volatilityScore(prices []float64) float64 {
	mean := meanOf(prices)
	if mean <= 0 {
		return 0
	}
	var sumSq float64
	for _, p := range prices {
		d := p - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(prices)))
	return stddev / mean
}

// successiveChanges counts non-zero chronological price moves and
// returns the largest absolute percentage change.
func successiveChanges(prices []float64) (count int, maxChange float64) {
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			continue
		}
		change := (prices[i] - prev) / prev * 100
		if change != 0 {
			count++
		}
		if abs := math.Abs(change); abs > maxChange {
			maxChange = abs
		}
	}
	return count, maxChange
}

func trendDirection(prices []float64) storage.TrendDirection {
	if len(prices) < 2 || prices[0] <= 0 {
		return storage.TrendStable
	}
	change := (prices[len(prices)-1] - prices[0]) / prices[0] * 100
	switch {
	case change > 5:
		return storage.TrendIncreasing
	case change < -5:
		return storage.TrendDecreasing
	default:
		return storage.TrendStable
	}
}

func bucketByHour(snaps []storage.PriceSnapshot) map[int]storage.HourlyBucket {
	sums := make(map[int]decimal.Decimal)
	buckets := make(map[int]storage.HourlyBucket)

	for _, snap := range snaps {
		hour := snap.RecordedAt.UTC().Hour()
		p := snap.CurrentPrice()

		bucket, seen := buckets[hour]
		if !seen {
			buckets[hour] = storage.HourlyBucket{Min: p, Max: p, Count: 1}
			sums[hour] = p
			continue
		}
		if p.LessThan(bucket.Min) {
			bucket.Min = p
		}
		if p.GreaterThan(bucket.Max) {
			bucket.Max = p
		}
		bucket.Count++
		buckets[hour] = bucket
		sums[hour] = sums[hour].Add(p)
	}

	for hour, bucket := range buckets {
		bucket.Avg = sums[hour].Div(decimal.NewFromInt(int64(bucket.Count)))
		buckets[hour] = bucket
	}
	return buckets
}

func sortByTime(snaps []storage.PriceSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].RecordedAt.Before(snaps[j].RecordedAt)
	})
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
