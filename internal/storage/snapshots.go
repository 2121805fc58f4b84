package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertSnapshotSQL = `INSERT INTO price_snapshots (
        subject_id, platform, price_min, price_max, price_avg,
        listings_count, available_quantity, recorded_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id;`

	selectSnapshotColumns = `id, subject_id, platform, price_min, price_max,
        price_avg, listings_count, available_quantity, recorded_at, processed_at`

	listUnprocessedSQL = `SELECT ` + selectSnapshotColumns + `
    FROM price_snapshots
    WHERE processed_at IS NULL
    ORDER BY recorded_at
    LIMIT $1;`

	markProcessedSQL = `UPDATE price_snapshots
    SET processed_at = $2
    WHERE id = ANY($1);`

	listForSubjectOnSQL = `SELECT ` + selectSnapshotColumns + `
    FROM price_snapshots
    WHERE subject_id = $1 AND recorded_at >= $2 AND recorded_at < $3
    ORDER BY recorded_at;`

	historicalLowSQL = `SELECT MIN(price_min)
    FROM price_snapshots
    WHERE subject_id = $1 AND recorded_at >= $2;`

	latestPlatformPricesSQL = `SELECT DISTINCT ON (platform) platform, price_min
    FROM price_snapshots
    WHERE subject_id = $1
    ORDER BY platform, recorded_at DESC;`

	countSnapshotsSinceSQL = `SELECT COUNT(*)
    FROM price_snapshots
    WHERE subject_id = $1 AND recorded_at >= $2;`
)

// InsertSnapshot stores one observed price point and returns its id.
func (s *Store) InsertSnapshot(ctx context.Context, snap PriceSnapshot) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	err = pool.QueryRow(ctx, insertSnapshotSQL,
		snap.SubjectID,
		snap.Platform,
		snap.PriceMin.String(),
		snap.PriceMax.String(),
		snap.PriceAvg.String(),
		snap.ListingsCount,
		snap.AvailableQuantity,
		snap.RecordedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// ListUnprocessed returns snapshots the evaluation sweep has not seen
// yet, oldest first.
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listUnprocessedSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list unprocessed snapshots: %w", queryErr)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// MarkProcessed stamps a batch of snapshots as swept.
func (s *Store) MarkProcessed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markProcessedSQL, ids, at); execErr != nil {
		return fmt.Errorf("mark snapshots processed: %w", execErr)
	}
	return nil
}

// ListForSubjectOn returns all snapshots for a subject recorded during
// the calendar day containing date (UTC).
func (s *Store) ListForSubjectOn(ctx context.Context, subjectID int64, date time.Time) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, queryErr := pool.Query(ctx, listForSubjectOnSQL, subjectID, dayStart, dayEnd)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots for subject: %w", queryErr)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// HistoricalLow returns the lowest observed price for the subject since
// the given time. The bool reports whether any snapshot existed.
func (s *Store) HistoricalLow(ctx context.Context, subjectID int64, since time.Time) (decimal.Decimal, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, false, err
	}

	var low *string
	if scanErr := pool.QueryRow(ctx, historicalLowSQL, subjectID, since).Scan(&low); scanErr != nil {
		return decimal.Zero, false, fmt.Errorf("historical low: %w", scanErr)
	}
	if low == nil {
		return decimal.Zero, false, nil
	}
	d, convErr := decimal.NewFromString(*low)
	if convErr != nil {
		return decimal.Zero, false, fmt.Errorf("parse historical low: %w", convErr)
	}
	return d, true, nil
}

// LatestPlatformPrices returns the freshest price per platform.
func (s *Store) LatestPlatformPrices(ctx context.Context, subjectID int64) (map[string]decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestPlatformPricesSQL, subjectID)
	if queryErr != nil {
		return nil, fmt.Errorf("latest platform prices: %w", queryErr)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			platform string
			raw      string
		)
		if scanErr := rows.Scan(&platform, &raw); scanErr != nil {
			return nil, fmt.Errorf("scan platform price: %w", scanErr)
		}
		d, convErr := decimal.NewFromString(raw)
		if convErr != nil {
			return nil, fmt.Errorf("parse platform price: %w", convErr)
		}
		prices[platform] = d
	}
	return prices, rows.Err()
}

// CountSince counts snapshots for a subject recorded at or after since.
func (s *Store) CountSince(ctx context.Context, subjectID int64, since time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var n int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSinceSQL, subjectID, since).Scan(&n); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return n, nil
}

func scanSnapshots(rows pgx.Rows) ([]PriceSnapshot, error) {
	snaps := make([]PriceSnapshot, 0)
	for rows.Next() {
		var (
			snap     PriceSnapshot
			priceMin string
			priceMax string
			priceAvg string
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.SubjectID,
			&snap.Platform,
			&priceMin,
			&priceMax,
			&priceAvg,
			&snap.ListingsCount,
			&snap.AvailableQuantity,
			&snap.RecordedAt,
			&snap.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var convErr error
		if snap.PriceMin, convErr = decimal.NewFromString(priceMin); convErr != nil {
			return nil, fmt.Errorf("parse price_min: %w", convErr)
		}
		if snap.PriceMax, convErr = decimal.NewFromString(priceMax); convErr != nil {
			return nil, fmt.Errorf("parse price_max: %w", convErr)
		}
		if snap.PriceAvg, convErr = decimal.NewFromString(priceAvg); convErr != nil {
			return nil, fmt.Errorf("parse price_avg: %w", convErr)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

const (
	insertTriggerSQL = `INSERT INTO trigger_records (
        id, rule_id, subject_id, snapshot_id, platform, price,
        urgency, acted_on, triggered_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (rule_id, snapshot_id) DO NOTHING;`

	countTriggersBetweenSQL = `SELECT COUNT(*)
    FROM trigger_records
    WHERE rule_id = $1 AND triggered_at >= $2 AND triggered_at < $3;`

	selectTriggerColumns = `id, rule_id, subject_id, snapshot_id, platform,
        price, urgency, acted_on, triggered_at`

	recentTriggersForRuleSQL = `SELECT ` + selectTriggerColumns + `
    FROM trigger_records
    WHERE rule_id = $1
    ORDER BY triggered_at DESC
    LIMIT $2;`

	listRecentTriggersSQL = `SELECT ` + selectTriggerColumns + `
    FROM trigger_records
    ORDER BY triggered_at DESC
    LIMIT $1;`
)

// InsertTrigger stores trigger evidence. The (rule_id, snapshot_id)
// uniqueness makes re-delivered snapshots idempotent.
func (s *Store) InsertTrigger(ctx context.Context, rec TriggerRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertTriggerSQL,
		rec.ID,
		rec.RuleID,
		rec.SubjectID,
		rec.SnapshotID,
		rec.Platform,
		rec.Price.String(),
		string(rec.Urgency),
		rec.ActedOn,
		rec.TriggeredAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert trigger record: %w", execErr)
	}
	return nil
}

// CountForRuleBetween counts trigger records in [from, to).
func (s *Store) CountForRuleBetween(ctx context.Context, ruleID uuid.UUID, from, to time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var n int
	if scanErr := pool.QueryRow(ctx, countTriggersBetweenSQL, ruleID, from, to).Scan(&n); scanErr != nil {
		return 0, fmt.Errorf("count triggers: %w", scanErr)
	}
	return n, nil
}

// RecentForRule returns the newest trigger records for a rule.
func (s *Store) RecentForRule(ctx context.Context, ruleID uuid.UUID, limit int) ([]TriggerRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, recentTriggersForRuleSQL, ruleID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent triggers for rule: %w", queryErr)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// ListRecentTriggers returns the newest trigger records across rules.
func (s *Store) ListRecentTriggers(ctx context.Context, limit int) ([]TriggerRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent triggers: %w", queryErr)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func scanTriggers(rows pgx.Rows) ([]TriggerRecord, error) {
	recs := make([]TriggerRecord, 0)
	for rows.Next() {
		var (
			rec     TriggerRecord
			price   string
			urgency string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RuleID,
			&rec.SubjectID,
			&rec.SnapshotID,
			&rec.Platform,
			&price,
			&urgency,
			&rec.ActedOn,
			&rec.TriggeredAt,
		); err != nil {
			return nil, fmt.Errorf("scan trigger record: %w", err)
		}
		rec.Urgency = Urgency(urgency)
		d, convErr := decimal.NewFromString(price)
		if convErr != nil {
			return nil, fmt.Errorf("parse trigger price: %w", convErr)
		}
		rec.Price = d
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
