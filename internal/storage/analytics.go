package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	upsertVolatilitySQL = `INSERT INTO volatility_records (
        subject_id, analysis_date, avg_price, min_price, max_price,
        volatility_score, price_changes_count, max_single_change,
        trend, hourly_buckets, data_points, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (subject_id, analysis_date) DO UPDATE
    SET avg_price           = EXCLUDED.avg_price,
        min_price           = EXCLUDED.min_price,
        max_price           = EXCLUDED.max_price,
        volatility_score    = EXCLUDED.volatility_score,
        price_changes_count = EXCLUDED.price_changes_count,
        max_single_change   = EXCLUDED.max_single_change,
        trend               = EXCLUDED.trend,
        hourly_buckets      = EXCLUDED.hourly_buckets,
        data_points         = EXCLUDED.data_points;`

	listVolatilityBetweenSQL = `SELECT subject_id, analysis_date, avg_price,
        min_price, max_price, volatility_score, price_changes_count,
        max_single_change, trend, hourly_buckets, data_points, created_at
    FROM volatility_records
    WHERE subject_id = $1 AND analysis_date >= $2 AND analysis_date <= $3
    ORDER BY analysis_date;`

	activeSubjectIDsSQL = `SELECT DISTINCT subject_id
    FROM alert_rules
    WHERE active
    UNION
    SELECT DISTINCT subject_id FROM event_monitors WHERE active;`
)

// UpsertVolatility writes a daily digest, replacing any earlier run for
// the same (subject, date).
func (s *Store) UpsertVolatility(ctx context.Context, rec VolatilityRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	buckets, marshalErr := json.Marshal(rec.HourlyBuckets)
	if marshalErr != nil {
		return fmt.Errorf("marshal hourly buckets: %w", marshalErr)
	}

	day := rec.AnalysisDate.UTC().Truncate(24 * time.Hour)
	_, execErr := pool.Exec(ctx, upsertVolatilitySQL,
		rec.SubjectID,
		day,
		rec.AvgPrice.String(),
		rec.MinPrice.String(),
		rec.MaxPrice.String(),
		rec.VolatilityScore,
		rec.PriceChangesCount,
		rec.MaxSingleChange,
		string(rec.Trend),
		buckets,
		rec.DataPoints,
		rec.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert volatility record: %w", execErr)
	}
	return nil
}

// ListVolatilityBetween returns digests for a subject across [from, to].
func (s *Store) ListVolatilityBetween(ctx context.Context, subjectID int64, from, to time.Time) ([]VolatilityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listVolatilityBetweenSQL, subjectID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list volatility records: %w", queryErr)
	}
	defer rows.Close()

	recs := make([]VolatilityRecord, 0)
	for rows.Next() {
		var (
			rec        VolatilityRecord
			avg        string
			min        string
			max        string
			trend      string
			rawBuckets []byte
		)
		if scanErr := rows.Scan(
			&rec.SubjectID,
			&rec.AnalysisDate,
			&avg,
			&min,
			&max,
			&rec.VolatilityScore,
			&rec.PriceChangesCount,
			&rec.MaxSingleChange,
			&trend,
			&rawBuckets,
			&rec.DataPoints,
			&rec.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan volatility record: %w", scanErr)
		}
		rec.Trend = TrendDirection(trend)
		var convErr error
		if rec.AvgPrice, convErr = decimal.NewFromString(avg); convErr != nil {
			return nil, fmt.Errorf("parse avg price: %w", convErr)
		}
		if rec.MinPrice, convErr = decimal.NewFromString(min); convErr != nil {
			return nil, fmt.Errorf("parse min price: %w", convErr)
		}
		if rec.MaxPrice, convErr = decimal.NewFromString(max); convErr != nil {
			return nil, fmt.Errorf("parse max price: %w", convErr)
		}
		if len(rawBuckets) > 0 {
			if unmarshalErr := json.Unmarshal(rawBuckets, &rec.HourlyBuckets); unmarshalErr != nil {
				return nil, fmt.Errorf("unmarshal hourly buckets: %w", unmarshalErr)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ActiveSubjectIDs lists every subject with an active rule or monitor.
func (s *Store) ActiveSubjectIDs(ctx context.Context) ([]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, activeSubjectIDsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active subjects: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan subject id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const getSubjectSQL = `SELECT id, title, venue, league, event_date
    FROM subjects WHERE id = $1;`

// GetSubject loads the catalog metadata condition matching needs.
func (s *Store) GetSubject(ctx context.Context, id int64) (Subject, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subject{}, err
	}

	var subject Subject
	if scanErr := pool.QueryRow(ctx, getSubjectSQL, id).Scan(
		&subject.ID,
		&subject.Title,
		&subject.Venue,
		&subject.League,
		&subject.EventDate,
	); scanErr != nil {
		return Subject{}, fmt.Errorf("get subject: %w", scanErr)
	}
	return subject, nil
}

const (
	listActiveMonitorsSQL = `SELECT m.id, m.user_id, m.subject_id, m.active,
        m.priority, m.check_interval_seconds, m.platforms, m.last_check_at,
        m.success_count, m.failure_count, m.total_checks, m.last_error,
        s.event_date, m.created_at, m.updated_at
    FROM event_monitors m
    LEFT JOIN subjects s ON s.id = m.subject_id
    WHERE m.active
    ORDER BY m.priority DESC, m.created_at;`

	updateMonitorCadenceSQL = `UPDATE event_monitors
    SET check_interval_seconds = $2, priority = $3, updated_at = now()
    WHERE id = $1;`

	recordCheckSuccessSQL = `UPDATE event_monitors
    SET success_count = success_count + 1, total_checks = total_checks + 1,
        last_check_at = $2, last_error = NULL, updated_at = $2
    WHERE id = $1;`

	recordCheckFailureSQL = `UPDATE event_monitors
    SET failure_count = failure_count + 1, total_checks = total_checks + 1,
        last_check_at = $2, last_error = $3, updated_at = $2
    WHERE id = $1;`

	deactivateMonitorSQL = `UPDATE event_monitors
    SET active = FALSE, updated_at = now()
    WHERE id = $1;`
)

// ListActiveMonitors lists active monitors with their subject's event
// date joined in.
func (s *Store) ListActiveMonitors(ctx context.Context) ([]EventMonitor, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveMonitorsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active monitors: %w", queryErr)
	}
	defer rows.Close()

	monitors := make([]EventMonitor, 0)
	for rows.Next() {
		var (
			m               EventMonitor
			intervalSeconds int64
		)
		if scanErr := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.SubjectID,
			&m.Active,
			&m.Priority,
			&intervalSeconds,
			&m.Platforms,
			&m.LastCheckAt,
			&m.SuccessCount,
			&m.FailureCount,
			&m.TotalChecks,
			&m.LastError,
			&m.EventDate,
			&m.CreatedAt,
			&m.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan monitor: %w", scanErr)
		}
		m.CheckInterval = time.Duration(intervalSeconds) * time.Second
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// UpdateMonitorCadence writes the optimizer's interval and priority.
func (s *Store) UpdateMonitorCadence(ctx context.Context, id uuid.UUID, interval time.Duration, priority int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateMonitorCadenceSQL, id, int64(interval/time.Second), priority); execErr != nil {
		return fmt.Errorf("update monitor cadence: %w", execErr)
	}
	return nil
}

// RecordCheck accumulates success/failure counters for a monitor.
func (s *Store) RecordCheck(ctx context.Context, id uuid.UUID, success bool, at time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if success {
		if _, execErr := pool.Exec(ctx, recordCheckSuccessSQL, id, at); execErr != nil {
			return fmt.Errorf("record check: %w", execErr)
		}
		return nil
	}
	if _, execErr := pool.Exec(ctx, recordCheckFailureSQL, id, at, errMsg); execErr != nil {
		return fmt.Errorf("record check: %w", execErr)
	}
	return nil
}

// DeactivateMonitor switches a monitor off.
func (s *Store) DeactivateMonitor(ctx context.Context, id uuid.UUID) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateMonitorSQL, id); execErr != nil {
		return fmt.Errorf("deactivate monitor: %w", execErr)
	}
	return nil
}

var (
	_ RuleStore       = (*Store)(nil)
	_ SnapshotStore   = (*Store)(nil)
	_ TriggerStore    = (*Store)(nil)
	_ EscalationStore = (*Store)(nil)
	_ VolatilityStore = (*Store)(nil)
	_ SubjectStore    = (*Store)(nil)
	_ MonitorStore    = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
