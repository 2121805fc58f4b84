package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrTriggerLost indicates another worker won the conditional
	// trigger update for the same rule.
	ErrTriggerLost = errors.New("storage: trigger update lost race")
)

// RuleStore defines operations for alert rule persistence.
type RuleStore interface {
	SaveRule(ctx context.Context, rule AlertRule) error
	GetRule(ctx context.Context, id uuid.UUID) (AlertRule, error)
	ListActiveRulesForSubject(ctx context.Context, subjectID int64) ([]AlertRule, error)
	RecordTrigger(ctx context.Context, ruleID uuid.UUID, now time.Time, cooldown time.Duration) error
	UpdateRuleCadence(ctx context.Context, ruleID uuid.UUID, minInterval time.Duration) error
	DeactivateRule(ctx context.Context, ruleID uuid.UUID) error
}

// SnapshotStore defines operations over the price snapshot series.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap PriceSnapshot) (int64, error)
	ListUnprocessed(ctx context.Context, limit int) ([]PriceSnapshot, error)
	MarkProcessed(ctx context.Context, ids []int64, at time.Time) error
	ListForSubjectOn(ctx context.Context, subjectID int64, date time.Time) ([]PriceSnapshot, error)
	HistoricalLow(ctx context.Context, subjectID int64, since time.Time) (decimal.Decimal, bool, error)
	LatestPlatformPrices(ctx context.Context, subjectID int64) (map[string]decimal.Decimal, error)
	CountSince(ctx context.Context, subjectID int64, since time.Time) (int64, error)
}

// TriggerStore persists trigger evidence records.
type TriggerStore interface {
	InsertTrigger(ctx context.Context, rec TriggerRecord) error
	CountForRuleBetween(ctx context.Context, ruleID uuid.UUID, from, to time.Time) (int, error)
	RecentForRule(ctx context.Context, ruleID uuid.UUID, limit int) ([]TriggerRecord, error)
	ListRecentTriggers(ctx context.Context, limit int) ([]TriggerRecord, error)
}

// EscalationStore drives the retry state machine's persistence.
type EscalationStore interface {
	CreateTask(ctx context.Context, task EscalationTask) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]EscalationTask, error)
	TaskStatus(ctx context.Context, id uuid.UUID) (TaskStatus, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error
	CancelTask(ctx context.Context, id uuid.UUID, reason string) error
	ListRecentTasks(ctx context.Context, limit int) ([]EscalationTask, error)
}

// VolatilityStore persists daily volatility digests.
type VolatilityStore interface {
	UpsertVolatility(ctx context.Context, rec VolatilityRecord) error
	ListVolatilityBetween(ctx context.Context, subjectID int64, from, to time.Time) ([]VolatilityRecord, error)
	ActiveSubjectIDs(ctx context.Context) ([]int64, error)
}

// SubjectStore reads event catalog metadata.
type SubjectStore interface {
	GetSubject(ctx context.Context, id int64) (Subject, error)
}

// MonitorStore exposes the monitoring configurations the optimizer tunes.
type MonitorStore interface {
	ListActiveMonitors(ctx context.Context) ([]EventMonitor, error)
	UpdateMonitorCadence(ctx context.Context, id uuid.UUID, interval time.Duration, priority int) error
	RecordCheck(ctx context.Context, id uuid.UUID, success bool, at time.Time, errMsg string) error
	DeactivateMonitor(ctx context.Context, id uuid.UUID) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates pgx-backed access to every core table. Condition
// parameters pass through the cipher on the way in and out.
type Store struct {
	pool   *pgxpool.Pool
	cipher *ParamCipher
}

// NewStore wires a pgx pool and parameter cipher into a Store.
func NewStore(pool *pgxpool.Pool, cipher *ParamCipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TryAdvisoryLock attempts to acquire a postgres advisory lock and
// returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

const (
	upsertRuleSQL = `INSERT INTO alert_rules (
        id, user_id, subject_id, alert_type,
        target_price, target_percentage, baseline_price,
        platforms, channels,
        min_interval_seconds, max_triggers_per_day,
        active, expires_at, trigger_count, last_triggered_at,
        condition_params, created_at, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    )
    ON CONFLICT (id) DO UPDATE
    SET alert_type           = EXCLUDED.alert_type,
        target_price         = EXCLUDED.target_price,
        target_percentage    = EXCLUDED.target_percentage,
        baseline_price       = EXCLUDED.baseline_price,
        platforms            = EXCLUDED.platforms,
        channels             = EXCLUDED.channels,
        min_interval_seconds = EXCLUDED.min_interval_seconds,
        max_triggers_per_day = EXCLUDED.max_triggers_per_day,
        active               = EXCLUDED.active,
        expires_at           = EXCLUDED.expires_at,
        condition_params     = EXCLUDED.condition_params,
        updated_at           = EXCLUDED.updated_at;`

	selectRuleColumns = `id, user_id, subject_id, alert_type,
        target_price, target_percentage, baseline_price,
        platforms, channels,
        min_interval_seconds, max_triggers_per_day,
        active, expires_at, trigger_count, last_triggered_at,
        condition_params, created_at, updated_at`

	getRuleSQL = `SELECT ` + selectRuleColumns + `
    FROM alert_rules WHERE id = $1;`

	listActiveRulesSQL = `SELECT ` + selectRuleColumns + `
    FROM alert_rules
    WHERE subject_id = $1
      AND active
      AND (expires_at IS NULL OR expires_at > $2)
    ORDER BY created_at;`

	recordTriggerSQL = `UPDATE alert_rules
    SET trigger_count     = trigger_count + 1,
        last_triggered_at = $2,
        updated_at        = $2
    WHERE id = $1
      AND active
      AND (last_triggered_at IS NULL OR last_triggered_at <= $3);`

	updateRuleCadenceSQL = `UPDATE alert_rules
    SET min_interval_seconds = $2, updated_at = now()
    WHERE id = $1;`

	deactivateRuleSQL = `UPDATE alert_rules
    SET active = FALSE, updated_at = now()
    WHERE id = $1;`
)

// SaveRule upserts an alert rule, sealing its condition parameters.
func (s *Store) SaveRule(ctx context.Context, rule AlertRule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	params, err := s.sealParams(rule.Params)
	if err != nil {
		return err
	}

	var baseline any
	if rule.BaselinePrice != nil {
		baseline = rule.BaselinePrice.String()
	}
	var expires any
	if rule.ExpiresAt != nil {
		expires = *rule.ExpiresAt
	}
	var lastTriggered any
	if rule.LastTriggeredAt != nil {
		lastTriggered = *rule.LastTriggeredAt
	}

	_, execErr := pool.Exec(ctx, upsertRuleSQL,
		rule.ID,
		rule.UserID,
		rule.SubjectID,
		string(rule.Type),
		rule.TargetPrice.String(),
		rule.TargetPercentage.String(),
		baseline,
		rule.Platforms,
		rule.Channels,
		int64(rule.MinInterval/time.Second),
		rule.MaxTriggersPerDay,
		rule.Active,
		expires,
		rule.TriggerCount,
		lastTriggered,
		params,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert rule: %w", execErr)
	}
	return nil
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}
	return s.scanRule(pool.QueryRow(ctx, getRuleSQL, id))
}

// ListActiveRulesForSubject lists active, unexpired rules for a subject.
func (s *Store) ListActiveRulesForSubject(ctx context.Context, subjectID int64) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL, subjectID, time.Now().UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := s.scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// RecordTrigger performs the atomic conditional read-modify-write of
// trigger_count and last_triggered_at. The cooldown guard in the WHERE
// clause makes concurrent workers racing on the same rule lose cleanly
// instead of double-firing.
func (s *Store) RecordTrigger(ctx context.Context, ruleID uuid.UUID, now time.Time, cooldown time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	guard := now.Add(-cooldown)
	tag, execErr := pool.Exec(ctx, recordTriggerSQL, ruleID, now, guard)
	if execErr != nil {
		return fmt.Errorf("record trigger: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrTriggerLost
	}
	return nil
}

// UpdateRuleCadence writes an optimizer-adjusted minimum interval.
func (s *Store) UpdateRuleCadence(ctx context.Context, ruleID uuid.UUID, minInterval time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if minInterval < 0 {
		minInterval = 0
	}
	if _, execErr := pool.Exec(ctx, updateRuleCadenceSQL, ruleID, int64(minInterval/time.Second)); execErr != nil {
		return fmt.Errorf("update rule cadence: %w", execErr)
	}
	return nil
}

// DeactivateRule switches a rule off.
func (s *Store) DeactivateRule(ctx context.Context, ruleID uuid.UUID) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateRuleSQL, ruleID); execErr != nil {
		return fmt.Errorf("deactivate rule: %w", execErr)
	}
	return nil
}

func (s *Store) sealParams(params RuleParams) (string, error) {
	if s.cipher == nil {
		return "", errors.New("storage: param cipher not configured")
	}
	sealed, err := s.cipher.EncryptParams(params)
	if err != nil {
		return "", fmt.Errorf("seal params: %w", err)
	}
	return sealed, nil
}

func (s *Store) scanRule(row pgx.Row) (AlertRule, error) {
	var (
		rule            AlertRule
		alertType       string
		targetPrice     string
		targetPct       string
		baseline        *string
		intervalSeconds int64
		sealedParams    string
	)

	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.SubjectID,
		&alertType,
		&targetPrice,
		&targetPct,
		&baseline,
		&rule.Platforms,
		&rule.Channels,
		&intervalSeconds,
		&rule.MaxTriggersPerDay,
		&rule.Active,
		&rule.ExpiresAt,
		&rule.TriggerCount,
		&rule.LastTriggeredAt,
		&sealedParams,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AlertRule{}, err
		}
		return AlertRule{}, fmt.Errorf("scan rule: %w", err)
	}

	rule.Type = AlertType(alertType)
	rule.MinInterval = time.Duration(intervalSeconds) * time.Second

	var err error
	if rule.TargetPrice, err = decimal.NewFromString(targetPrice); err != nil {
		return AlertRule{}, fmt.Errorf("parse target price: %w", err)
	}
	if rule.TargetPercentage, err = decimal.NewFromString(targetPct); err != nil {
		return AlertRule{}, fmt.Errorf("parse target percentage: %w", err)
	}
	if baseline != nil {
		b, convErr := decimal.NewFromString(*baseline)
		if convErr != nil {
			return AlertRule{}, fmt.Errorf("parse baseline price: %w", convErr)
		}
		rule.BaselinePrice = &b
	}

	if s.cipher == nil {
		return AlertRule{}, errors.New("storage: param cipher not configured")
	}
	if rule.Params, err = s.cipher.DecryptParams(sealedParams); err != nil {
		return AlertRule{}, err
	}

	return rule, nil
}
