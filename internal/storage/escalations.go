package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	insertTaskSQL = `INSERT INTO escalation_tasks (
        id, rule_id, trigger_id, priority, channel, recipient, payload,
        strategy, base_delay_seconds, max_attempts,
        attempts, status, scheduled_at, next_retry_at, created_at, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`

	selectTaskColumns = `id, rule_id, trigger_id, priority, channel, recipient,
        payload, strategy, base_delay_seconds, max_attempts,
        attempts, status, scheduled_at, last_attempted_at, next_retry_at,
        cancellation_reason, created_at, updated_at`

	claimDueSQL = `SELECT ` + selectTaskColumns + `
    FROM escalation_tasks
    WHERE status IN ('scheduled','retrying') AND next_retry_at <= $1
    ORDER BY priority DESC, next_retry_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED;`

	bumpAttemptSQL = `UPDATE escalation_tasks
    SET attempts = attempts + 1, last_attempted_at = $2, updated_at = $2
    WHERE id = $1;`

	taskStatusSQL = `SELECT status FROM escalation_tasks WHERE id = $1;`

	markCompletedSQL = `UPDATE escalation_tasks
    SET status = 'completed', updated_at = $2
    WHERE id = $1 AND status IN ('scheduled','retrying');`

	markFailedSQL = `UPDATE escalation_tasks
    SET status = 'failed', updated_at = $2
    WHERE id = $1 AND status IN ('scheduled','retrying');`

	rescheduleSQL = `UPDATE escalation_tasks
    SET status = 'retrying', next_retry_at = $2, updated_at = now()
    WHERE id = $1 AND status IN ('scheduled','retrying');`

	cancelTaskSQL = `UPDATE escalation_tasks
    SET status = 'cancelled', cancellation_reason = $2, updated_at = now()
    WHERE id = $1 AND status IN ('scheduled','retrying');`

	listRecentTasksSQL = `SELECT ` + selectTaskColumns + `
    FROM escalation_tasks
    ORDER BY created_at DESC
    LIMIT $1;`
)

// CreateTask schedules a new escalation task.
func (s *Store) CreateTask(ctx context.Context, task EscalationTask) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertTaskSQL,
		task.ID,
		task.RuleID,
		task.TriggerID,
		task.Priority,
		task.Channel,
		task.Recipient,
		task.Payload,
		string(task.Strategy),
		int64(task.BaseDelay/time.Second),
		task.MaxAttempts,
		task.Attempts,
		string(task.Status),
		task.ScheduledAt,
		task.NextRetryAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("create escalation task: %w", execErr)
	}
	return nil
}

// ClaimDue selects due tasks with row locks so concurrent workers never
// claim the same task, and bumps attempts inside the same transaction.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]EscalationTask, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	tx, txErr := pool.Begin(ctx)
	if txErr != nil {
		return nil, fmt.Errorf("begin claim tx: %w", txErr)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, queryErr := tx.Query(ctx, claimDueSQL, now, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("claim due tasks: %w", queryErr)
	}
	tasks, scanErr := scanTasks(rows)
	rows.Close()
	if scanErr != nil {
		return nil, scanErr
	}

	for i := range tasks {
		if _, execErr := tx.Exec(ctx, bumpAttemptSQL, tasks[i].ID, now); execErr != nil {
			return nil, fmt.Errorf("bump attempt: %w", execErr)
		}
		tasks[i].Attempts++
		at := now
		tasks[i].LastAttemptedAt = &at
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("commit claim tx: %w", commitErr)
	}
	return tasks, nil
}

// TaskStatus reads the current status of a task. Used for the
// cancellation re-check just before a dispatch attempt.
func (s *Store) TaskStatus(ctx context.Context, id uuid.UUID) (TaskStatus, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	var status string
	if scanErr := pool.QueryRow(ctx, taskStatusSQL, id).Scan(&status); scanErr != nil {
		return "", fmt.Errorf("task status: %w", scanErr)
	}
	return TaskStatus(status), nil
}

// MarkCompleted transitions a non-terminal task to completed.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(ctx, markCompletedSQL, id, at)
}

// MarkFailed transitions a non-terminal task to failed.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(ctx, markFailedSQL, id, at)
}

func (s *Store) transition(ctx context.Context, sql string, id uuid.UUID, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, sql, id, at); execErr != nil {
		return fmt.Errorf("transition task: %w", execErr)
	}
	return nil
}

// Reschedule moves a non-terminal task to retrying with a new due time.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, rescheduleSQL, id, nextRetryAt); execErr != nil {
		return fmt.Errorf("reschedule task: %w", execErr)
	}
	return nil
}

// CancelTask cancels a task if it has not reached a terminal state.
// Cancelling an already terminal task is a no-op.
func (s *Store) CancelTask(ctx context.Context, id uuid.UUID, reason string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, cancelTaskSQL, id, reason); execErr != nil {
		return fmt.Errorf("cancel task: %w", execErr)
	}
	return nil
}

// ListRecentTasks returns the newest escalation tasks.
func (s *Store) ListRecentTasks(ctx context.Context, limit int) ([]EscalationTask, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentTasksSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent tasks: %w", queryErr)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]EscalationTask, error) {
	tasks := make([]EscalationTask, 0)
	for rows.Next() {
		var (
			task         EscalationTask
			strategy     string
			status       string
			delaySeconds int64
		)
		if err := rows.Scan(
			&task.ID,
			&task.RuleID,
			&task.TriggerID,
			&task.Priority,
			&task.Channel,
			&task.Recipient,
			&task.Payload,
			&strategy,
			&delaySeconds,
			&task.MaxAttempts,
			&task.Attempts,
			&status,
			&task.ScheduledAt,
			&task.LastAttemptedAt,
			&task.NextRetryAt,
			&task.CancellationReason,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan escalation task: %w", err)
		}
		task.Strategy = BackoffStrategy(strategy)
		task.Status = TaskStatus(status)
		task.BaseDelay = time.Duration(delaySeconds) * time.Second
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
