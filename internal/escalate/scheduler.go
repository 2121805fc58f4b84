package escalate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ticketwatch/internal/clock"
	"ticketwatch/internal/config"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/storage"
)

// Scheduler polls for due escalation tasks and drives them through the
// retry state machine until completed, failed, or cancelled.
type Scheduler struct {
	store   storage.EscalationStore
	disp    dispatch.Dispatcher
	clk     clock.Clock
	cfg     config.EscalationConfig
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewScheduler wires the escalation retry loop.
func NewScheduler(store storage.EscalationStore, disp dispatch.Dispatcher, clk clock.Clock, cfg config.EscalationConfig, log zerolog.Logger) *Scheduler {
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
	}
	return &Scheduler{
		store:   store,
		disp:    disp,
		clk:     clk,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("component", "escalation").Logger(),
	}
}

// Schedule creates an escalation task after an initial dispatch attempt
// has failed. The task starts with zero attempts; the initial failure
// does not count against max_attempts.
func (s *Scheduler) Schedule(ctx context.Context, trigger storage.TriggerRecord, channel, recipient string, payload []byte, priority int) (storage.EscalationTask, error) {
	now := s.clk.Now()

	maxAttempts := s.cfg.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	task := storage.EscalationTask{
		ID:          uuid.New(),
		RuleID:      trigger.RuleID,
		TriggerID:   trigger.ID,
		Priority:    priority,
		Strategy:    s.strategy(),
		BaseDelay:   s.cfg.BaseDelay,
		Channel:     channel,
		Recipient:   recipient,
		Payload:     payload,
		ScheduledAt: now,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Status:      storage.TaskScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	next := now.Add(Backoff(task.Strategy, task.BaseDelay, 1, s.cfg.MaxDelay))
	task.NextRetryAt = &next

	if err := s.store.CreateTask(ctx, task); err != nil {
		return storage.EscalationTask{}, err
	}

	s.log.Info().
		Str("task_id", task.ID.String()).
		Str("channel", channel).
		Time("next_retry_at", next).
		Msg("escalation scheduled")
	return task, nil
}

// strategy resolves the configured backoff strategy, defaulting to
// exponential on an empty or unrecognised value.
func (s *Scheduler) strategy() storage.BackoffStrategy {
	switch storage.BackoffStrategy(s.cfg.Strategy) {
	case storage.BackoffLinear:
		return storage.BackoffLinear
	case storage.BackoffFixed:
		return storage.BackoffFixed
	default:
		return storage.BackoffExponential
	}
}

// Run polls for due tasks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("poll_interval", interval).Msg("escalation scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("escalation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("escalation sweep failed")
			}
		}
	}
}

// Sweep claims one batch of due tasks and processes them with a bounded
// worker pool.
func (s *Scheduler) Sweep(ctx context.Context) error {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	tasks, err := s.store.ClaimDue(ctx, s.clk.Now(), workers*8)
	if err != nil {
		return fmt.Errorf("claim due tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	queue := make(chan storage.EscalationTask)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				s.process(ctx, task)
			}
		}()
	}
	for _, task := range tasks {
		queue <- task
	}
	close(queue)
	wg.Wait()
	return nil
}

// process runs one delivery attempt for a claimed task. The claim
// already incremented attempts.
func (s *Scheduler) process(ctx context.Context, task storage.EscalationTask) {
	log := s.log.With().Str("task_id", task.ID.String()).Int("attempt", task.Attempts).Logger()

	// Re-check as close to dispatch as possible; the task may have
	// been cancelled between claim and send.
	status, err := s.store.TaskStatus(ctx, task.ID)
	if err != nil {
		log.Error().Err(err).Msg("status re-check failed")
		return
	}
	if status.Terminal() {
		log.Debug().Str("status", string(status)).Msg("task reached terminal state before dispatch")
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	timeout := s.cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	result, dispatchErr := s.disp.Dispatch(dispatchCtx, task.Channel, task.Recipient, task.Payload)
	cancel()

	now := s.clk.Now()
	if dispatchErr == nil && result.Success {
		if err := s.store.MarkCompleted(ctx, task.ID, now); err != nil {
			log.Error().Err(err).Msg("mark completed failed")
		}
		log.Info().Msg("escalated delivery succeeded")
		return
	}

	if task.Attempts < task.MaxAttempts {
		next := now.Add(Backoff(task.Strategy, task.BaseDelay, task.Attempts, s.cfg.MaxDelay))
		if err := s.store.Reschedule(ctx, task.ID, next); err != nil {
			log.Error().Err(err).Msg("reschedule failed")
			return
		}
		log.Warn().
			Err(dispatchErr).
			Int("response_code", result.ResponseCode).
			Time("next_retry_at", next).
			Msg("delivery attempt failed, retrying")
		return
	}

	if err := s.store.MarkFailed(ctx, task.ID, now); err != nil {
		log.Error().Err(err).Msg("mark failed failed")
		return
	}
	log.Error().
		Err(dispatchErr).
		Int("response_code", result.ResponseCode).
		Int("max_attempts", task.MaxAttempts).
		Msg("escalation exhausted all attempts")
}
