package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/alert"
	"ticketwatch/internal/clock"
	"ticketwatch/internal/config"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/escalate"
	"ticketwatch/internal/storage"
)

// Service sweeps unprocessed price snapshots through rule evaluation,
// trigger gating, and notification dispatch.
type Service struct {
	rules     storage.RuleStore
	snapshots storage.SnapshotStore
	subjects  storage.SubjectStore
	evaluator *alert.Evaluator
	gate      *alert.Gate
	disp      dispatch.Dispatcher
	esc       *escalate.Scheduler
	locker    storage.AdvisoryLocker
	clk       clock.Clock
	cfg       config.EngineConfig

	bestDealWindowDays int
	log                zerolog.Logger
}

// NewService wires the evaluation engine.
func NewService(
	rules storage.RuleStore,
	snapshots storage.SnapshotStore,
	subjects storage.SubjectStore,
	evaluator *alert.Evaluator,
	gate *alert.Gate,
	disp dispatch.Dispatcher,
	esc *escalate.Scheduler,
	locker storage.AdvisoryLocker,
	clk clock.Clock,
	cfg config.EngineConfig,
	bestDealWindowDays int,
	log zerolog.Logger,
) *Service {
	if bestDealWindowDays <= 0 {
		bestDealWindowDays = 30
	}
	return &Service{
		rules:              rules,
		snapshots:          snapshots,
		subjects:           subjects,
		evaluator:          evaluator,
		gate:               gate,
		disp:               disp,
		esc:                esc,
		locker:             locker,
		clk:                clk,
		cfg:                cfg,
		bestDealWindowDays: bestDealWindowDays,
		log:                log.With().Str("component", "engine").Logger(),
	}
}

// subjectState caches per-subject data shared by every snapshot of that
// subject within one sweep.
type subjectState struct {
	rules   []storage.AlertRule
	evalCtx alert.Context
}

// Sweep processes one batch of unprocessed snapshots. The advisory lock
// keeps concurrent deployments from double-processing the same batch.
func (s *Service) Sweep(ctx context.Context, _ time.Time) error {
	if s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.cfg.AdvisoryLockKey)
		if err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		if !acquired {
			s.log.Debug().Msg("another instance holds the sweep lock")
			return nil
		}
		defer unlock()
	}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	snaps, err := s.snapshots.ListUnprocessed(ctx, batch)
	if err != nil {
		return fmt.Errorf("list unprocessed snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil
	}

	states := s.loadSubjectStates(ctx, snaps)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := make(chan storage.PriceSnapshot)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range queue {
				state, ok := states[snap.SubjectID]
				if !ok {
					continue
				}
				s.evaluateSnapshot(ctx, snap, state)
			}
		}()
	}
	for _, snap := range snaps {
		queue <- snap
	}
	close(queue)
	wg.Wait()

	// Snapshots whose subject state failed to load stay unprocessed so
	// the next sweep retries them.
	ids := make([]int64, 0, len(snaps))
	for _, snap := range snaps {
		if _, ok := states[snap.SubjectID]; ok {
			ids = append(ids, snap.ID)
		}
	}
	if len(ids) > 0 {
		if err := s.snapshots.MarkProcessed(ctx, ids, s.clk.Now()); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
	}

	s.log.Info().Int("snapshots", len(ids)).Int("deferred", len(snaps)-len(ids)).Msg("sweep finished")
	return nil
}

// loadSubjectStates fetches rules, catalog metadata, and condition
// context once per distinct subject in the batch. A failed rule listing
// drops that subject from the sweep, not the whole batch; its snapshots
// are left unprocessed for a later pass.
func (s *Service) loadSubjectStates(ctx context.Context, snaps []storage.PriceSnapshot) map[int64]subjectState {
	states := make(map[int64]subjectState)
	now := s.clk.Now()

	for _, snap := range snaps {
		if _, seen := states[snap.SubjectID]; seen {
			continue
		}

		rules, err := s.rules.ListActiveRulesForSubject(ctx, snap.SubjectID)
		if err != nil {
			s.log.Error().Err(err).Int64("subject_id", snap.SubjectID).Msg("rule listing failed")
			continue
		}

		evalCtx := alert.Context{Now: now}
		if subject, err := s.subjects.GetSubject(ctx, snap.SubjectID); err == nil {
			evalCtx.SubjectTitle = subject.Title
			evalCtx.SubjectVenue = subject.Venue
			evalCtx.SubjectLeague = subject.League
			evalCtx.EventDate = subject.EventDate
		} else {
			s.log.Warn().Err(err).Int64("subject_id", snap.SubjectID).Msg("subject lookup failed")
		}

		if hasRuleType(rules, storage.AlertBestDeal) {
			since := now.AddDate(0, 0, -s.bestDealWindowDays)
			if low, found, err := s.snapshots.HistoricalLow(ctx, snap.SubjectID, since); err != nil {
				s.log.Warn().Err(err).Int64("subject_id", snap.SubjectID).Msg("historical low lookup failed")
			} else if found {
				evalCtx.HistoricalLow = &low
			}
		}
		if hasRuleType(rules, storage.AlertPriceComparison) {
			if prices, err := s.snapshots.LatestPlatformPrices(ctx, snap.SubjectID); err != nil {
				s.log.Warn().Err(err).Int64("subject_id", snap.SubjectID).Msg("platform price lookup failed")
			} else {
				evalCtx.PlatformPrices = prices
			}
		}

		states[snap.SubjectID] = subjectState{rules: rules, evalCtx: evalCtx}
	}
	return states
}

func (s *Service) evaluateSnapshot(ctx context.Context, snap storage.PriceSnapshot, state subjectState) {
	for _, rule := range state.rules {
		if len(rule.Platforms) > 0 && !containsString(rule.Platforms, snap.Platform) {
			continue
		}

		matched, err := s.evaluator.Evaluate(rule, snap, state.evalCtx)
		if err != nil {
			if errors.Is(err, alert.ErrUnknownAlertType) {
				s.log.Error().
					Str("rule_id", rule.ID.String()).
					Str("alert_type", string(rule.Type)).
					Msg("rule has unrecognised alert type")
				continue
			}
			s.log.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("evaluation failed")
			continue
		}
		if !matched {
			continue
		}

		ok, err := s.gate.CanTrigger(ctx, rule)
		if err != nil {
			s.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("trigger gate check failed")
			continue
		}
		if !ok {
			continue
		}

		rec, err := s.gate.Trigger(ctx, rule, snap)
		if err != nil {
			if errors.Is(err, storage.ErrTriggerLost) {
				s.log.Debug().Str("rule_id", rule.ID.String()).Msg("concurrent worker fired first")
				continue
			}
			s.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("trigger write failed")
			continue
		}

		s.notify(ctx, rule, rec, state.evalCtx.SubjectTitle)
	}
}

type alertPayload struct {
	RuleID      string          `json:"rule_id"`
	SubjectID   int64           `json:"subject_id"`
	Title       string          `json:"title,omitempty"`
	Platform    string          `json:"platform"`
	Price       decimal.Decimal `json:"price"`
	Urgency     string          `json:"urgency"`
	TriggeredAt time.Time       `json:"triggered_at"`
}

// notify dispatches the trigger on every configured channel, escalating
// each failed delivery.
func (s *Service) notify(ctx context.Context, rule storage.AlertRule, rec storage.TriggerRecord, title string) {
	payload, err := json.Marshal(alertPayload{
		RuleID:      rule.ID.String(),
		SubjectID:   rec.SubjectID,
		Title:       title,
		Platform:    rec.Platform,
		Price:       rec.Price,
		Urgency:     string(rec.Urgency),
		TriggeredAt: rec.TriggeredAt,
	})
	if err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("payload marshal failed")
		return
	}

	recipient := fmt.Sprintf("user:%d", rule.UserID)
	for _, channel := range rule.Channels {
		result, dispatchErr := s.disp.Dispatch(ctx, channel, recipient, payload)
		if dispatchErr == nil && result.Success {
			s.log.Debug().
				Str("rule_id", rule.ID.String()).
				Str("channel", channel).
				Msg("notification delivered")
			continue
		}

		if _, escErr := s.esc.Schedule(ctx, rec, channel, recipient, payload, priorityFor(rec.Urgency)); escErr != nil {
			s.log.Error().Err(escErr).Str("rule_id", rule.ID.String()).Msg("escalation scheduling failed")
			continue
		}
		s.log.Warn().
			Err(dispatchErr).
			Int("response_code", result.ResponseCode).
			Str("channel", channel).
			Msg("initial delivery failed, escalation scheduled")
	}
}

func priorityFor(u storage.Urgency) int {
	switch u {
	case storage.UrgencyCritical:
		return 9
	case storage.UrgencyHigh:
		return 7
	case storage.UrgencyMedium:
		return 5
	default:
		return 3
	}
}

func hasRuleType(rules []storage.AlertRule, t storage.AlertType) bool {
	for _, rule := range rules {
		if rule.Type == t {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
