package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ticketwatch/internal/clock"
	"ticketwatch/internal/config"
	"ticketwatch/internal/storage"
)

// EffectivenessFunc scores how useful a rule's recent triggers were:
// the ratio of triggers the user acted on, plus the sample size behind
// the score. Injected so scoring strategies can evolve independently.
type EffectivenessFunc func(ctx context.Context, ruleID uuid.UUID, window int) (ratio float64, samples int, err error)

// SubjectSource lists the subjects worth retuning.
type SubjectSource interface {
	ActiveSubjectIDs(ctx context.Context) ([]int64, error)
}

// Optimizer adjusts monitoring cadence and priority from trigger
// effectiveness, event proximity, and recent snapshot volume.
type Optimizer struct {
	rules         storage.RuleStore
	monitors      storage.MonitorStore
	snapshots     storage.SnapshotStore
	subjects      SubjectSource
	effectiveness EffectivenessFunc
	clk           clock.Clock
	cfg           config.OptimizerConfig
	log           zerolog.Logger
}

// NewOptimizer wires the cadence optimizer.
func NewOptimizer(
	rules storage.RuleStore,
	monitors storage.MonitorStore,
	snapshots storage.SnapshotStore,
	subjects SubjectSource,
	effectiveness EffectivenessFunc,
	clk clock.Clock,
	cfg config.OptimizerConfig,
	log zerolog.Logger,
) *Optimizer {
	return &Optimizer{
		rules:         rules,
		monitors:      monitors,
		snapshots:     snapshots,
		subjects:      subjects,
		effectiveness: effectiveness,
		clk:           clk,
		cfg:           cfg,
		log:           log.With().Str("component", "optimizer").Logger(),
	}
}

// DefaultEffectiveness scores a rule by the acted-on ratio of its most
// recent trigger records.
func DefaultEffectiveness(triggers storage.TriggerStore) EffectivenessFunc {
	return func(ctx context.Context, ruleID uuid.UUID, window int) (float64, int, error) {
		if window <= 0 {
			window = 50
		}
		recs, err := triggers.RecentForRule(ctx, ruleID, window)
		if err != nil {
			return 0, 0, err
		}
		if len(recs) == 0 {
			return 0, 0, nil
		}
		var acted int
		for _, rec := range recs {
			if rec.ActedOn {
				acted++
			}
		}
		return float64(acted) / float64(len(recs)), len(recs), nil
	}
}

// Run retunes every active monitor and every rule on an active subject.
func (o *Optimizer) Run(ctx context.Context) error {
	if err := o.RetuneMonitors(ctx); err != nil {
		return err
	}
	return o.RetuneRules(ctx)
}

// RetuneMonitors recomputes check interval and priority per monitor,
// writing only changes that clear the hysteresis threshold.
func (o *Optimizer) RetuneMonitors(ctx context.Context) error {
	monitors, err := o.monitors.ListActiveMonitors(ctx)
	if err != nil {
		return fmt.Errorf("list monitors: %w", err)
	}

	now := o.clk.Now()
	var updated int
	for _, m := range monitors {
		activity, actErr := o.recentActivity(ctx, m.SubjectID, now)
		if actErr != nil {
			o.log.Warn().Err(actErr).Int64("subject_id", m.SubjectID).Msg("activity lookup failed")
			continue
		}

		interval := o.proposeInterval(m.CheckInterval, m.EventDate, activity, now)
		priority := proposePriority(m.EventDate, activity, now)

		if !o.exceedsHysteresis(m.CheckInterval, interval) && priority == m.Priority {
			continue
		}
		if err := o.monitors.UpdateMonitorCadence(ctx, m.ID, interval, priority); err != nil {
			o.log.Error().Err(err).Str("monitor_id", m.ID.String()).Msg("cadence update failed")
			continue
		}
		updated++
		o.log.Info().
			Str("monitor_id", m.ID.String()).
			Dur("interval", interval).
			Int("priority", priority).
			Msg("monitor retuned")
	}

	o.log.Info().Int("monitors", len(monitors)).Int("updated", updated).Msg("monitor retune finished")
	return nil
}

// RetuneRules adjusts rule cooldowns and deactivates rules whose recent
// triggers the user consistently ignored.
func (o *Optimizer) RetuneRules(ctx context.Context) error {
	subjects, err := o.subjects.ActiveSubjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}

	now := o.clk.Now()
	for _, subjectID := range subjects {
		rules, listErr := o.rules.ListActiveRulesForSubject(ctx, subjectID)
		if listErr != nil {
			o.log.Warn().Err(listErr).Int64("subject_id", subjectID).Msg("rule listing failed")
			continue
		}
		activity, actErr := o.recentActivity(ctx, subjectID, now)
		if actErr != nil {
			o.log.Warn().Err(actErr).Int64("subject_id", subjectID).Msg("activity lookup failed")
			continue
		}

		for _, rule := range rules {
			o.retuneRule(ctx, rule, activity, now)
		}
	}
	return nil
}

func (o *Optimizer) retuneRule(ctx context.Context, rule storage.AlertRule, activity activityLevel, now time.Time) {
	ratio, samples, err := o.effectiveness(ctx, rule.ID, o.cfg.EffectivenessWindow)
	if err != nil {
		o.log.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("effectiveness scoring failed")
		return
	}

	if samples >= o.cfg.MinTriggersToJudge && ratio < o.cfg.LowEffectiveness {
		if err := o.rules.DeactivateRule(ctx, rule.ID); err != nil {
			o.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("deactivation failed")
			return
		}
		o.log.Info().
			Str("rule_id", rule.ID.String()).
			Float64("effectiveness", ratio).
			Int("samples", samples).
			Msg("rule deactivated for sustained low effectiveness")
		return
	}

	interval := o.proposeInterval(rule.MinInterval, nil, activity, now)
	if !o.exceedsHysteresis(rule.MinInterval, interval) {
		return
	}
	if err := o.rules.UpdateRuleCadence(ctx, rule.ID, interval); err != nil {
		o.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("cadence update failed")
		return
	}
	o.log.Info().
		Str("rule_id", rule.ID.String()).
		Dur("min_interval", interval).
		Msg("rule cooldown retuned")
}

type activityLevel int

const (
	activityNormal activityLevel = iota
	activityHigh
	activityLow
)

// recentActivity classifies snapshot volume over the configured window.
// Thresholds are 50 and 5 readings per week, scaled to the window.
func (o *Optimizer) recentActivity(ctx context.Context, subjectID int64, now time.Time) (activityLevel, error) {
	days := o.cfg.ActivityWindowDays
	if days <= 0 {
		days = 7
	}
	count, err := o.snapshots.CountSince(ctx, subjectID, now.AddDate(0, 0, -days))
	if err != nil {
		return activityNormal, err
	}

	weeks := float64(days) / 7
	switch {
	case float64(count) > 50*weeks:
		return activityHigh, nil
	case float64(count) < 5*weeks:
		return activityLow, nil
	default:
		return activityNormal, nil
	}
}

// proposeInterval scales the current interval by event proximity and
// snapshot volume, clamped to the configured bounds.
func (o *Optimizer) proposeInterval(current time.Duration, eventDate *time.Time, activity activityLevel, now time.Time) time.Duration {
	factor := 1.0

	if eventDate != nil {
		switch until := eventDate.Sub(now); {
		case until <= 7*24*time.Hour:
			factor *= 0.5
		case until <= 30*24*time.Hour:
			factor *= 0.8
		case until > 180*24*time.Hour:
			factor *= 1.5
		}
	}

	switch activity {
	case activityHigh:
		factor *= 0.7
	case activityLow:
		factor *= 1.3
	}

	proposed := time.Duration(float64(current) * factor)
	if proposed < o.cfg.MinInterval {
		proposed = o.cfg.MinInterval
	}
	if o.cfg.MaxInterval > 0 && proposed > o.cfg.MaxInterval {
		proposed = o.cfg.MaxInterval
	}
	return proposed
}

// proposePriority scores 1-10, higher for imminent events and busy
// subjects.
func proposePriority(eventDate *time.Time, activity activityLevel, now time.Time) int {
	priority := 5

	if eventDate != nil {
		switch until := eventDate.Sub(now); {
		case until <= 7*24*time.Hour:
			priority += 3
		case until <= 30*24*time.Hour:
			priority += 2
		case until <= 90*24*time.Hour:
			priority++
		}
	}

	if activity == activityHigh {
		priority += 2
	}

	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return priority
}

func (o *Optimizer) exceedsHysteresis(current, proposed time.Duration) bool {
	delta := proposed - current
	if delta < 0 {
		delta = -delta
	}
	return delta > o.cfg.Hysteresis
}
