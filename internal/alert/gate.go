package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/clock"
	"ticketwatch/internal/storage"
)

var (
	criticalSavings = decimal.NewFromInt(30)
	highSavings     = decimal.NewFromInt(20)
	mediumSavings   = decimal.NewFromInt(10)
)

// Gate applies the frequency limits that stand between a condition
// match and an outbound notification.
type Gate struct {
	rules    storage.RuleStore
	triggers storage.TriggerStore
	clk      clock.Clock
	log      zerolog.Logger
}

// NewGate wires the trigger gate.
func NewGate(rules storage.RuleStore, triggers storage.TriggerStore, clk clock.Clock, log zerolog.Logger) *Gate {
	return &Gate{
		rules:    rules,
		triggers: triggers,
		clk:      clk,
		log:      log.With().Str("component", "trigger_gate").Logger(),
	}
}

// CanTrigger reports whether the rule may fire right now. Rejections
// are expected filtering outcomes, not errors.
func (g *Gate) CanTrigger(ctx context.Context, rule storage.AlertRule) (bool, error) {
	now := g.clk.Now()

	if !rule.Active {
		return false, nil
	}
	if rule.ExpiresAt != nil && !rule.ExpiresAt.After(now) {
		return false, nil
	}
	if rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < rule.MinInterval {
		return false, nil
	}

	if rule.MaxTriggersPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := g.triggers.CountForRuleBetween(ctx, rule.ID, dayStart, dayStart.Add(24*time.Hour))
		if err != nil {
			return false, fmt.Errorf("count daily triggers: %w", err)
		}
		if count >= rule.MaxTriggersPerDay {
			return false, nil
		}
	}

	return true, nil
}

// Trigger performs the atomic trigger write and persists the evidence
// record. Returns storage.ErrTriggerLost when a concurrent worker fired
// the same rule first.
func (g *Gate) Trigger(ctx context.Context, rule storage.AlertRule, snap storage.PriceSnapshot) (storage.TriggerRecord, error) {
	now := g.clk.Now()

	if err := g.rules.RecordTrigger(ctx, rule.ID, now, rule.MinInterval); err != nil {
		return storage.TriggerRecord{}, err
	}

	rec := storage.TriggerRecord{
		ID:          uuid.New(),
		RuleID:      rule.ID,
		SubjectID:   snap.SubjectID,
		SnapshotID:  snap.ID,
		Platform:    snap.Platform,
		Price:       snap.CurrentPrice(),
		Urgency:     ClassifyUrgency(rule, snap),
		TriggeredAt: now,
	}
	if err := g.triggers.InsertTrigger(ctx, rec); err != nil {
		return storage.TriggerRecord{}, err
	}

	g.log.Info().
		Str("rule_id", rule.ID.String()).
		Int64("subject_id", snap.SubjectID).
		Str("urgency", string(rec.Urgency)).
		Str("price", rec.Price.String()).
		Msg("alert triggered")

	return rec, nil
}

// ClassifyUrgency grades a trigger by savings depth and remaining
// inventory for downstream channel routing.
func ClassifyUrgency(rule storage.AlertRule, snap storage.PriceSnapshot) storage.Urgency {
	savings := savingsPercent(rule, snap)
	qty := snap.AvailableQuantity

	switch {
	case savings.GreaterThanOrEqual(criticalSavings) || (qty > 0 && qty < 10):
		return storage.UrgencyCritical
	case savings.GreaterThanOrEqual(highSavings) || (qty > 0 && qty < 25):
		return storage.UrgencyHigh
	case savings.GreaterThanOrEqual(mediumSavings):
		return storage.UrgencyMedium
	default:
		return storage.UrgencyLow
	}
}

func savingsPercent(rule storage.AlertRule, snap storage.PriceSnapshot) decimal.Decimal {
	base := snap.PriceAvg
	if rule.BaselinePrice != nil && rule.BaselinePrice.IsPositive() {
		base = *rule.BaselinePrice
	}
	if !base.IsPositive() {
		return decimal.Zero
	}
	return base.Sub(snap.CurrentPrice()).Div(base).Mul(hundred)
}
