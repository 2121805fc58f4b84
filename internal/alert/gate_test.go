package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/clock"
	"ticketwatch/internal/storage"
)

type fakeRuleStore struct {
	storage.RuleStore

	recordErr   error
	recordCalls int
}

func (f *fakeRuleStore) RecordTrigger(_ context.Context, _ uuid.UUID, _ time.Time, _ time.Duration) error {
	f.recordCalls++
	return f.recordErr
}

type fakeTriggerStore struct {
	storage.TriggerStore

	dailyCount int
	countErr   error
	inserted   []storage.TriggerRecord
}

func (f *fakeTriggerStore) CountForRuleBetween(_ context.Context, _ uuid.UUID, _, _ time.Time) (int, error) {
	return f.dailyCount, f.countErr
}

func (f *fakeTriggerStore) InsertTrigger(_ context.Context, rec storage.TriggerRecord) error {
	f.inserted = append(f.inserted, rec)
	return nil
}

func newTestGate(rules *fakeRuleStore, triggers *fakeTriggerStore, now time.Time) *Gate {
	return NewGate(rules, triggers, clock.NewFixed(now), zerolog.Nop())
}

func activeRule() storage.AlertRule {
	return storage.AlertRule{
		ID:                uuid.New(),
		Type:              storage.AlertAbsolutePrice,
		TargetPrice:       decimal.NewFromInt(100),
		MinInterval:       time.Hour,
		MaxTriggersPerDay: 3,
		Active:            true,
	}
}

func TestCanTriggerCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGate(&fakeRuleStore{}, &fakeTriggerStore{}, now)

	rule := activeRule()
	last := now.Add(-30 * time.Minute)
	rule.LastTriggeredAt = &last

	ok, err := g.CanTrigger(context.Background(), rule)
	if err != nil {
		t.Fatalf("CanTrigger: %v", err)
	}
	if ok {
		t.Error("trigger 30m after last with 1h cooldown must be rejected")
	}

	last = now.Add(-time.Hour)
	rule.LastTriggeredAt = &last
	ok, err = g.CanTrigger(context.Background(), rule)
	if err != nil {
		t.Fatalf("CanTrigger: %v", err)
	}
	if !ok {
		t.Error("trigger exactly at cooldown boundary should pass")
	}
}

func TestCanTriggerDailyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	triggers := &fakeTriggerStore{dailyCount: 3}
	g := newTestGate(&fakeRuleStore{}, triggers, now)

	ok, err := g.CanTrigger(context.Background(), activeRule())
	if err != nil {
		t.Fatalf("CanTrigger: %v", err)
	}
	if ok {
		t.Error("3 prior triggers against a cap of 3 must reject the 4th")
	}

	triggers.dailyCount = 2
	ok, err = g.CanTrigger(context.Background(), activeRule())
	if err != nil {
		t.Fatalf("CanTrigger: %v", err)
	}
	if !ok {
		t.Error("2 prior triggers against a cap of 3 should pass")
	}
}

func TestCanTriggerUnlimitedDailyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	triggers := &fakeTriggerStore{dailyCount: 1000, countErr: errors.New("must not be called")}
	g := newTestGate(&fakeRuleStore{}, triggers, now)

	rule := activeRule()
	rule.MaxTriggersPerDay = 0

	ok, err := g.CanTrigger(context.Background(), rule)
	if err != nil {
		t.Fatalf("CanTrigger: %v", err)
	}
	if !ok {
		t.Error("cap of 0 means unlimited")
	}
}

func TestCanTriggerInactiveAndExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGate(&fakeRuleStore{}, &fakeTriggerStore{}, now)

	rule := activeRule()
	rule.Active = false
	if ok, _ := g.CanTrigger(context.Background(), rule); ok {
		t.Error("inactive rule must not trigger")
	}

	rule = activeRule()
	expired := now.Add(-time.Minute)
	rule.ExpiresAt = &expired
	if ok, _ := g.CanTrigger(context.Background(), rule); ok {
		t.Error("expired rule must not trigger")
	}
}

func TestTriggerWritesEvidence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := &fakeRuleStore{}
	triggers := &fakeTriggerStore{}
	g := newTestGate(rules, triggers, now)

	rule := activeRule()
	snap := storage.PriceSnapshot{
		ID:         7,
		SubjectID:  42,
		Platform:   "stubhub",
		PriceMin:   decimal.NewFromInt(80),
		PriceAvg:   decimal.NewFromInt(100),
		RecordedAt: now,
	}

	rec, err := g.Trigger(context.Background(), rule, snap)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if rules.recordCalls != 1 {
		t.Errorf("RecordTrigger calls = %d, want 1", rules.recordCalls)
	}
	if len(triggers.inserted) != 1 {
		t.Fatalf("inserted records = %d, want 1", len(triggers.inserted))
	}
	if rec.RuleID != rule.ID || rec.SnapshotID != snap.ID {
		t.Error("trigger record does not reference rule and snapshot")
	}
	if !rec.TriggeredAt.Equal(now) {
		t.Errorf("TriggeredAt = %v, want %v", rec.TriggeredAt, now)
	}
	if rec.Urgency != storage.UrgencyHigh {
		t.Errorf("urgency = %s, want high for a 20%% saving", rec.Urgency)
	}
}

func TestTriggerLostRace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := &fakeRuleStore{recordErr: storage.ErrTriggerLost}
	triggers := &fakeTriggerStore{}
	g := newTestGate(rules, triggers, now)

	_, err := g.Trigger(context.Background(), activeRule(), storage.PriceSnapshot{})
	if !errors.Is(err, storage.ErrTriggerLost) {
		t.Fatalf("expected ErrTriggerLost, got %v", err)
	}
	if len(triggers.inserted) != 0 {
		t.Error("no evidence record may be written after a lost race")
	}
}

func TestClassifyUrgency(t *testing.T) {
	baseline := decimal.NewFromInt(100)
	rule := activeRule()
	rule.BaselinePrice = &baseline

	cases := []struct {
		price float64
		qty   int
		want  storage.Urgency
	}{
		{65, 100, storage.UrgencyCritical}, // 35% saving
		{95, 5, storage.UrgencyCritical},   // near sold out
		{78, 100, storage.UrgencyHigh},     // 22% saving
		{95, 20, storage.UrgencyHigh},      // scarce
		{88, 100, storage.UrgencyMedium},   // 12% saving
		{98, 100, storage.UrgencyLow},
	}
	for _, tc := range cases {
		snap := storage.PriceSnapshot{
			PriceMin:          decimal.NewFromFloat(tc.price),
			PriceAvg:          decimal.NewFromFloat(tc.price),
			AvailableQuantity: tc.qty,
		}
		if got := ClassifyUrgency(rule, snap); got != tc.want {
			t.Errorf("ClassifyUrgency(price=%v qty=%d) = %s, want %s", tc.price, tc.qty, got, tc.want)
		}
	}
}
