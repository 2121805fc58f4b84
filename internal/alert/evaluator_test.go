package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/storage"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(zerolog.Nop())
}

func ruleOfType(t storage.AlertType) storage.AlertRule {
	return storage.AlertRule{
		ID:     uuid.New(),
		Type:   t,
		Active: true,
		Params: storage.RuleParams{},
	}
}

func snapshotAt(price float64) storage.PriceSnapshot {
	d := decimal.NewFromFloat(price)
	return storage.PriceSnapshot{
		ID:         1,
		SubjectID:  42,
		Platform:   "stubhub",
		PriceMin:   d,
		PriceMax:   d,
		PriceAvg:   d,
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateAbsolutePrice(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertAbsolutePrice)
	rule.TargetPrice = decimal.NewFromInt(100)

	cases := []struct {
		price float64
		want  bool
	}{
		{99.99, true},
		{100, true},
		{100.01, false},
	}
	for _, tc := range cases {
		got, err := e.Evaluate(rule, snapshotAt(tc.price), Context{})
		if err != nil {
			t.Fatalf("Evaluate(%v): %v", tc.price, err)
		}
		if got != tc.want {
			t.Errorf("Evaluate(price=%v) = %v, want %v", tc.price, got, tc.want)
		}
	}
}

func TestEvaluatePercentageDrop(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertPriceDropPercentage)
	baseline := decimal.NewFromInt(200)
	rule.BaselinePrice = &baseline
	rule.TargetPercentage = decimal.NewFromInt(10)

	// 200 -> 170 is a 15% drop.
	got, err := e.Evaluate(rule, snapshotAt(170), Context{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("15% drop should match 10% threshold")
	}

	got, err = e.Evaluate(rule, snapshotAt(190), Context{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Error("5% drop should not match 10% threshold")
	}
}

func TestEvaluatePercentageDropFallsBackToTargetPrice(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertPriceDropPercentage)
	rule.TargetPrice = decimal.NewFromInt(100)
	rule.TargetPercentage = decimal.NewFromInt(20)

	got, err := e.Evaluate(rule, snapshotAt(80), Context{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected match using target_price as baseline")
	}
}

func TestEvaluatePercentageDropNoBaseline(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertPriceDropPercentage)
	rule.TargetPercentage = decimal.NewFromInt(10)

	got, err := e.Evaluate(rule, snapshotAt(50), Context{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Error("rule without positive baseline must not match")
	}
}

func TestEvaluateBestDeal(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertBestDeal)
	low := decimal.NewFromInt(50)

	got, err := e.Evaluate(rule, snapshotAt(52), Context{HistoricalLow: &low})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("52 is within 5% of historical low 50")
	}

	got, err = e.Evaluate(rule, snapshotAt(60), Context{HistoricalLow: &low})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Error("60 is outside 5% of historical low 50")
	}
}

func TestEvaluateBestDealNoHistory(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertBestDeal)

	got, err := e.Evaluate(rule, snapshotAt(1), Context{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Error("no historical data must not match")
	}
}

func TestEvaluateInventoryLow(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertInventoryLow)

	snap := snapshotAt(100)
	snap.AvailableQuantity = 10
	if got, _ := e.Evaluate(rule, snap, Context{}); !got {
		t.Error("quantity 10 should match default threshold 10")
	}

	snap.AvailableQuantity = 11
	if got, _ := e.Evaluate(rule, snap, Context{}); got {
		t.Error("quantity 11 should not match default threshold 10")
	}

	rule.Params = storage.RuleParams{"threshold": float64(50)}
	if got, _ := e.Evaluate(rule, snap, Context{}); !got {
		t.Error("quantity 11 should match configured threshold 50")
	}
}

func TestEvaluateAvailability(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertAvailability)

	evalCtx := Context{SubjectTitle: "Stadium Tour Final", SubjectVenue: "Olympic Park"}

	// No sub-filters configured never matches.
	if got, _ := e.Evaluate(rule, snapshotAt(100), evalCtx); got {
		t.Error("rule without sub-filters must not match")
	}

	rule.Params = storage.RuleParams{"keyword": "tour"}
	if got, _ := e.Evaluate(rule, snapshotAt(100), evalCtx); !got {
		t.Error("keyword filter should match case-insensitively")
	}

	rule.Params = storage.RuleParams{"keyword": "tour", "venue": "Arena"}
	if got, _ := e.Evaluate(rule, snapshotAt(100), evalCtx); got {
		t.Error("all configured sub-filters must hold")
	}

	eventDate := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	evalCtx.EventDate = &eventDate
	rule.Params = storage.RuleParams{"date_from": "2026-03-01", "date_to": "2026-03-31"}
	if got, _ := e.Evaluate(rule, snapshotAt(100), evalCtx); !got {
		t.Error("event date inside range should match")
	}

	rule.Params = storage.RuleParams{"date_from": "2026-04-01"}
	if got, _ := e.Evaluate(rule, snapshotAt(100), evalCtx); got {
		t.Error("event date before range start should not match")
	}
}

func TestEvaluateInstantDeal(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertInstantDeal)
	baseline := decimal.NewFromInt(100)
	rule.BaselinePrice = &baseline
	rule.Params = storage.RuleParams{"threshold": float64(25)}

	if got, _ := e.Evaluate(rule, snapshotAt(70), Context{}); !got {
		t.Error("30% discount should clear 25% threshold")
	}
	if got, _ := e.Evaluate(rule, snapshotAt(80), Context{}); got {
		t.Error("20% discount should not clear 25% threshold")
	}

	rule.Params["is_limited_quantity"] = true
	snap := snapshotAt(70)
	snap.AvailableQuantity = 100
	if got, _ := e.Evaluate(rule, snap, Context{}); got {
		t.Error("plentiful inventory fails the limited-quantity filter")
	}
	snap.AvailableQuantity = 5
	if got, _ := e.Evaluate(rule, snap, Context{}); !got {
		t.Error("scarce inventory passes the limited-quantity filter")
	}
}

func TestEvaluatePriceComparison(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertPriceComparison)
	rule.Params = storage.RuleParams{"threshold": float64(20)}

	onePlatform := Context{PlatformPrices: map[string]decimal.Decimal{
		"stubhub": decimal.NewFromInt(100),
	}}
	if got, _ := e.Evaluate(rule, snapshotAt(100), onePlatform); got {
		t.Error("single platform price must not match")
	}

	spread := Context{PlatformPrices: map[string]decimal.Decimal{
		"stubhub":    decimal.NewFromInt(100),
		"viagogo":    decimal.NewFromInt(75),
		"ticketmstr": decimal.NewFromInt(90),
	}}
	if got, _ := e.Evaluate(rule, snapshotAt(100), spread); !got {
		t.Error("25% cross-platform spread should clear 20% threshold")
	}

	narrow := Context{PlatformPrices: map[string]decimal.Decimal{
		"stubhub": decimal.NewFromInt(100),
		"viagogo": decimal.NewFromInt(95),
	}}
	if got, _ := e.Evaluate(rule, snapshotAt(100), narrow); got {
		t.Error("5% spread should not clear 20% threshold")
	}
}

func TestEvaluateTargetListVariants(t *testing.T) {
	e := newTestEvaluator()
	evalCtx := Context{
		SubjectTitle:  "Champions League Final",
		SubjectVenue:  "Wembley Stadium",
		SubjectLeague: "Champions League",
	}

	venue := ruleOfType(storage.AlertVenue)
	venue.Params = storage.RuleParams{"venues": []any{"wembley"}}
	if got, _ := e.Evaluate(venue, snapshotAt(100), evalCtx); !got {
		t.Error("venue substring should match case-insensitively")
	}

	league := ruleOfType(storage.AlertLeague)
	league.Params = storage.RuleParams{"league": "champions"}
	if got, _ := e.Evaluate(league, snapshotAt(100), evalCtx); !got {
		t.Error("scalar league key should match")
	}

	keyword := ruleOfType(storage.AlertKeyword)
	keyword.Params = storage.RuleParams{"keywords": []any{"semifinal", "final"}}
	if got, _ := e.Evaluate(keyword, snapshotAt(100), evalCtx); !got {
		t.Error("any keyword in the list should match")
	}

	keyword.Params = storage.RuleParams{"keywords": []any{"opera"}}
	if got, _ := e.Evaluate(keyword, snapshotAt(100), evalCtx); got {
		t.Error("unrelated keyword should not match")
	}
}

func TestEvaluateUnknownType(t *testing.T) {
	e := newTestEvaluator()
	rule := ruleOfType(storage.AlertType("bogus"))

	got, err := e.Evaluate(rule, snapshotAt(100), Context{})
	if got {
		t.Error("unknown type must not match")
	}
	if !errors.Is(err, ErrUnknownAlertType) {
		t.Errorf("expected ErrUnknownAlertType, got %v", err)
	}
}
