package alert

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/storage"
)

// ErrUnknownAlertType marks a rule whose type the evaluator does not
// recognise. Surfaced as a configuration error instead of resolving to
// a silent non-match.
var ErrUnknownAlertType = errors.New("alert: unknown alert type")

var (
	bestDealMargin = decimal.NewFromFloat(1.05)
	hundred        = decimal.NewFromInt(100)
)

// Context supplies auxiliary data a condition cannot derive from the
// snapshot alone.
type Context struct {
	Now            time.Time
	HistoricalLow  *decimal.Decimal
	PlatformPrices map[string]decimal.Decimal
	SubjectTitle   string
	SubjectVenue   string
	SubjectLeague  string
	EventDate      *time.Time
}

// Evaluator matches rule conditions against price snapshots. Stateless
// and safe for concurrent use.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator builds a condition evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log.With().Str("component", "evaluator").Logger()}
}

// Evaluate reports whether the rule's condition matches the snapshot.
// Malformed config or missing context resolves to false so a single bad
// rule never aborts a sweep; only an unrecognised type returns an error.
func (e *Evaluator) Evaluate(rule storage.AlertRule, snap storage.PriceSnapshot, evalCtx Context) (bool, error) {
	current := snap.CurrentPrice()

	switch rule.Type {
	case storage.AlertPriceDrop, storage.AlertAbsolutePrice:
		return current.LessThanOrEqual(rule.TargetPrice), nil

	case storage.AlertPriceDropPercentage:
		return e.matchPercentageDrop(rule, current), nil

	case storage.AlertBestDeal:
		if evalCtx.HistoricalLow == nil {
			return false, nil
		}
		return current.LessThanOrEqual(evalCtx.HistoricalLow.Mul(bestDealMargin)), nil

	case storage.AlertInventoryLow:
		threshold := 10.0
		if v, ok := rule.Params.Float("threshold"); ok {
			threshold = v
		}
		return float64(snap.AvailableQuantity) <= threshold, nil

	case storage.AlertAvailability:
		return e.matchAvailability(rule, evalCtx), nil

	case storage.AlertInstantDeal:
		return e.matchInstantDeal(rule, snap, evalCtx), nil

	case storage.AlertPriceComparison:
		return e.matchPriceComparison(rule, evalCtx), nil

	case storage.AlertVenue:
		return matchTargetList(evalCtx.SubjectVenue, rule.Params, "venues", "venue"), nil

	case storage.AlertLeague:
		return matchTargetList(evalCtx.SubjectLeague, rule.Params, "leagues", "league"), nil

	case storage.AlertKeyword:
		return matchTargetList(evalCtx.SubjectTitle, rule.Params, "keywords", "keyword"), nil
	}

	return false, ErrUnknownAlertType
}

func (e *Evaluator) matchPercentageDrop(rule storage.AlertRule, current decimal.Decimal) bool {
	base := rule.TargetPrice
	if rule.BaselinePrice != nil && rule.BaselinePrice.IsPositive() {
		base = *rule.BaselinePrice
	}
	if !base.IsPositive() {
		e.log.Warn().
			Str("rule_id", rule.ID.String()).
			Msg("percentage drop rule has no positive baseline")
		return false
	}
	drop := base.Sub(current).Div(base).Mul(hundred)
	return drop.GreaterThanOrEqual(rule.TargetPercentage)
}

// matchAvailability requires every configured sub-filter to hold. A rule
// with no sub-filters never matches.
func (e *Evaluator) matchAvailability(rule storage.AlertRule, evalCtx Context) bool {
	configured := false

	if keyword, ok := rule.Params.String("keyword"); ok && keyword != "" {
		configured = true
		if !containsFold(evalCtx.SubjectTitle, keyword) {
			return false
		}
	}
	if venue, ok := rule.Params.String("venue"); ok && venue != "" {
		configured = true
		if !containsFold(evalCtx.SubjectVenue, venue) {
			return false
		}
	}
	if raw, ok := rule.Params.String("date_from"); ok && raw != "" {
		configured = true
		from, err := time.Parse("2006-01-02", raw)
		if err != nil || evalCtx.EventDate == nil || evalCtx.EventDate.Before(from) {
			if err != nil {
				e.log.Warn().Str("rule_id", rule.ID.String()).Str("date_from", raw).Msg("malformed date filter")
			}
			return false
		}
	}
	if raw, ok := rule.Params.String("date_to"); ok && raw != "" {
		configured = true
		to, err := time.Parse("2006-01-02", raw)
		if err != nil || evalCtx.EventDate == nil || evalCtx.EventDate.After(to.Add(24*time.Hour)) {
			if err != nil {
				e.log.Warn().Str("rule_id", rule.ID.String()).Str("date_to", raw).Msg("malformed date filter")
			}
			return false
		}
	}

	return configured
}

func (e *Evaluator) matchInstantDeal(rule storage.AlertRule, snap storage.PriceSnapshot, evalCtx Context) bool {
	base := snap.PriceAvg
	if rule.BaselinePrice != nil && rule.BaselinePrice.IsPositive() {
		base = *rule.BaselinePrice
	}
	if !base.IsPositive() {
		return false
	}

	threshold := 20.0
	if v, ok := rule.Params.Float("threshold"); ok {
		threshold = v
	}
	discount, _ := base.Sub(snap.CurrentPrice()).Div(base).Mul(hundred).Float64()
	if discount < threshold {
		return false
	}

	if rule.Params.Bool("is_limited_quantity") {
		maxQty := 20.0
		if v, ok := rule.Params.Float("limited_quantity_max"); ok {
			maxQty = v
		}
		if float64(snap.AvailableQuantity) > maxQty {
			return false
		}
	}
	if rule.Params.Bool("is_time_sensitive") {
		horizonDays := 7.0
		if v, ok := rule.Params.Float("time_sensitive_days"); ok {
			horizonDays = v
		}
		if evalCtx.EventDate == nil {
			return false
		}
		horizon := evalCtx.Now.Add(time.Duration(horizonDays * 24 * float64(time.Hour)))
		if evalCtx.EventDate.After(horizon) {
			return false
		}
	}

	return true
}

func (e *Evaluator) matchPriceComparison(rule storage.AlertRule, evalCtx Context) bool {
	if len(evalCtx.PlatformPrices) < 2 {
		return false
	}

	var min, max decimal.Decimal
	first := true
	for _, price := range evalCtx.PlatformPrices {
		if first {
			min, max = price, price
			first = false
			continue
		}
		if price.LessThan(min) {
			min = price
		}
		if price.GreaterThan(max) {
			max = price
		}
	}
	if !max.IsPositive() {
		return false
	}

	threshold := rule.TargetPercentage
	if v, ok := rule.Params.Float("threshold"); ok {
		threshold = decimal.NewFromFloat(v)
	}
	spread := max.Sub(min).Div(max).Mul(hundred)
	return spread.GreaterThanOrEqual(threshold)
}

// matchTargetList does a case-insensitive substring match of the
// subject value against the configured target list. Accepts both the
// plural list key and a singular scalar key.
func matchTargetList(value string, params storage.RuleParams, listKey, scalarKey string) bool {
	if value == "" {
		return false
	}

	targets := params.StringList(listKey)
	if single, ok := params.String(scalarKey); ok && single != "" {
		targets = append(targets, single)
	}
	for _, target := range targets {
		if target == "" {
			continue
		}
		if containsFold(value, target) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
