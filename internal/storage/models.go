package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertType discriminates rule condition variants.
type AlertType string

const (
	AlertPriceDrop           AlertType = "price_drop"
	AlertPriceDropPercentage AlertType = "price_drop_percentage"
	AlertAbsolutePrice       AlertType = "absolute_price"
	AlertBestDeal            AlertType = "best_deal"
	AlertInventoryLow        AlertType = "inventory_low"
	AlertAvailability        AlertType = "availability"
	AlertInstantDeal         AlertType = "instant_deal"
	AlertPriceComparison     AlertType = "price_comparison"
	AlertVenue               AlertType = "venue"
	AlertLeague              AlertType = "league"
	AlertKeyword             AlertType = "keyword"
)

// Urgency grades a trigger for downstream routing.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// RuleParams carries free-form per-variant condition parameters.
type RuleParams map[string]any

// Float reads a numeric parameter; ok is false when absent or non-numeric.
func (p RuleParams) Float(key string) (float64, bool) {
	v, present := p[key]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Bool reads a boolean parameter, defaulting to false.
func (p RuleParams) Bool(key string) bool {
	v, ok := p[key].(bool)
	return ok && v
}

// String reads a string parameter.
func (p RuleParams) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// StringList reads a list parameter, tolerating JSON's []any decoding.
func (p RuleParams) StringList(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AlertRule is a persisted, user-configured alert condition plus
// delivery and rate-limit parameters.
type AlertRule struct {
	ID                uuid.UUID
	UserID            int64
	SubjectID         int64
	Type              AlertType
	TargetPrice       decimal.Decimal
	TargetPercentage  decimal.Decimal
	BaselinePrice     *decimal.Decimal
	Platforms         []string
	Channels          []string
	MinInterval       time.Duration
	MaxTriggersPerDay int
	Active            bool
	ExpiresAt         *time.Time
	TriggerCount      int64
	LastTriggeredAt   *time.Time
	Params            RuleParams
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PriceSnapshot is one observed price/availability reading for a
// subject. Immutable once recorded; ProcessedAt tracks sweep progress.
type PriceSnapshot struct {
	ID                int64
	SubjectID         int64
	Platform          string
	PriceMin          decimal.Decimal
	PriceMax          decimal.Decimal
	PriceAvg          decimal.Decimal
	ListingsCount     int
	AvailableQuantity int
	RecordedAt        time.Time
	ProcessedAt       *time.Time
}

// CurrentPrice is the price alert conditions compare against.
func (s PriceSnapshot) CurrentPrice() decimal.Decimal { return s.PriceMin }

// TriggerRecord is the evidence row persisted when a rule fires.
type TriggerRecord struct {
	ID          uuid.UUID
	RuleID      uuid.UUID
	SubjectID   int64
	SnapshotID  int64
	Platform    string
	Price       decimal.Decimal
	Urgency     Urgency
	ActedOn     bool
	TriggeredAt time.Time
}

// TaskStatus enumerates escalation lifecycle states.
type TaskStatus string

const (
	TaskScheduled TaskStatus = "scheduled"
	TaskRetrying  TaskStatus = "retrying"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// BackoffStrategy names the delay curve between retry attempts.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// EscalationTask tracks retries of a failed notification delivery.
type EscalationTask struct {
	ID                 uuid.UUID
	RuleID             uuid.UUID
	TriggerID          uuid.UUID
	Priority           int
	Strategy           BackoffStrategy
	BaseDelay          time.Duration
	Channel            string
	Recipient          string
	Payload            []byte
	ScheduledAt        time.Time
	Attempts           int
	MaxAttempts        int
	Status             TaskStatus
	LastAttemptedAt    *time.Time
	NextRetryAt        *time.Time
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrendDirection classifies first-vs-last price movement over a day.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// HourlyBucket summarises prices observed within one hour of day.
type HourlyBucket struct {
	Avg   decimal.Decimal `json:"avg"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
	Count int             `json:"count"`
}

// VolatilityRecord is the per-(subject, date) statistical summary.
// Recomputation for the same key overwrites in place.
type VolatilityRecord struct {
	SubjectID         int64
	AnalysisDate      time.Time
	AvgPrice          decimal.Decimal
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
	VolatilityScore   float64
	PriceChangesCount int
	MaxSingleChange   float64
	Trend             TrendDirection
	HourlyBuckets     map[int]HourlyBucket
	DataPoints        int
	CreatedAt         time.Time
}

// Subject is the ticketed event an alert watches. Owned by an external
// catalog; only the fields condition matching needs are read here.
type Subject struct {
	ID        int64
	Title     string
	Venue     string
	League    string
	EventDate *time.Time
}

// EventMonitor is the per-(user, subject) monitoring configuration the
// optimizer retunes. EventDate is joined from the subjects table.
type EventMonitor struct {
	ID            uuid.UUID
	UserID        int64
	SubjectID     int64
	Active        bool
	Priority      int
	CheckInterval time.Duration
	Platforms     []string
	LastCheckAt   *time.Time
	SuccessCount  int64
	FailureCount  int64
	TotalChecks   int64
	LastError     *string
	EventDate     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SuccessRate returns the monitor's check success percentage.
func (m EventMonitor) SuccessRate() float64 {
	if m.TotalChecks == 0 {
		return 100.0
	}
	return float64(m.SuccessCount) / float64(m.TotalChecks) * 100.0
}
