package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ruleRow feeds canned column values through the scan path.
type ruleRow struct {
	vals []any
}

func (r ruleRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan arity: got %d dests for %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = r.vals[i].(uuid.UUID)
		case *int64:
			*p = r.vals[i].(int64)
		case *int:
			*p = r.vals[i].(int)
		case *bool:
			*p = r.vals[i].(bool)
		case *string:
			*p = r.vals[i].(string)
		case **string:
			if r.vals[i] != nil {
				s := r.vals[i].(string)
				*p = &s
			}
		case *[]string:
			*p = r.vals[i].([]string)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case **time.Time:
			if r.vals[i] != nil {
				t := r.vals[i].(time.Time)
				*p = &t
			}
		default:
			return fmt.Errorf("unsupported scan dest %T", d)
		}
	}
	return nil
}

// TestScanRuleRoundTrip encodes a rule the way SaveRule binds its
// arguments and checks that scanRule restores every field, condition
// parameters included.
func TestScanRuleRoundTrip(t *testing.T) {
	cipher, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}
	store := NewStore(nil, cipher)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(30 * 24 * time.Hour)
	last := now.Add(-time.Hour)
	baseline := decimal.NewFromFloat(199.99)
	want := AlertRule{
		ID:                uuid.New(),
		UserID:            7,
		SubjectID:         42,
		Type:              AlertPriceDropPercentage,
		TargetPrice:       decimal.NewFromFloat(120.50),
		TargetPercentage:  decimal.NewFromFloat(12.5),
		BaselinePrice:     &baseline,
		Platforms:         []string{"stubhub", "viagogo"},
		Channels:          []string{"email", "sms"},
		MinInterval:       15 * time.Minute,
		MaxTriggersPerDay: 3,
		Active:            true,
		ExpiresAt:         &expires,
		TriggerCount:      9,
		LastTriggeredAt:   &last,
		Params: RuleParams{
			"keyword":   "finals",
			"threshold": 12.5,
		},
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now,
	}

	sealed, err := cipher.EncryptParams(want.Params)
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}

	row := ruleRow{vals: []any{
		want.ID,
		want.UserID,
		want.SubjectID,
		string(want.Type),
		want.TargetPrice.String(),
		want.TargetPercentage.String(),
		want.BaselinePrice.String(),
		want.Platforms,
		want.Channels,
		int64(want.MinInterval / time.Second),
		want.MaxTriggersPerDay,
		want.Active,
		*want.ExpiresAt,
		want.TriggerCount,
		*want.LastTriggeredAt,
		sealed,
		want.CreatedAt,
		want.UpdatedAt,
	}}

	got, err := store.scanRule(row)
	if err != nil {
		t.Fatalf("scanRule: %v", err)
	}

	if got.ID != want.ID || got.UserID != want.UserID || got.SubjectID != want.SubjectID {
		t.Errorf("identity fields = %v/%d/%d, want %v/%d/%d",
			got.ID, got.UserID, got.SubjectID, want.ID, want.UserID, want.SubjectID)
	}
	if got.Type != want.Type {
		t.Errorf("type = %s, want %s", got.Type, want.Type)
	}
	if !got.TargetPrice.Equal(want.TargetPrice) {
		t.Errorf("target price = %s, want %s", got.TargetPrice, want.TargetPrice)
	}
	if !got.TargetPercentage.Equal(want.TargetPercentage) {
		t.Errorf("target percentage = %s, want %s", got.TargetPercentage, want.TargetPercentage)
	}
	if got.BaselinePrice == nil || !got.BaselinePrice.Equal(*want.BaselinePrice) {
		t.Errorf("baseline = %v, want %s", got.BaselinePrice, want.BaselinePrice)
	}
	if len(got.Platforms) != 2 || got.Platforms[0] != "stubhub" || got.Platforms[1] != "viagogo" {
		t.Errorf("platforms = %v", got.Platforms)
	}
	if len(got.Channels) != 2 || got.Channels[0] != "email" || got.Channels[1] != "sms" {
		t.Errorf("channels = %v", got.Channels)
	}
	if got.MinInterval != want.MinInterval {
		t.Errorf("min interval = %v, want %v", got.MinInterval, want.MinInterval)
	}
	if got.MaxTriggersPerDay != want.MaxTriggersPerDay {
		t.Errorf("daily cap = %d, want %d", got.MaxTriggersPerDay, want.MaxTriggersPerDay)
	}
	if !got.Active {
		t.Error("active flag lost")
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}
	if got.TriggerCount != want.TriggerCount {
		t.Errorf("trigger count = %d, want %d", got.TriggerCount, want.TriggerCount)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(last) {
		t.Errorf("last_triggered_at = %v, want %v", got.LastTriggeredAt, last)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}

	if kw, ok := got.Params.String("keyword"); !ok || kw != "finals" {
		t.Errorf("params keyword = %q, ok %t", kw, ok)
	}
	if th, ok := got.Params.Float("threshold"); !ok || th != 12.5 {
		t.Errorf("params threshold = %v, ok %t", th, ok)
	}
}

// TestScanRuleWithoutOptionals covers the all-nullable-columns shape.
func TestScanRuleWithoutOptionals(t *testing.T) {
	cipher, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}
	store := NewStore(nil, cipher)

	sealed, err := cipher.EncryptParams(nil)
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := ruleRow{vals: []any{
		uuid.New(),
		int64(7),
		int64(42),
		string(AlertAbsolutePrice),
		"100",
		"0",
		nil,
		[]string{},
		[]string{"email"},
		int64(0),
		0,
		true,
		nil,
		int64(0),
		nil,
		sealed,
		now,
		now,
	}}

	got, err := store.scanRule(row)
	if err != nil {
		t.Fatalf("scanRule: %v", err)
	}
	if got.BaselinePrice != nil || got.ExpiresAt != nil || got.LastTriggeredAt != nil {
		t.Error("optional fields must stay nil")
	}
	if got.MinInterval != 0 {
		t.Errorf("min interval = %v, want 0", got.MinInterval)
	}
}
