package escalate

import (
	"testing"
	"time"

	"ticketwatch/internal/storage"
)

func TestBackoffExponential(t *testing.T) {
	base := 60 * time.Second
	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, expected := range want {
		attempt := i + 1
		if got := Backoff(storage.BackoffExponential, base, attempt, 0); got != expected {
			t.Errorf("exponential attempt %d = %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoffLinear(t *testing.T) {
	base := 30 * time.Second
	for attempt := 1; attempt <= 4; attempt++ {
		want := base * time.Duration(attempt)
		if got := Backoff(storage.BackoffLinear, base, attempt, 0); got != want {
			t.Errorf("linear attempt %d = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffFixed(t *testing.T) {
	base := 45 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		if got := Backoff(storage.BackoffFixed, base, attempt, 0); got != base {
			t.Errorf("fixed attempt %d = %v, want %v", attempt, got, base)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	base := 60 * time.Second
	max := 5 * time.Minute
	if got := Backoff(storage.BackoffExponential, base, 10, max); got != max {
		t.Errorf("capped delay = %v, want %v", got, max)
	}
	if got := Backoff(storage.BackoffLinear, base, 2, max); got != 2*time.Minute {
		t.Errorf("uncapped delay = %v, want 2m", got)
	}
}

func TestBackoffFloorsAttempt(t *testing.T) {
	base := 60 * time.Second
	if got := Backoff(storage.BackoffExponential, base, 0, 0); got != base {
		t.Errorf("attempt 0 = %v, want %v", got, base)
	}
}
