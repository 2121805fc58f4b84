package clock

import "time"

// Clock abstracts wall-clock reads so trigger gating and escalation
// scheduling stay deterministic under test.
type Clock interface {
	Now() time.Time
}

// System reads the real clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always reports the same instant. Advance moves it forward.
type Fixed struct {
	T time.Time
}

// NewFixed pins the clock to t.
func NewFixed(t time.Time) *Fixed { return &Fixed{T: t} }

func (f *Fixed) Now() time.Time { return f.T }

// Advance shifts the fixed instant by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

var _ Clock = System{}
var _ Clock = (*Fixed)(nil)
