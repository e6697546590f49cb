package gitops

import (
	"context"
	"time"
)

// Overall CI readings.
const (
	CIPending = "PENDING"
	CISuccess = "SUCCESS"
	CIFailure = "FAILURE"
)

// FixItem is one parsed CI failure, the seed for an auto-created fix
// task.
type FixItem struct {
	Name    string
	Summary string
}

// Observation is one reading of the CI status for a branch.
type Observation struct {
	Overall  string
	Failures []FixItem
}

// Terminal reports whether the reading is final in itself. Stability
// across consecutive readings is the tracker's job.
func (o Observation) Terminal() bool {
	return o.Overall == CISuccess || o.Overall == CIFailure
}

// StabilityTracker accepts successive observations and declares a
// terminal result only after the same terminal overall reading has been
// seen the required number of consecutive times. One flapped reading
// resets the streak.
type StabilityTracker struct {
	required int
	last     string
	streak   int
}

// NewStabilityTracker creates a tracker; required is clamped to at
// least 2.
func NewStabilityTracker(required int) *StabilityTracker {
	if required < 2 {
		required = 2
	}
	return &StabilityTracker{required: required}
}

// Observe records one reading and reports whether the terminal result
// is now stable.
func (t *StabilityTracker) Observe(obs Observation) bool {
	if !obs.Terminal() {
		t.last = ""
		t.streak = 0
		return false
	}
	if obs.Overall == t.last {
		t.streak++
	} else {
		t.last = obs.Overall
		t.streak = 1
	}
	return t.streak >= t.required
}

// StatusFunc produces one CI observation. Injectable so polling can be
// tested without gh.
type StatusFunc func(ctx context.Context) (Observation, error)

// Poller drives CI status polling until a stable terminal observation.
type Poller struct {
	Status   StatusFunc
	Interval time.Duration
	Required int

	// OnPoll, when set, is invoked after every reading with the running
	// poll count.
	OnPoll func(obs Observation, pollCount int)
}

// Await polls until the tracker declares stability or the context is
// cancelled. It returns the final observation and the number of polls
// taken.
func (p *Poller) Await(ctx context.Context) (Observation, int, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	tracker := NewStabilityTracker(p.Required)

	polls := 0
	for {
		obs, err := p.Status(ctx)
		if err != nil {
			return Observation{}, polls, err
		}
		polls++
		if p.OnPoll != nil {
			p.OnPoll(obs, polls)
		}
		if tracker.Observe(obs) {
			return obs, polls, nil
		}

		select {
		case <-ctx.Done():
			return Observation{}, polls, ctx.Err()
		case <-time.After(interval):
		}
	}
}
