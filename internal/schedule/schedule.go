// Package schedule computes when an agent instance should run next.
//
// The calculator is pure: given a spec and a reference time it returns a
// timestamp. All randomness is a single jitter draw per call from an injected
// source, so scheduling is deterministic under test.
package schedule

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec describes one instance's cadence.
//
// All durations are non-negative; Interval must be positive. Cron, when set,
// drives the next-run computation instead of Interval (jitter still applies).
type Spec struct {
	Interval     time.Duration
	Jitter       time.Duration
	Offset       time.Duration
	InitialDelay time.Duration
	OnlyDue      bool
	Cron         string
}

// Validate reports whether the spec is usable.
func (s Spec) Validate() error {
	if s.Interval <= 0 && s.Cron == "" {
		return fmt.Errorf("schedule: interval must be > 0 (got %v)", s.Interval)
	}
	if s.Jitter < 0 {
		return fmt.Errorf("schedule: jitter must be >= 0 (got %v)", s.Jitter)
	}
	if s.Offset < 0 {
		return fmt.Errorf("schedule: offset must be >= 0 (got %v)", s.Offset)
	}
	if s.InitialDelay < 0 {
		return fmt.Errorf("schedule: initial_delay must be >= 0 (got %v)", s.InitialDelay)
	}
	if s.Cron != "" {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("schedule: invalid cron expression %q: %w", s.Cron, err)
		}
	}
	return nil
}

// Calculator derives run times from specs.
type Calculator struct {
	rng *rand.Rand
}

// NewCalculator builds a calculator over the given randomness source.
// A nil source seeds from the wall clock.
func NewCalculator(src rand.Source) *Calculator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Calculator{rng: rand.New(src)}
}

// InitialRunAt computes the first eligible run time for a never-scheduled
// instance: now + initial_delay + offset + uniform(-jitter, +jitter), clamped
// so the result is never before now.
func (c *Calculator) InitialRunAt(spec Spec, now time.Time) time.Time {
	at := now.Add(spec.InitialDelay).Add(spec.Offset).Add(c.jitter(spec.Jitter))
	if at.Before(now) {
		return now
	}
	return at
}

// NextRunAt computes the run time that follows a run completed at from:
// from + interval + uniform(-jitter, +jitter).
//
// No clamping: when jitter exceeds interval the result may land before from.
// That mirrors the documented behavior; callers must not "fix" it.
func (c *Calculator) NextRunAt(spec Spec, from time.Time) time.Time {
	base := from.Add(spec.Interval)
	if spec.Cron != "" {
		if sched, err := cron.ParseStandard(spec.Cron); err == nil {
			base = sched.Next(from)
		}
	}
	return base.Add(c.jitter(spec.Jitter))
}

// jitter draws once, uniformly in [-max, +max].
func (c *Calculator) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(c.rng.Int63n(int64(2*max)+1)) - max
}
