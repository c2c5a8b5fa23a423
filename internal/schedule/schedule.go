// Package schedule fires a callback on a recurring cron cadence.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// ErrInvalidSchedule reports an unparsable cadence expression.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Parse accepts six-field expressions with seconds ("0 0 3 * * *") and
// descriptors such as "@daily".
func Parse(spec string) (cron.Schedule, error) {
	s, err := cron.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}
	return s, nil
}

// Option lets you override default settings on a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates cadences in loc instead of local time.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Scheduler wraps a cron runner. Callbacks are fire-and-forget and are
// expected to handle their own failures.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	entries  []cron.Schedule
}

// New returns a stopped Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{location: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.NewWithLocation(s.location)
	return s
}

// Register invokes fn every time spec elapses.
func (s *Scheduler) Register(spec string, fn func()) error {
	sched, err := Parse(spec)
	if err != nil {
		return err
	}
	s.cron.Schedule(sched, cron.FuncJob(fn))
	s.entries = append(s.entries, sched)
	return nil
}

// Start begins firing registered callbacks in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts future ticks. A callback already running is not interrupted.
func (s *Scheduler) Stop() { s.cron.Stop() }

// Next returns the earliest upcoming fire time across registrations after
// now, or the zero time when nothing is registered.
func (s *Scheduler) Next(now time.Time) time.Time {
	var next time.Time
	for _, sched := range s.entries {
		t := sched.Next(now.In(s.location))
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Upcoming lists the next n fire times of spec after now in loc.
func Upcoming(spec string, loc *time.Location, now time.Time, n int) ([]time.Time, error) {
	if n < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", n)
	}
	sched, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := now.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		out = append(out, t)
	}
	return out, nil
}
