// Package clock tracks the wall-clock and simulated time a run consumes.
package clock

import (
	"fmt"
	"time"

	"github.com/desim/envir/sim"
)

// State of a Clock.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LimitReason tells which budget a run exhausted.
type LimitReason int

const (
	SimTimeLimit LimitReason = iota
	CPUTimeLimit
)

func (r LimitReason) String() string {
	if r == CPUTimeLimit {
		return "cpu-time-limit"
	}
	return "sim-time-limit"
}

// LimitError is the termination signal raised when a limit is reached. It
// is not a failure: the run shuts down in order and keeps its results.
type LimitError struct {
	Reason LimitReason
	Limit  string // configured limit, formatted
	At     string // simulated or elapsed time when detected, formatted
}

func (e *LimitError) Error() string {
	if e.Reason == CPUTimeLimit {
		return fmt.Sprintf("CPU time limit reached: %s elapsed, limit %s", e.At, e.Limit)
	}
	return fmt.Sprintf("simulation time limit reached: next event at %s, limit %s", e.At, e.Limit)
}

// Clock accumulates wall-clock time over Start/Stop intervals and checks it,
// together with simulated time, against the run's limits. Zero limits mean
// unlimited.
type Clock struct {
	now      func() time.Time
	state    State
	started  time.Time
	elapsed  time.Duration
	simTime  sim.Time
	simLimit sim.Time
	cpuLimit time.Duration
}

// Option customizes a Clock.
type Option func(*Clock)

// WithNow replaces the wall-clock source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New creates an idle Clock.
func New(simLimit sim.Time, cpuLimit time.Duration, opts ...Option) *Clock {
	c := &Clock{now: time.Now, simLimit: simLimit, cpuLimit: cpuLimit}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins an interval. It is a no-op while Running.
func (c *Clock) Start() {
	if c.state == Running {
		return
	}
	c.started = c.now()
	c.state = Running
}

// Stop ends the current interval and records the simulated time reached.
// It is a no-op unless Running.
func (c *Clock) Stop(simTime sim.Time) {
	if c.state != Running {
		return
	}
	c.elapsed += c.now().Sub(c.started)
	c.simTime = simTime
	c.state = Stopped
}

// Reset returns the clock to Idle with nothing accumulated.
func (c *Clock) Reset() {
	c.state = Idle
	c.elapsed = 0
	c.simTime = 0
}

// State returns the current state.
func (c *Clock) State() State {
	return c.state
}

// TotalElapsed returns the accumulated wall-clock time, including the
// interval in progress.
func (c *Clock) TotalElapsed() time.Duration {
	if c.state == Running {
		return c.elapsed + c.now().Sub(c.started)
	}
	return c.elapsed
}

// SimulatedTime returns the simulated time recorded at the last Stop.
func (c *Clock) SimulatedTime() sim.Time {
	return c.simTime
}

// CheckLimits returns a *LimitError when the next event time lies beyond the
// simulated-time limit or the CPU-time budget is used up.
func (c *Clock) CheckLimits(next sim.Time) error {
	if c.simLimit > 0 && next > c.simLimit {
		return &LimitError{Reason: SimTimeLimit, Limit: c.simLimit.String(), At: next.String()}
	}
	if c.cpuLimit > 0 {
		if elapsed := c.TotalElapsed(); elapsed > c.cpuLimit {
			return &LimitError{Reason: CPUTimeLimit, Limit: c.cpuLimit.String(), At: elapsed.Round(time.Millisecond).String()}
		}
	}
	return nil
}

// SimLimit returns the configured simulated-time limit, zero if unlimited.
func (c *Clock) SimLimit() sim.Time {
	return c.simLimit
}
