package envir

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/clock"
	"github.com/desim/envir/sim/lifecycle"
)

// RunStats are the counters of one run.
type RunStats struct {
	Events          int64
	SimulatedTime   sim.Time
	Elapsed         time.Duration
	Components      int // components created, including deleted ones
	Chains          int // recorder chains attached when the simulation ended
	RNGDraws        uint64
	EventlogRecords int
	BackendFailures int
}

// EventsPerSecond returns the event rate against wall-clock time.
func (s RunStats) EventsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Events) / s.Elapsed.Seconds()
}

// SimSecPerSecond returns simulated seconds per wall-clock second.
func (s RunStats) SimSecPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return s.SimulatedTime.Seconds() / s.Elapsed.Seconds()
}

// Print writes the stats as a human-readable block.
func (s RunStats) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Run Statistics ===")
	fmt.Fprintf(w, "Events            : %s\n", humanize.Comma(s.Events))
	fmt.Fprintf(w, "Simulated Time    : %s\n", s.SimulatedTime)
	fmt.Fprintf(w, "Elapsed           : %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Elapsed > 0 {
		fmt.Fprintf(w, "Events/sec        : %s\n", humanize.CommafWithDigits(s.EventsPerSecond(), 1))
		fmt.Fprintf(w, "Simsec/sec        : %s\n", humanize.FormatFloat("#,###.####", s.SimSecPerSecond()))
	}
	fmt.Fprintf(w, "Components        : %d\n", s.Components)
	fmt.Fprintf(w, "Recorder Chains   : %d\n", s.Chains)
	fmt.Fprintf(w, "RNG Draws         : %s\n", humanize.Comma(int64(s.RNGDraws)))
	if s.EventlogRecords > 0 {
		fmt.Fprintf(w, "Event Log Records : %s\n", humanize.Comma(int64(s.EventlogRecords)))
	}
	if s.BackendFailures > 0 {
		fmt.Fprintf(w, "Backend Failures  : %d\n", s.BackendFailures)
	}
}

// RunResult is the detail of the RunDone notification and the return value
// of Run.
type RunResult struct {
	RunID     string
	RunNumber int
	Network   string
	Outcome   lifecycle.Outcome
	// Err is the failure for outcome error, ErrCancelled for cancelled
	// runs, the *clock.LimitError for time-limit stops and nil otherwise.
	Err   error
	Stats RunStats

	Fingerprint         string
	ExpectedFingerprint string // empty when none is configured
	FingerprintMismatch bool

	OptionsDigest string
}

// Limit returns the limit that stopped the run, if any.
func (r *RunResult) Limit() (*clock.LimitError, bool) {
	le, ok := r.Err.(*clock.LimitError)
	return le, ok
}

// Print writes a summary of the run followed by its stats.
func (r *RunResult) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Run Result ===")
	fmt.Fprintf(w, "Run               : #%d %s\n", r.RunNumber, r.RunID)
	fmt.Fprintf(w, "Network           : %s\n", r.Network)
	fmt.Fprintf(w, "Outcome           : %s\n", r.Outcome)
	if r.Err != nil {
		fmt.Fprintf(w, "Reason            : %v\n", r.Err)
	}
	switch {
	case r.ExpectedFingerprint == "":
		fmt.Fprintf(w, "Fingerprint       : %s\n", r.Fingerprint)
	case r.FingerprintMismatch:
		fmt.Fprintf(w, "Fingerprint       : %s (MISMATCH, expected %s)\n", r.Fingerprint, r.ExpectedFingerprint)
	default:
		fmt.Fprintf(w, "Fingerprint       : %s (verified)\n", r.Fingerprint)
	}
	r.Stats.Print(w)
}
