package sim

import (
	"math"
	"strconv"
)

// Time is simulated time in ticks. One tick is one microsecond.
type Time int64

// TicksPerSecond is the number of ticks in one simulated second.
const TicksPerSecond = 1_000_000

// MaxTime is the largest representable simulated time.
const MaxTime = Time(math.MaxInt64)

// FromSeconds converts seconds to ticks, rounding to the nearest tick.
func FromSeconds(s float64) Time {
	return Time(math.Round(s * TicksPerSecond))
}

// Seconds returns t in seconds.
func (t Time) Seconds() float64 {
	return float64(t) / TicksPerSecond
}

// Raw returns the underlying tick count. The fingerprint is fed with this
// value so that it never depends on floating-point formatting.
func (t Time) Raw() int64 {
	return int64(t)
}

// String renders t as seconds with an "s" suffix, e.g. "12.5s".
func (t Time) String() string {
	return strconv.FormatFloat(t.Seconds(), 'f', -1, 64) + "s"
}
