package eventlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
)

// Bound is one end of a recording interval: a simulated time or, when
// IsEvent is set, an event number. A zero-value Bound is open.
type Bound struct {
	Set     bool
	IsEvent bool
	Time    sim.Time
	Event   int64
}

func (b Bound) String() string {
	switch {
	case !b.Set:
		return ""
	case b.IsEvent:
		return "#" + strconv.FormatInt(b.Event, 10)
	default:
		return b.Time.String()
	}
}

// Interval is a closed recording range "from..to".
type Interval struct {
	From, To Bound
}

func (iv Interval) String() string {
	return iv.From.String() + ".." + iv.To.String()
}

// contains reports whether the position (t, event) lies within iv.
func (iv Interval) contains(t sim.Time, event int64) bool {
	if iv.From.Set {
		if iv.From.IsEvent && event < iv.From.Event || !iv.From.IsEvent && t < iv.From.Time {
			return false
		}
	}
	if iv.To.Set {
		if iv.To.IsEvent && event > iv.To.Event || !iv.To.IsEvent && t > iv.To.Time {
			return false
		}
	}
	return true
}

// ParseIntervals parses a comma separated list of "from..to" ranges. Each
// bound is a time quantity such as "10s" or "1.5ms", or an event number
// prefixed with "#"; either bound may be omitted. An empty list yields no
// intervals.
func ParseIntervals(list string) ([]Interval, error) {
	var intervals []Interval
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		from, to, found := strings.Cut(item, "..")
		if !found {
			return nil, &config.FormatError{Text: item, Expected: `"from..to"`}
		}
		var (
			iv  Interval
			err error
		)
		if iv.From, err = parseBound(from); err != nil {
			return nil, err
		}
		if iv.To, err = parseBound(to); err != nil {
			return nil, err
		}
		if iv.From.Set && iv.To.Set && iv.From.IsEvent == iv.To.IsEvent {
			if iv.From.IsEvent && iv.From.Event > iv.To.Event || !iv.From.IsEvent && iv.From.Time > iv.To.Time {
				return nil, &config.FormatError{Text: item, Expected: "a range whose start is not after its end"}
			}
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

func parseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bound{}, nil
	}
	if rest, ok := strings.CutPrefix(s, "#"); ok {
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || n < 0 {
			return Bound{}, &config.FormatError{Text: s, Expected: "an event number such as #100"}
		}
		return Bound{Set: true, IsEvent: true, Event: n}, nil
	}
	secs, err := config.ParseQuantity(s, "s")
	if err != nil {
		return Bound{}, fmt.Errorf("recording interval bound: %w", err)
	}
	if secs < 0 {
		return Bound{}, &config.FormatError{Text: s, Expected: "a non-negative simulated time"}
	}
	return Bound{Set: true, Time: sim.FromSeconds(secs)}, nil
}
