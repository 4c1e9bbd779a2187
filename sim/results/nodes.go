package results

import (
	"fmt"
	"math"
	"sort"

	"github.com/desim/envir/sim"
)

// node is one element of a recorder chain. Values flow from signal sources
// through filters to recorders.
type node interface {
	receive(t sim.Time, v float64)
	label() string
	next() []node
}

// fanout forwards values to delegates.
type fanout struct {
	delegates []node
}

func (f *fanout) attach(n node) { f.delegates = append(f.delegates, n) }

func (f *fanout) emit(t sim.Time, v float64) {
	for _, d := range f.delegates {
		d.receive(t, v)
	}
}

func (f *fanout) next() []node { return f.delegates }

// accumulator folds a value stream into one number. Filters emit the running
// value after every input; scalar recorders record the final value.
type accumulator interface {
	add(t sim.Time, v float64)
	value(now sim.Time) float64
}

type countAcc struct{ n int64 }

func (a *countAcc) add(sim.Time, float64)  { a.n++ }
func (a *countAcc) value(sim.Time) float64 { return float64(a.n) }

type sumAcc struct{ sum float64 }

func (a *sumAcc) add(_ sim.Time, v float64) { a.sum += v }
func (a *sumAcc) value(sim.Time) float64    { return a.sum }

type meanAcc struct {
	n   int64
	sum float64
}

func (a *meanAcc) add(_ sim.Time, v float64) {
	a.n++
	a.sum += v
}

func (a *meanAcc) value(sim.Time) float64 {
	if a.n == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.n)
}

type extremeAcc struct {
	has bool
	v   float64
	max bool
}

func (a *extremeAcc) add(_ sim.Time, v float64) {
	if !a.has || (a.max && v > a.v) || (!a.max && v < a.v) {
		a.v, a.has = v, true
	}
}

func (a *extremeAcc) value(sim.Time) float64 {
	if !a.has {
		return math.NaN()
	}
	return a.v
}

type lastAcc struct {
	has bool
	v   float64
}

func (a *lastAcc) add(_ sim.Time, v float64) { a.v, a.has = v, true }
func (a *lastAcc) value(sim.Time) float64 {
	if !a.has {
		return math.NaN()
	}
	return a.v
}

// timeAvgAcc is the time-weighted average of a piecewise constant signal.
// Each value holds until the next one; the average starts at the first value.
type timeAvgAcc struct {
	has      bool
	start    sim.Time
	lastT    sim.Time
	last     float64
	weighted float64
}

func (a *timeAvgAcc) add(t sim.Time, v float64) {
	if a.has {
		a.weighted += a.last * (t - a.lastT).Seconds()
	} else {
		a.start, a.has = t, true
	}
	a.lastT, a.last = t, v
}

func (a *timeAvgAcc) value(now sim.Time) float64 {
	if !a.has {
		return math.NaN()
	}
	span := (now - a.start).Seconds()
	if span <= 0 {
		return a.last
	}
	return (a.weighted + a.last*(now-a.lastT).Seconds()) / span
}

type constantAcc struct{ c float64 }

func (a *constantAcc) add(sim.Time, float64)  {}
func (a *constantAcc) value(sim.Time) float64 { return a.c }

// filterFactories are the filters usable in source expressions.
var filterFactories = map[string]func() accumulator{
	"count":     func() accumulator { return &countAcc{} },
	"sum":       func() accumulator { return &sumAcc{} },
	"mean":      func() accumulator { return &meanAcc{} },
	"min":       func() accumulator { return &extremeAcc{} },
	"max":       func() accumulator { return &extremeAcc{max: true} },
	"last":      func() accumulator { return &lastAcc{} },
	"timeavg":   func() accumulator { return &timeAvgAcc{} },
	"constant0": func() accumulator { return &constantAcc{c: 0} },
	"constant1": func() accumulator { return &constantAcc{c: 1} },
}

func filterNames() []string {
	names := make([]string, 0, len(filterFactories))
	for name := range filterFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// filterNode applies an accumulator and emits its running value.
type filterNode struct {
	fanout
	name string
	acc  accumulator
}

func (f *filterNode) receive(t sim.Time, v float64) {
	f.acc.add(t, v)
	f.emit(t, f.acc.value(t))
}

func (f *filterNode) label() string { return "filter " + f.name }

// warmupNode drops values timestamped before the end of the warm-up period.
type warmupNode struct {
	fanout
	until sim.Time
}

func (w *warmupNode) receive(t sim.Time, v float64) {
	if t < w.until {
		return
	}
	w.emit(t, v)
}

func (w *warmupNode) label() string { return fmt.Sprintf("warmup until %s", w.until) }

// signalSource is subscribed to one signal of the chain's component.
type signalSource struct {
	fanout
	chain  *Chain
	signal string
}

func (s *signalSource) ReceiveSignal(_ sim.Component, _ string, t sim.Time, v float64) {
	if s.chain.detached {
		return
	}
	s.emit(t, v)
}

func (s *signalSource) receive(t sim.Time, v float64) { s.emit(t, v) }

func (s *signalSource) label() string { return fmt.Sprintf("signal %q", s.signal) }

// exprNode evaluates an arithmetic source expression. Each distinct signal or
// filter operand feeds one input slot; the node emits once every slot has a
// value.
type exprNode struct {
	fanout
	e     *expr
	slot  map[*expr]int
	vals  []float64
	seen  []bool
	ready int
}

func (x *exprNode) input(i int) *exprInput { return &exprInput{x: x, idx: i} }

func (x *exprNode) set(i int, t sim.Time, v float64) {
	if !x.seen[i] {
		x.seen[i] = true
		x.ready++
	}
	x.vals[i] = v
	if x.ready == len(x.vals) {
		x.emit(t, x.e.eval(x.slot, x.vals))
	}
}

func (x *exprNode) label() string { return "expression " + x.e.String() }

// exprInput is the edge into one slot of an exprNode.
type exprInput struct {
	x   *exprNode
	idx int
}

func (in *exprInput) receive(t sim.Time, v float64) { in.x.set(in.idx, t, v) }
func (in *exprInput) label() string                 { return in.x.label() }
func (in *exprInput) next() []node                  { return in.x.next() }
