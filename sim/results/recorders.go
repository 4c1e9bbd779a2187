package results

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/output"
)

// histogramBins is the number of equal-width cells of histogram recorders.
const histogramBins = 10

// recorder is a terminal node. finish writes whatever the recorder holds;
// it is called at most once per recorder.
type recorder interface {
	node
	mode() string
	finish(end sim.Time)
}

// recorderBase carries what every recorder needs to write results.
type recorderBase struct {
	p         *Pipeline
	component string
	statistic string
	meta      output.Meta
	kind      string
}

func (r *recorderBase) mode() string  { return r.kind }
func (r *recorderBase) label() string { return "recorder " + r.kind }
func (r *recorderBase) next() []node  { return nil }

// resultName is the name results are written under, e.g. "queueLength:max".
func (r *recorderBase) resultName() string {
	return r.statistic + ":" + r.kind
}

// scalarRecorder records the final value of an accumulator.
type scalarRecorder struct {
	recorderBase
	acc accumulator
}

func (r *scalarRecorder) receive(t sim.Time, v float64) { r.acc.add(t, v) }

func (r *scalarRecorder) finish(end sim.Time) {
	err := r.p.scalars.RecordScalar(r.component, r.resultName(), r.acc.value(end), r.meta)
	r.p.report(err)
}

// vectorRecorder writes every value. The vector is registered with the
// backend on its first value.
type vectorRecorder struct {
	recorderBase
	id         int
	registered bool
}

func (r *vectorRecorder) receive(t sim.Time, v float64) {
	if !r.registered {
		id, err := r.p.vectors.RegisterVector(r.component, r.resultName(), r.meta)
		if err != nil {
			r.p.report(err)
			return
		}
		r.id, r.registered = id, true
	}
	r.p.report(r.p.vectors.RecordValue(r.id, t, v))
}

func (r *vectorRecorder) finish(sim.Time) {}

// summaryRecorder collects values and records a statistic summary, with
// histogram cells when bins is positive.
type summaryRecorder struct {
	recorderBase
	values []float64
	bins   int
}

func (r *summaryRecorder) receive(_ sim.Time, v float64) {
	if math.IsNaN(v) {
		return
	}
	r.values = append(r.values, v)
}

func (r *summaryRecorder) finish(sim.Time) {
	s := summarize(r.values, r.bins)
	r.p.report(r.p.scalars.RecordStatistic(r.component, r.resultName(), s, r.meta))
}

// summarize computes count, sum, mean, standard deviation, extremes and
// optionally equal-width histogram cells of x. Infinite values count towards
// the moments and extremes but are not binned. Cells are left out when the
// finite values span a range whose edges cannot be represented.
func summarize(x []float64, bins int) output.Statistic {
	s := output.Statistic{Count: int64(len(x))}
	if len(x) == 0 {
		s.Mean, s.StdDev, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Sum = floats.Sum(x)
	s.Min = floats.Min(x)
	s.Max = floats.Max(x)
	if len(x) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	} else {
		s.Mean = x[0]
	}
	if bins > 0 {
		s.Bins = histogram(x, bins)
	}
	return s
}

// histogram bins the finite values of x into equal-width cells. It returns
// nil when there are no finite values or the cell edges overflow.
func histogram(x []float64, bins int) []output.Bin {
	finite := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return nil
	}
	sort.Float64s(finite)
	lo, hi := finite[0], finite[len(finite)-1]
	if hi == lo {
		hi = lo + math.Max(1, math.Abs(lo))
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// The top divider is exclusive; nudge it so the maximum falls inside.
	dividers[bins] = math.Nextafter(dividers[bins], math.Inf(1))
	for i, d := range dividers {
		if math.IsInf(d, 0) || math.IsNaN(d) || (i > 0 && d <= dividers[i-1]) {
			return nil
		}
	}
	counts := stat.Histogram(nil, dividers, finite, nil)
	cells := make([]output.Bin, bins)
	for i := range counts {
		cells[i] = output.Bin{Lower: dividers[i], Upper: dividers[i+1], Count: counts[i]}
	}
	return cells
}

// recorderKind describes a recording mode.
type recorderKind struct {
	vector bool // disabled by vector-recording=false; otherwise by scalar-recording=false
	build  func(base recorderBase) recorder
}

func scalarKind(newAcc func() accumulator) recorderKind {
	return recorderKind{build: func(base recorderBase) recorder {
		return &scalarRecorder{recorderBase: base, acc: newAcc()}
	}}
}

// recorderKinds are the recognized recording modes.
var recorderKinds = map[string]recorderKind{
	"count":   scalarKind(filterFactories["count"]),
	"sum":     scalarKind(filterFactories["sum"]),
	"mean":    scalarKind(filterFactories["mean"]),
	"min":     scalarKind(filterFactories["min"]),
	"max":     scalarKind(filterFactories["max"]),
	"last":    scalarKind(filterFactories["last"]),
	"timeavg": scalarKind(filterFactories["timeavg"]),
	"vector": {vector: true, build: func(base recorderBase) recorder {
		return &vectorRecorder{recorderBase: base}
	}},
	"histogram": {build: func(base recorderBase) recorder {
		return &summaryRecorder{recorderBase: base, bins: histogramBins}
	}},
	"stats": {build: func(base recorderBase) recorder {
		return &summaryRecorder{recorderBase: base}
	}},
}

func recorderNames() []string {
	names := make([]string, 0, len(recorderKinds))
	for name := range recorderKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
