package results

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/output"
)

type fakeComponent struct {
	id        int
	path      string
	stats     []sim.StatisticDecl
	listeners map[string][]sim.SignalListener
}

func newComponent(id int, path string, stats ...sim.StatisticDecl) *fakeComponent {
	return &fakeComponent{id: id, path: path, stats: stats, listeners: map[string][]sim.SignalListener{}}
}

func (c *fakeComponent) ID() int                         { return c.id }
func (c *fakeComponent) FullPath() string                { return c.path }
func (c *fakeComponent) Statistics() []sim.StatisticDecl { return c.stats }

func (c *fakeComponent) Subscribe(signal string, l sim.SignalListener) {
	c.listeners[signal] = append(c.listeners[signal], l)
}

func (c *fakeComponent) Unsubscribe(signal string, l sim.SignalListener) {
	ls := c.listeners[signal]
	for i, existing := range ls {
		if existing == l {
			c.listeners[signal] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (c *fakeComponent) emit(signal string, t sim.Time, v float64) {
	for _, l := range c.listeners[signal] {
		l.ReceiveSignal(c, signal, t, v)
	}
}

func (c *fakeComponent) subscribers() int {
	n := 0
	for _, ls := range c.listeners {
		n += len(ls)
	}
	return n
}

func sec(s float64) sim.Time { return sim.FromSeconds(s) }

func newPipeline(store *config.Store, opts Options) (*Pipeline, *output.Memory) {
	mem := output.NewMemory()
	if store == nil {
		store = config.NewStore("")
	}
	return New(store, opts, mem, mem), mem
}

func TestAddStatistic_UnknownModeNamesModeAndStatistic(t *testing.T) {
	p, _ := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")

	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "queueLength", Record: []string{"vector", "bogus"}})

	var ce *config.Error
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), `"bogus"`)
	assert.Contains(t, err.Error(), `"queueLength"`)
	assert.Equal(t, 0, p.Len())
	assert.Zero(t, c.subscribers())
}

func TestAddStatistic_VectorAndSumShareOneSource(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")

	chain, err := p.AddStatistic(c, sim.StatisticDecl{Name: "queueLength", Record: []string{"vector", "sum"}})
	require.NoError(t, err)

	// GIVEN one source feeding exactly two recorders
	assert.Equal(t, []string{"vector", "sum"}, chain.Modes)
	require.Len(t, chain.sources, 1)
	assert.Len(t, chain.sources[0].next(), 2)
	assert.Equal(t, 1, c.subscribers())

	// WHEN the signal fires
	c.emit("queueLength", sec(1), 2)
	c.emit("queueLength", sec(2), 3)
	p.Finish(sec(3))

	// THEN both recorders saw the values
	sum, ok := mem.Scalar("net.queue", "queueLength:sum")
	require.True(t, ok)
	assert.Equal(t, 5.0, sum)
	vec := mem.Vector("net.queue", "queueLength:vector")
	require.NotNil(t, vec)
	assert.Equal(t, []output.Sample{{T: sec(1), Value: 2}, {T: sec(2), Value: 3}}, vec.Samples)
}

func TestResolveModes(t *testing.T) {
	declared := []string{"vector", "max", "timeavg?"}
	tests := []struct {
		list string
		want []string
	}{
		{"default", []string{"vector", "max"}},
		{"all", []string{"vector", "max", "timeavg"}},
		{"-vector", []string{"max"}},
		{"+timeavg", []string{"vector", "max", "timeavg"}},
		{"count", []string{"count"}},
		{"default,-max,+count", []string{"vector", "count"}},
		{"sum, sum ,vector", []string{"sum", "vector"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.list, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveModes(tt.list, declared))
		})
	}
}

func TestAddStatistic_ConfiguredModes(t *testing.T) {
	store := config.NewStore("")
	store.Set("**.queue.queueLength.result-recording-modes", "-vector,+count")
	p, _ := newPipeline(store, Options{})

	chain, err := p.AddStatistic(newComponent(1, "net.queue"), sim.StatisticDecl{Name: "queueLength", Record: []string{"vector", "max"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"max", "count"}, chain.Modes)
}

func TestAddStatistic_RecordingSwitches(t *testing.T) {
	store := config.NewStore("")
	store.Set("net.queue.a.vector-recording", "false")
	store.Set("net.queue.b.scalar-recording", "false")
	p, _ := newPipeline(store, Options{})
	c := newComponent(1, "net.queue")
	record := []string{"vector", "max", "stats"}

	a, err := p.AddStatistic(c, sim.StatisticDecl{Name: "a", Record: record})
	require.NoError(t, err)
	b, err := p.AddStatistic(c, sim.StatisticDecl{Name: "b", Record: record})
	require.NoError(t, err)

	assert.Equal(t, []string{"max", "stats"}, a.Modes)
	assert.Equal(t, []string{"vector"}, b.Modes)
}

func TestAddStatistic_NoActiveRecorderDoesNotSubscribe(t *testing.T) {
	store := config.NewStore("")
	store.Set("**.result-recording-modes", "-vector")
	p, _ := newPipeline(store, Options{})
	c := newComponent(1, "net.queue")

	chain, err := p.AddStatistic(c, sim.StatisticDecl{Name: "a", Record: []string{"vector"}})
	require.NoError(t, err)
	assert.Empty(t, chain.Modes)
	assert.Zero(t, c.subscribers())
	assert.Equal(t, 1, p.Len())
}

func TestAddStatistic_DuplicateIsConfigError(t *testing.T) {
	p, _ := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")
	decl := sim.StatisticDecl{Name: "queueLength", Record: []string{"max"}}

	_, err := p.AddStatistic(c, decl)
	require.NoError(t, err)
	_, err = p.AddStatistic(c, decl)
	var ce *config.Error
	assert.True(t, errors.As(err, &ce))
}

func TestAddStatistic_NormalizedKeys(t *testing.T) {
	p, _ := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")

	// Precomposed and decomposed e-acute name the same statistic.
	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "d\u00e9lai", Source: "delay", Record: []string{"max"}})
	require.NoError(t, err)
	_, err = p.AddStatistic(c, sim.StatisticDecl{Name: "de\u0301lai", Source: "delay", Record: []string{"max"}})
	assert.Error(t, err)

	_, ok := p.Lookup("net.queue", "de\u0301lai")
	assert.True(t, ok)
}

func TestAddStatistic_BadSourceExpression(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"unknown filter", "median(delay)"},
		{"unbalanced", "count(delay"},
		{"trailing operator", "a +"},
		{"constant only", "1 + 2"},
		{"stray token", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(nil, Options{})
			_, err := p.AddStatistic(newComponent(1, "net.q"), sim.StatisticDecl{Name: "s", Source: tt.source, Record: []string{"last"}})
			var ce *config.Error
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, "net.q", ce.Object)
		})
	}
}

func TestWarmupFilter(t *testing.T) {
	p, mem := newPipeline(nil, Options{Warmup: sec(5)})
	c := newComponent(1, "net.queue")
	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "filtered", Source: "len", Record: []string{"count", "vector"}})
	require.NoError(t, err)
	_, err = p.AddStatistic(c, sim.StatisticDecl{Name: "exempt", Source: "len", Record: []string{"count"}, NoWarmupFilter: true})
	require.NoError(t, err)

	c.emit("len", sec(1), 3)
	c.emit("len", sec(5), 4)
	c.emit("len", sec(6), 5)
	p.Finish(sec(10))

	n, _ := mem.Scalar("net.queue", "filtered:count")
	assert.Equal(t, 2.0, n, "values before the warm-up end are dropped")
	n, _ = mem.Scalar("net.queue", "exempt:count")
	assert.Equal(t, 3.0, n)
	assert.Len(t, mem.Vector("net.queue", "filtered:vector").Samples, 2)
}

func TestFilterChainsAndArithmetic(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")
	decls := []sim.StatisticDecl{
		{Name: "arrivals", Source: "count(arrival)", Record: []string{"last"}},
		{Name: "dropRatio", Source: "count(drop) / count(arrival)", Record: []string{"last", "vector"}},
		{Name: "scaled", Source: "-(2 * sum(arrival))", Record: []string{"last"}},
		{Name: "marks", Source: "sum(constant1(drop))", Record: []string{"last"}},
	}
	for _, d := range decls {
		_, err := p.AddStatistic(c, d)
		require.NoError(t, err)
	}

	c.emit("arrival", sec(1), 10)
	c.emit("arrival", sec(2), 20)
	c.emit("drop", sec(3), 7)
	c.emit("arrival", sec(4), 30)
	p.Finish(sec(5))

	got := func(name string) float64 {
		v, ok := mem.Scalar("net.queue", name)
		require.True(t, ok, name)
		return v
	}
	assert.Equal(t, 3.0, got("arrivals:last"))
	assert.InDelta(t, 1.0/3, got("dropRatio:last"), 1e-12)
	assert.Equal(t, -120.0, got("scaled:last"))
	assert.Equal(t, 1.0, got("marks:last"))

	// The ratio is emitted once both operands have a value.
	ratio := mem.Vector("net.queue", "dropRatio:vector")
	require.NotNil(t, ratio)
	assert.Equal(t, []output.Sample{{T: sec(3), Value: 0.5}, {T: sec(4), Value: 1.0 / 3}}, ratio.Samples)
}

func TestTimeAverage(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")
	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "len", Record: []string{"timeavg", "mean"}})
	require.NoError(t, err)

	// 0 for 2s, then 4 for 2s
	c.emit("len", sec(0), 0)
	c.emit("len", sec(2), 4)
	p.Finish(sec(4))

	avg, _ := mem.Scalar("net.queue", "len:timeavg")
	assert.InDelta(t, 2.0, avg, 1e-12)
	mean, _ := mem.Scalar("net.queue", "len:mean")
	assert.InDelta(t, 2.0, mean, 1e-12)
}

func TestEmptyScalarsAreNaN(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	_, err := p.AddStatistic(newComponent(1, "net.q"), sim.StatisticDecl{Name: "s", Record: []string{"count", "max", "stats"}})
	require.NoError(t, err)
	p.Finish(sec(1))

	n, _ := mem.Scalar("net.q", "s:count")
	assert.Equal(t, 0.0, n)
	m, _ := mem.Scalar("net.q", "s:max")
	assert.True(t, math.IsNaN(m))
	require.Len(t, mem.Statistics, 1)
	assert.Equal(t, int64(0), mem.Statistics[0].Statistic.Count)
}

func TestSummarize_Histogram(t *testing.T) {
	s := summarize([]float64{1, 2, 2, 3, 10}, 3)

	assert.Equal(t, int64(5), s.Count)
	assert.Equal(t, 18.0, s.Sum)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 3.6, s.Mean, 1e-12)
	require.Len(t, s.Bins, 3)
	assert.Equal(t, 1.0, s.Bins[0].Lower)
	assert.Equal(t, 4.0, s.Bins[0].Count)
	assert.Equal(t, 0.0, s.Bins[1].Count)
	assert.Equal(t, 1.0, s.Bins[2].Count)

	var total float64
	for _, b := range s.Bins {
		total += b.Count
	}
	assert.Equal(t, float64(s.Count), total)
}

func TestSummarize_SingleDistinctValue(t *testing.T) {
	s := summarize([]float64{4, 4}, 2)
	require.Len(t, s.Bins, 2)
	assert.Equal(t, 2.0, s.Bins[0].Count)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestSummarize_NonFiniteAndExtremeValues(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name     string
		x        []float64
		wantBins int
		binned   float64
		min, max float64
	}{
		{name: "positive infinity", x: []float64{1, 2, inf}, wantBins: 4, binned: 2, min: 1, max: inf},
		{name: "negative infinity", x: []float64{-inf, 5}, wantBins: 4, binned: 1, min: -inf, max: 5},
		{name: "only infinities", x: []float64{inf, -inf}, min: -inf, max: inf},
		{name: "span overflows", x: []float64{-math.MaxFloat64, math.MaxFloat64}, min: -math.MaxFloat64, max: math.MaxFloat64},
		{name: "single huge value", x: []float64{math.MaxFloat64}, min: math.MaxFloat64, max: math.MaxFloat64},
		{name: "huge finite span", x: []float64{0, math.MaxFloat64 / 2}, wantBins: 4, binned: 2, min: 0, max: math.MaxFloat64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN the values are summarized into four cells
			var s output.Statistic
			require.NotPanics(t, func() { s = summarize(tt.x, 4) })

			// THEN the extremes are kept and every cell edge is finite and increasing
			assert.Equal(t, int64(len(tt.x)), s.Count)
			assert.Equal(t, tt.min, s.Min)
			assert.Equal(t, tt.max, s.Max)
			require.Len(t, s.Bins, tt.wantBins)
			var total float64
			for i, b := range s.Bins {
				assert.False(t, math.IsInf(b.Lower, 0) || math.IsNaN(b.Lower), "lower edge of cell %d", i)
				assert.False(t, math.IsInf(b.Upper, 0) || math.IsNaN(b.Upper), "upper edge of cell %d", i)
				assert.Less(t, b.Lower, b.Upper)
				total += b.Count
			}
			assert.Equal(t, tt.binned, total)
		})
	}
}

func TestRecorders_DivisionByZeroSource(t *testing.T) {
	// GIVEN a ratio statistic recorded by every summarizing mode
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.q")
	_, err := p.AddStatistic(c, sim.StatisticDecl{
		Name:   "ratio",
		Source: "a/b",
		Record: []string{"histogram", "stats", "timeavg", "mean", "max"},
	})
	require.NoError(t, err)

	// WHEN the denominator is zero
	c.emit("a", sec(1), 1)
	c.emit("b", sec(1), 0)
	c.emit("b", sec(2), 2)
	require.NotPanics(t, func() { p.Finish(sec(3)) })

	// THEN the infinite ratio is recorded without failing the pipeline
	require.NoError(t, p.Err())
	m, ok := mem.Scalar("net.q", "ratio:max")
	require.True(t, ok)
	assert.True(t, math.IsInf(m, 1))
	require.Len(t, mem.Statistics, 2)
	for _, rec := range mem.Statistics {
		assert.Equal(t, int64(2), rec.Statistic.Count, rec.Name)
		for _, b := range rec.Statistic.Bins {
			assert.False(t, math.IsInf(b.Upper, 0), rec.Name)
		}
	}
}

func TestTeardown_IdempotentAndDetaches(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")
	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "len", Record: []string{"sum"}})
	require.NoError(t, err)
	c.emit("len", sec(1), 2)

	// WHEN the component is torn down twice
	p.Teardown(c, sec(2))
	p.Teardown(c, sec(3))

	// THEN the pending scalar is recorded once and no listener remains
	assert.Len(t, mem.Scalars, 1)
	assert.Zero(t, c.subscribers())
	assert.Equal(t, 0, p.Len())
}

func TestFinishThenTeardown_RecordsOnce(t *testing.T) {
	p, mem := newPipeline(nil, Options{})
	c := newComponent(1, "net.queue")
	_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "len", Record: []string{"sum", "max"}})
	require.NoError(t, err)

	p.Finish(sec(1))
	p.Teardown(c, sec(1))

	assert.Len(t, mem.Scalars, 2)
}

func TestBackendFailures(t *testing.T) {
	t.Run("skipped by default", func(t *testing.T) {
		p, mem := newPipeline(nil, Options{Warnings: true})
		c := newComponent(1, "net.q")
		_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "s", Record: []string{"vector"}})
		require.NoError(t, err)

		mem.Fail = errors.New("disk full")
		c.emit("s", sec(1), 1)
		mem.Fail = nil
		c.emit("s", sec(2), 2)

		assert.Equal(t, 1, p.Failures())
		assert.NoError(t, p.Err())
		assert.Len(t, mem.Vector("net.q", "s:vector").Samples, 1)
	})

	t.Run("fatal when configured", func(t *testing.T) {
		p, mem := newPipeline(nil, Options{BackendErrorsFatal: true})
		c := newComponent(1, "net.q")
		_, err := p.AddStatistic(c, sim.StatisticDecl{Name: "s", Record: []string{"last"}})
		require.NoError(t, err)

		mem.Fail = errors.New("disk full")
		p.Finish(sec(1))

		var be *output.BackendError
		assert.True(t, errors.As(p.Err(), &be))
	})
}

func TestAddResultRecorders_AllDeclaredStatistics(t *testing.T) {
	p, _ := newPipeline(nil, Options{Debug: true})
	c := newComponent(1, "net.queue",
		sim.StatisticDecl{Name: "a", Record: []string{"max"}},
		sim.StatisticDecl{Name: "b", Record: []string{"min"}},
	)
	require.NoError(t, p.AddResultRecorders(c))
	assert.Equal(t, 2, p.Len())
}

func TestDump(t *testing.T) {
	store := config.NewStore("")
	store.Set("**.sink.delay.result-recording-modes", "+histogram")
	p, _ := newPipeline(store, Options{Warmup: sec(5)})

	sink := newComponent(2, "net.sink", sim.StatisticDecl{Name: "delay", Record: []string{"stats", "histogram?"}})
	queue := newComponent(1, "net.queue",
		sim.StatisticDecl{Name: "queueLength", Record: []string{"vector", "max", "timeavg?"}},
		sim.StatisticDecl{Name: "dropRatio", Source: "count(drop) / count(arrival)", Record: []string{"last"}, NoWarmupFilter: true},
	)
	// Attach out of order; the dump is sorted.
	require.NoError(t, p.AddResultRecorders(sink))
	require.NoError(t, p.AddResultRecorders(queue))

	var buf bytes.Buffer
	p.Dump(&buf)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dump", buf.Bytes())
}
