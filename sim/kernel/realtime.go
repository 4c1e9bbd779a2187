package kernel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
)

// pacerSlice bounds a single sleep, so an interrupt is noticed promptly.
const pacerSlice = 100 * time.Millisecond

// Pacer holds event execution back until the wall clock catches up with
// simulated time. Scaling is simulated seconds per wall-clock second.
type Pacer struct {
	scaling float64
	now     func() time.Time
	sleep   func(time.Duration)
	start   time.Time
	waited  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPacer creates a pacer. A non-positive scaling means 1.
func NewPacer(scaling float64) *Pacer {
	if scaling <= 0 {
		scaling = 1
	}
	return &Pacer{scaling: scaling, now: time.Now, sleep: time.Sleep, stop: make(chan struct{})}
}

// Start anchors simulated time zero at the current wall-clock time.
func (p *Pacer) Start() { p.start = p.now() }

// Wait sleeps until the wall-clock time that corresponds to t, in slices of
// at most pacerSlice. It returns early once Interrupt has been called; time
// spent sleeping counts against a CPU time limit like any other wall time.
func (p *Pacer) Wait(t sim.Time) {
	target := p.start.Add(time.Duration(t.Seconds() / p.scaling * float64(time.Second)))
	for {
		d := target.Sub(p.now())
		if d <= 0 || p.interrupted() {
			return
		}
		d = min(d, pacerSlice)
		p.sleep(d)
		p.waited += d
	}
}

// Interrupt makes the current and every later Wait return immediately. It
// may be called from any goroutine.
func (p *Pacer) Interrupt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pacer) interrupted() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Waited returns the total time spent sleeping.
func (p *Pacer) Waited() time.Duration { return p.waited }

// Params are the kernel settings taken from the run options.
type Params struct {
	RealtimeScaling float64
}

// Factory creates a kernel for one run.
type Factory func(p Params) sim.Kernel

// Scheduler classes.
const (
	ClassSequential = "sequential"
	ClassRealtime   = "realtime"
)

// Classes maps scheduler class names to kernel factories.
var Classes = map[string]Factory{
	ClassSequential: func(Params) sim.Kernel { return New() },
	ClassRealtime: func(p Params) sim.Kernel {
		return New(WithPacer(NewPacer(p.RealtimeScaling)))
	},
}

// NewKernel creates a kernel of the named scheduler class. An unknown class
// is a *config.Error.
func NewKernel(class string, p Params) (sim.Kernel, error) {
	f, ok := Classes[class]
	if !ok {
		names := make([]string, 0, len(Classes))
		for name := range Classes {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, config.Errorf("scheduler-class", "", "unknown scheduler class %q (known: %s)", class, strings.Join(names, ", "))
	}
	return f(p), nil
}
