package kernel

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/fingerprint"
)

// recordingHooks logs every callback as a short string.
type recordingHooks struct {
	calls        []string
	checkSignals bool
	fp           fingerprint.Hasher
}

func (h *recordingHooks) add(format string, args ...any) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *recordingHooks) ComponentCreated(c sim.Component)    { h.add("created %s", c.FullPath()) }
func (h *recordingHooks) ComponentConfigured(c sim.Component) { h.add("configured %s", c.FullPath()) }
func (h *recordingHooks) ComponentDeleted(c sim.Component)    { h.add("deleted %s", c.FullPath()) }
func (h *recordingHooks) EventExecuted(ev sim.Event) {
	h.add("event #%d %s %s", ev.Number, ev.Time, ev.Component.FullPath())
}
func (h *recordingHooks) MessageScheduled(m sim.Message) { h.add("scheduled %s", m.Name) }
func (h *recordingHooks) MessageCancelled(m sim.Message) { h.add("cancelled %s", m.Name) }
func (h *recordingHooks) MessageSent(m sim.Message)      { h.add("sent %s", m.Name) }
func (h *recordingHooks) LogLine(c sim.Component, text string) {
	h.add("log %s: %s", c.FullPath(), text)
}
func (h *recordingHooks) RNG(c sim.Component, k int) (*rand.Rand, error) {
	return rand.New(rand.NewPCG(uint64(c.ID()), uint64(k))), nil
}
func (h *recordingHooks) RequestStatistic(c sim.Component, decl sim.StatisticDecl) error {
	h.add("statistic %s.%s", c.FullPath(), decl.Name)
	return nil
}
func (h *recordingHooks) Fingerprint() *fingerprint.Hasher { return &h.fp }
func (h *recordingHooks) CheckSignals() bool               { return h.checkSignals }

func (h *recordingHooks) events() []string {
	var out []string
	for _, c := range h.calls {
		if len(c) > 6 && c[:6] == "event " {
			out = append(out, c)
		}
	}
	return out
}

// funcBehavior adapts functions to Behavior.
type funcBehavior struct {
	init   func(m *Module) error
	handle func(m *Module, msg *Msg) error
	finish func(m *Module) error
}

func (b *funcBehavior) Initialize(m *Module) error {
	if b.init == nil {
		return nil
	}
	return b.init(m)
}

func (b *funcBehavior) HandleMessage(m *Module, msg *Msg) error {
	if b.handle == nil {
		return nil
	}
	return b.handle(m, msg)
}

func (b *funcBehavior) Finish(m *Module) error {
	if b.finish == nil {
		return nil
	}
	return b.finish(m)
}

// funcNetwork adapts a build function to NetworkType.
type funcNetwork struct {
	build func(s *Simulation) error
}

func (n *funcNetwork) Name() string              { return "Test" }
func (n *funcNetwork) Description() string       { return "test network" }
func (n *funcNetwork) Build(s *Simulation) error { return n.build(s) }

type plainNetwork struct{}

func (plainNetwork) Name() string        { return "Plain" }
func (plainNetwork) Description() string { return "" }

func setup(t *testing.T, hooks *recordingHooks, build func(s *Simulation) error) *Simulation {
	t.Helper()
	s := New()
	s.SetHooks(hooks)
	require.NoError(t, s.SetupNetwork(&funcNetwork{build: build}))
	require.NoError(t, s.Initialize())
	return s
}

func runAll(t *testing.T, s *Simulation) {
	t.Helper()
	for {
		if _, ok := s.NextEventTime(); !ok {
			return
		}
		_, err := s.Step()
		require.NoError(t, err)
	}
}

func TestEventHeap_Ordering(t *testing.T) {
	// GIVEN entries scheduled out of order with ties on time and priority
	h := newEventHeap()
	for _, e := range []*entry{
		{t: 100, priority: 1, seq: 4},
		{t: 50, priority: 0, seq: 5},
		{t: 100, priority: 0, seq: 3},
		{t: 100, priority: 0, seq: 2},
		{t: 150, priority: 0, seq: 1},
	} {
		h.schedule(e)
	}

	// WHEN popped
	var got []uint64
	for h.Len() > 0 {
		got = append(got, h.popNext().seq)
	}

	// THEN order is timestamp, then priority, then sequence
	assert.Equal(t, []uint64{5, 2, 3, 4, 1}, got)
	assert.Nil(t, h.popNext())
	assert.Nil(t, h.peek())
}

func TestEventHeap_Remove(t *testing.T) {
	h := newEventHeap()
	a, b, c := &entry{t: 1, seq: 1}, &entry{t: 2, seq: 2}, &entry{t: 3, seq: 3}
	h.schedule(a)
	h.schedule(b)
	h.schedule(c)

	assert.True(t, h.remove(b))
	assert.False(t, h.remove(b), "second removal is a no-op")
	assert.Equal(t, a, h.popNext())
	assert.Equal(t, c, h.popNext())
}

func TestSimulation_SelfMessagesAndSends(t *testing.T) {
	// GIVEN a ticker that sends three jobs to a sink one second apart
	hooks := &recordingHooks{}
	s := setup(t, hooks, func(s *Simulation) error {
		sink, err := s.CreateModule("net.sink", &funcBehavior{}, nil)
		if err != nil {
			return err
		}
		sent := 0
		_, err = s.CreateModule("net.ticker", &funcBehavior{
			init: func(m *Module) error {
				return m.ScheduleAt(sim.TicksPerSecond, NewMsg("tick", 0))
			},
			handle: func(m *Module, msg *Msg) error {
				if err := m.Send(sink, NewMsg("job", 1), 0); err != nil {
					return err
				}
				if sent++; sent < 3 {
					return m.ScheduleAfter(sim.TicksPerSecond, msg)
				}
				return nil
			},
		}, nil)
		return err
	})

	// WHEN the simulation runs to completion
	runAll(t, s)

	// THEN events alternate between ticker and sink in time order
	assert.Equal(t, []string{
		"event #1 1s net.ticker",
		"event #2 1s net.sink",
		"event #3 2s net.ticker",
		"event #4 2s net.sink",
		"event #5 3s net.ticker",
		"event #6 3s net.sink",
	}, hooks.events())
	assert.Equal(t, int64(6), s.EventNumber())
	assert.Equal(t, sim.Time(3*sim.TicksPerSecond), s.Now())
	assert.Contains(t, hooks.calls, "sent job")
	assert.Contains(t, hooks.calls, "scheduled tick")
}

func TestSimulation_CreatedBeforeConfigured(t *testing.T) {
	hooks := &recordingHooks{}
	setup(t, hooks, func(s *Simulation) error {
		_, err := s.CreateModule("net.a", &funcBehavior{}, func(m *Module) {
			m.DeclareStatistic(sim.StatisticDecl{Name: "x", Record: []string{"vector"}})
		})
		return err
	})
	assert.Equal(t, []string{"created net.a", "configured net.a"}, hooks.calls)
}

func TestSimulation_Cancel(t *testing.T) {
	hooks := &recordingHooks{}
	var timeout *Msg
	s := setup(t, hooks, func(s *Simulation) error {
		_, err := s.CreateModule("net.a", &funcBehavior{
			init: func(m *Module) error {
				timeout = NewMsg("timeout", 0)
				if err := m.ScheduleAt(10, timeout); err != nil {
					return err
				}
				return m.ScheduleAt(5, NewMsg("work", 0))
			},
			handle: func(m *Module, msg *Msg) error {
				if msg.Name == "work" {
					m.Cancel(timeout)
					m.Cancel(timeout)
				}
				return nil
			},
		}, nil)
		return err
	})
	runAll(t, s)

	assert.Equal(t, []string{"event #1 0.000005s net.a"}, hooks.events())
	assert.False(t, timeout.IsScheduled())
	cancelled := 0
	for _, c := range hooks.calls {
		if c == "cancelled timeout" {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestSimulation_ScheduleErrors(t *testing.T) {
	hooks := &recordingHooks{}
	var m *Module
	s := setup(t, hooks, func(s *Simulation) error {
		var err error
		m, err = s.CreateModule("net.a", &funcBehavior{}, nil)
		return err
	})
	msg := NewMsg("x", 0)
	require.NoError(t, m.ScheduleAt(5, msg))
	assert.Error(t, m.ScheduleAt(6, msg), "already scheduled")

	runAll(t, s)
	assert.Error(t, m.ScheduleAt(1, NewMsg("late", 0)), "in the past")
	assert.Error(t, m.Send(nil, NewMsg("y", 0), 0))
}

func TestModule_EmitChecksSignals(t *testing.T) {
	tests := []struct {
		name    string
		check   bool
		signal  string
		wantErr bool
	}{
		{name: "declared with checking", check: true, signal: "len"},
		{name: "undeclared with checking", check: true, signal: "bogus", wantErr: true},
		{name: "undeclared without checking", check: false, signal: "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := &recordingHooks{checkSignals: tt.check}
			var m *Module
			setup(t, hooks, func(s *Simulation) error {
				var err error
				m, err = s.CreateModule("net.q", &funcBehavior{}, func(m *Module) {
					m.DeclareStatistic(sim.StatisticDecl{Name: "len"})
				})
				return err
			})
			err := m.Emit(tt.signal, 1)
			if tt.wantErr {
				assert.ErrorContains(t, err, "undeclared signal")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type capture struct{ values []float64 }

func (c *capture) ReceiveSignal(_ sim.Component, _ string, _ sim.Time, v float64) {
	c.values = append(c.values, v)
}

func TestModule_SubscribeIsIdempotent(t *testing.T) {
	hooks := &recordingHooks{}
	var m *Module
	setup(t, hooks, func(s *Simulation) error {
		var err error
		m, err = s.CreateModule("net.q", &funcBehavior{}, nil)
		return err
	})
	c := &capture{}
	m.Subscribe("len", c)
	m.Subscribe("len", c)
	require.NoError(t, m.Emit("len", 3))
	require.NoError(t, m.EmitBool("len", true))
	assert.Equal(t, []float64{3, 1}, c.values)

	m.Unsubscribe("len", c)
	assert.False(t, m.HasListeners("len"))
	require.NoError(t, m.Emit("len", 4))
	assert.Len(t, c.values, 2)
}

func TestSimulation_DynamicModules(t *testing.T) {
	// GIVEN a spawner that creates a worker at t=1 and deletes it at t=2
	hooks := &recordingHooks{}
	s := setup(t, hooks, func(s *Simulation) error {
		var worker *Module
		_, err := s.CreateModule("net.spawner", &funcBehavior{
			init: func(m *Module) error { return m.ScheduleAt(1, NewMsg("spawn", 0)) },
			handle: func(m *Module, msg *Msg) error {
				if msg.Name == "spawn" {
					var err error
					worker, err = m.Simulation().CreateModule("net.worker", &funcBehavior{}, nil)
					if err != nil {
						return err
					}
					if err := m.Send(worker, NewMsg("never", 0), 5); err != nil {
						return err
					}
					return m.ScheduleAt(2, NewMsg("kill", 0))
				}
				m.Simulation().DeleteModule(worker)
				return nil
			},
		}, nil)
		return err
	})

	runAll(t, s)

	// THEN the worker's pending message is dropped with it
	assert.Equal(t, []string{"event #1 0.000001s net.spawner", "event #2 0.000002s net.spawner"}, hooks.events())
	assert.Contains(t, hooks.calls, "created net.worker")
	assert.Contains(t, hooks.calls, "deleted net.worker")
	_, ok := s.Module("net.worker")
	assert.False(t, ok)
	assert.Len(t, s.Modules(), 1)
}

func TestSimulation_StepErrorNamesEvent(t *testing.T) {
	hooks := &recordingHooks{}
	s := setup(t, hooks, func(s *Simulation) error {
		_, err := s.CreateModule("net.bad", &funcBehavior{
			init:   func(m *Module) error { return m.ScheduleAt(3, NewMsg("boom", 0)) },
			handle: func(*Module, *Msg) error { return errors.New("model failure") },
		}, nil)
		return err
	})
	_, err := s.Step()
	assert.ErrorContains(t, err, "event #1")
	assert.ErrorContains(t, err, "net.bad")
	assert.ErrorContains(t, err, "model failure")
}

func TestSimulation_FinishAndDeleteNetwork(t *testing.T) {
	hooks := &recordingHooks{}
	var finished []string
	fin := func(m *Module) error {
		finished = append(finished, m.FullPath())
		return nil
	}
	s := setup(t, hooks, func(s *Simulation) error {
		for _, p := range []string{"net.a", "net.b", "net.c"} {
			if _, err := s.CreateModule(p, &funcBehavior{finish: fin}, nil); err != nil {
				return err
			}
		}
		return nil
	})
	hooks.calls = nil

	require.NoError(t, s.Finish())
	s.DeleteNetwork()

	assert.Equal(t, []string{"net.a", "net.b", "net.c"}, finished)
	assert.Equal(t, []string{"deleted net.c", "deleted net.b", "deleted net.a"}, hooks.calls)
}

func TestSimulation_SetupErrors(t *testing.T) {
	s := New()
	require.Error(t, s.SetupNetwork(plainNetwork{}), "hooks missing")

	s.SetHooks(&recordingHooks{})
	err := s.SetupNetwork(plainNetwork{})
	assert.ErrorIs(t, err, ErrNotRunnable)

	err = s.SetupNetwork(&funcNetwork{build: func(s *Simulation) error {
		if _, err := s.CreateModule("net.a", &funcBehavior{}, nil); err != nil {
			return err
		}
		_, err := s.CreateModule("net.a", &funcBehavior{}, nil)
		return err
	}})
	assert.ErrorContains(t, err, "already exists")
}

func TestPacer_WaitsForWallClock(t *testing.T) {
	// GIVEN a pacer running twice as fast as real time with a fake clock
	base := time.Unix(1000, 0)
	now := base
	var slept []time.Duration
	p := NewPacer(2)
	p.now = func() time.Time { return now }
	p.sleep = func(d time.Duration) {
		slept = append(slept, d)
		now = now.Add(d)
	}
	p.Start()

	// WHEN events at 1s and 3s execute, with 2s of work in between
	p.Wait(sim.TicksPerSecond)
	now = now.Add(2 * time.Second)
	p.Wait(3 * sim.TicksPerSecond)

	// THEN it sleeps only for the first event, in bounded slices
	assert.Len(t, slept, 5)
	for _, d := range slept {
		assert.LessOrEqual(t, d, pacerSlice)
	}
	assert.Equal(t, 500*time.Millisecond, p.Waited())
}

func TestPacer_InterruptEndsWait(t *testing.T) {
	// GIVEN a real-time pacer whose next event is an hour away
	base := time.Unix(1000, 0)
	now := base
	p := NewPacer(1)
	p.now = func() time.Time { return now }
	p.sleep = func(d time.Duration) {
		now = now.Add(d)
		if now.Sub(base) >= 300*time.Millisecond {
			p.Interrupt()
		}
	}
	p.Start()

	// WHEN the run is interrupted while waiting
	p.Wait(3600 * sim.TicksPerSecond)

	// THEN the wait returns after the current slice and later waits do not
	// sleep at all
	assert.Equal(t, 300*time.Millisecond, p.Waited())
	p.Wait(7200 * sim.TicksPerSecond)
	assert.Equal(t, 300*time.Millisecond, p.Waited())
	p.Interrupt()
}

func TestSimulation_InterruptWithoutPacer(t *testing.T) {
	assert.NotPanics(t, func() { New().Interrupt() })
}

func TestNewKernel(t *testing.T) {
	for _, class := range []string{ClassSequential, ClassRealtime} {
		k, err := NewKernel(class, Params{RealtimeScaling: 10})
		require.NoError(t, err, class)
		assert.NotNil(t, k)
	}

	_, err := NewKernel("parallel", Params{})
	var ce *config.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "scheduler-class", ce.Option)
	assert.Contains(t, err.Error(), "realtime, sequential")
}
