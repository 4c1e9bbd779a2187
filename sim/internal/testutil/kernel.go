package testutil

import (
	"github.com/desim/envir/sim"
)

// Component is a minimal sim.Component whose signals are emitted by tests.
type Component struct {
	CompID    int
	Path      string
	Stats     []sim.StatisticDecl
	listeners map[string][]sim.SignalListener
}

// NewComponent returns a component declaring stats.
func NewComponent(id int, path string, stats ...sim.StatisticDecl) *Component {
	return &Component{CompID: id, Path: path, Stats: stats, listeners: make(map[string][]sim.SignalListener)}
}

func (c *Component) ID() int                         { return c.CompID }
func (c *Component) FullPath() string                { return c.Path }
func (c *Component) Statistics() []sim.StatisticDecl { return c.Stats }

func (c *Component) Subscribe(signal string, l sim.SignalListener) {
	for _, existing := range c.listeners[signal] {
		if existing == l {
			return
		}
	}
	c.listeners[signal] = append(c.listeners[signal], l)
}

func (c *Component) Unsubscribe(signal string, l sim.SignalListener) {
	ls := c.listeners[signal]
	for i, existing := range ls {
		if existing == l {
			c.listeners[signal] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit delivers v on signal to the current listeners.
func (c *Component) Emit(signal string, t sim.Time, v float64) {
	for _, l := range append([]sim.SignalListener(nil), c.listeners[signal]...) {
		l.ReceiveSignal(c, signal, t, v)
	}
}

// Listeners returns the number of listeners over all signals.
func (c *Component) Listeners() int {
	n := 0
	for _, ls := range c.listeners {
		n += len(ls)
	}
	return n
}

// Network is a named network for Kernel.
type Network struct {
	NetName string
}

func (n Network) Name() string        { return n.NetName }
func (n Network) Description() string { return "scripted test network" }

// Step is one scripted event: at time At, component Components[Target]
// executes Do.
type Step struct {
	At     sim.Time
	Target int
	Do     func(k *Kernel) error
}

// Kernel is a scripted sim.Kernel. SetupNetwork reports Components in
// order; Step executes Steps in order.
type Kernel struct {
	Components []*Component
	Steps      []Step

	SetupErr error
	InitErr  error
	// AfterStep runs after every step, e.g. to advance a fake wall clock.
	AfterStep func()
	// Repeat, when set, supplies the next step once Steps are exhausted, so
	// the event queue never empties.
	Repeat func(k *Kernel) Step

	Finished bool
	Deleted  []string // paths in deletion order

	hooks   sim.Hooks
	next    int
	now     sim.Time
	events  int64
	removed map[int]bool
}

func (k *Kernel) SetHooks(h sim.Hooks) { k.hooks = h }

// Hooks returns the hooks the controller installed.
func (k *Kernel) Hooks() sim.Hooks { return k.hooks }

func (k *Kernel) SetupNetwork(sim.Network) error {
	for _, c := range k.Components {
		k.hooks.ComponentCreated(c)
		k.hooks.ComponentConfigured(c)
	}
	return k.SetupErr
}

func (k *Kernel) Initialize() error { return k.InitErr }

// exhausted reports whether no step is left, scheduling a repeated one
// when Repeat is set.
func (k *Kernel) exhausted() bool {
	if k.next >= len(k.Steps) && k.Repeat != nil {
		k.Steps = append(k.Steps, k.Repeat(k))
	}
	return k.next >= len(k.Steps)
}

func (k *Kernel) NextEventTime() (sim.Time, bool) {
	if k.exhausted() {
		return 0, false
	}
	return k.Steps[k.next].At, true
}

func (k *Kernel) Step() (bool, error) {
	if k.exhausted() {
		return false, nil
	}
	s := k.Steps[k.next]
	k.next++
	k.now = s.At
	k.events++
	k.hooks.EventExecuted(sim.Event{Number: k.events, Time: k.now, Component: k.Components[s.Target]})
	var err error
	if s.Do != nil {
		err = s.Do(k)
	}
	if k.AfterStep != nil {
		k.AfterStep()
	}
	return !k.exhausted(), err
}

func (k *Kernel) Now() sim.Time      { return k.now }
func (k *Kernel) EventNumber() int64 { return k.events }

func (k *Kernel) Finish() error {
	k.Finished = true
	return nil
}

// AddComponent creates c while the simulation runs.
func (k *Kernel) AddComponent(c *Component) {
	k.Components = append(k.Components, c)
	k.hooks.ComponentCreated(c)
	k.hooks.ComponentConfigured(c)
}

// RemoveComponent deletes c while the simulation runs.
func (k *Kernel) RemoveComponent(c *Component) {
	if k.removed == nil {
		k.removed = make(map[int]bool)
	}
	if k.removed[c.CompID] {
		return
	}
	k.removed[c.CompID] = true
	k.hooks.ComponentDeleted(c)
	k.Deleted = append(k.Deleted, c.Path)
}

// DeleteNetwork deletes the remaining components, last created first.
func (k *Kernel) DeleteNetwork() {
	for i := len(k.Components) - 1; i >= 0; i-- {
		k.RemoveComponent(k.Components[i])
	}
}
