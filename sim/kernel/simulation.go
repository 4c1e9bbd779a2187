// Package kernel is the reference event-execution kernel: a deterministic
// timestamp-ordered event heap driving modules that exchange messages.
//
// The run controller only sees it through sim.Kernel; networks it can
// build implement NetworkType.
package kernel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/desim/envir/sim"
)

// NetworkType is a network this kernel can build.
type NetworkType interface {
	sim.Network
	// Build creates the network's modules through s.CreateModule.
	Build(s *Simulation) error
}

// ErrNotRunnable is returned for networks the kernel cannot build.
var ErrNotRunnable = errors.New("network cannot be built by this kernel")

// Simulation implements sim.Kernel.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Simulation struct {
	hooks sim.Hooks
	heap  *eventHeap
	pacer *Pacer // nil for the sequential scheduler

	now      sim.Time
	eventNum int64
	seq      uint64
	msgID    int64

	modules []*Module // by id; deleted modules stay as tombstones
	byPath  map[string]*Module
	network NetworkType
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithPacer paces event execution against the wall clock.
func WithPacer(p *Pacer) Option {
	return func(s *Simulation) { s.pacer = p }
}

// New creates an empty simulation.
func New(opts ...Option) *Simulation {
	s := &Simulation{
		heap:   newEventHeap(),
		byPath: make(map[string]*Module),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulation) SetHooks(h sim.Hooks) { s.hooks = h }
func (s *Simulation) Now() sim.Time        { return s.now }
func (s *Simulation) EventNumber() int64   { return s.eventNum }

// Pending returns the number of scheduled events.
func (s *Simulation) Pending() int { return s.heap.Len() }

// SetupNetwork builds net, which must implement NetworkType.
func (s *Simulation) SetupNetwork(net sim.Network) error {
	if s.hooks == nil {
		return errors.New("kernel: hooks not set")
	}
	nt, ok := net.(NetworkType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunnable, net.Name())
	}
	s.network = nt
	if err := nt.Build(s); err != nil {
		return fmt.Errorf("building network %s: %w", net.Name(), err)
	}
	logrus.Debugf("kernel: network %s built with %d modules", net.Name(), len(s.byPath))
	return nil
}

// CreateModule adds a module at path and reports it created. Statistics
// must be declared in configure, which runs before the module is reported
// configured. Modules may be created while events execute.
func (s *Simulation) CreateModule(path string, b Behavior, configure func(m *Module)) (*Module, error) {
	if path == "" {
		return nil, errors.New("kernel: empty module path")
	}
	if _, exists := s.byPath[path]; exists {
		return nil, fmt.Errorf("kernel: module %s already exists", path)
	}
	m := &Module{
		s:         s,
		id:        len(s.modules),
		path:      path,
		behavior:  b,
		signals:   make(map[string]bool),
		listeners: make(map[string][]sim.SignalListener),
	}
	s.modules = append(s.modules, m)
	s.byPath[path] = m
	s.hooks.ComponentCreated(m)
	if configure != nil {
		configure(m)
	}
	s.hooks.ComponentConfigured(m)
	return m, nil
}

// Module returns the live module at path.
func (s *Simulation) Module(path string) (*Module, bool) {
	m, ok := s.byPath[path]
	return m, ok
}

// Modules returns the live modules in creation order.
func (s *Simulation) Modules() []*Module {
	live := make([]*Module, 0, len(s.byPath))
	for _, m := range s.modules {
		if !m.deleted {
			live = append(live, m)
		}
	}
	return live
}

// DeleteModule removes m, cancelling its pending messages.
func (s *Simulation) DeleteModule(m *Module) {
	if m.deleted {
		return
	}
	for _, e := range append([]*entry(nil), s.heap.entries...) {
		if e.msg.dst == m {
			s.heap.remove(e)
			e.msg.entry = nil
		}
	}
	s.hooks.ComponentDeleted(m)
	m.deleted = true
	delete(s.byPath, m.path)
}

func (s *Simulation) enqueue(t sim.Time, msg *Msg) {
	s.seq++
	if msg.id == 0 {
		s.msgID++
		msg.id = s.msgID
	}
	msg.sendTime = s.now
	e := &entry{t: t, seq: s.seq, msg: msg}
	msg.entry = e
	s.heap.schedule(e)
}

// Initialize runs Initialize of every module in creation order.
func (s *Simulation) Initialize() error {
	for _, m := range s.Modules() {
		if err := m.behavior.Initialize(m); err != nil {
			return fmt.Errorf("initializing %s: %w", m.path, err)
		}
	}
	if s.pacer != nil {
		s.pacer.Start()
	}
	return nil
}

func (s *Simulation) NextEventTime() (sim.Time, bool) {
	e := s.heap.peek()
	if e == nil {
		return 0, false
	}
	return e.t, true
}

// Interrupt releases a pending real-time wait so a cancelled run does not
// block on the wall clock. It is safe to call from another goroutine.
func (s *Simulation) Interrupt() {
	if s.pacer != nil {
		s.pacer.Interrupt()
	}
}

// Step delivers the next message.
func (s *Simulation) Step() (bool, error) {
	e := s.heap.popNext()
	if e == nil {
		return false, nil
	}
	msg := e.msg
	if s.pacer != nil {
		s.pacer.Wait(e.t)
	}
	s.now = e.t
	s.eventNum++

	info := msg.info()
	msg.entry = nil
	s.hooks.EventExecuted(sim.Event{Number: s.eventNum, Time: s.now, Component: msg.dst, Message: &info})
	if err := msg.dst.behavior.HandleMessage(msg.dst, msg); err != nil {
		return true, fmt.Errorf("event #%d at %s in %s: %w", s.eventNum, s.now, msg.dst.path, err)
	}
	return s.heap.Len() > 0, nil
}

// Finish runs Finish of every live module in creation order.
func (s *Simulation) Finish() error {
	var errs []error
	for _, m := range s.Modules() {
		if err := m.behavior.Finish(m); err != nil {
			errs = append(errs, fmt.Errorf("finishing %s: %w", m.path, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteNetwork deletes every live module, most recently created first.
func (s *Simulation) DeleteNetwork() {
	live := s.Modules()
	sort.SliceStable(live, func(i, j int) bool { return live[i].id > live[j].id })
	for _, m := range live {
		s.DeleteModule(m)
	}
	s.network = nil
}
