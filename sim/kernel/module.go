package kernel

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/fingerprint"
)

// Behavior is the model code of a module.
type Behavior interface {
	// Initialize schedules the module's initial events.
	Initialize(m *Module) error
	// HandleMessage processes a message delivered to the module.
	HandleMessage(m *Module, msg *Msg) error
	// Finish records final results.
	Finish(m *Module) error
}

// Msg is a message between modules, or a self-message.
type Msg struct {
	Name    string
	Kind    int
	Value   float64
	Payload any

	id       int64
	src, dst *Module
	sendTime sim.Time
	entry    *entry
}

// NewMsg creates a message with the given name and kind.
func NewMsg(name string, kind int) *Msg {
	return &Msg{Name: name, Kind: kind}
}

// ID returns the id assigned when the message was first scheduled.
func (msg *Msg) ID() int64 { return msg.id }

// Src returns the sending module, nil for messages scheduled from outside.
func (msg *Msg) Src() *Module { return msg.src }

// SendTime returns the time the message was sent or scheduled.
func (msg *Msg) SendTime() sim.Time { return msg.sendTime }

// IsScheduled reports whether the message is waiting for delivery.
func (msg *Msg) IsScheduled() bool { return msg.entry != nil }

// IsSelfMessage reports whether the message was scheduled by its receiver.
func (msg *Msg) IsSelfMessage() bool { return msg.src != nil && msg.src == msg.dst }

func (msg *Msg) info() sim.Message {
	m := sim.Message{
		ID:       msg.id,
		Name:     msg.Name,
		Kind:     msg.Kind,
		SrcID:    -1,
		SendTime: msg.sendTime,
	}
	if msg.src != nil {
		m.SrcID = msg.src.id
	}
	if msg.dst != nil {
		m.DstID = msg.dst.id
	}
	if msg.entry != nil {
		m.ArrivalTime = msg.entry.t
	}
	return m
}

// Module is a component of a running simulation. It implements
// sim.Component.
type Module struct {
	s        *Simulation
	id       int
	path     string
	behavior Behavior

	stats     []sim.StatisticDecl
	signals   map[string]bool
	listeners map[string][]sim.SignalListener
	deleted   bool
}

func (m *Module) ID() int                         { return m.id }
func (m *Module) FullPath() string                { return m.path }
func (m *Module) Statistics() []sim.StatisticDecl { return m.stats }

// Name returns the last segment of the module path.
func (m *Module) Name() string {
	return m.path[strings.LastIndex(m.path, ".")+1:]
}

// Behavior returns the module's model code.
func (m *Module) Behavior() Behavior { return m.behavior }

// Simulation returns the simulation the module belongs to.
func (m *Module) Simulation() *Simulation { return m.s }

// Now returns the current simulated time.
func (m *Module) Now() sim.Time { return m.s.now }

// DeclareSignal declares a signal the module may emit.
func (m *Module) DeclareSignal(name string) {
	m.signals[name] = true
}

// DeclareStatistic adds a statically declared statistic. It must be
// called before the module is reported as configured, i.e. from the
// network's Build. A statistic without an explicit source declares the
// signal of the same name.
func (m *Module) DeclareStatistic(decl sim.StatisticDecl) {
	m.stats = append(m.stats, decl)
	if decl.Source == "" {
		m.DeclareSignal(decl.Name)
	}
}

func (m *Module) Subscribe(signal string, l sim.SignalListener) {
	for _, existing := range m.listeners[signal] {
		if existing == l {
			return
		}
	}
	m.listeners[signal] = append(m.listeners[signal], l)
}

func (m *Module) Unsubscribe(signal string, l sim.SignalListener) {
	ls := m.listeners[signal]
	for i, existing := range ls {
		if existing == l {
			m.listeners[signal] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(m.listeners[signal]) == 0 {
		delete(m.listeners, signal)
	}
}

// HasListeners reports whether anything is subscribed to signal.
func (m *Module) HasListeners(signal string) bool {
	return len(m.listeners[signal]) > 0
}

// Emit sends value to the signal's listeners. With signal checking on,
// emitting an undeclared signal is an error.
func (m *Module) Emit(signal string, value float64) error {
	if m.s.hooks.CheckSignals() && !m.signals[signal] {
		return fmt.Errorf("%s: emitted undeclared signal %q", m.path, signal)
	}
	ls := m.listeners[signal]
	if len(ls) == 0 {
		return nil
	}
	snapshot := append([]sim.SignalListener(nil), ls...)
	for _, l := range snapshot {
		l.ReceiveSignal(m, signal, m.s.now, value)
	}
	return nil
}

// EmitBool emits true as 1 and false as 0.
func (m *Module) EmitBool(signal string, value bool) error {
	if value {
		return m.Emit(signal, 1)
	}
	return m.Emit(signal, 0)
}

// ScheduleAt schedules a self-message for time t.
func (m *Module) ScheduleAt(t sim.Time, msg *Msg) error {
	if msg.IsScheduled() {
		return fmt.Errorf("%s: message %q is already scheduled", m.path, msg.Name)
	}
	if t < m.s.now {
		return fmt.Errorf("%s: cannot schedule %q in the past (t=%s, now=%s)", m.path, msg.Name, t, m.s.now)
	}
	msg.src, msg.dst = m, m
	m.s.enqueue(t, msg)
	m.s.hooks.MessageScheduled(msg.info())
	return nil
}

// ScheduleAfter schedules a self-message delay from now.
func (m *Module) ScheduleAfter(delay sim.Time, msg *Msg) error {
	return m.ScheduleAt(m.s.now+delay, msg)
}

// Cancel removes a scheduled self-message. Cancelling a message that is
// not scheduled is a no-op.
func (m *Module) Cancel(msg *Msg) {
	if msg.entry == nil {
		return
	}
	info := msg.info()
	m.s.heap.remove(msg.entry)
	msg.entry = nil
	m.s.hooks.MessageCancelled(info)
}

// Send delivers msg to dst after delay.
func (m *Module) Send(dst *Module, msg *Msg, delay sim.Time) error {
	if msg.IsScheduled() {
		return fmt.Errorf("%s: message %q is already scheduled", m.path, msg.Name)
	}
	if dst == nil || dst.deleted {
		return fmt.Errorf("%s: cannot send %q to a deleted or missing module", m.path, msg.Name)
	}
	if delay < 0 {
		return fmt.Errorf("%s: negative send delay %s", m.path, delay)
	}
	msg.src, msg.dst = m, dst
	m.s.enqueue(m.s.now+delay, msg)
	m.s.hooks.MessageSent(msg.info())
	return nil
}

// RNG returns the generator of logical index k.
func (m *Module) RNG(k int) (*rand.Rand, error) {
	return m.s.hooks.RNG(m, k)
}

// Log writes a line of model output.
func (m *Module) Log(format string, args ...any) {
	m.s.hooks.LogLine(m, fmt.Sprintf(format, args...))
}

// RequestStatistic attaches a statistic declared at run time.
func (m *Module) RequestStatistic(decl sim.StatisticDecl) error {
	if decl.Source == "" {
		m.DeclareSignal(decl.Name)
	}
	return m.s.hooks.RequestStatistic(m, decl)
}

// Fingerprint returns the run's fingerprint accumulator.
func (m *Module) Fingerprint() *fingerprint.Hasher {
	return m.s.hooks.Fingerprint()
}
