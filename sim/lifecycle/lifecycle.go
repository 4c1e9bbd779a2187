// Package lifecycle fans out run milestones to observers.
package lifecycle

import (
	"errors"
	"fmt"
	"reflect"
)

// Milestone is a point in a run's lifecycle.
type Milestone int

const (
	Startup Milestone = iota
	PreNetworkSetup
	PostNetworkSetup
	SimulationStart
	SimulationEnd
	Shutdown
	RunDone // terminal; carries the outcome
)

var milestoneNames = [...]string{
	Startup:          "startup",
	PreNetworkSetup:  "pre-network-setup",
	PostNetworkSetup: "post-network-setup",
	SimulationStart:  "simulation-start",
	SimulationEnd:    "simulation-end",
	Shutdown:         "shutdown",
	RunDone:          "run-done",
}

func (m Milestone) String() string {
	if m >= 0 && int(m) < len(milestoneNames) {
		return milestoneNames[m]
	}
	return fmt.Sprintf("Milestone(%d)", int(m))
}

// Outcome is how a run ended.
type Outcome int

const (
	NormalEnd Outcome = iota
	TimeLimitStop
	Cancelled
	Error
)

var outcomeNames = [...]string{
	NormalEnd:     "normal-end",
	TimeLimitStop: "time-limit-stop",
	Cancelled:     "cancelled",
	Error:         "error",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Event is the notification payload. Outcome and Detail are only meaningful
// for RunDone.
type Event struct {
	Milestone Milestone
	Outcome   Outcome
	Detail    any
}

// Listener observes lifecycle events. Implementations must be comparable
// (typically pointers) so that registration is idempotent.
type Listener interface {
	LifecycleEvent(ev Event)
}

// FuncListener adapts a function to Listener. Use it through a pointer.
type FuncListener struct {
	F func(Event)
}

// NewFuncListener wraps f.
func NewFuncListener(f func(Event)) *FuncListener {
	return &FuncListener{F: f}
}

func (l *FuncListener) LifecycleEvent(ev Event) { l.F(ev) }

// ErrNotComparable is returned when registering a listener whose dynamic
// type cannot be compared with ==, such as a struct holding a slice.
var ErrNotComparable = errors.New("lifecycle listener is not comparable")

// Registry holds the listeners of one controller.
type Registry struct {
	listeners []Listener
}

// Add registers l. Adding a registered listener is a no-op. A nil or
// non-comparable listener is rejected with ErrNotComparable.
func (r *Registry) Add(l Listener) error {
	if !isComparable(l) {
		return fmt.Errorf("%w: %T", ErrNotComparable, l)
	}
	if r.indexOf(l) >= 0 {
		return nil
	}
	r.listeners = append(r.listeners, l)
	return nil
}

// Remove unregisters l. Removing an absent listener is a no-op.
func (r *Registry) Remove(l Listener) {
	if !isComparable(l) {
		return
	}
	i := r.indexOf(l)
	if i < 0 {
		return
	}
	r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	return len(r.listeners)
}

// Notify delivers ev to the listeners registered when Notify was called,
// in registration order. Listeners may add or remove listeners meanwhile.
func (r *Registry) Notify(ev Event) {
	snapshot := append([]Listener(nil), r.listeners...)
	for _, l := range snapshot {
		l.LifecycleEvent(ev)
	}
}

func (r *Registry) indexOf(l Listener) int {
	for i, existing := range r.listeners {
		if existing == l {
			return i
		}
	}
	return -1
}

func isComparable(l Listener) bool {
	return l != nil && reflect.TypeOf(l).Comparable()
}
