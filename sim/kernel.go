package sim

import (
	"math/rand/v2"

	"github.com/desim/envir/sim/fingerprint"
)

// Message describes a message as reported by the kernel in callbacks.
type Message struct {
	ID          int64
	Name        string
	Kind        int
	SrcID       int // sending component id, -1 if none
	DstID       int // destination component id
	SendTime    Time
	ArrivalTime Time
}

// Event describes the event the kernel is about to execute.
type Event struct {
	Number    int64
	Time      Time
	Component Component // target component; never nil
	Message   *Message  // the message being delivered, nil for non-message events
}

// Hooks is the capability set the kernel invokes while a run is active.
// The controller implements it; callbacks never return errors to the kernel:
// failures are recorded and surfaced at the next step boundary.
type Hooks interface {
	ComponentCreated(c Component)
	// ComponentConfigured is called once the component's parameters are
	// resolved and its statistics metadata is final.
	ComponentConfigured(c Component)
	ComponentDeleted(c Component)

	EventExecuted(ev Event)
	MessageScheduled(m Message)
	MessageCancelled(m Message)
	MessageSent(m Message)
	LogLine(c Component, text string)

	// RNG returns the generator the component's logical index k maps to.
	RNG(c Component, k int) (*rand.Rand, error)
	// RequestStatistic attaches a recorder chain for a statistic declared
	// at run time.
	RequestStatistic(c Component, decl StatisticDecl) error
	// Fingerprint exposes the run's fingerprint accumulator so models can
	// fold additional state into it.
	Fingerprint() *fingerprint.Hasher
	// CheckSignals reports whether emitted signals must be declared.
	CheckSignals() bool
}

// Network is a named, buildable model topology. Kernels know how to build
// the network types they accept.
type Network interface {
	Name() string
	Description() string
}

// Kernel executes events. The controller drives it one event at a time.
type Kernel interface {
	SetHooks(h Hooks)
	// SetupNetwork instantiates the network's components, reporting each
	// through ComponentCreated and ComponentConfigured.
	SetupNetwork(net Network) error
	// Initialize runs component initialization (initial events scheduled).
	Initialize() error
	// NextEventTime returns the time of the next event; ok is false when
	// no event remains.
	NextEventTime() (t Time, ok bool)
	// Step executes the next event. more is false when no event remains.
	Step() (more bool, err error)
	Now() Time
	EventNumber() int64
	// Finish lets components record their final results.
	Finish() error
	// DeleteNetwork destroys all components, reporting each through
	// ComponentDeleted.
	DeleteNetwork()
}
