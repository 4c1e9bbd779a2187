package sim

// SignalListener receives values emitted on a component's signal.
// Signals carry float64 values; booleans are emitted as 0 or 1.
type SignalListener interface {
	ReceiveSignal(source Component, signal string, t Time, value float64)
}

// StatisticDecl is the statistics metadata a component declares for one
// statistic. The controller reads it; it never inspects component internals.
type StatisticDecl struct {
	Name   string   // statistic name, unique within the component
	Source string   // source expression; empty means the signal named Name
	Record []string // recording modes; a trailing "?" marks a mode as optional
	Title  string
	Unit   string

	// NoWarmupFilter exempts the statistic from warm-up filtering.
	NoWarmupFilter bool
}

// SourceExpr returns the effective source expression of the declaration.
func (d StatisticDecl) SourceExpr() string {
	if d.Source == "" {
		return d.Name
	}
	return d.Source
}

// Component is the controller's view of one model component.
type Component interface {
	// ID is unique within a run and stable across runs of the same network.
	ID() int
	// FullPath is the dotted hierarchical name, e.g. "net.server".
	FullPath() string
	// Statistics returns the statically declared statistics.
	Statistics() []StatisticDecl
	Subscribe(signal string, l SignalListener)
	Unsubscribe(signal string, l SignalListener)
}
