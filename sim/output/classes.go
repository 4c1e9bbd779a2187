package output

import (
	"sort"
	"strings"

	"github.com/desim/envir/sim/config"
)

// Params carries the settings a backend class may need.
type Params struct {
	File   string // output file name, already resolved
	Driver string // SQLite driver name
}

type (
	VectorFactory   func(p Params) (VectorWriter, error)
	ScalarFactory   func(p Params) (ScalarWriter, error)
	SnapshotFactory func(p Params) (SnapshotWriter, error)
)

// Classes maps backend class names to factories. A controller owns one;
// there is no process-wide registry.
type Classes struct {
	Vector   map[string]VectorFactory
	Scalar   map[string]ScalarFactory
	Snapshot map[string]SnapshotFactory
}

// DefaultClasses returns the built-in classes: "sqlite", "memory" and
// "none" for vectors and scalars; "file", "memory" and "none" for
// snapshots.
func DefaultClasses() *Classes {
	return &Classes{
		Vector: map[string]VectorFactory{
			"sqlite": openSQLiteVectors,
			"memory": func(Params) (VectorWriter, error) { return NewMemory(), nil },
			"none":   func(Params) (VectorWriter, error) { return Discard{}, nil },
		},
		Scalar: map[string]ScalarFactory{
			"sqlite": openSQLiteScalars,
			"memory": func(Params) (ScalarWriter, error) { return NewMemory(), nil },
			"none":   func(Params) (ScalarWriter, error) { return Discard{}, nil },
		},
		Snapshot: map[string]SnapshotFactory{
			"file":   func(p Params) (SnapshotWriter, error) { return NewFileSnapshot(p.File), nil },
			"memory": func(Params) (SnapshotWriter, error) { return NewMemory(), nil },
			"none":   func(Params) (SnapshotWriter, error) { return Discard{}, nil },
		},
	}
}

func openSQLiteVectors(p Params) (VectorWriter, error) {
	db, err := OpenSQLite(p.Driver, p.File)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func openSQLiteScalars(p Params) (ScalarWriter, error) {
	db, err := OpenSQLite(p.Driver, p.File)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// UseMemory makes class "memory" of every kind return m, so results can be
// inspected after the run.
func (c *Classes) UseMemory(m *Memory) {
	c.Vector["memory"] = func(Params) (VectorWriter, error) { return m, nil }
	c.Scalar["memory"] = func(Params) (ScalarWriter, error) { return m, nil }
	c.Snapshot["memory"] = func(Params) (SnapshotWriter, error) { return m, nil }
}

func (c *Classes) NewVectorWriter(class string, p Params) (VectorWriter, error) {
	f, ok := c.Vector[class]
	if !ok {
		return nil, unknownClass("outputvectormanager-class", class, keys(c.Vector))
	}
	return f(p)
}

func (c *Classes) NewScalarWriter(class string, p Params) (ScalarWriter, error) {
	f, ok := c.Scalar[class]
	if !ok {
		return nil, unknownClass("outputscalarmanager-class", class, keys(c.Scalar))
	}
	return f(p)
}

func (c *Classes) NewSnapshotWriter(class string, p Params) (SnapshotWriter, error) {
	f, ok := c.Snapshot[class]
	if !ok {
		return nil, unknownClass("snapshotmanager-class", class, keys(c.Snapshot))
	}
	return f(p)
}

func unknownClass(option, class string, known []string) error {
	return config.Errorf(option, "", "class %q not found (known: %s)", class, strings.Join(known, ", "))
}

func keys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
