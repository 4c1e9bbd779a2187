// Package output holds the result writer backends a run records into.
//
// Writers are pluggable: the run controller selects them by class name
// through a Classes registry and never depends on a concrete backend.
package output

import (
	"fmt"

	"github.com/desim/envir/sim"
)

// RunInfo identifies the run results belong to.
type RunInfo struct {
	RunID      string
	RunNumber  int
	Network    string
	Attributes map[string]string
}

// Meta describes a recorded result.
type Meta struct {
	Title string
	Unit  string
}

// Bin is one histogram cell, [Lower, Upper).
type Bin struct {
	Lower, Upper float64
	Count        float64
}

// Statistic is a summary of a value stream, optionally with a histogram.
type Statistic struct {
	Count  int64
	Sum    float64
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Bins   []Bin
}

// Writer is the part common to vector and scalar writers.
type Writer interface {
	StartRun(info RunInfo) error
	Flush() error
	Close() error
}

// VectorWriter records time series.
type VectorWriter interface {
	Writer
	// RegisterVector declares a vector and returns its handle.
	RegisterVector(component, name string, meta Meta) (int, error)
	RecordValue(vector int, t sim.Time, value float64) error
}

// ScalarWriter records single values and statistic summaries.
type ScalarWriter interface {
	Writer
	RecordScalar(component, name string, value float64, meta Meta) error
	RecordStatistic(component, name string, s Statistic, meta Meta) error
}

// SnapshotWriter stores labelled snapshots of run state.
type SnapshotWriter interface {
	WriteSnapshot(label string, data []byte) error
	Close() error
}

// BackendError reports a failed write to a result backend.
type BackendError struct {
	Backend string // class name, e.g. "sqlite"
	Op      string // operation, e.g. "record value"
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
