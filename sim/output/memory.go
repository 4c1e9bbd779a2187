package output

import (
	"github.com/desim/envir/sim"
)

// ScalarRecord is a scalar held by Memory.
type ScalarRecord struct {
	Component, Name string
	Value           float64
	Meta            Meta
}

// StatisticRecord is a statistic held by Memory.
type StatisticRecord struct {
	Component, Name string
	Statistic       Statistic
	Meta            Meta
}

// Sample is one vector entry.
type Sample struct {
	T     sim.Time
	Value float64
}

// VectorRecord is a vector held by Memory.
type VectorRecord struct {
	Component, Name string
	Meta            Meta
	Samples         []Sample
}

// Snapshot is a labelled snapshot held by Memory.
type Snapshot struct {
	Label string
	Data  []byte
}

// Memory keeps all results in memory. It implements every writer interface
// and is used for tests and for runs whose results are consumed in-process.
type Memory struct {
	Runs       []RunInfo
	Scalars    []ScalarRecord
	Statistics []StatisticRecord
	Vectors    []*VectorRecord
	Snapshots  []Snapshot
	Flushes    int
	Closed     bool

	// Fail, when set, is returned by every subsequent record call.
	Fail error
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) StartRun(info RunInfo) error {
	m.Runs = append(m.Runs, info)
	return nil
}

func (m *Memory) RegisterVector(component, name string, meta Meta) (int, error) {
	if m.Fail != nil {
		return -1, &BackendError{Backend: "memory", Op: "register vector", Err: m.Fail}
	}
	m.Vectors = append(m.Vectors, &VectorRecord{Component: component, Name: name, Meta: meta})
	return len(m.Vectors) - 1, nil
}

func (m *Memory) RecordValue(vector int, t sim.Time, value float64) error {
	if m.Fail != nil {
		return &BackendError{Backend: "memory", Op: "record value", Err: m.Fail}
	}
	v := m.Vectors[vector]
	v.Samples = append(v.Samples, Sample{T: t, Value: value})
	return nil
}

func (m *Memory) RecordScalar(component, name string, value float64, meta Meta) error {
	if m.Fail != nil {
		return &BackendError{Backend: "memory", Op: "record scalar", Err: m.Fail}
	}
	m.Scalars = append(m.Scalars, ScalarRecord{Component: component, Name: name, Value: value, Meta: meta})
	return nil
}

func (m *Memory) RecordStatistic(component, name string, s Statistic, meta Meta) error {
	if m.Fail != nil {
		return &BackendError{Backend: "memory", Op: "record statistic", Err: m.Fail}
	}
	m.Statistics = append(m.Statistics, StatisticRecord{Component: component, Name: name, Statistic: s, Meta: meta})
	return nil
}

func (m *Memory) WriteSnapshot(label string, data []byte) error {
	m.Snapshots = append(m.Snapshots, Snapshot{Label: label, Data: append([]byte(nil), data...)})
	return nil
}

func (m *Memory) Flush() error {
	m.Flushes++
	return nil
}

func (m *Memory) Close() error {
	m.Closed = true
	return nil
}

// Scalar returns the first scalar recorded for component and name.
func (m *Memory) Scalar(component, name string) (float64, bool) {
	for _, s := range m.Scalars {
		if s.Component == component && s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// Vector returns the vector recorded for component and name.
func (m *Memory) Vector(component, name string) *VectorRecord {
	for _, v := range m.Vectors {
		if v.Component == component && v.Name == name {
			return v
		}
	}
	return nil
}

// Discard accepts and drops everything. It is the "none" class.
type Discard struct{}

func (Discard) StartRun(RunInfo) error                                { return nil }
func (Discard) RegisterVector(string, string, Meta) (int, error)      { return 0, nil }
func (Discard) RecordValue(int, sim.Time, float64) error              { return nil }
func (Discard) RecordScalar(string, string, float64, Meta) error      { return nil }
func (Discard) RecordStatistic(string, string, Statistic, Meta) error { return nil }
func (Discard) WriteSnapshot(string, []byte) error                    { return nil }
func (Discard) Flush() error                                          { return nil }
func (Discard) Close() error                                          { return nil }
