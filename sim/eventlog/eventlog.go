package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/output"
)

// OptModuleRecording switches event log records off for matching
// components, e.g. "**.source.module-eventlog-recording = false".
var OptModuleRecording = &config.Option{
	Name:        "module-eventlog-recording",
	PerObject:   true,
	Type:        config.TypeBool,
	Default:     "true",
	Description: "Whether event log records are written for the component.",
}

// Declare registers the options this package reads.
func Declare(reg *config.Registry) {
	reg.Declare(OptModuleRecording)
}

// ErrClosed is returned when recording is requested after Close.
var ErrClosed = errors.New("event log is closed")

// Options configure a Controller.
type Options struct {
	File string
	// Header attributes written to the first record, e.g. run id.
	Attrs map[string]string
	// Config answers per-object module-eventlog-recording queries; nil
	// records every component.
	Config config.Configuration
	// BackendErrorsFatal makes the first write failure the run error.
	BackendErrorsFatal bool
	// Warnings logs skipped write failures at warning level; otherwise at
	// debug level.
	Warnings bool
}

// Controller owns the event log session of one run. The file is opened
// the first time recording is enabled and stays open until Close, so
// toggling recording or changing intervals never reopens it.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Controller struct {
	opts Options

	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder

	recording bool
	closed    bool
	intervals []Interval

	now   sim.Time
	event int64

	components map[int]sim.Component
	enabled    map[int]bool

	written  int
	failures int
	err      error
}

// New creates a controller with recording disabled.
func New(opts Options) *Controller {
	return &Controller{
		opts:       opts,
		components: make(map[int]sim.Component),
		enabled:    make(map[int]bool),
	}
}

// SetRecording enables or disables recording. Enabling it the first time
// creates the file and writes the header record; if any step fails the
// partially created file is removed and the controller stays closed.
func (c *Controller) SetRecording(enabled bool) error {
	if !enabled {
		c.recording = false
		return nil
	}
	if c.closed {
		return ErrClosed
	}
	if c.f == nil {
		if err := c.open(); err != nil {
			return err
		}
	}
	c.recording = true
	return nil
}

func (c *Controller) open() (err error) {
	if c.opts.File == "" {
		return config.Errorf("eventlog-file", "", "no event log file name configured")
	}
	if err := os.MkdirAll(filepath.Dir(c.opts.File), 0755); err != nil {
		return fmt.Errorf("failed to create event log directory: %w", err)
	}
	f, err := os.Create(c.opts.File)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			if rmErr := os.Remove(c.opts.File); rmErr != nil {
				logrus.Warnf("eventlog: could not remove partial file %s: %v", c.opts.File, rmErr)
			}
			c.f, c.w, c.enc = nil, nil, nil
		}
	}()

	c.f = f
	c.w = bufio.NewWriter(f)
	c.enc = json.NewEncoder(c.w)
	if err = c.enc.Encode(Record{Kind: KindHeader, T: c.now.Raw(), Event: c.event, Attrs: c.opts.Attrs}); err != nil {
		return fmt.Errorf("failed to write event log header: %w", err)
	}
	if err = c.w.Flush(); err != nil {
		return fmt.Errorf("failed to write event log header: %w", err)
	}
	logrus.Debugf("eventlog: recording to %s", c.opts.File)
	return nil
}

// IsRecording reports whether records are currently appended.
func (c *Controller) IsRecording() bool { return c.recording }

// SetRecordingIntervals restricts recording to the given ranges. The file
// is not reopened.
func (c *Controller) SetRecordingIntervals(list string) error {
	intervals, err := ParseIntervals(list)
	if err != nil {
		return &config.Error{Option: "eventlog-recording-intervals", Msg: "invalid recording interval", Err: err}
	}
	c.intervals = intervals
	return nil
}

// ClearRecordingIntervals removes all interval restrictions.
func (c *Controller) ClearRecordingIntervals() { c.intervals = nil }

// HasRecordingIntervals reports whether recording is restricted.
func (c *Controller) HasRecordingIntervals() bool { return len(c.intervals) > 0 }

// Intervals returns the active recording intervals.
func (c *Controller) Intervals() []Interval {
	return append([]Interval(nil), c.intervals...)
}

func (c *Controller) inIntervals() bool {
	if len(c.intervals) == 0 {
		return true
	}
	for _, iv := range c.intervals {
		if iv.contains(c.now, c.event) {
			return true
		}
	}
	return false
}

// componentEnabled resolves module-eventlog-recording once per component.
func (c *Controller) componentEnabled(comp sim.Component) bool {
	if comp == nil || c.opts.Config == nil {
		return true
	}
	if on, ok := c.enabled[comp.ID()]; ok {
		return on
	}
	on, err := config.GetBoolFor(c.opts.Config, comp.FullPath(), OptModuleRecording, true)
	if err != nil {
		c.report(err)
	}
	c.enabled[comp.ID()] = on
	return on
}

func (c *Controller) active(comp sim.Component) bool {
	return c.recording && c.enc != nil && c.inIntervals() && c.componentEnabled(comp)
}

func (c *Controller) write(r Record) {
	r.T, r.Event = c.now.Raw(), c.event
	if err := c.enc.Encode(r); err != nil {
		c.report(&output.BackendError{Backend: "eventlog", Op: "write " + string(r.Kind), Err: err})
		return
	}
	c.written++
}

func (c *Controller) componentByID(id int) sim.Component {
	return c.components[id]
}

// SimulationBegin records the start of event execution.
func (c *Controller) SimulationBegin() {
	if c.active(nil) {
		c.write(Record{Kind: KindSimulationBegin})
	}
}

// EventExecuted advances the log position to ev and records it.
func (c *Controller) EventExecuted(ev sim.Event) {
	c.now, c.event = ev.Time, ev.Number
	if !c.active(ev.Component) {
		return
	}
	r := Record{Kind: KindEvent, Component: ev.Component.FullPath()}
	if ev.Message != nil {
		r.Message = messageRecord(*ev.Message)
	}
	c.write(r)
}

func (c *Controller) message(kind Kind, m sim.Message) {
	src := c.componentByID(m.SrcID)
	if src == nil {
		src = c.componentByID(m.DstID)
	}
	if !c.active(src) {
		return
	}
	r := Record{Kind: kind, Message: messageRecord(m)}
	if src != nil {
		r.Component = src.FullPath()
	}
	c.write(r)
}

func (c *Controller) MessageScheduled(m sim.Message) { c.message(KindMessageScheduled, m) }
func (c *Controller) MessageCancelled(m sim.Message) { c.message(KindMessageCancelled, m) }
func (c *Controller) MessageSent(m sim.Message)      { c.message(KindMessageSent, m) }

// ComponentCreated records comp and remembers it for message records.
func (c *Controller) ComponentCreated(comp sim.Component) {
	c.components[comp.ID()] = comp
	if c.active(comp) {
		c.write(Record{Kind: KindComponentCreated, Component: comp.FullPath()})
	}
}

func (c *Controller) ComponentDeleted(comp sim.Component) {
	if c.active(comp) {
		c.write(Record{Kind: KindComponentDeleted, Component: comp.FullPath()})
	}
	delete(c.components, comp.ID())
	delete(c.enabled, comp.ID())
}

// LogLine records a line of model output.
func (c *Controller) LogLine(comp sim.Component, text string) {
	if c.active(comp) {
		r := Record{Kind: KindLogLine, Text: text}
		if comp != nil {
			r.Component = comp.FullPath()
		}
		c.write(r)
	}
}

// SimulationEnd records the end of the run with its outcome.
func (c *Controller) SimulationEnd(outcome string) {
	if c.active(nil) {
		c.write(Record{Kind: KindSimulationEnd, Text: outcome})
	}
}

// Written returns the number of records appended, header excluded.
func (c *Controller) Written() int { return c.written }

// Failures returns the number of write failures.
func (c *Controller) Failures() int { return c.failures }

// Err returns the first write failure when failures are fatal.
func (c *Controller) Err() error { return c.err }

// Close flushes and closes the file. Only the first call has an effect;
// it is safe when no file was ever opened.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.recording = false
	if c.f == nil {
		return nil
	}
	flushErr := c.w.Flush()
	closeErr := c.f.Close()
	c.f, c.w, c.enc = nil, nil, nil
	if flushErr != nil {
		return &output.BackendError{Backend: "eventlog", Op: "flush", Err: flushErr}
	}
	if closeErr != nil {
		return &output.BackendError{Backend: "eventlog", Op: "close", Err: closeErr}
	}
	return nil
}

func (c *Controller) report(err error) {
	c.failures++
	if c.opts.BackendErrorsFatal {
		if c.err == nil {
			c.err = err
		}
		return
	}
	if c.opts.Warnings {
		logrus.Warnf("eventlog: %v (record skipped)", err)
	} else {
		logrus.Debugf("eventlog: %v (record skipped)", err)
	}
}
