// Package envir drives one simulation run from configuration to results.
//
// A Controller resolves the run options, owns the run's RNG pool, recorder
// chains, event log and clock, and steps a kernel one event at a time. It
// implements sim.Hooks, so every kernel callback passes through it.
package envir

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/clock"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/eventlog"
	"github.com/desim/envir/sim/fingerprint"
	"github.com/desim/envir/sim/lifecycle"
	"github.com/desim/envir/sim/output"
	"github.com/desim/envir/sim/results"
	"github.com/desim/envir/sim/rng"
)

// State is the phase of a Controller.
type State int

const (
	StateSetup State = iota
	StateRunning
	StateShuttingDown
	StateDone
	StateFailed // absorbing
)

var stateNames = [...]string{
	StateSetup:        "setup",
	StateRunning:      "running",
	StateShuttingDown: "shutting-down",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrCancelled is the error of runs stopped by the context or the
	// front end.
	ErrCancelled = errors.New("run cancelled")
	// ErrKernelPanic wraps a panic raised while the kernel or a component
	// was executing.
	ErrKernelPanic = errors.New("kernel panic")
	// ErrFingerprintMismatch is the run error when fingerprint-fatal is set.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("controller already ran")
)

// NetworkResolver finds networks by name.
type NetworkResolver interface {
	Lookup(name string) (sim.Network, error)
}

// KernelFactory creates the kernel selected by opts.SchedulerClass.
type KernelFactory func(opts Options) (sim.Kernel, error)

// FrontEnd is the user-facing side of a run.
type FrontEnd interface {
	// Idle is called between events. Returning true cancels the run.
	Idle() (cancel bool)
	// Warn reports a problem that does not stop the run.
	Warn(msg string)
}

// ParallelCoordinator is the synchronizer of a distributed run. It receives
// the same lifecycle events as listeners.
type ParallelCoordinator interface {
	PartitionID() int
	NumPartitions() int
	LifecycleEvent(ev lifecycle.Event)
}

type logFrontEnd struct{}

func (logFrontEnd) Idle() bool      { return false }
func (logFrontEnd) Warn(msg string) { logrus.Warn(msg) }

// Params are the collaborators and identity of one run.
type Params struct {
	Config   config.Configuration
	Registry *config.Registry // nil means NewRegistry()
	Networks NetworkResolver
	Kernels  KernelFactory
	Outputs  *output.Classes // nil means output.DefaultClasses()

	FrontEnd    FrontEnd            // nil logs warnings through logrus
	Coordinator ParallelCoordinator // nil for single-partition runs
	Listeners   []lifecycle.Listener

	// SnapshotAtEnd, when set, labels a snapshot taken after the last
	// event, once the statistics are finished.
	SnapshotAtEnd string

	RunNumber int
	RunID     string           // empty means a fresh UUIDv7
	Hostname  string           // empty means the local host name
	Now       func() time.Time // wall clock; nil means time.Now
}

// Controller runs one simulation. Create a new one per run.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Controller struct {
	p         Params
	state     State
	ran       bool
	listeners lifecycle.Registry

	opts     Options
	cfg      config.Configuration // Config with the run's variables
	fp       fingerprint.Hasher
	pool     *rng.Pool
	mappings map[int]*rng.ComponentRNGs
	kernel   sim.Kernel
	network  sim.Network
	built    bool // SetupNetwork was called

	vectors   output.VectorWriter
	scalars   output.ScalarWriter
	snapshots output.SnapshotWriter
	pipeline  *results.Pipeline
	elog      *eventlog.Controller
	clock     *clock.Clock

	live        map[int]sim.Component
	created     int
	chainsAtEnd int
	mismatch    bool
	failures    int // writer flush and close failures
	hookErr     error
}

// New creates a controller in state Setup. Panics if Config, Networks or
// Kernels is nil, or if a listener in Listeners is not comparable.
func New(p Params) *Controller {
	if p.Config == nil || p.Networks == nil || p.Kernels == nil {
		panic("envir.New: nil collaborator")
	}
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	if p.Outputs == nil {
		p.Outputs = output.DefaultClasses()
	}
	if p.FrontEnd == nil {
		p.FrontEnd = logFrontEnd{}
	}
	if p.RunID == "" {
		p.RunID = uuid.Must(uuid.NewV7()).String()
	}
	if p.Hostname == "" {
		p.Hostname = hostname()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	c := &Controller{
		p:        p,
		mappings: make(map[int]*rng.ComponentRNGs),
		live:     make(map[int]sim.Component),
	}
	for _, l := range p.Listeners {
		if err := c.listeners.Add(l); err != nil {
			panic("envir.New: " + err.Error())
		}
	}
	return c
}

func (c *Controller) State() State { return c.state }

// Options returns the run options; they are zero until setup read them.
func (c *Controller) Options() Options { return c.opts }

// Pipeline returns the recorder chains of the run, nil before setup.
func (c *Controller) Pipeline() *results.Pipeline { return c.pipeline }

// AddListener registers l. Adding a registered listener is a no-op; a
// listener that cannot be compared is rejected with
// lifecycle.ErrNotComparable.
func (c *Controller) AddListener(l lifecycle.Listener) error { return c.listeners.Add(l) }

// RemoveListener unregisters l. Removing an absent listener is a no-op.
func (c *Controller) RemoveListener(l lifecycle.Listener) { c.listeners.Remove(l) }

func (c *Controller) notify(ev lifecycle.Event) {
	c.listeners.Notify(ev)
	if c.p.Coordinator != nil {
		c.p.Coordinator.LifecycleEvent(ev)
	}
}

func (c *Controller) milestone(m lifecycle.Milestone) {
	c.notify(lifecycle.Event{Milestone: m})
}

// Run executes the run to completion. The returned result is also the
// detail of the single RunDone notification. The error is nil for normal
// ends and time-limit stops, wraps ErrCancelled for cancelled runs and is
// the failure for runs ending in error.
func (c *Controller) Run(ctx context.Context) (*RunResult, error) {
	if c.ran {
		return nil, ErrAlreadyRun
	}
	c.ran = true

	c.milestone(lifecycle.Startup)
	if err := c.setup(); err != nil {
		logrus.Errorf("run #%d: setup failed: %v", c.p.RunNumber, err)
		c.state = StateFailed
		c.abort()
		return c.complete(lifecycle.Error, err)
	}

	c.state = StateRunning
	c.milestone(lifecycle.SimulationStart)
	c.clock.Start()
	outcome, runErr := c.loop(ctx)

	c.state = StateShuttingDown
	outcome, runErr = c.shutdown(outcome, runErr)
	if outcome == lifecycle.Error {
		c.state = StateFailed
	} else {
		c.state = StateDone
	}
	return c.complete(outcome, runErr)
}

func (c *Controller) setup() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w during setup: %v", ErrKernelPanic, r)
		}
	}()

	if err := config.Validate(c.p.Config, c.p.Registry); err != nil {
		return err
	}
	run := RunIdentity{Number: c.p.RunNumber, ID: c.p.RunID, Host: c.p.Hostname}
	if c.p.Coordinator != nil {
		run.Partition = c.p.Coordinator.PartitionID()
		run.NumPartitions = c.p.Coordinator.NumPartitions()
	}
	opts, err := ReadOptions(c.p.Config, run)
	if err != nil {
		return err
	}
	c.opts = opts
	vars := variables(run)
	vars["network"] = opts.Network
	vars["seedset"] = strconv.FormatInt(opts.SeedSet, 10)
	c.cfg = config.WithVariables(c.p.Config, vars)

	poolOpts := []rng.Option{rng.WithPartition(opts.Partition)}
	for k, seed := range opts.SeedOverrides {
		poolOpts = append(poolOpts, rng.WithSeed(k, seed))
	}
	if c.pool, err = rng.NewPool(opts.NumRNGs, opts.RNGClass, opts.SeedSet, poolOpts...); err != nil {
		return err
	}
	if c.kernel, err = c.p.Kernels(opts); err != nil {
		return err
	}
	if c.network, err = c.p.Networks.Lookup(opts.Network); err != nil {
		return err
	}
	if err := c.openWriters(); err != nil {
		return err
	}

	c.pipeline = results.New(c.cfg, results.Options{
		Warmup:             opts.WarmupPeriod,
		BackendErrorsFatal: opts.BackendErrorsFatal,
		Warnings:           opts.Warnings,
		Debug:              opts.DebugStatisticsRecording,
	}, c.vectors, c.scalars)
	c.elog = eventlog.New(eventlog.Options{
		File:               opts.EventlogFile,
		Attrs:              c.runAttributes(),
		Config:             c.cfg,
		BackendErrorsFatal: opts.BackendErrorsFatal,
		Warnings:           opts.Warnings,
	})
	if opts.EventlogIntervals != "" {
		if err := c.elog.SetRecordingIntervals(opts.EventlogIntervals); err != nil {
			return err
		}
	}
	if opts.RecordEventlog {
		if err := c.elog.SetRecording(true); err != nil {
			return err
		}
	}
	c.clock = clock.New(opts.SimTimeLimit, opts.CPUTimeLimit, clock.WithNow(c.p.Now))
	c.fp.Reset()
	c.kernel.SetHooks(c)

	c.milestone(lifecycle.PreNetworkSetup)
	c.elog.SimulationBegin()
	c.built = true
	if err := c.kernel.SetupNetwork(c.network); err != nil {
		return err
	}
	if c.hookErr != nil {
		return c.hookErr
	}
	c.milestone(lifecycle.PostNetworkSetup)
	if err := c.kernel.Initialize(); err != nil {
		return fmt.Errorf("initializing network %s: %w", opts.Network, err)
	}
	if c.hookErr != nil {
		return c.hookErr
	}
	logrus.Infof("run #%d: network %s, %d %s RNGs, seed-set %d, %d recorder chains",
		opts.RunNumber, opts.Network, opts.NumRNGs, opts.RNGClass, opts.SeedSet, c.pipeline.Len())
	return nil
}

func (c *Controller) runAttributes() map[string]string {
	return map[string]string{
		"run-id":          c.opts.RunID,
		"run-number":      strconv.Itoa(c.opts.RunNumber),
		"network":         c.opts.Network,
		"seed-set":        strconv.FormatInt(c.opts.SeedSet, 10),
		"rng-class":       c.opts.RNGClass,
		"scheduler-class": c.opts.SchedulerClass,
		"options-digest":  c.opts.Digest(),
	}
}

func (c *Controller) openWriters() error {
	o := c.opts
	var err error
	if c.vectors, err = c.p.Outputs.NewVectorWriter(o.VectorClass, output.Params{File: o.VectorFile, Driver: o.DBDriver}); err != nil {
		return err
	}
	if c.scalars, err = c.p.Outputs.NewScalarWriter(o.ScalarClass, output.Params{File: o.ScalarFile, Driver: o.DBDriver}); err != nil {
		return err
	}
	if c.snapshots, err = c.p.Outputs.NewSnapshotWriter(o.SnapshotClass, output.Params{File: o.SnapshotFile}); err != nil {
		return err
	}
	info := output.RunInfo{RunID: o.RunID, RunNumber: o.RunNumber, Network: o.Network, Attributes: c.runAttributes()}
	for _, w := range c.writers() {
		if err := w.StartRun(info); err != nil {
			return err
		}
	}
	return nil
}

// writers returns the vector and scalar writers, once each when they are
// the same backend.
func (c *Controller) writers() []output.Writer {
	var ws []output.Writer
	if c.vectors != nil {
		ws = append(ws, c.vectors)
	}
	if c.scalars != nil && (c.vectors == nil || output.Writer(c.scalars) != output.Writer(c.vectors)) {
		ws = append(ws, c.scalars)
	}
	return ws
}

// interrupter is implemented by kernels that can block inside Step, such
// as the real-time scheduler.
type interrupter interface {
	Interrupt()
}

func (c *Controller) loop(ctx context.Context) (lifecycle.Outcome, error) {
	if k, ok := c.kernel.(interrupter); ok {
		stop := context.AfterFunc(ctx, k.Interrupt)
		defer stop()
	}
	for {
		if ctx.Err() != nil {
			return lifecycle.Cancelled, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
		if c.p.FrontEnd.Idle() {
			return lifecycle.Cancelled, fmt.Errorf("%w by the front end", ErrCancelled)
		}
		next, ok := c.kernel.NextEventTime()
		if !ok {
			return lifecycle.NormalEnd, nil
		}
		if err := c.clock.CheckLimits(next); err != nil {
			logrus.Infof("run #%d: %v", c.opts.RunNumber, err)
			return lifecycle.TimeLimitStop, err
		}
		if err := c.step(); err != nil {
			return lifecycle.Error, err
		}
	}
}

func (c *Controller) step() error {
	if err := c.guard(func() error {
		_, err := c.kernel.Step()
		return err
	}); err != nil {
		return err
	}
	if c.hookErr != nil {
		return c.hookErr
	}
	if err := c.pipeline.Err(); err != nil {
		return err
	}
	return c.elog.Err()
}

// guard runs fn, converting a panic into an ErrKernelPanic error.
func (c *Controller) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w at event #%d, t=%s: %v", ErrKernelPanic, c.kernel.EventNumber(), c.kernel.Now(), r)
		}
	}()
	return fn()
}

func (c *Controller) shutdown(outcome lifecycle.Outcome, runErr error) (lifecycle.Outcome, error) {
	fail := func(err error) {
		if outcome != lifecycle.Error {
			outcome, runErr = lifecycle.Error, err
		}
	}

	c.clock.Stop(c.kernel.Now())
	c.milestone(lifecycle.SimulationEnd)
	if outcome != lifecycle.Error {
		if err := c.guard(c.kernel.Finish); err != nil {
			fail(err)
		}
	}
	// Recorders and backends run user-facing code; a panic in any of them
	// still has to reach run-done.
	if err := c.guard(func() error { c.pipeline.Finish(c.kernel.Now()); return nil }); err != nil {
		fail(err)
	}
	if err := c.pipeline.Err(); err != nil {
		fail(err)
	}
	if c.p.SnapshotAtEnd != "" && outcome != lifecycle.Error {
		var snapErr error
		if err := c.guard(func() error { snapErr = c.Snapshot(c.p.SnapshotAtEnd); return nil }); err != nil {
			fail(err)
		} else if snapErr != nil {
			c.p.FrontEnd.Warn(fmt.Sprintf("snapshot %q: %v", c.p.SnapshotAtEnd, snapErr))
		}
	}
	if outcome != lifecycle.Error && c.opts.Fingerprint != "" {
		if ok, _ := c.fp.Equals(c.opts.Fingerprint); !ok {
			c.mismatch = true
			msg := fmt.Sprintf("fingerprint mismatch: calculated %s, expected %s", c.fp.String(), c.opts.Fingerprint)
			c.p.FrontEnd.Warn(msg)
			if c.opts.FingerprintFatal {
				fail(fmt.Errorf("%w: calculated %s, expected %s", ErrFingerprintMismatch, c.fp.String(), c.opts.Fingerprint))
			}
		} else {
			logrus.Infof("run #%d: fingerprint %s verified", c.opts.RunNumber, c.fp.String())
		}
	}
	c.elog.SimulationEnd(outcome.String())
	c.milestone(lifecycle.Shutdown)
	c.chainsAtEnd = c.pipeline.Len()

	for _, w := range c.writers() {
		c.writerCall(w.Flush, fail)
	}
	c.writerCall(c.elog.Close, fail)
	if err := c.elog.Err(); err != nil {
		fail(err)
	}
	if err := c.guard(func() error { c.kernel.DeleteNetwork(); return nil }); err != nil {
		fail(err)
	}
	c.closeWriters(fail)
	return outcome, runErr
}

// writerCall runs a backend operation. Returned errors are backend failures;
// a panic always fails the run.
func (c *Controller) writerCall(fn func() error, fail func(error)) {
	var opErr error
	if err := c.guard(func() error { opErr = fn(); return nil }); err != nil {
		c.failures++
		fail(err)
		return
	}
	if opErr != nil {
		c.writerFailed(opErr, fail)
	}
}

func (c *Controller) writerFailed(err error, fail func(error)) {
	c.failures++
	if c.opts.BackendErrorsFatal {
		fail(err)
		return
	}
	logrus.Warnf("run #%d: %v", c.opts.RunNumber, err)
}

func (c *Controller) closeWriters(fail func(error)) {
	for _, w := range c.writers() {
		c.writerCall(w.Close, fail)
	}
	if c.snapshots != nil {
		c.writerCall(c.snapshots.Close, fail)
	}
}

// abort releases what a failed setup acquired.
func (c *Controller) abort() {
	ignore := func(error) {}
	if c.built {
		if err := c.guard(func() error { c.kernel.DeleteNetwork(); return nil }); err != nil {
			logrus.Warnf("run #%d: deleting network after failed setup: %v", c.p.RunNumber, err)
		}
	}
	if c.elog != nil {
		if err := c.elog.Close(); err != nil {
			logrus.Warnf("run #%d: %v", c.p.RunNumber, err)
		}
	}
	c.closeWriters(ignore)
}

func (c *Controller) complete(outcome lifecycle.Outcome, runErr error) (*RunResult, error) {
	res := &RunResult{
		RunID:               c.p.RunID,
		RunNumber:           c.p.RunNumber,
		Network:             c.opts.Network,
		Outcome:             outcome,
		Err:                 runErr,
		Stats:               c.stats(),
		Fingerprint:         c.fp.String(),
		ExpectedFingerprint: c.opts.Fingerprint,
		FingerprintMismatch: c.mismatch,
	}
	if c.opts.Network != "" {
		res.OptionsDigest = c.opts.Digest()
	}
	logrus.Infof("run #%d: %s after %d events at t=%s", res.RunNumber, outcome, res.Stats.Events, res.Stats.SimulatedTime)
	c.notify(lifecycle.Event{Milestone: lifecycle.RunDone, Outcome: outcome, Detail: res})

	switch outcome {
	case lifecycle.Error, lifecycle.Cancelled:
		return res, runErr
	default:
		return res, nil
	}
}

func (c *Controller) stats() RunStats {
	s := RunStats{Components: c.created, Chains: c.chainsAtEnd, BackendFailures: c.failures}
	if c.kernel != nil {
		s.Events = c.kernel.EventNumber()
	}
	if c.clock != nil {
		s.SimulatedTime = c.clock.SimulatedTime()
		s.Elapsed = c.clock.TotalElapsed()
	}
	if c.pool != nil {
		s.RNGDraws = c.pool.TotalDrawn()
	}
	if c.pipeline != nil {
		s.BackendFailures += c.pipeline.Failures()
	}
	if c.elog != nil {
		s.EventlogRecords = c.elog.Written()
		s.BackendFailures += c.elog.Failures()
	}
	return s
}

// EventLog returns the event log session, nil before setup. Recording may
// be toggled while the simulation runs.
func (c *Controller) EventLog() *eventlog.Controller { return c.elog }

type snapshotDoc struct {
	Label       string              `yaml:"label"`
	RunID       string              `yaml:"run-id"`
	RunNumber   int                 `yaml:"run-number"`
	Network     string              `yaml:"network"`
	State       string              `yaml:"state"`
	SimTime     string              `yaml:"sim-time"`
	Event       int64               `yaml:"event"`
	Fingerprint string              `yaml:"fingerprint"`
	Components  []string            `yaml:"components"`
	Statistics  map[string][]string `yaml:"statistics,omitempty"`
}

// Snapshot writes the current run state under label to the snapshot
// backend. It is valid while the simulation runs or shuts down.
func (c *Controller) Snapshot(label string) error {
	if c.state != StateRunning && c.state != StateShuttingDown {
		return fmt.Errorf("envir: snapshot in state %s", c.state)
	}
	doc := snapshotDoc{
		Label:       label,
		RunID:       c.opts.RunID,
		RunNumber:   c.opts.RunNumber,
		Network:     c.opts.Network,
		State:       c.state.String(),
		SimTime:     c.kernel.Now().String(),
		Event:       c.kernel.EventNumber(),
		Fingerprint: c.fp.String(),
	}
	for _, comp := range c.live {
		doc.Components = append(doc.Components, comp.FullPath())
	}
	sort.Strings(doc.Components)
	for _, chain := range c.pipeline.Chains() {
		if doc.Statistics == nil {
			doc.Statistics = make(map[string][]string)
		}
		key := chain.Path + "." + chain.Statistic
		doc.Statistics[key] = chain.Modes
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("envir: encoding snapshot: %w", err)
	}
	return c.snapshots.WriteSnapshot(label, data)
}

func (c *Controller) hookFailed(err error) {
	if c.hookErr == nil {
		c.hookErr = err
	}
}

// Kernel callbacks.

func (c *Controller) ComponentCreated(comp sim.Component) {
	c.live[comp.ID()] = comp
	c.created++
	c.elog.ComponentCreated(comp)
}

func (c *Controller) ComponentConfigured(comp sim.Component) {
	if err := c.pipeline.AddResultRecorders(comp); err != nil {
		c.hookFailed(err)
	}
}

func (c *Controller) ComponentDeleted(comp sim.Component) {
	c.pipeline.Teardown(comp, c.kernel.Now())
	c.elog.ComponentDeleted(comp)
	delete(c.live, comp.ID())
	delete(c.mappings, comp.ID())
}

func (c *Controller) EventExecuted(ev sim.Event) {
	c.fp.AddInt64(ev.Time.Raw())
	c.fp.AddInt(ev.Component.ID())
	c.elog.EventExecuted(ev)
}

func (c *Controller) MessageScheduled(m sim.Message) { c.elog.MessageScheduled(m) }
func (c *Controller) MessageCancelled(m sim.Message) { c.elog.MessageCancelled(m) }
func (c *Controller) MessageSent(m sim.Message)      { c.elog.MessageSent(m) }

func (c *Controller) LogLine(comp sim.Component, text string) {
	logrus.Infof("[t=%s] %s: %s", c.kernel.Now(), comp.FullPath(), text)
	c.elog.LogLine(comp, text)
}

func (c *Controller) RNG(comp sim.Component, k int) (*rand.Rand, error) {
	m, ok := c.mappings[comp.ID()]
	if !ok {
		m = c.pool.MappingFor(comp.FullPath(), c.rngMapping)
		c.mappings[comp.ID()] = m
	}
	return m.Get(k)
}

// rngMapping resolves the per-object rng-<k> option.
func (c *Controller) rngMapping(path string, k int) (int, bool, error) {
	opt := OptRNG.Instance(k)
	if _, ok := c.cfg.PerObjectValue(path, opt.Name); !ok {
		return 0, false, nil
	}
	v, err := config.GetIntFor(c.cfg, path, opt, 0)
	if err != nil {
		return 0, false, err
	}
	return int(v), true, nil
}

func (c *Controller) RequestStatistic(comp sim.Component, decl sim.StatisticDecl) error {
	_, err := c.pipeline.AddStatistic(comp, decl)
	return err
}

func (c *Controller) Fingerprint() *fingerprint.Hasher { return &c.fp }
func (c *Controller) CheckSignals() bool               { return c.opts.CheckSignals }
