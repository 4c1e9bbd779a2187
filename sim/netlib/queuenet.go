// Package netlib provides ready-made networks for the reference kernel.
package netlib

import (
	"fmt"
	"sort"
	"strings"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/kernel"
)

// QueueNet is an open queueing network: a source emitting jobs with
// exponential interarrival times, a single-server FIFO queue with
// exponential service times and optional capacity, and a sink.
type QueueNet struct {
	NetName          string
	MeanInterarrival sim.Time
	MeanService      sim.Time
	Capacity         int   // 0 means unlimited
	MaxJobs          int64 // 0 means unlimited
}

// DefaultQueueNet returns a QueueNet with a load of 0.8.
func DefaultQueueNet() *QueueNet {
	return &QueueNet{
		NetName:          "QueueNet",
		MeanInterarrival: sim.FromSeconds(1),
		MeanService:      sim.FromSeconds(0.8),
		Capacity:         20,
	}
}

func (n *QueueNet) Name() string { return n.NetName }

func (n *QueueNet) Description() string {
	return "source -> single-server FIFO queue -> sink"
}

// Build creates net.source, net.queue and net.sink.
func (n *QueueNet) Build(s *kernel.Simulation) error {
	if n.MeanInterarrival <= 0 || n.MeanService <= 0 {
		return fmt.Errorf("%s: interarrival and service means must be positive", n.NetName)
	}
	sink, err := s.CreateModule("net.sink", &Sink{}, func(m *kernel.Module) {
		m.DeclareStatistic(sim.StatisticDecl{Name: "delay", Record: []string{"mean", "max", "stats?", "histogram?"}, Unit: "s"})
		m.DeclareStatistic(sim.StatisticDecl{Name: "jobs", Source: "count(delay)", Record: []string{"last"}, NoWarmupFilter: true})
	})
	if err != nil {
		return err
	}
	queue, err := s.CreateModule("net.queue", &Queue{Out: sink, MeanService: n.MeanService, Capacity: n.Capacity},
		func(m *kernel.Module) {
			m.DeclareStatistic(sim.StatisticDecl{Name: "queueLength", Record: []string{"vector?", "max", "timeavg"}, Unit: "jobs"})
			m.DeclareStatistic(sim.StatisticDecl{Name: "busy", Record: []string{"timeavg"}})
			m.DeclareSignal("drop")
			m.DeclareSignal("arrival")
			m.DeclareStatistic(sim.StatisticDecl{Name: "dropRatio", Source: "count(drop) / count(arrival)", Record: []string{"last"}})
		})
	if err != nil {
		return err
	}
	_, err = s.CreateModule("net.source", &Source{Out: queue, MeanInterarrival: n.MeanInterarrival, MaxJobs: n.MaxJobs},
		func(m *kernel.Module) {
			m.DeclareStatistic(sim.StatisticDecl{Name: "created", Record: []string{"count"}})
		})
	return err
}

// Message kinds.
const (
	KindJob = iota
	KindArrival
	KindServiceDone
)

func exponential(m *kernel.Module, mean sim.Time) (sim.Time, error) {
	r, err := m.RNG(0)
	if err != nil {
		return 0, err
	}
	return sim.Time(r.ExpFloat64() * float64(mean)), nil
}

// Source creates jobs.
type Source struct {
	Out              *kernel.Module
	MeanInterarrival sim.Time
	MaxJobs          int64

	timer   *kernel.Msg
	created int64
}

func (b *Source) Initialize(m *kernel.Module) error {
	b.timer = kernel.NewMsg("next-arrival", KindArrival)
	d, err := exponential(m, b.MeanInterarrival)
	if err != nil {
		return err
	}
	return m.ScheduleAfter(d, b.timer)
}

func (b *Source) HandleMessage(m *kernel.Module, msg *kernel.Msg) error {
	b.created++
	job := kernel.NewMsg(fmt.Sprintf("job-%d", b.created), KindJob)
	job.Value = m.Now().Seconds()
	m.Fingerprint().AddInt64(b.created)
	if err := m.Emit("created", 1); err != nil {
		return err
	}
	if err := m.Send(b.Out, job, 0); err != nil {
		return err
	}
	if b.MaxJobs > 0 && b.created >= b.MaxJobs {
		return nil
	}
	d, err := exponential(m, b.MeanInterarrival)
	if err != nil {
		return err
	}
	return m.ScheduleAfter(d, msg)
}

func (b *Source) Finish(m *kernel.Module) error {
	m.Log("created %d jobs", b.created)
	return nil
}

// Queue serves jobs one at a time in arrival order.
type Queue struct {
	Out         *kernel.Module
	MeanService sim.Time
	Capacity    int

	waiting []*kernel.Msg
	serving *kernel.Msg
	done    *kernel.Msg
	dropped int64
}

func (b *Queue) Initialize(m *kernel.Module) error {
	b.done = kernel.NewMsg("service-done", KindServiceDone)
	if err := m.Emit("queueLength", 0); err != nil {
		return err
	}
	return m.EmitBool("busy", false)
}

func (b *Queue) HandleMessage(m *kernel.Module, msg *kernel.Msg) error {
	if msg == b.done {
		job := b.serving
		b.serving = nil
		if err := m.Send(b.Out, job, 0); err != nil {
			return err
		}
		return b.startNext(m)
	}

	if err := m.Emit("arrival", 1); err != nil {
		return err
	}
	if b.Capacity > 0 && len(b.waiting) >= b.Capacity {
		b.dropped++
		m.Log("dropped %s", msg.Name)
		return m.Emit("drop", 1)
	}
	b.waiting = append(b.waiting, msg)
	if err := m.Emit("queueLength", float64(len(b.waiting))); err != nil {
		return err
	}
	if b.serving == nil {
		return b.startNext(m)
	}
	return nil
}

func (b *Queue) startNext(m *kernel.Module) error {
	if len(b.waiting) == 0 {
		return m.EmitBool("busy", false)
	}
	b.serving = b.waiting[0]
	b.waiting = b.waiting[1:]
	if err := m.Emit("queueLength", float64(len(b.waiting))); err != nil {
		return err
	}
	if err := m.EmitBool("busy", true); err != nil {
		return err
	}
	d, err := exponential(m, b.MeanService)
	if err != nil {
		return err
	}
	return m.ScheduleAfter(d, b.done)
}

func (b *Queue) Finish(m *kernel.Module) error {
	if b.dropped > 0 {
		m.Log("dropped %d jobs", b.dropped)
	}
	return nil
}

// Sink absorbs jobs and emits their time in the system.
type Sink struct {
	received int64
}

func (b *Sink) Initialize(*kernel.Module) error { return nil }

func (b *Sink) HandleMessage(m *kernel.Module, msg *kernel.Msg) error {
	b.received++
	m.Fingerprint().AddString(msg.Name)
	return m.Emit("delay", m.Now().Seconds()-msg.Value)
}

func (b *Sink) Finish(m *kernel.Module) error {
	m.Log("received %d jobs", b.received)
	return nil
}

// Received returns the number of jobs absorbed.
func (b *Sink) Received() int64 { return b.received }

// Registry maps network names to networks.
type Registry map[string]sim.Network

// DefaultRegistry returns the networks shipped with this package.
func DefaultRegistry() Registry {
	r := Registry{}
	r.Add(DefaultQueueNet())
	r.Add(&QueueNet{
		NetName:          "OverloadedQueueNet",
		MeanInterarrival: sim.FromSeconds(0.5),
		MeanService:      sim.FromSeconds(0.8),
		Capacity:         5,
	})
	return r
}

// Add registers net under its name.
func (r Registry) Add(net sim.Network) { r[net.Name()] = net }

// Lookup returns the named network. An unknown name is a *config.Error.
func (r Registry) Lookup(name string) (sim.Network, error) {
	if net, ok := r[name]; ok {
		return net, nil
	}
	return nil, config.Errorf("network", "", "unknown network %q (known: %s)", name, strings.Join(r.Names(), ", "))
}

// Names returns the registered names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
