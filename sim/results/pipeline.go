// Package results builds and drives the recorder chains of a run.
//
// A chain is rooted at one declared statistic of one component: signal
// sources, an optional warm-up filter after each source, the filters and
// arithmetic of the statistic's source expression, and one terminal
// recorder per active recording mode. Recorders write to the vector and
// scalar backends of package output.
package results

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/output"
)

// Options configure a Pipeline.
type Options struct {
	// Warmup drops values timestamped before it, unless a statistic is
	// exempt. Zero disables warm-up filtering.
	Warmup sim.Time
	// BackendErrorsFatal makes the first backend failure the run error
	// instead of logging and skipping it.
	BackendErrorsFatal bool
	// Warnings logs skipped backend failures at warning level; otherwise at
	// debug level.
	Warnings bool
	// Debug logs each component's chains as they are attached.
	Debug bool
}

// Chain is the recorder chain of one (component, statistic) pair.
type Chain struct {
	Component sim.Component
	Path      string   // component path
	Statistic string   // statistic name
	Source    string   // source expression as declared
	Modes     []string // active recording modes, in recorder order

	sources   []*signalSource
	recorders []recorder
	finished  bool
	detached  bool
}

// Signals returns the signals the chain is subscribed to.
func (c *Chain) Signals() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.signal
	}
	return names
}

// Pipeline owns the recorder chains of one run.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Pipeline struct {
	cfg     config.Configuration
	opts    Options
	vectors output.VectorWriter
	scalars output.ScalarWriter

	chains      map[string]*Chain
	byComponent map[int][]*Chain

	failures int
	err      error
}

// New creates an empty pipeline. Panics if any collaborator is nil.
func New(cfg config.Configuration, opts Options, vectors output.VectorWriter, scalars output.ScalarWriter) *Pipeline {
	if cfg == nil || vectors == nil || scalars == nil {
		panic("results.New: nil collaborator")
	}
	return &Pipeline{
		cfg:         cfg,
		opts:        opts,
		vectors:     vectors,
		scalars:     scalars,
		chains:      make(map[string]*Chain),
		byComponent: make(map[int][]*Chain),
	}
}

func chainKey(path, statistic string) string {
	return norm.NFC.String(path) + "\x00" + norm.NFC.String(statistic)
}

// AddResultRecorders attaches a chain for every statistic c declares.
func (p *Pipeline) AddResultRecorders(c sim.Component) error {
	for _, decl := range c.Statistics() {
		if _, err := p.AddStatistic(c, decl); err != nil {
			return err
		}
	}
	if p.opts.Debug && len(p.byComponent[c.ID()]) > 0 {
		var b strings.Builder
		dumpChains(&b, p.byComponent[c.ID()])
		logrus.Infof("statistics recording for %s:\n%s", c.FullPath(), strings.TrimRight(b.String(), "\n"))
	}
	return nil
}

// AddStatistic attaches the chain of one statistic. Configuration problems
// (duplicate statistic, bad source expression, unknown recording mode) are
// returned as *config.Error.
func (p *Pipeline) AddStatistic(c sim.Component, decl sim.StatisticDecl) (*Chain, error) {
	path := c.FullPath()
	key := chainKey(path, decl.Name)
	if _, exists := p.chains[key]; exists {
		return nil, config.Errorf("", path, "statistic %q already has a recorder chain", decl.Name)
	}

	objectPath := path + "." + decl.Name
	modeList, err := config.GetStringFor(p.cfg, objectPath, OptResultRecordingModes, "default")
	if err != nil {
		return nil, err
	}
	scalarsOn, err := config.GetBoolFor(p.cfg, objectPath, OptScalarRecording, true)
	if err != nil {
		return nil, err
	}
	vectorsOn, err := config.GetBoolFor(p.cfg, objectPath, OptVectorRecording, true)
	if err != nil {
		return nil, err
	}

	modes := ResolveModes(modeList, decl.Record)
	for _, m := range modes {
		if _, ok := recorderKinds[m]; !ok {
			return nil, config.Errorf(OptResultRecordingModes.Name, path,
				"unknown recording mode %q for statistic %q (known: %s)", m, decl.Name, strings.Join(recorderNames(), ", "))
		}
	}

	e, err := parseExpr(decl.SourceExpr())
	if err != nil {
		return nil, &config.Error{Object: path, Msg: fmt.Sprintf("statistic %q: invalid source expression", decl.Name), Err: err}
	}
	if len(e.signals()) == 0 {
		return nil, config.Errorf("", path, "statistic %q: source expression %q references no signal", decl.Name, decl.SourceExpr())
	}

	chain := &Chain{Component: c, Path: path, Statistic: decl.Name, Source: decl.SourceExpr()}
	meta := output.Meta{Title: decl.Title, Unit: decl.Unit}
	for _, m := range modes {
		kind := recorderKinds[m]
		if (kind.vector && !vectorsOn) || (!kind.vector && !scalarsOn) {
			continue
		}
		chain.recorders = append(chain.recorders, kind.build(recorderBase{
			p: p, component: path, statistic: decl.Name, meta: meta, kind: m,
		}))
		chain.Modes = append(chain.Modes, m)
	}

	if len(chain.recorders) > 0 {
		b := &builder{p: p, chain: chain, warmup: !decl.NoWarmupFilter && p.opts.Warmup > 0, bySignal: map[string]attacher{}}
		out, err := b.build(e)
		if err != nil {
			return nil, &config.Error{Object: path, Msg: fmt.Sprintf("statistic %q: invalid source expression", decl.Name), Err: err}
		}
		for _, r := range chain.recorders {
			out.attach(r)
		}
		for _, src := range chain.sources {
			c.Subscribe(src.signal, src)
		}
	}

	p.chains[key] = chain
	p.byComponent[c.ID()] = append(p.byComponent[c.ID()], chain)
	return chain, nil
}

// attacher is a node that accepts delegates.
type attacher interface {
	attach(n node)
}

type builder struct {
	p        *Pipeline
	chain    *Chain
	warmup   bool
	bySignal map[string]attacher
}

// build wires the nodes for e and returns the node its result leaves from.
func (b *builder) build(e *expr) (attacher, error) {
	switch e.kind {
	case exprSignal:
		if out, ok := b.bySignal[e.name]; ok {
			return out, nil
		}
		src := &signalSource{chain: b.chain, signal: e.name}
		b.chain.sources = append(b.chain.sources, src)
		var out attacher = src
		if b.warmup {
			w := &warmupNode{until: b.p.opts.Warmup}
			src.attach(w)
			out = w
		}
		b.bySignal[e.name] = out
		return out, nil
	case exprFilter:
		in, err := b.build(e.left)
		if err != nil {
			return nil, err
		}
		f := &filterNode{name: e.name, acc: filterFactories[e.name]()}
		in.attach(f)
		return f, nil
	}

	x := &exprNode{e: e, slot: map[*expr]int{}}
	byText := map[string]int{}
	var wire func(*expr) error
	wire = func(n *expr) error {
		switch n.kind {
		case exprNumber:
			return nil
		case exprNegate:
			return wire(n.left)
		case exprBinary:
			if err := wire(n.left); err != nil {
				return err
			}
			return wire(n.right)
		}
		text := n.String()
		if idx, ok := byText[text]; ok {
			x.slot[n] = idx
			return nil
		}
		idx := len(x.vals)
		byText[text] = idx
		x.slot[n] = idx
		x.vals = append(x.vals, 0)
		x.seen = append(x.seen, false)
		in, err := b.build(n)
		if err != nil {
			return err
		}
		in.attach(x.input(idx))
		return nil
	}
	if err := wire(e); err != nil {
		return nil, err
	}
	if len(x.vals) == 0 {
		return nil, fmt.Errorf("expression %s has no signal operand", e)
	}
	return x, nil
}

// Teardown finishes the chains of c, recording pending scalars, detaches
// them from c's signals and forgets them. Calling it again is a no-op.
func (p *Pipeline) Teardown(c sim.Component, end sim.Time) {
	chains := p.byComponent[c.ID()]
	for _, chain := range chains {
		p.finishChain(chain, end)
		for _, src := range chain.sources {
			c.Unsubscribe(src.signal, src)
		}
		chain.detached = true
		delete(p.chains, chainKey(chain.Path, chain.Statistic))
	}
	delete(p.byComponent, c.ID())
}

// Finish records the final results of every chain, in Chains order. Chains
// stay attached; Teardown later detaches them without recording again.
func (p *Pipeline) Finish(end sim.Time) {
	for _, chain := range p.Chains() {
		p.finishChain(chain, end)
	}
}

func (p *Pipeline) finishChain(chain *Chain, end sim.Time) {
	if chain.finished {
		return
	}
	chain.finished = true
	for _, r := range chain.recorders {
		r.finish(end)
	}
}

// Chains returns the registered chains sorted by component path, then
// statistic name.
func (p *Pipeline) Chains() []*Chain {
	chains := make([]*Chain, 0, len(p.chains))
	for _, c := range p.chains {
		chains = append(chains, c)
	}
	sortChains(chains)
	return chains
}

// Lookup returns the chain of a component path and statistic.
func (p *Pipeline) Lookup(path, statistic string) (*Chain, bool) {
	c, ok := p.chains[chainKey(path, statistic)]
	return c, ok
}

// Len returns the number of registered chains.
func (p *Pipeline) Len() int {
	return len(p.chains)
}

// Err returns the first backend failure when failures are fatal.
func (p *Pipeline) Err() error {
	return p.err
}

// Failures returns the number of backend failures so far.
func (p *Pipeline) Failures() int {
	return p.failures
}

func (p *Pipeline) report(err error) {
	if err == nil {
		return
	}
	p.failures++
	if p.opts.BackendErrorsFatal {
		if p.err == nil {
			p.err = err
		}
		return
	}
	if p.opts.Warnings {
		logrus.Warnf("results: %v (record skipped)", err)
	} else {
		logrus.Debugf("results: %v (record skipped)", err)
	}
}

// Dump writes every chain as an indented tree.
func (p *Pipeline) Dump(w io.Writer) {
	dumpChains(w, p.Chains())
}

func sortChains(chains []*Chain) {
	sort.Slice(chains, func(i, j int) bool {
		pi, pj := norm.NFC.String(chains[i].Path), norm.NFC.String(chains[j].Path)
		if pi != pj {
			return pi < pj
		}
		return norm.NFC.String(chains[i].Statistic) < norm.NFC.String(chains[j].Statistic)
	})
}

func dumpChains(w io.Writer, chains []*Chain) {
	sorted := append([]*Chain(nil), chains...)
	sortChains(sorted)
	lastPath := ""
	for i, c := range sorted {
		if i == 0 || c.Path != lastPath {
			fmt.Fprintf(w, "%s\n", c.Path)
			lastPath = c.Path
		}
		modes := "-"
		if len(c.Modes) > 0 {
			modes = strings.Join(c.Modes, ",")
		}
		fmt.Fprintf(w, "  %s: source=%s modes=%s\n", c.Statistic, c.Source, modes)
		for _, src := range c.sources {
			dumpNode(w, src, 2)
		}
	}
}

func dumpNode(w io.Writer, n node, depth int) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), n.label())
	for _, d := range n.next() {
		dumpNode(w, d, depth+1)
	}
}
