// Package rng owns the random number generators of a simulation run.
package rng

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	randv1 "math/rand"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/desim/envir/sim/config"
)

// Generator classes accepted by NewPool.
const (
	ClassLFib    = "lfib"    // math/rand additive lagged Fibonacci source
	ClassPCG     = "pcg"     // math/rand/v2 PCG
	ClassChaCha8 = "chacha8" // math/rand/v2 ChaCha8

	// ClassMT is an alias of ClassLFib accepted from older configurations.
	// It is not a Mersenne Twister.
	ClassMT = "mt"
)

// ErrOutOfRange is returned for generator indices outside the pool.
var ErrOutOfRange = errors.New("RNG index out of range")

// countingSource counts the 64-bit words drawn from the wrapped source.
type countingSource struct {
	src   rand.Source
	drawn uint64
}

func (c *countingSource) Uint64() uint64 {
	c.drawn++
	return c.src.Uint64()
}

// Pool owns a fixed number of seeded generators for one run.
//
// Derivation formula:
//   - generator k in partition p: seedSet XOR fnv1a64("rng-<k>/partition-<p>")
//   - a seed override for generator k replaces the derived seed
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Pool struct {
	class     string
	seedSet   int64
	partition int
	overrides map[int]int64
	gens      []*rand.Rand
	sources   []*countingSource
	seeds     []int64
}

// Option customizes pool construction.
type Option func(*Pool)

// WithPartition sets the partition id mixed into derived seeds, so partitions
// of a distributed run draw independent streams.
func WithPartition(id int) Option {
	return func(p *Pool) { p.partition = id }
}

// WithSeed overrides the seed of generator k.
func WithSeed(k int, seed int64) Option {
	return func(p *Pool) { p.overrides[k] = seed }
}

// NewPool creates and seeds count generators of the given class.
func NewPool(count int, class string, seedSet int64, opts ...Option) (*Pool, error) {
	if count <= 0 {
		return nil, config.Errorf("num-rngs", "", "at least one RNG is required, got %d", count)
	}
	p := &Pool{
		class:     class,
		seedSet:   seedSet,
		overrides: make(map[int]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	for k := range p.overrides {
		if k < 0 || k >= count {
			return nil, &config.Error{
				Option: fmt.Sprintf("seed-%d", k),
				Msg:    "seed override for a generator outside the pool",
				Err:    fmt.Errorf("%w: index %d, pool has %d generators", ErrOutOfRange, k, count),
			}
		}
	}

	p.gens = make([]*rand.Rand, count)
	p.sources = make([]*countingSource, count)
	p.seeds = make([]int64, count)
	for k := 0; k < count; k++ {
		seed, ok := p.overrides[k]
		if !ok {
			seed = p.seedSet ^ fnv1a64(p.streamName(k))
		}
		src, err := newSource(class, seed, p.streamName(k))
		if err != nil {
			return nil, err
		}
		p.seeds[k] = seed
		p.sources[k] = &countingSource{src: src}
		p.gens[k] = rand.New(p.sources[k])
	}
	logrus.Debugf("rng: %d %s generators, seed-set %d, partition %d", count, class, seedSet, p.partition)
	return p, nil
}

func (p *Pool) streamName(k int) string {
	return fmt.Sprintf("rng-%d/partition-%d", k, p.partition)
}

func newSource(class string, seed int64, stream string) (rand.Source, error) {
	switch class {
	case ClassLFib, ClassMT, "":
		// NewSource documents that its result implements Source64.
		return randv1.NewSource(seed).(randv1.Source64), nil
	case ClassPCG:
		return rand.NewPCG(uint64(seed), uint64(fnv1a64(stream+"/inc"))), nil
	case ClassChaCha8:
		var key [32]byte
		for i := 0; i < 4; i++ {
			word := uint64(seed) ^ uint64(fnv1a64(fmt.Sprintf("%s/key-%d", stream, i)))
			binary.LittleEndian.PutUint64(key[i*8:], word)
		}
		return rand.NewChaCha8(key), nil
	}
	return nil, config.Errorf("rng-class", "", "unknown RNG class %q (known: %s, %s, %s)", class, ClassLFib, ClassPCG, ClassChaCha8)
}

// Count returns the number of generators.
func (p *Pool) Count() int {
	return len(p.gens)
}

// Class returns the generator class name.
func (p *Pool) Class() string {
	return p.class
}

// Get returns generator i.
func (p *Pool) Get(i int) (*rand.Rand, error) {
	if i < 0 || i >= len(p.gens) {
		return nil, fmt.Errorf("%w: index %d, pool has %d generators", ErrOutOfRange, i, len(p.gens))
	}
	return p.gens[i], nil
}

// Seed returns the seed generator i was created with.
func (p *Pool) Seed(i int) int64 {
	return p.seeds[i]
}

// Drawn returns how many 64-bit words generator i has produced.
func (p *Pool) Drawn(i int) uint64 {
	return p.sources[i].drawn
}

// TotalDrawn sums Drawn over all generators.
func (p *Pool) TotalDrawn() uint64 {
	var n uint64
	for _, s := range p.sources {
		n += s.drawn
	}
	return n
}

// Lookup resolves the configured physical index of logical generator k of
// the component at path. ok is false when nothing is configured.
type Lookup func(path string, k int) (physical int, ok bool, err error)

// ComponentRNGs maps one component's logical generator indices to the pool.
type ComponentRNGs struct {
	pool   *Pool
	path   string
	lookup Lookup
	cache  map[int]int
}

// MappingFor returns the mapping for the component at path. A nil lookup
// gives the identity mapping.
func (p *Pool) MappingFor(path string, lookup Lookup) *ComponentRNGs {
	return &ComponentRNGs{pool: p, path: path, lookup: lookup, cache: make(map[int]int)}
}

// Physical resolves logical index k to a pool index.
func (m *ComponentRNGs) Physical(k int) (int, error) {
	if idx, ok := m.cache[k]; ok {
		return idx, nil
	}
	if k < 0 {
		return 0, fmt.Errorf("%w: logical index %d of %s", ErrOutOfRange, k, m.path)
	}
	idx := k
	if m.lookup != nil {
		phys, ok, err := m.lookup(m.path, k)
		if err != nil {
			return 0, err
		}
		if ok {
			idx = phys
		}
	}
	if idx < 0 || idx >= m.pool.Count() {
		return 0, fmt.Errorf("%w: %s maps rng-%d to %d, pool has %d generators", ErrOutOfRange, m.path, k, idx, m.pool.Count())
	}
	m.cache[k] = idx
	return idx, nil
}

// Get returns the generator logical index k maps to.
func (m *ComponentRNGs) Get(k int) (*rand.Rand, error) {
	idx, err := m.Physical(k)
	if err != nil {
		return nil, err
	}
	return m.pool.gens[idx], nil
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
