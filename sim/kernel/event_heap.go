package kernel

import (
	"container/heap"

	"github.com/desim/envir/sim"
)

// entry is a scheduled message delivery.
type entry struct {
	t        sim.Time
	priority int
	seq      uint64 // scheduling order, the final tie-breaker
	msg      *Msg
	index    int // position in the heap, -1 once removed
}

// eventHeap is a priority queue with deterministic ordering.
// Ordering: timestamp → priority → scheduling sequence.
type eventHeap struct {
	entries []*entry
}

func newEventHeap() *eventHeap {
	h := &eventHeap{entries: make([]*entry, 0)}
	heap.Init(h)
	return h
}

func (h *eventHeap) Len() int { return len(h.entries) }

// Less orders by timestamp, then priority (lower first), then sequence.
func (h *eventHeap) Less(i, j int) bool {
	ei, ej := h.entries[i], h.entries[j]
	if ei.t != ej.t {
		return ei.t < ej.t
	}
	if ei.priority != ej.priority {
		return ei.priority < ej.priority
	}
	return ei.seq < ej.seq
}

func (h *eventHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *eventHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *eventHeap) Pop() any {
	old := h.entries
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.entries = old[0 : n-1]
	return item
}

func (h *eventHeap) schedule(e *entry) {
	heap.Push(h, e)
}

// popNext removes and returns the next entry, nil when empty.
func (h *eventHeap) popNext() *entry {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*entry)
}

// peek returns the next entry without removing it.
func (h *eventHeap) peek() *entry {
	if h.Len() == 0 {
		return nil
	}
	return h.entries[0]
}

// remove takes e out of the heap; it reports false if e is not scheduled.
func (h *eventHeap) remove(e *entry) bool {
	if e.index < 0 || e.index >= len(h.entries) || h.entries[e.index] != e {
		return false
	}
	heap.Remove(h, e.index)
	return true
}
