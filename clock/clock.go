package clock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// VectorClock maps node IDs to logical counters. The zero value of a missing
// node is 0, so clocks over different node sets remain comparable.
// Callers are responsible for synchronization.
type VectorClock map[uuid.UUID]int64

// New creates a new empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Increment advances the counter of the given node by one. A node must only
// ever increment its own counter.
func (vc VectorClock) Increment(node uuid.UUID) {
	vc[node]++
}

// Get returns the counter of the given node, or 0 if not present.
func (vc VectorClock) Get(node uuid.UUID) int64 {
	return vc[node]
}

// Merge folds another clock into this one, taking the element-wise maximum.
// A node that witnesses a remote clock merges it and then increments its own
// counter, so the resulting event dominates both inputs.
func (vc VectorClock) Merge(other VectorClock) {
	for node, counter := range other {
		if vc[node] < counter {
			vc[node] = counter
		}
	}
}

// Copy returns a deep copy of the clock. Copying a nil clock yields an
// empty, usable clock.
func (vc VectorClock) Copy() VectorClock {
	out := New()
	for node, counter := range vc {
		out[node] = counter
	}
	return out
}

// Ordering is the causal relationship between two vector clocks.
type Ordering int

const (
	Before Ordering = iota
	After
	Concurrent
	Equal
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// Compare establishes the causal relationship of vc to other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool
	for node, counter := range vc {
		otherCounter := other[node]
		if counter < otherCounter {
			less = true
		} else if counter > otherCounter {
			greater = true
		}
	}
	for node, otherCounter := range other {
		if _, ok := vc[node]; ok {
			continue // already compared above
		}
		if otherCounter > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Equal reports whether both clocks assign the same counter to every node.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Compare(other) == Equal
}

// HappensBefore reports whether every counter of a is <= the corresponding
// counter of b with at least one strictly less, i.e. a causally precedes b.
func HappensBefore(a, b VectorClock) bool {
	return a.Compare(b) == Before
}

// IsConcurrent reports whether neither clock causally precedes the other.
func IsConcurrent(a, b VectorClock) bool {
	return a.Compare(b) == Concurrent
}

// String renders the clock sorted by node ID for deterministic output.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}
	nodes := make([]uuid.UUID, 0, len(vc))
	for node := range vc {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].String() < nodes[j].String()
	})
	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		parts = append(parts, fmt.Sprintf("%s:%d", node, vc[node]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
