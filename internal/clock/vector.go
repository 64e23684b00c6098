// Package clock implements the vector clocks that order gossip rounds
// across cache nodes. Comparison yields a partial order: two clocks may be
// concurrent, in which case the caller applies a deterministic tiebreak.
package clock

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// VectorClock maps node ids to logical counters. A node only ever
// increments its own component; remote components change only via Merge.
type VectorClock map[string]uint64

// New returns an empty clock.
func New() VectorClock {
	return make(VectorClock)
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for id, n := range vc {
		out[id] = n
	}
	return out
}

// Increment bumps the component for node. Only the owning node may call
// this on its own clock.
func (vc VectorClock) Increment(node string) {
	vc[node]++
}

// Get returns the counter for node, zero if absent.
func (vc VectorClock) Get(node string) uint64 {
	return vc[node]
}

// Merge returns the component-wise maximum over the union of node ids.
// Neither input is modified.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for id, n := range other {
		if n > out[id] {
			out[id] = n
		}
	}
	return out
}

// Compare derives the causal relation between vc and other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool
	for id, n := range vc {
		o := other[id]
		if n < o {
			less = true
		} else if n > o {
			greater = true
		}
	}
	for id, o := range other {
		if _, ok := vc[id]; !ok && o > 0 {
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

// HappensBefore reports whether vc is causally before other.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == Before
}

// IsConcurrentWith reports whether neither clock dominates the other.
func (vc VectorClock) IsConcurrentWith(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Equal reports exact equality of every component present in either clock.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Compare(other) == Equal
}
