// Package vclock implements vector clocks, the causal-ordering primitive
// the whole document model is built on (spec §4.2 / §3).
//
// Each document carries a clock: a map from node-id to a logical counter.
// Comparing two clocks tells you whether one happened-before the other, or
// whether they are concurrent (a real conflict that a ConflictPolicy must
// resolve). This is the same idea as the teacher's store.VectorClock,
// generalized with a Tick/Relation vocabulary that matches spec.md and
// pulled out of the store package so the consensus, replication, and
// partition packages can all depend on it without depending on storage.
package vclock

import "maps"

// Relation is the result of comparing two vector clocks.
type Relation int

const (
	Equal Relation = iota
	Less
	Greater
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "Equal"
	case Less:
		return "Less"
	case Greater:
		return "Greater"
	case Concurrent:
		return "Concurrent"
	default:
		return "Unknown"
	}
}

// Clock maps node-id to a monotonically increasing counter. A zero value
// is a valid, empty clock.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Tick increments the counter for node and returns the receiver for
// chaining. Absent keys default to 0, so the first tick makes it 1.
func (c Clock) Tick(node string) Clock {
	c[node]++
	return c
}

// Get returns the counter for node, or 0 if absent.
func (c Clock) Get(node string) uint64 {
	return c[node]
}

// Copy returns a deep copy; Clock is a map and therefore a reference type,
// so every mutation site must copy first unless it owns the only reference.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}

// Compare is pointwise over the union of keys; an absent key counts as 0.
func (c Clock) Compare(other Clock) Relation {
	cDominates := false
	otherDominates := false

	for node, cnt := range c {
		switch o := other[node]; {
		case cnt > o:
			cDominates = true
		case cnt < o:
			otherDominates = true
		}
	}
	for node, cnt := range other {
		if _, ok := c[node]; !ok && cnt > 0 {
			otherDominates = true
		}
	}

	switch {
	case !cDominates && !otherDominates:
		return Equal
	case cDominates && !otherDominates:
		return Greater
	case !cDominates && otherDominates:
		return Less
	default:
		return Concurrent
	}
}

// Dominates reports whether c strictly dominates other (Greater).
func (c Clock) Dominates(other Clock) bool {
	return c.Compare(other) == Greater
}

// Merge returns a new clock holding, per node, the max of c and other's
// counters. Merge never resolves a conflict — it only folds causal
// history together, e.g. so a SemanticMerge resolver's output clock
// dominates both inputs.
func (c Clock) Merge(other Clock) Clock {
	merged := c.Copy()
	for node, cnt := range other {
		if cnt > merged[node] {
			merged[node] = cnt
		}
	}
	return merged
}

// Equals reports whether two clocks compare Equal.
func (c Clock) Equals(other Clock) bool {
	return c.Compare(other) == Equal
}
