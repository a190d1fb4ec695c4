package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReachabilityObserveRequiresStabilityWindow(t *testing.T) {
	r := NewReachability(100 * time.Millisecond)
	base := time.Now()

	r.Observe("peer", false, base)
	assert.False(t, r.IsStable("peer", base.Add(10*time.Millisecond)))
	assert.True(t, r.IsStable("peer", base.Add(200*time.Millisecond)))
}

func TestReachabilityUnknownPeerIsStable(t *testing.T) {
	r := NewReachability(time.Second)
	assert.True(t, r.IsStable("never-observed", time.Now()))
}

func TestReachabilityUnreachablePeersFiltersUnstableAndReachable(t *testing.T) {
	r := NewReachability(50 * time.Millisecond)
	base := time.Now()

	r.Observe("flaky", false, base)
	r.Observe("down", false, base.Add(-time.Second))
	r.Observe("up", true, base)

	unreachable := r.UnreachablePeers(base.Add(time.Millisecond))
	assert.NotContains(t, unreachable, "flaky", "not yet past the stability window")
	assert.Contains(t, unreachable, "down")
	assert.NotContains(t, unreachable, "up")
}

func TestReachabilityObserveIsIdempotentWithoutResettingTimer(t *testing.T) {
	r := NewReachability(50 * time.Millisecond)
	base := time.Now()
	r.Observe("peer", false, base)
	r.Observe("peer", false, base.Add(40*time.Millisecond)) // same state, should not bump lastChanged

	assert.True(t, r.IsStable("peer", base.Add(60*time.Millisecond)))
}

func TestClassifyUnpartitionedWhenNoStableUnreachable(t *testing.T) {
	assert.Equal(t, SideUnpartitioned, Classify(5, 5, nil))
}

func TestClassifyMajorityWithStrictMajorityReachable(t *testing.T) {
	assert.Equal(t, SideMajority, Classify(5, 3, []string{"n4", "n5"}))
}

func TestClassifyMinorityWhenExactlyHalf(t *testing.T) {
	assert.Equal(t, SideMinority, Classify(4, 2, []string{"n3", "n4"}))
}

func TestClassifyMinorityWhenBelowHalf(t *testing.T) {
	assert.Equal(t, SideMinority, Classify(5, 2, []string{"n3", "n4", "n5"}))
}
