package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerHealthStartsActive(t *testing.T) {
	h := NewPeerHealth("n2")
	assert.Equal(t, StateActive, h.Snapshot())
}

func TestPeerHealthMissedHeartbeatsEscalateToSuspectThenFailed(t *testing.T) {
	h := NewPeerHealth("n2")

	for i := 0; i < suspectThreshold-1; i++ {
		assert.Equal(t, StateActive, h.OnMissedHeartbeat())
	}
	assert.Equal(t, StateSuspect, h.OnMissedHeartbeat())

	for i := 0; i < failThreshold-1; i++ {
		h.OnMissedHeartbeat()
	}
	assert.Equal(t, StateFailed, h.Snapshot())
}

func TestPeerHealthHeartbeatResetsFromSuspect(t *testing.T) {
	h := NewPeerHealth("n2")
	for i := 0; i < suspectThreshold; i++ {
		h.OnMissedHeartbeat()
	}
	require := assert.New(t)
	require.Equal(StateSuspect, h.Snapshot())

	h.OnHeartbeat(time.Now())
	require.Equal(StateActive, h.Snapshot())
}

func TestPeerHealthBeginRecoveryOnlyFromFailed(t *testing.T) {
	h := NewPeerHealth("n2")
	assert.False(t, h.BeginRecovery(), "Active cannot transition directly to Recovering")

	for i := 0; i < suspectThreshold+failThreshold; i++ {
		h.OnMissedHeartbeat()
	}
	require_ := assert.New(t)
	require_.Equal(StateFailed, h.Snapshot())
	require_.True(h.BeginRecovery())
	require_.Equal(StateRecovering, h.Snapshot())
}

func TestPeerHealthRecoveringFallsBackToFailedOnMoreMisses(t *testing.T) {
	h := NewPeerHealth("n2")
	for i := 0; i < suspectThreshold+failThreshold; i++ {
		h.OnMissedHeartbeat()
	}
	h.BeginRecovery()

	for i := 0; i < failThreshold; i++ {
		h.OnMissedHeartbeat()
	}
	assert.Equal(t, StateFailed, h.Snapshot())
}

func TestCanTransitionHealthRejectsIllegalJump(t *testing.T) {
	assert.False(t, canTransitionHealth(StateActive, StateFailed))
	assert.True(t, canTransitionHealth(StateActive, StateSuspect))
}
