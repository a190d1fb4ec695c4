// Package replication implements cross-node replica-set management (C4):
// synchronous intra-DC quorum writes coupled to the consensus prepare
// phase, asynchronous cross-DC log streaming, replica health tracking,
// and repair-on-reconnect (spec §4.4).
package replication

import (
	"sync"
	"time"
)

// HealthState is a replica's position in the health state machine (spec
// §4.4): Active -> Suspect -> Failed -> Recovering -> Active.
type HealthState int

const (
	StateActive HealthState = iota
	StateSuspect
	StateFailed
	StateRecovering
)

func (s HealthState) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateSuspect:
		return "Suspect"
	case StateFailed:
		return "Failed"
	case StateRecovering:
		return "Recovering"
	default:
		return "Unknown"
	}
}

// healthTransitions enumerates the only legal state transitions, mirroring
// the consensus package's explicit-transition-table style (spec §9).
var healthTransitions = map[HealthState][]HealthState{
	StateActive:     {StateSuspect},
	StateSuspect:    {StateActive, StateFailed},
	StateFailed:     {StateRecovering},
	StateRecovering: {StateActive, StateFailed},
}

func canTransitionHealth(from, to HealthState) bool {
	for _, allowed := range healthTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// suspectThreshold is the number of consecutive missed heartbeats before
// a replica moves Active -> Suspect.
const suspectThreshold = 3

// failThreshold is the number of consecutive missed heartbeats, counted
// from the first miss, at which a Suspect replica moves to Failed (a
// Recovering replica counts from BeginRecovery).
const failThreshold = 10

// PeerHealth tracks one replica's liveness via heartbeat miss counting.
type PeerHealth struct {
	mu            sync.Mutex
	NodeID        string
	State         HealthState
	misses        int
	lastHeartbeat time.Time
}

// NewPeerHealth starts a replica in the Active state.
func NewPeerHealth(nodeID string) *PeerHealth {
	return &PeerHealth{NodeID: nodeID, State: StateActive, lastHeartbeat: time.Time{}}
}

// OnHeartbeat records a received heartbeat, resetting the miss counter
// and transitioning back toward Active from Suspect or Recovering.
func (p *PeerHealth) OnHeartbeat(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.misses = 0
	p.lastHeartbeat = at
	if p.State == StateSuspect || p.State == StateRecovering {
		if canTransitionHealth(p.State, StateActive) {
			p.State = StateActive
		}
	}
}

// OnMissedHeartbeat is called once per missed heartbeat_interval tick
// (spec §4.4). It returns the new state, so callers can react (e.g.
// quarantine on Failed).
func (p *PeerHealth) OnMissedHeartbeat() HealthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.misses++
	switch p.State {
	case StateActive:
		if p.misses >= suspectThreshold && canTransitionHealth(p.State, StateSuspect) {
			p.State = StateSuspect
		}
	case StateSuspect:
		if p.misses >= failThreshold && canTransitionHealth(p.State, StateFailed) {
			p.State = StateFailed
		}
	case StateRecovering:
		if p.misses >= failThreshold && canTransitionHealth(p.State, StateFailed) {
			p.State = StateFailed
		}
	}
	return p.State
}

// BeginRecovery moves a Failed replica to Recovering, e.g. once its
// connection is re-established and repair has started.
func (p *PeerHealth) BeginRecovery() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !canTransitionHealth(p.State, StateRecovering) {
		return false
	}
	p.State = StateRecovering
	p.misses = 0
	return true
}

// Snapshot returns the current state without mutating anything.
func (p *PeerHealth) Snapshot() HealthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}
