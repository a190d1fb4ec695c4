package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// Node is a cluster member as seen by topology and replica-set selection.
// Quarantined nodes are excluded from new replica-set computation and
// from leader election (spec §4.3 view change, §4.4 replica set) but
// remain in Membership so repair/heal can still address them by id.
type Node struct {
	ID          string        `json:"id"`
	Address     string        `json:"address"`
	Role        document.Role `json:"role"`
	IsAlive     bool          `json:"is_alive"`
	Quarantined bool          `json:"quarantined"`
}

// Membership tracks cluster nodes and backs them with a consistent-hash
// ring for replica-set computation. Static + explicit join/leave today;
// a gossip layer (C6) drives Join/Leave from peer discovery rather than
// replacing this type.
type Membership struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	ring  *Ring
}

// NewMembership creates membership seeded with the provided node list.
func NewMembership(nodes []Node, vnodes int) *Membership {
	m := &Membership{
		nodes: make(map[string]*Node),
		ring:  NewRing(vnodes),
	}
	for i := range nodes {
		n := nodes[i]
		n.IsAlive = true
		m.nodes[n.ID] = &n
		m.ring.AddNode(n.ID)
	}
	return m
}

// Join adds a new node to the cluster.
func (m *Membership) Join(node Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already in cluster", node.ID)
	}
	node.IsAlive = true
	m.nodes[node.ID] = &node
	m.ring.AddNode(node.ID)
	return nil
}

// Leave removes a node from the cluster (graceful departure).
func (m *Membership) Leave(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s not in cluster", nodeID)
	}
	delete(m.nodes, nodeID)
	m.ring.RemoveNode(nodeID)
	return nil
}

// GetNode returns the Node for a given ID.
func (m *Membership) GetNode(id string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// All returns a copy of all current nodes.
func (m *Membership) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out
}

// Ring exposes the consistent-hash ring for key routing.
func (m *Membership) Ring() *Ring {
	return m.ring
}

// Quarantine marks a node so it is skipped by future replica-set and
// leader-election selection (spec §4.3 equivocation slashing, §4.4
// health state machine transition to Failed).
func (m *Membership) Quarantine(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.Quarantined = true
	}
}

// Unquarantine clears the quarantine flag, e.g. on successful repair
// (health state Recovering -> Active).
func (m *Membership) Unquarantine(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.Quarantined = false
	}
}

// QuarantinedSet returns the current quarantined node ids as a set, for
// passing to Ring.GetNodesExcluding.
func (m *Membership) QuarantinedSet() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool)
	for id, n := range m.nodes {
		if n.Quarantined {
			out[id] = true
		}
	}
	return out
}

// ReplicaNodes returns up to n Nodes responsible for key, skipping
// quarantined nodes.
func (m *Membership) ReplicaNodes(key string, n int) []*Node {
	quarantined := m.QuarantinedSet()
	ids := m.ring.GetNodesExcluding(key, n, quarantined)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var nodes []*Node
	for _, id := range ids {
		if node, ok := m.nodes[id]; ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// ActiveNodeIDs returns all non-quarantined node ids, sorted, used for
// leader election's "seq mod n over the active set" rule (§4.3).
func (m *Membership) ActiveNodeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, n := range m.nodes {
		if !n.Quarantined {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
