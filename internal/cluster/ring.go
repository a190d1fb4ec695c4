// Package cluster owns cluster topology: the consistent-hash ring that
// maps (collection,id) to replica sets, node membership, and the arena
// (ClusterState) that resolves node/replica/shard references through id
// handles instead of back-pointers (spec §9).
//
// Why consistent hashing instead of hash(key) % N: adding or removing a
// node under modulo hashing remaps almost every key; consistent hashing
// only moves the keys owned by the affected node's virtual positions.
package cluster

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the default vnode count per physical node.
// Spec §4.1 requires virtual_nodes >= 128.
const DefaultVirtualNodes = 150

// Ring is a consistent-hash ring mapping ring positions to node ids.
// Safe for concurrent use.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	ring   map[uint32]string
	sorted []uint32
}

// NewRing creates an empty ring. vnodes <= 0 falls back to the default.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	return &Ring{vnodes: vnodes, ring: make(map[uint32]string)}
}

// AddNode inserts a physical node's virtual nodes into the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", nodeID, i))
		r.ring[pos] = nodeID
	}
	r.rebuild()
}

// RemoveNode deletes all of a physical node's virtual nodes.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", nodeID, i))
		delete(r.ring, pos)
	}
	r.rebuild()
}

// GetNodes returns the n distinct physical nodes responsible for key,
// walking clockwise from key's ring position: primary first, then
// successors. This is the replica-set selection primitive C4 builds on.
func (r *Ring) GetNodes(key string, n int) []string {
	return r.GetNodesExcluding(key, n, nil)
}

// GetNodesExcluding is GetNodes but skips quarantined node ids, per the
// replica-set rule "primary + successors, skipping quarantined nodes"
// (§4.4) and the view-change leader rule (§4.3).
func (r *Ring) GetNodesExcluding(key string, n int, quarantined map[string]bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return nil
	}

	pos := r.hash(key)
	idx := r.search(pos)

	seen := make(map[string]bool, n)
	nodes := make([]string, 0, n)
	for i := 0; i < len(r.sorted) && len(nodes) < n; i++ {
		vpos := r.sorted[(idx+i)%len(r.sorted)]
		nodeID := r.ring[vpos]
		if seen[nodeID] || quarantined[nodeID] {
			continue
		}
		seen[nodeID] = true
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// Nodes returns all distinct physical node ids, sorted.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var nodes []string
	for _, id := range r.ring {
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// NodeCount returns the number of distinct physical nodes (not vnodes).
func (r *Ring) NodeCount() int {
	return len(r.Nodes())
}

func (r *Ring) hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	slices.Sort(r.sorted)
}

// search finds the index of the first ring position >= pos, wrapping to
// 0 if pos is greater than every position (circular ring).
func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i] >= pos
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}
