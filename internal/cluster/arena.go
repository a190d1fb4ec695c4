package cluster

import "sync"

// ShardID identifies one partition of the key space.
type ShardID uint32

// Shard is a partition of the key space, independently
// consensus-coordinated (GLOSSARY). It names its replica set by node id
// — an id handle into ClusterState.nodes — rather than holding pointers,
// so shards, replicas, and nodes never form a reference cycle (spec §9).
type Shard struct {
	ID        ShardID
	LeaderID  string
	ReplicaIDs []string
}

// ClusterState is the arena that owns every Node and Shard by id. All
// cross-references (a shard's leader, a replica set's members) are
// looked up through this arena by id, never through back-pointers, per
// the re-architecture guidance in spec §9.
type ClusterState struct {
	mu         sync.RWMutex
	Membership *Membership
	shards     map[ShardID]*Shard
}

// NewClusterState creates an arena backed by membership.
func NewClusterState(membership *Membership) *ClusterState {
	return &ClusterState{
		Membership: membership,
		shards:     make(map[ShardID]*Shard),
	}
}

// Shard looks up a shard by id.
func (c *ClusterState) Shard(id ShardID) (*Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shards[id]
	return s, ok
}

// PutShard inserts or replaces a shard's descriptor.
func (c *ClusterState) PutShard(s Shard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := s
	c.shards[s.ID] = &cp
}

// Shards returns all shard ids, for iteration (e.g. query fan-out).
func (c *ClusterState) Shards() []ShardID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]ShardID, 0, len(c.shards))
	for id := range c.shards {
		ids = append(ids, id)
	}
	return ids
}

// ReplicaNodes resolves a shard's replica id handles into live Node
// values via the membership arena.
func (c *ClusterState) ReplicaNodes(id ShardID) []Node {
	c.mu.RLock()
	shard, ok := c.shards[id]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	var out []Node
	for _, nid := range shard.ReplicaIDs {
		if n, ok := c.Membership.GetNode(nid); ok {
			out = append(out, *n)
		}
	}
	return out
}

// ShardFor returns the Shard descriptor for key: its ID is an FNV-1a
// hash of key, and its leader and replica set are the ring's primary and
// successors for key (quarantined nodes skipped). Shard assignment to
// physical nodes is therefore derived from the ring rather than stored
// redundantly.
func (c *ClusterState) ShardFor(key string, replicationFactor int) Shard {
	nodes := c.Membership.ReplicaNodes(key, replicationFactor)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	leader := ""
	if len(ids) > 0 {
		leader = ids[0]
	}
	return Shard{ID: shardIDFor(key), LeaderID: leader, ReplicaIDs: ids}
}

func shardIDFor(key string) ShardID {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return ShardID(h)
}
