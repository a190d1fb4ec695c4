package consensus

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
)

// Router is the single entry point collaborators (the API handler) use to
// get a write through consensus: it picks the owning shard's Engine and
// serializes the propose-commit round for that shard so the build
// callback always observes the shard's latest committed state (spec §5
// "consensus queue per shard is single-writer").
type Router struct {
	engines map[uint32]*Engine
	order   []uint32 // stable shard ids, index matches locks
	locks   []sync.Mutex
}

// NewRouter builds a Router over a fixed set of per-shard engines.
func NewRouter(engines map[uint32]*Engine) *Router {
	r := &Router{engines: engines}
	for id := range engines {
		r.order = append(r.order, id)
	}
	sortUint32(r.order)
	r.locks = make([]sync.Mutex, len(r.order))
	return r
}

func sortUint32(ss []uint32) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// ShardFor returns the shard a (collection, id) key is routed to, by
// FNV-1a hash mod the shard count (spec §4.1's ConsistentHash strategy
// is the ring used for replica placement; shard assignment here only
// needs to be stable and evenly distributed, not rebalance-friendly).
func (r *Router) ShardFor(collection, id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(collection))
	_, _ = h.Write([]byte("/"))
	_, _ = h.Write([]byte(id))
	return h.Sum32() % uint32(len(r.order))
}

func (r *Router) lockIndex(shard uint32) int {
	for i, id := range r.order {
		if id == shard {
			return i
		}
	}
	return -1
}

// Propose routes (collection, id) to its shard's Engine and drives one
// full propose→commit round for the operation build returns. build runs
// while the shard's lock is held, so it can safely read the current
// committed state (e.g. to check expected_version) without racing a
// concurrent write to the same shard (spec §6 put/delete expected_version
// contract).
func (r *Router) Propose(ctx context.Context, collection, id string, build func() (Operation, error)) error {
	shard := r.ShardFor(collection, id)
	engine, ok := r.engines[shard]
	if !ok {
		return aerrors.Internalf("no consensus engine for shard %d", shard)
	}
	idx := r.lockIndex(shard)
	if idx < 0 {
		return aerrors.Internalf("shard %d not registered with router", shard)
	}

	r.locks[idx].Lock()
	defer r.locks[idx].Unlock()

	op, err := build()
	if err != nil {
		return err
	}

	seq := engine.NextSeq()
	batch := Batch{
		ShardID:    shard,
		Seq:        seq,
		Operations: []Operation{op},
		ProposedAt: time.Now(),
	}
	batch.Hash = HashBatch(batch)

	if err := engine.ProposeBatch(ctx, batch); err != nil {
		return err
	}
	return engine.AwaitCommit(ctx, seq)
}
