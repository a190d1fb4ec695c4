package query

import (
	"container/heap"
	"context"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// ShardRunner executes q against one shard's tier (local or remote,
// behind the Replication Manager) and returns its already-sorted result
// page. The coordinator never re-filters what a shard returns — each
// shard is trusted to apply q itself, consistent with its own
// read-committed snapshot (spec §4.7 "read-committed-snapshot-per-shard
// semantics").
type ShardRunner func(ctx context.Context, q Query) ([]document.Document, error)

// Coordinator fans a Query out across every shard concurrently, then
// k-way merges the per-shard sorted results, applying the global
// offset/limit once over the merged stream (spec §4.7 "distributed
// fan-out + k-way merge coordinator").
type Coordinator struct {
	runners []ShardRunner
}

// NewCoordinator builds a coordinator over one ShardRunner per shard.
func NewCoordinator(runners []ShardRunner) *Coordinator {
	return &Coordinator{runners: runners}
}

// Run executes q against every shard (each shard runs its own filter and
// per-shard sort/offset-free scan, so the merge only needs sort+limit),
// then merges the results in (q.Sort, tie-break) order, finally applying
// q.Offset/q.Limit over the merged global stream.
func (c *Coordinator) Run(ctx context.Context, q Query) ([]document.Document, error) {
	perShardLimit := 0
	if q.Limit > 0 {
		perShardLimit = q.Offset + q.Limit // a shard cannot contribute more than the whole page could need
	}
	shardQuery := q
	shardQuery.Offset = 0
	shardQuery.Limit = perShardLimit

	results := make([][]document.Document, len(c.runners))
	errs := make([]error, len(c.runners))
	var wg sync.WaitGroup
	for i, run := range c.runners {
		wg.Add(1)
		go func(i int, run ShardRunner) {
			defer wg.Done()
			results[i], errs[i] = run(ctx, shardQuery)
		}(i, run)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	merged := kWayMerge(results, q.Sort)
	return paginate(merged, q.Offset, q.Limit), nil
}

// mergeItem tracks one shard's current head during the merge.
type mergeItem struct {
	doc        document.Document
	shardIdx   int
	withinIdx  int
}

type mergeHeap struct {
	items []mergeItem
	fields []SortField
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	return lessDoc(h.items[i].doc, h.items[j].doc, h.fields)
}
func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)   { h.items = append(h.items, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func lessDoc(a, b document.Document, fields []SortField) bool {
	for _, f := range fields {
		av, aok := fieldValue(a, f.Path)
		bv, bok := fieldValue(b, f.Path)
		c := compareOrdered(orNil(av, aok), orNil(bv, bok))
		if c == 0 {
			continue
		}
		if f.Descending {
			return c > 0
		}
		return c < 0
	}
	return tieBreak(a, b)
}

// kWayMerge merges per-shard sorted result sets into one globally sorted
// slice using a min-heap over each shard's current head.
func kWayMerge(perShard [][]document.Document, fields []SortField) []document.Document {
	h := &mergeHeap{fields: fields}
	heap.Init(h)
	for si, docs := range perShard {
		if len(docs) > 0 {
			heap.Push(h, mergeItem{doc: docs[0], shardIdx: si, withinIdx: 0})
		}
	}

	var out []document.Document
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		out = append(out, top.doc)
		next := top.withinIdx + 1
		if next < len(perShard[top.shardIdx]) {
			heap.Push(h, mergeItem{doc: perShard[top.shardIdx][next], shardIdx: top.shardIdx, withinIdx: next})
		}
	}
	return out
}
