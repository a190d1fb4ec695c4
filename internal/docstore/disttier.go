package docstore

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// ReplicaFetcher is the seam the L3 tier uses to reach other nodes
// without docstore importing the replication package directly (which
// itself depends on docstore for local storage — this interface breaks
// that cycle). The Replication Manager (C4) implements it.
type ReplicaFetcher interface {
	FetchFromReplicas(ctx context.Context, collection, id string) (document.Document, bool, error)
	PutToReplicas(ctx context.Context, doc document.Document) error
	DeleteFromReplicas(ctx context.Context, collection, id string) error
	ScanReplicas(ctx context.Context, collection string) ([]document.Document, error)
}

// DistTier is the L3 tier: the authoritative remote-replica view (spec
// §4.1). It has no local eviction — L3 data is never "evicted", only
// superseded by newer committed versions — and a miss here is a
// cluster-level event for C4/C5, not a simple cache miss.
type DistTier struct {
	fetcher ReplicaFetcher

	hits, misses int64
}

func NewDistTier(fetcher ReplicaFetcher) *DistTier {
	return &DistTier{fetcher: fetcher}
}

func (t *DistTier) Put(ctx context.Context, doc document.Document) error {
	return t.fetcher.PutToReplicas(ctx, doc)
}

func (t *DistTier) Get(ctx context.Context, collection, id string) (document.Document, bool, error) {
	doc, ok, err := t.fetcher.FetchFromReplicas(ctx, collection, id)
	if ok {
		t.hits++
	} else {
		t.misses++
	}
	return doc, ok, err
}

func (t *DistTier) Delete(ctx context.Context, collection, id string) error {
	return t.fetcher.DeleteFromReplicas(ctx, collection, id)
}

func (t *DistTier) Scan(ctx context.Context, collection string) (Iterator, error) {
	docs, err := t.fetcher.ScanReplicas(ctx, collection)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(docs), nil
}

func (t *DistTier) Stats() TierStats {
	return TierStats{Name: "L3Distributed", Hits: t.hits, Misses: t.misses}
}
