// Package docstore implements the four-tier Storage Hierarchy (C1): a
// bounded in-memory tier (L1), an embedded-KV SSD tier (L2), a
// distributed tier backed by cluster replicas (L3), and a compressed
// cold-object archive (L4). Each tier implements the same capability
// set so the Hierarchy can descend through them uniformly on reads and
// write through the first two synchronously (spec §4.1).
package docstore

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// TierStats reports point-in-time tier health for admin/metrics use.
type TierStats struct {
	Name       string
	EntryCount int64
	BytesUsed  int64
	Hits       int64
	Misses     int64
}

// Tier is the capability set every storage backend implements: put,
// get, delete, scan, stats (spec §4.1). All methods accept a context so
// callers can cancel on a deadline without leaving partial state (spec
// §5 cancellation).
type Tier interface {
	Put(ctx context.Context, doc document.Document) error
	Get(ctx context.Context, collection, id string) (document.Document, bool, error)
	Delete(ctx context.Context, collection, id string) error
	Scan(ctx context.Context, collection string) (Iterator, error)
	Stats() TierStats
}

// Iterator streams documents from a Scan call. Next returns false when
// exhausted or on error; check Err() after a false Next().
type Iterator interface {
	Next() bool
	Document() document.Document
	Err() error
	Close() error
}

// sliceIterator adapts an in-memory slice to Iterator, used by tiers
// that materialize their scan result eagerly (L1, L2).
type sliceIterator struct {
	docs []document.Document
	pos  int
}

func newSliceIterator(docs []document.Document) *sliceIterator {
	return &sliceIterator{docs: docs, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.docs)
}

func (it *sliceIterator) Document() document.Document {
	return it.docs[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

func recordKey(collection, id string) string {
	return collection + "\x00" + id
}
