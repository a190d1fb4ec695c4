package docstore

import (
	"container/list"
	"context"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// MemTier is the L1 tier: a concurrent map with size-bounded LRU
// eviction, target read latency <1 μs (spec §4.1). Loss of L1 is a
// cache miss, never data loss — every entry here also lives on L2+.
type MemTier struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	hits, misses int64
}

type memEntry struct {
	key string
	doc document.Document
}

// NewMemTier creates an L1 tier bounded to capacity entries.
func NewMemTier(capacity int) *MemTier {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &MemTier{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (t *MemTier) Put(_ context.Context, doc document.Document) error {
	key := recordKey(doc.Collection, doc.ID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.items[key]; ok {
		el.Value.(*memEntry).doc = doc
		t.order.MoveToFront(el)
		return nil
	}

	el := t.order.PushFront(&memEntry{key: key, doc: doc})
	t.items[key] = el
	t.evictLocked()
	return nil
}

func (t *MemTier) Get(_ context.Context, collection, id string) (document.Document, bool, error) {
	key := recordKey(collection, id)
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[key]
	if !ok {
		t.misses++
		return document.Document{}, false, nil
	}
	t.hits++
	t.order.MoveToFront(el)
	return el.Value.(*memEntry).doc, true, nil
}

func (t *MemTier) Delete(_ context.Context, collection, id string) error {
	key := recordKey(collection, id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.items[key]; ok {
		t.order.Remove(el)
		delete(t.items, key)
	}
	return nil
}

func (t *MemTier) Scan(_ context.Context, collection string) (Iterator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var docs []document.Document
	for el := t.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*memEntry)
		if e.doc.Collection == collection {
			docs = append(docs, e.doc)
		}
	}
	return newSliceIterator(docs), nil
}

func (t *MemTier) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Name:       "L1Memory",
		EntryCount: int64(t.order.Len()),
		Hits:       t.hits,
		Misses:     t.misses,
	}
}

// evictLocked drops least-recently-used entries until capacity holds.
// Must be called with t.mu held.
func (t *MemTier) evictLocked() {
	for t.order.Len() > t.capacity {
		back := t.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*memEntry)
		t.order.Remove(back)
		delete(t.items, e.key)
	}
}
