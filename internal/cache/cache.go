// Package cache implements the bounded, write-invalidated read cache
// (C9): an LRU keyed by (collection, id) storing decoded payload plus
// vector clock, invalidated synchronously on write, with an advisory
// prefetch hook on read-miss (spec §4.9).
package cache

import (
	"container/list"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/vclock"
)

// Entry is one cached document's decoded payload and vector clock.
type Entry struct {
	Collection string
	ID         string
	Payload    []byte
	Clock      vclock.Clock
}

func key(collection, id string) string { return collection + "\x00" + id }

// PrefetchFunc is invoked, best-effort and never blocking the caller,
// whenever Get misses. It is advisory: its result is not waited on by
// the read that triggered it (spec §4.9 "advisory prefetch hook").
type PrefetchFunc func(collection, id string)

// Cache is a bounded LRU over Entry values.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
	prefetch PrefetchFunc
}

// New creates a cache bounded at capacity entries. prefetch may be nil.
func New(capacity int, prefetch PrefetchFunc) *Cache {
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
		prefetch: prefetch,
	}
}

// Get returns the cached entry for (collection, id), promoting it to
// most-recently-used. On miss, it fires the prefetch hook in a separate
// goroutine and returns ok=false immediately.
func (c *Cache) Get(collection, id string) (Entry, bool) {
	k := key(collection, id)
	c.mu.Lock()
	el, ok := c.index[k]
	if ok {
		c.ll.MoveToFront(el)
	}
	c.mu.Unlock()

	if !ok {
		if c.prefetch != nil {
			go c.prefetch(collection, id)
		}
		return Entry{}, false
	}
	return el.Value.(Entry), true
}

// Put inserts or updates an entry, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(e Entry) {
	k := key(e.Collection, e.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		el.Value = e
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(e)
	c.index[k] = el
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

// Invalidate synchronously removes (collection, id) from the cache,
// called on every write before the write is acknowledged so a reader can
// never observe a cached value older than its own write (spec §4.9
// "synchronous invalidate/update on write").
func (c *Cache) Invalidate(collection, id string) {
	k := key(collection, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[k]; ok {
		c.ll.Remove(el)
		delete(c.index, k)
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	e := el.Value.(Entry)
	c.ll.Remove(el)
	delete(c.index, key(e.Collection, e.ID))
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
