package api

import (
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/vclock"
)

// ChangeEvent is one document mutation delivered to change-stream
// subscribers: (id, version, vector_clock), never the payload itself
// (spec §6 change stream).
type ChangeEvent struct {
	Collection string       `json:"collection"`
	ID         string       `json:"id"`
	Type       string       `json:"type"` // Created | Updated | Deleted
	Version    uint64       `json:"version"`
	Clock      vclock.Clock `json:"vector_clock"`
}

const (
	changeCreated = "Created"
	changeUpdated = "Updated"
	changeDeleted = "Deleted"
)

// changeBus fans out committed writes to any number of change-stream
// subscribers. Delivery is best-effort: a subscriber whose 64-event
// buffer is full misses the event rather than stalling writers, and a
// missed event is never redelivered.
type changeBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ChangeEvent
}

func newChangeBus() *changeBus {
	return &changeBus{subs: make(map[int]chan ChangeEvent)}
}

func (b *changeBus) subscribe() (int, <-chan ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ChangeEvent, 64)
	b.subs[id] = ch
	return id, ch
}

func (b *changeBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *changeBus) publish(ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
