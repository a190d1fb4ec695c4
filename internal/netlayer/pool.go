package netlayer

import (
	"context"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"golang.org/x/time/rate"
)

// Pool is a bounded set of outbound connections, one per remote node,
// with a token-bucket limiter shaping the send rate so a slow or
// partitioned peer applies backpressure to callers rather than letting
// an unbounded number of goroutines or buffered messages pile up (spec
// §4.6 "bounded connection pool with backpressure").
type Pool struct {
	mu      sync.Mutex
	conns   map[string]*Conn
	maxSize int
	limiter *rate.Limiter
}

// NewPool creates a pool capped at maxSize live connections, shaping
// sends to ratePerSecond messages/sec with a burst of burst.
func NewPool(maxSize int, ratePerSecond float64, burst int) *Pool {
	return &Pool{
		conns:   make(map[string]*Conn),
		maxSize: maxSize,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Put registers an established connection, closing and evicting one
// existing entry if the pool is at capacity and nodeID is new. The
// evicted entry is whichever Go map iteration yields first, not
// necessarily the oldest.
func (p *Pool) Put(nodeID string, conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.conns[nodeID]; !exists && len(p.conns) >= p.maxSize {
		for id, c := range p.conns {
			c.Close()
			delete(p.conns, id)
			break
		}
	}
	p.conns[nodeID] = conn
}

// Get returns the live connection for nodeID, if any.
func (p *Pool) Get(nodeID string) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[nodeID]
	return c, ok
}

// Remove closes and drops nodeID's connection, e.g. on read error or
// when the replica is quarantined.
func (p *Pool) Remove(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[nodeID]; ok {
		c.Close()
		delete(p.conns, nodeID)
	}
}

// Send waits for the rate limiter's permission, then writes msg to
// nodeID's connection. Waiting (rather than dropping) is the
// backpressure: a caller flooding the pool blocks instead of an
// unbounded queue building up in front of a slow peer.
func (p *Pool) Send(ctx context.Context, nodeID string, msg Message) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return aerrors.Overloadedf("send to %s rate-limited: %v", nodeID, err)
	}
	p.mu.Lock()
	conn, ok := p.conns[nodeID]
	p.mu.Unlock()
	if !ok {
		return aerrors.Partitionedf("no connection to %s", nodeID)
	}
	if err := conn.SendMessage(msg); err != nil {
		p.Remove(nodeID)
		return err
	}
	return nil
}

// Broadcast sends msg to every connected node, collecting the first
// error but attempting every peer regardless.
func (p *Pool) Broadcast(ctx context.Context, msg Message) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := p.Send(ctx, id, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the number of currently pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// CloseAll closes every pooled connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.conns {
		c.Close()
		delete(p.conns, id)
	}
}
