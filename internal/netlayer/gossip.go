package netlayer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PeerSink receives newly discovered peers so membership/cluster code
// can join them, without gossip importing the cluster package directly.
type PeerSink interface {
	OnPeerAnnounced(nodeID, address string)
}

// Gossip keeps a known-peer address table, seeded with bootstrap
// addresses, and propagates PeerAnnounce messages over the connections
// already in its pool. It never dials an address itself, so a seed or a
// transitively learned peer is reached only once something else puts a
// connection to it in the pool.
type Gossip struct {
	selfID    string
	selfAddr  string
	pool      *Pool
	sink      PeerSink
	interval  time.Duration
	log       zerolog.Logger

	mu    sync.RWMutex
	known map[string]string // nodeID -> address
}

// NewGossip creates a discovery loop seeded with bootstrap addresses.
func NewGossip(selfID, selfAddr string, pool *Pool, sink PeerSink, interval time.Duration, log zerolog.Logger) *Gossip {
	return &Gossip{
		selfID:   selfID,
		selfAddr: selfAddr,
		pool:     pool,
		sink:     sink,
		interval: interval,
		log:      log.With().Str("component", "gossip").Logger(),
		known:    map[string]string{selfID: selfAddr},
	}
}

// Seed records bootstrap peer addresses in the known-peer table under
// placeholder ids. Neither Seed nor Run dials them; they are included in
// this node's outgoing PeerAnnounce KnownPeers.
func (g *Gossip) Seed(addrs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, addr := range addrs {
		g.known[bootstrapPlaceholderID(i)] = addr
	}
}

// bootstrapPlaceholderID names a not-yet-identified seed until its real
// handshake-verified node ID is learned.
func bootstrapPlaceholderID(i int) string {
	return "_bootstrap_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// OnAnnounce processes a received PeerAnnounce, recording the sender and
// any peers it already knows about (transitive gossip). Sink is notified
// only of a newly seen sender, not of transitively learned addresses.
func (g *Gossip) OnAnnounce(body PeerAnnounceBody) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, known := g.known[body.NodeID]; !known {
		g.known[body.NodeID] = body.Address
		g.sink.OnPeerAnnounced(body.NodeID, body.Address)
	}
	for _, peerAddr := range body.KnownPeers {
		// KnownPeers is "address" shorthand; the full id arrives once we
		// handshake with it directly, so this only primes future dials.
		if _, known := g.known[peerAddr]; !known {
			g.known[peerAddr] = peerAddr
		}
	}
}

// Snapshot returns the current known-peer address map.
func (g *Gossip) Snapshot() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.known))
	for id, addr := range g.known {
		out[id] = addr
	}
	return out
}

// announceBody builds this node's outgoing PeerAnnounce.
func (g *Gossip) announceBody() PeerAnnounceBody {
	g.mu.RLock()
	defer g.mu.RUnlock()
	peers := make([]string, 0, len(g.known))
	for id, addr := range g.known {
		if id == g.selfID {
			continue
		}
		peers = append(peers, addr)
	}
	return PeerAnnounceBody{NodeID: g.selfID, Address: g.selfAddr, KnownPeers: peers}
}

// Run periodically broadcasts this node's PeerAnnounce to every pooled
// connection until ctx is cancelled.
func (g *Gossip) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, err := EncodeBody(g.announceBody())
			if err != nil {
				g.log.Warn().Err(err).Msg("encode announce body failed")
				continue
			}
			msg := Message{Version: ProtocolVersion, Kind: KindPeerAnnounce, FromNode: g.selfID, Body: body}
			if err := g.pool.Broadcast(ctx, msg); err != nil {
				g.log.Debug().Err(err).Msg("gossip broadcast partial failure")
			}
		}
	}
}
