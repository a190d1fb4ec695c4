package netlayer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	announced []string
}

func (s *recordingSink) OnPeerAnnounced(nodeID, address string) {
	s.announced = append(s.announced, nodeID)
}

func TestGossipOnAnnounceNotifiesSinkForNewPeer(t *testing.T) {
	sink := &recordingSink{}
	g := NewGossip("self", "self:7701", NewPool(4, 100, 10), sink, 0, zerolog.Nop())

	g.OnAnnounce(PeerAnnounceBody{NodeID: "n2", Address: "n2:7701"})
	assert.Equal(t, []string{"n2"}, sink.announced)

	g.OnAnnounce(PeerAnnounceBody{NodeID: "n2", Address: "n2:7701"})
	assert.Len(t, sink.announced, 1, "already-known peer must not re-announce")
}

func TestGossipSnapshotIncludesSelfAndSeeds(t *testing.T) {
	sink := &recordingSink{}
	g := NewGossip("self", "self:7701", NewPool(4, 100, 10), sink, 0, zerolog.Nop())
	g.Seed("seed1:7701", "seed2:7701")

	snap := g.Snapshot()
	assert.Equal(t, "self:7701", snap["self"])
	assert.Contains(t, snap, "_bootstrap_0")
	assert.Contains(t, snap, "_bootstrap_1")
}

func TestGossipOnAnnouncePrimesTransitivePeersByAddress(t *testing.T) {
	sink := &recordingSink{}
	g := NewGossip("self", "self:7701", NewPool(4, 100, 10), sink, 0, zerolog.Nop())

	g.OnAnnounce(PeerAnnounceBody{NodeID: "n2", Address: "n2:7701", KnownPeers: []string{"n3:7701"}})
	snap := g.Snapshot()
	assert.Equal(t, "n3:7701", snap["n3:7701"])
}
