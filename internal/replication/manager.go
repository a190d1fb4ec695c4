package replication

import (
	"context"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/cluster"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/vclock"
	"github.com/rs/zerolog"
)

// Manager owns one node's view of its replica sets: it fans writes out
// to peers synchronously for the local shard's intra-DC quorum (coupled
// to the consensus prepare phase, spec §4.3/§4.4), streams committed
// batches to cross-DC replicas asynchronously, tracks peer health, and
// repairs divergence on reconnect. It implements docstore.ReplicaFetcher.
type Manager struct {
	selfID       string
	local        LocalStore
	cluster      *cluster.ClusterState
	resolver     vclock.Resolver
	writeQuorum  int // e.g. quorum of the replication factor, not the BFT quorum
	peerTimeout  time.Duration
	log          zerolog.Logger

	mu      sync.RWMutex
	peers   map[string]PeerTransport
	health  map[string]*PeerHealth

	remoteDC   chan document.Document // async cross-DC stream queue
	remoteDCFn func(context.Context, document.Document) error
	closed     chan struct{}
}

// Config parameterizes a new Manager.
type Config struct {
	SelfID      string
	Local       LocalStore
	Cluster     *cluster.ClusterState
	Resolver    vclock.Resolver
	WriteQuorum int
	PeerTimeout time.Duration
	Logger      zerolog.Logger
	// RemoteDCReplicate, if set, is invoked asynchronously for every
	// committed write to stream it to a cross-DC replica set. It must
	// never block the synchronous intra-DC write path.
	RemoteDCReplicate func(context.Context, document.Document) error
}

// NewManager builds a Manager and starts its async cross-DC streaming
// loop. Call Close to stop it.
func NewManager(cfg Config) *Manager {
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = 2 * time.Second
	}
	m := &Manager{
		selfID:      cfg.SelfID,
		local:       cfg.Local,
		cluster:     cfg.Cluster,
		resolver:    cfg.Resolver,
		writeQuorum: cfg.WriteQuorum,
		peerTimeout: cfg.PeerTimeout,
		log:         cfg.Logger.With().Str("component", "replication").Logger(),
		peers:       make(map[string]PeerTransport),
		health:      make(map[string]*PeerHealth),
		remoteDC:    make(chan document.Document, 1024),
		remoteDCFn:  cfg.RemoteDCReplicate,
		closed:      make(chan struct{}),
	}
	go m.runRemoteDCStream()
	return m
}

// Close stops the async cross-DC streaming loop.
func (m *Manager) Close() { close(m.closed) }

// AddPeer registers a transport for a replica node and starts tracking
// its health.
func (m *Manager) AddPeer(t PeerTransport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[t.NodeID()] = t
	m.health[t.NodeID()] = NewPeerHealth(t.NodeID())
}

// RemovePeer drops a replica's transport and health tracking, e.g. on
// graceful departure.
func (m *Manager) RemovePeer(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, nodeID)
	delete(m.health, nodeID)
}

// HealthOf reports a peer's current health state for metrics/admin use.
func (m *Manager) HealthOf(nodeID string) (HealthState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[nodeID]
	if !ok {
		return StateActive, false
	}
	return h.Snapshot(), true
}

// OnHeartbeat feeds a received heartbeat into a peer's health tracker.
func (m *Manager) OnHeartbeat(nodeID string, at time.Time) {
	m.mu.RLock()
	h, ok := m.health[nodeID]
	m.mu.RUnlock()
	if ok {
		h.OnHeartbeat(at)
	}
}

// TickMissedHeartbeats advances every tracked peer's miss counter by one
// interval; the supervisor's heartbeat pinger calls this once per
// heartbeat_interval. A peer that reaches Failed is quarantined in
// cluster membership so it drops out of replica-set and leader-election
// selection (spec §4.3/§4.4).
func (m *Manager) TickMissedHeartbeats() {
	m.mu.RLock()
	snapshot := make(map[string]*PeerHealth, len(m.health))
	for id, h := range m.health {
		snapshot[id] = h
	}
	m.mu.RUnlock()

	for id, h := range snapshot {
		if h.OnMissedHeartbeat() == StateFailed {
			m.cluster.Membership.Quarantine(id)
			m.log.Warn().Str("peer", id).Msg("replica marked Failed, quarantined")
		}
	}
}

// peersFor resolves the transports for key's replica set, excluding self.
func (m *Manager) peersFor(key string, replicationFactor int) []PeerTransport {
	shard := m.cluster.ShardFor(key, replicationFactor)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PeerTransport
	for _, id := range shard.ReplicaIDs {
		if id == m.selfID {
			continue
		}
		if t, ok := m.peers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// PutToReplicas writes doc to the local store and fans it out to the
// remaining replicas in its replica set, returning once writeQuorum
// acknowledgments (including the local write) are collected or the
// quorum becomes unreachable (spec §4.4 synchronous intra-DC write).
// It also enqueues doc for best-effort async cross-DC streaming.
func (m *Manager) PutToReplicas(ctx context.Context, doc document.Document) error {
	if err := m.local.Put(ctx, doc); err != nil {
		return err
	}
	acked := 1

	peers := m.peersFor(doc.Collection+"/"+doc.ID, m.writeQuorum)
	if acked >= m.writeQuorum || len(peers) == 0 {
		m.enqueueRemoteDC(doc)
		return nil
	}

	type result struct {
		err error
	}
	results := make(chan result, len(peers))
	wctx, cancel := context.WithTimeout(ctx, m.peerTimeout)
	defer cancel()

	for _, p := range peers {
		p := p
		go func() {
			results <- result{err: p.ReplicaPut(wctx, doc)}
		}()
	}

	for i := 0; i < len(peers); i++ {
		r := <-results
		if r.err == nil {
			acked++
		}
		if acked >= m.writeQuorum {
			m.enqueueRemoteDC(doc)
			return nil
		}
	}

	return aerrors.QuorumUnavailablef("write quorum %d not reached for %s/%s (got %d)", m.writeQuorum, doc.Collection, doc.ID, acked)
}

// FetchFromReplicas reads collection/id from the replica set, resolving
// any concurrent versions it observes via the collection's conflict
// policy (spec §4.2). A local hit is never consulted here — this is the
// L3 tier's path, reached only after L1/L2 miss.
func (m *Manager) FetchFromReplicas(ctx context.Context, collection, id string) (document.Document, bool, error) {
	peers := m.peersFor(collection+"/"+id, m.writeQuorum)
	if len(peers) == 0 {
		return document.Document{}, false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, m.peerTimeout)
	defer cancel()

	type result struct {
		doc document.Document
		ok  bool
		err error
	}
	results := make(chan result, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			doc, ok, err := p.ReplicaGet(rctx, collection, id)
			results <- result{doc: doc, ok: ok, err: err}
		}()
	}

	var best document.Document
	var have bool
	for i := 0; i < len(peers); i++ {
		r := <-results
		if r.err != nil || !r.ok {
			continue
		}
		if !have {
			best, have = r.doc, true
			continue
		}
		best, have = m.mergeObserved(best, r.doc)
	}
	return best, have, nil
}

// mergeObserved folds a newly observed replica version into the current
// best candidate using the vector clock relation, resolving genuine
// concurrency via the configured policy.
func (m *Manager) mergeObserved(current, observed document.Document) (document.Document, bool) {
	switch current.Clock.Compare(observed.Clock) {
	case vclock.Greater, vclock.Equal:
		return current, true
	case vclock.Less:
		return observed, true
	default:
		winner, _, err := m.resolver.Resolve(
			vclock.Candidate{NodeID: current.ID, Clock: current.Clock, Payload: current.Payload, Timestamp: current.UpdatedAt},
			vclock.Candidate{NodeID: observed.ID, Clock: observed.Clock, Payload: observed.Payload, Timestamp: observed.UpdatedAt},
		)
		if err != nil {
			return current, true
		}
		merged := current
		merged.Payload = winner.Payload
		merged.Clock = winner.Clock
		return merged, true
	}
}

// DeleteFromReplicas tombstones collection/id across the replica set.
func (m *Manager) DeleteFromReplicas(ctx context.Context, collection, id string) error {
	peers := m.peersFor(collection+"/"+id, m.writeQuorum)
	dctx, cancel := context.WithTimeout(ctx, m.peerTimeout)
	defer cancel()
	for _, p := range peers {
		if err := p.ReplicaDelete(dctx, collection, id); err != nil {
			m.log.Warn().Err(err).Str("peer", p.NodeID()).Msg("replica delete failed")
		}
	}
	return nil
}

// ScanReplicas collects every replica's view of collection, used as a
// last resort by the query executor when local tiers hold nothing.
func (m *Manager) ScanReplicas(ctx context.Context, collection string) ([]document.Document, error) {
	peers := m.peersFor(collection, m.writeQuorum)
	var out []document.Document
	for _, p := range peers {
		docs, err := p.ReplicaScan(ctx, collection)
		if err != nil {
			continue
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (m *Manager) enqueueRemoteDC(doc document.Document) {
	if m.remoteDCFn == nil {
		return
	}
	select {
	case m.remoteDC <- doc:
	default:
		m.log.Warn().Str("collection", doc.Collection).Str("id", doc.ID).Msg("cross-DC stream queue full, dropping")
	}
}

// runRemoteDCStream drains the async cross-DC queue. Failures are
// logged and dropped, not retried inline — repair-on-reconnect (Reconcile)
// is what catches up a cross-DC replica that missed writes this way.
func (m *Manager) runRemoteDCStream() {
	for {
		select {
		case <-m.closed:
			return
		case doc := <-m.remoteDC:
			ctx, cancel := context.WithTimeout(context.Background(), m.peerTimeout)
			err := m.remoteDCFn(ctx, doc)
			cancel()
			if err != nil {
				m.log.Warn().Err(err).Str("collection", doc.Collection).Str("id", doc.ID).Msg("cross-DC replication failed")
			}
		}
	}
}

// Reconcile repairs divergence against peer once it reconnects after a
// Failed period: it diffs peer's collection scan against the local view
// by vector clock, storing locally any document the local side lacks or
// holds an older version of, and pushing the local version to peer where
// it is newer (spec §4.4 repair-on-reconnect via version-vector diff).
// Only documents in peer's scan are compared: a document held only
// locally is not pushed, and a concurrent pair is merged locally only.
func (m *Manager) Reconcile(ctx context.Context, peer PeerTransport, collection string) error {
	h, ok := m.health[peer.NodeID()]
	if ok {
		h.BeginRecovery()
	}

	remote, err := peer.ReplicaScan(ctx, collection)
	if err != nil {
		return aerrors.Partitionedf("reconcile scan of %s from %s failed: %v", collection, peer.NodeID(), err)
	}

	for _, rdoc := range remote {
		ldoc, ok, err := m.local.Get(ctx, collection, rdoc.ID)
		if err != nil {
			continue
		}
		if !ok {
			_ = m.local.Put(ctx, rdoc)
			continue
		}
		switch ldoc.Clock.Compare(rdoc.Clock) {
		case vclock.Less:
			_ = m.local.Put(ctx, rdoc)
		case vclock.Concurrent:
			merged, _ := m.mergeObserved(ldoc, rdoc)
			_ = m.local.Put(ctx, merged)
		}
		if ldoc.Clock.Compare(rdoc.Clock) == vclock.Greater {
			if err := peer.ReplicaPut(ctx, ldoc); err != nil {
				m.log.Warn().Err(err).Str("peer", peer.NodeID()).Msg("reconcile push-back failed")
			}
		}
	}

	if ok {
		h.OnHeartbeat(time.Now())
	}
	return nil
}
