package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/cluster"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/vclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocalStore struct {
	mu   sync.Mutex
	docs map[string]document.Document
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{docs: map[string]document.Document{}}
}

func (s *fakeLocalStore) Put(ctx context.Context, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Collection+"/"+doc.ID] = doc
	return nil
}

func (s *fakeLocalStore) Get(ctx context.Context, collection, id string) (document.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[collection+"/"+id]
	return d, ok, nil
}

func (s *fakeLocalStore) Delete(ctx context.Context, doc document.Document) error {
	return s.Put(ctx, doc)
}

type fakePeerTransport struct {
	id      string
	putErr  error
	local   *fakeLocalStore
	putDocs []document.Document
	mu      sync.Mutex
}

func newFakePeerTransport(id string) *fakePeerTransport {
	return &fakePeerTransport{id: id, local: newFakeLocalStore()}
}

func (p *fakePeerTransport) NodeID() string { return p.id }

func (p *fakePeerTransport) ReplicaPut(ctx context.Context, doc document.Document) error {
	if p.putErr != nil {
		return p.putErr
	}
	p.mu.Lock()
	p.putDocs = append(p.putDocs, doc)
	p.mu.Unlock()
	return p.local.Put(ctx, doc)
}

func (p *fakePeerTransport) ReplicaGet(ctx context.Context, collection, id string) (document.Document, bool, error) {
	return p.local.Get(ctx, collection, id)
}

func (p *fakePeerTransport) ReplicaDelete(ctx context.Context, collection, id string) error {
	return nil
}

func (p *fakePeerTransport) ReplicaScan(ctx context.Context, collection string) ([]document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []document.Document
	for _, d := range p.local.docs {
		if d.Collection == collection {
			out = append(out, d)
		}
	}
	return out, nil
}

// newTestManager wires a 2-node cluster (self + peer) with an
// in-process fakePeerTransport so peersFor resolves the peer for any
// key, matching what the ring would do with only two candidates.
func newTestManager(t *testing.T, writeQuorum int) (*Manager, *fakeLocalStore, *fakePeerTransport) {
	t.Helper()
	membership := cluster.NewMembership([]cluster.Node{
		{ID: "self", IsAlive: true},
		{ID: "peer", IsAlive: true},
	}, 64)
	state := cluster.NewClusterState(membership)
	local := newFakeLocalStore()

	mgr := NewManager(Config{
		SelfID:      "self",
		Local:       local,
		Cluster:     state,
		Resolver:    vclock.Resolver{Policy: vclock.LastWriterWins},
		WriteQuorum: writeQuorum,
		PeerTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(mgr.Close)

	peer := newFakePeerTransport("peer")
	mgr.AddPeer(peer)
	return mgr, local, peer
}

func TestManagerPutToReplicasSatisfiesLocalOnlyQuorum(t *testing.T) {
	mgr, local, _ := newTestManager(t, 1)
	doc := document.Document{Collection: "c", ID: "d1", Payload: []byte("v1")}
	require.NoError(t, mgr.PutToReplicas(context.Background(), doc))

	_, ok, _ := local.Get(context.Background(), "c", "d1")
	assert.True(t, ok)
}

func TestManagerPutToReplicasFansOutToReachQuorum(t *testing.T) {
	mgr, _, peer := newTestManager(t, 2)
	doc := document.Document{Collection: "c", ID: "d1", Payload: []byte("v1")}
	require.NoError(t, mgr.PutToReplicas(context.Background(), doc))

	_, ok, _ := peer.ReplicaGet(context.Background(), "c", "d1")
	assert.True(t, ok)
}

func TestManagerPutToReplicasFailsWhenQuorumUnreachable(t *testing.T) {
	mgr, _, peer := newTestManager(t, 2)
	peer.putErr = errors.New("peer unreachable")

	err := mgr.PutToReplicas(context.Background(), document.Document{Collection: "c", ID: "d1"})
	assert.Error(t, err)
}

func TestManagerFetchFromReplicasReturnsPeerVersion(t *testing.T) {
	mgr, _, peer := newTestManager(t, 2)
	doc := document.Document{Collection: "c", ID: "d1", Payload: []byte("from-peer")}
	require.NoError(t, peer.local.Put(context.Background(), doc))

	got, ok, err := mgr.FetchFromReplicas(context.Background(), "c", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-peer"), got.Payload)
}

func TestManagerFetchFromReplicasMissWhenNoPeerHasIt(t *testing.T) {
	mgr, _, _ := newTestManager(t, 2)
	_, ok, err := mgr.FetchFromReplicas(context.Background(), "c", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerTickMissedHeartbeatsQuarantinesFailedPeer(t *testing.T) {
	mgr, _, _ := newTestManager(t, 1)

	for i := 0; i < suspectThreshold+failThreshold; i++ {
		mgr.TickMissedHeartbeats()
	}

	state, ok := mgr.HealthOf("peer")
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)
	assert.True(t, mgr.cluster.Membership.QuarantinedSet()["peer"])
}

func TestManagerOnHeartbeatResetsHealth(t *testing.T) {
	mgr, _, _ := newTestManager(t, 1)
	for i := 0; i < suspectThreshold; i++ {
		mgr.TickMissedHeartbeats()
	}
	state, _ := mgr.HealthOf("peer")
	require.Equal(t, StateSuspect, state)

	mgr.OnHeartbeat("peer", time.Now())
	state, _ = mgr.HealthOf("peer")
	assert.Equal(t, StateActive, state)
}

func TestManagerReconcilePullsMissingRemoteDocs(t *testing.T) {
	mgr, local, peer := newTestManager(t, 1)
	remoteDoc := document.Document{Collection: "c", ID: "d1", Payload: []byte("remote"), Clock: vclock.New().Tick("peer")}
	require.NoError(t, peer.local.Put(context.Background(), remoteDoc))

	require.NoError(t, mgr.Reconcile(context.Background(), peer, "c"))

	got, ok, _ := local.Get(context.Background(), "c", "d1")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), got.Payload)
}

func TestManagerEnqueueRemoteDCIsBestEffortAndDoesNotBlockWrite(t *testing.T) {
	var mu sync.Mutex
	invoked := 0
	membership := cluster.NewMembership([]cluster.Node{{ID: "self", IsAlive: true}}, 64)
	state := cluster.NewClusterState(membership)
	local := newFakeLocalStore()

	mgr := NewManager(Config{
		SelfID:      "self",
		Local:       local,
		Cluster:     state,
		Resolver:    vclock.Resolver{Policy: vclock.LastWriterWins},
		WriteQuorum: 1,
		PeerTimeout: time.Second,
		Logger:      zerolog.Nop(),
		RemoteDCReplicate: func(ctx context.Context, doc document.Document) error {
			mu.Lock()
			invoked++
			mu.Unlock()
			return nil
		},
	})
	defer mgr.Close()

	require.NoError(t, mgr.PutToReplicas(context.Background(), document.Document{Collection: "c", ID: "d1"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invoked == 1
	}, time.Second, 10*time.Millisecond)
}
