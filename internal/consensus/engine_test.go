package consensus

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(ctx context.Context, vote SignedVote) error { return nil }

type recordingApplier struct {
	mu      sync.Mutex
	applied []Batch
}

func (a *recordingApplier) Apply(ctx context.Context, batch Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, batch)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func TestEngineSingleReplicaCommitsImmediately(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	applier := &recordingApplier{}
	e := NewEngine(Config{
		ShardID:      1,
		SelfID:       "solo",
		Keypair:      priv,
		Replicas:     []ReplicaInfo{{NodeID: "solo", PublicKey: pub}},
		Broadcaster:  noopBroadcaster{},
		Applier:      applier,
		BatchTimeout: time.Second,
	})
	defer e.Close()

	batch := Batch{ShardID: 1, Seq: 1, Operations: []Operation{{Collection: "c", ID: "d1"}}}
	require.NoError(t, e.ProposeBatch(context.Background(), batch))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.AwaitCommit(ctx, 1))
	assert.Equal(t, 1, applier.count())
}

func TestEngineLeaderForUsesActiveOrder(t *testing.T) {
	e := NewEngine(Config{
		ShardID: 1,
		SelfID:  "n1",
		Replicas: []ReplicaInfo{
			{NodeID: "n1"},
			{NodeID: "n2"},
		},
		Broadcaster: noopBroadcaster{},
		Applier:     &recordingApplier{},
	})
	defer e.Close()

	// order sorted is [n1, n2]; seq=0 -> n1, seq=1 -> n2.
	assert.Equal(t, "n1", e.LeaderFor(0))
	assert.Equal(t, "n2", e.LeaderFor(1))
}

func TestEngineProposeBatchRejectsNonLeader(t *testing.T) {
	e := NewEngine(Config{
		ShardID: 1,
		SelfID:  "n1",
		Replicas: []ReplicaInfo{
			{NodeID: "n1"},
			{NodeID: "n2"},
		},
		Broadcaster: noopBroadcaster{},
		Applier:     &recordingApplier{},
	})
	defer e.Close()

	// seq=1's leader is n2, not n1 (self).
	err := e.ProposeBatch(context.Background(), Batch{ShardID: 1, Seq: 1})
	assert.Error(t, err)
}

func TestEngineOnPrePrepareDetectsEquivocation(t *testing.T) {
	leaderPub, leaderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	selfPub, selfPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	// Four replicas so n1's own prepare vote (1 of quorum 3) cannot commit
	// seq 1 before the conflicting pre-prepare arrives.
	var viewChanged []string
	e := NewEngine(Config{
		ShardID: 1,
		SelfID:  "n1",
		Keypair: selfPriv,
		Replicas: []ReplicaInfo{
			{NodeID: "n1", PublicKey: selfPub},
			{NodeID: "n2", PublicKey: leaderPub},
			{NodeID: "n3"},
			{NodeID: "n4"},
		},
		Broadcaster: noopBroadcaster{},
		Applier:     &recordingApplier{},
	})
	defer e.Close()
	e.OnViewChange(func(newLeader string) { viewChanged = append(viewChanged, newLeader) })

	batchA := Batch{ShardID: 1, Seq: 1, Hash: [32]byte{1}}
	sigA := signFor(leaderPriv, "n2", 1, batchA.Hash, PhasePrePrepare)
	require.NoError(t, e.OnPrePrepare(context.Background(), "n2", batchA, sigA))

	batchB := Batch{ShardID: 1, Seq: 1, Hash: [32]byte{2}}
	sigB := signFor(leaderPriv, "n2", 1, batchB.Hash, PhasePrePrepare)
	err = e.OnPrePrepare(context.Background(), "n2", batchB, sigB)
	assert.Error(t, err)

	assert.Eventually(t, func() bool { return len(viewChanged) == 1 }, time.Second, 10*time.Millisecond)
}

func signFor(priv ed25519.PrivateKey, nodeID string, seq uint64, hash [32]byte, phase Phase) []byte {
	v := SignedVote{NodeID: nodeID, ShardID: 1, Seq: seq, BatchHash: hash, Phase: phase}
	v.Sign(priv)
	return v.Signature
}
