// Package consensus implements the Byzantine-fault-tolerant three-phase
// agreement protocol (C3) that orders write batches per shard: a PBFT-
// style pre-prepare/prepare/commit round tolerating up to f = ⌊(n−1)/3⌋
// faulty replicas, with view change on leader timeout or proof of
// equivocation (spec §4.3).
package consensus

import (
	"crypto/ed25519"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/vclock"
	"github.com/zeebo/blake3"
)

// Operation is one document mutation inside a batch.
type Operation struct {
	Collection      string
	ID              string
	Payload         []byte // plaintext, or ciphertext already sealed by the security envelope when Encrypted is set
	Checksum        [32]byte
	Encrypted       bool
	Version         uint64 // the version this write assigns once committed
	CreatedAt       time.Time
	ExpectedVersion *uint64
	Tombstone       bool
	ClientClock     vclock.Clock // optimistic-concurrency handle the client supplied, if any
}

// Batch is an ordered group of operations that consensus commits
// atomically per shard (GLOSSARY). Batches are totally ordered within a
// shard; across shards there is no ordering relationship.
type Batch struct {
	ShardID    uint32
	Seq        uint64 // monotone, dense per shard
	Operations []Operation
	ProposedAt time.Time
	Hash       [32]byte // canonical hash over (ShardID, Seq, Operations)
}

// Phase is a batch's position in the three-phase protocol.
type Phase int

const (
	PhasePrePrepare Phase = iota
	PhasePrepared
	PhaseCommitted
	PhaseDiscarded // equivocation or failed view change
)

func (p Phase) String() string {
	switch p {
	case PhasePrePrepare:
		return "PrePrepare"
	case PhasePrepared:
		return "Prepared"
	case PhaseCommitted:
		return "Committed"
	case PhaseDiscarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

// transitions enumerates the only legal phase transitions, per spec §9's
// guidance to model consensus as explicit enums with transition tables
// rather than nested conditionals.
var transitions = map[Phase][]Phase{
	PhasePrePrepare: {PhasePrepared, PhaseDiscarded},
	PhasePrepared:   {PhaseCommitted, PhaseDiscarded},
	PhaseCommitted:  {},
	PhaseDiscarded:  {},
}

func canTransition(from, to Phase) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SignedVote is a replica's signed vote for a (shard, seq) pair at a
// given protocol phase. PrePrepare, Prepare, and Commit messages all
// carry this shape (spec §4.6 message taxonomy).
type SignedVote struct {
	NodeID    string
	ShardID   uint32
	Seq       uint64
	BatchHash [32]byte
	Phase     Phase
	Signature []byte
}

// Verify checks vote's signature was produced by pub over its signable
// content.
func (v SignedVote) Verify(pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, v.signable(), v.Signature)
}

func (v SignedVote) signable() []byte {
	buf := make([]byte, 0, 8+8+32+1+len(v.NodeID))
	buf = appendUint32(buf, v.ShardID)
	buf = appendUint64(buf, v.Seq)
	buf = append(buf, v.BatchHash[:]...)
	buf = append(buf, byte(v.Phase))
	buf = append(buf, v.NodeID...)
	return buf
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Sign produces the vote's signature using priv; callers must set every
// other field first.
func (v *SignedVote) Sign(priv ed25519.PrivateKey) {
	v.Signature = ed25519.Sign(priv, v.signable())
}

// QuorumSize returns 2f+1 out of 3f+1 replicas for n total nodes,
// per GLOSSARY. For n not of the form 3f+1, it uses the largest f with
// 3f+1 <= n, the conservative (smaller quorum requirement never
// exceeds n) choice.
func QuorumSize(n int) int {
	f := (n - 1) / 3
	return 2*f + 1
}

// FaultTolerance returns f = ⌊(n−1)/3⌋ for n total replicas.
func FaultTolerance(n int) int {
	return (n - 1) / 3
}

// HashBatch computes the canonical hash over (ShardID, Seq, Operations)
// that PrePrepare/Prepare/Commit votes sign against (spec §4.3). The
// encoding only needs to be deterministic for a given batch, not
// human-readable or wire-compatible with anything else.
func HashBatch(b Batch) [32]byte {
	buf := make([]byte, 0, 128+64*len(b.Operations))
	buf = appendUint32(buf, b.ShardID)
	buf = appendUint64(buf, b.Seq)
	for _, op := range b.Operations {
		buf = append(buf, op.Collection...)
		buf = append(buf, 0)
		buf = append(buf, op.ID...)
		buf = append(buf, 0)
		buf = append(buf, op.Payload...)
		buf = append(buf, op.Checksum[:]...)
		buf = appendUint64(buf, op.Version)
		if op.Tombstone {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return blake3.Sum256(buf)
}
