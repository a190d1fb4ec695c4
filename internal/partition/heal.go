package partition

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/consensus"
	"github.com/rs/zerolog"
)

// ShardLog exposes the durable, totally-ordered commit log for one shard
// (consensus's per-shard batch history), the authoritative source for
// partition healing (spec §4.5).
type ShardLog interface {
	HighestCommittedSeq() uint64
	BatchesFrom(seq uint64) ([]consensus.Batch, error)
}

// PeerLog is the remote counterpart of ShardLog, reached over the
// network layer.
type PeerLog interface {
	HighestCommittedSeq(ctx context.Context, shardID uint32) (uint64, error)
	BatchesFrom(ctx context.Context, shardID uint32, seq uint64) ([]consensus.Batch, error)
}

// Replayer resubmits a healed batch's operations through consensus so
// they are re-ordered and re-committed rather than applied out-of-band
// (spec §4.5 "replay quarantined writes through consensus").
type Replayer interface {
	ProposeBatch(ctx context.Context, batch consensus.Batch) error
}

// Healer reconciles one shard's log against a peer once a partition
// heals: both sides exchange their highest committed sequence, the side
// with the longer prefix is authoritative, and the lagging side replays
// the missing suffix through consensus rather than copying it directly
// (spec §4.5).
type Healer struct {
	shardID  uint32
	local    ShardLog
	replayer Replayer
	log      zerolog.Logger
}

// NewHealer builds a Healer for one shard.
func NewHealer(shardID uint32, local ShardLog, replayer Replayer, log zerolog.Logger) *Healer {
	return &Healer{shardID: shardID, local: local, replayer: replayer, log: log.With().Uint32("shard", shardID).Logger()}
}

// Heal reconciles against peer: whichever side has the higher committed
// sequence is authoritative for the divergent suffix, and the other side
// replays it through consensus. Tombstones take precedence over any
// concurrent non-tombstone operation on the same id within the replayed
// suffix, since a delete must never be silently resurrected by a stale
// write (spec §4.5 tombstone precedence).
func (h *Healer) Heal(ctx context.Context, peer PeerLog) error {
	localSeq := h.local.HighestCommittedSeq()
	remoteSeq, err := peer.HighestCommittedSeq(ctx, h.shardID)
	if err != nil {
		return err
	}

	if remoteSeq <= localSeq {
		// Local holds the longer (or equal) prefix; nothing to pull.
		// The peer is expected to pull from us via its own Heal call.
		return nil
	}

	missing, err := peer.BatchesFrom(ctx, h.shardID, localSeq+1)
	if err != nil {
		return err
	}

	missing = applyTombstonePrecedence(missing)

	for _, batch := range missing {
		if err := h.replayer.ProposeBatch(ctx, batch); err != nil {
			h.log.Warn().Err(err).Uint64("seq", batch.Seq).Msg("replay of healed batch failed")
			return err
		}
	}
	h.log.Info().Uint64("from", localSeq+1).Uint64("to", remoteSeq).Msg("shard log healed from peer")
	return nil
}

// applyTombstonePrecedence drops any non-tombstone operation in the
// batch sequence that is followed, later in the same suffix, by a
// tombstone for the same (collection, id): the delete wins regardless of
// replay order, so a healed node never resurrects a document its peer
// already deleted.
func applyTombstonePrecedence(batches []consensus.Batch) []consensus.Batch {
	deleted := make(map[string]bool)
	drop := make(map[[2]int]bool)
	for i := len(batches) - 1; i >= 0; i-- {
		for j := len(batches[i].Operations) - 1; j >= 0; j-- {
			op := batches[i].Operations[j]
			key := op.Collection + "/" + op.ID
			if op.Tombstone {
				deleted[key] = true
			} else if deleted[key] {
				drop[[2]int{i, j}] = true
			}
		}
	}
	if len(drop) == 0 {
		return batches
	}
	out := make([]consensus.Batch, len(batches))
	for i, b := range batches {
		nb := b
		var ops []consensus.Operation
		for j, op := range b.Operations {
			if drop[[2]int{i, j}] {
				continue
			}
			ops = append(ops, op)
		}
		nb.Operations = ops
		out[i] = nb
	}
	return out
}
