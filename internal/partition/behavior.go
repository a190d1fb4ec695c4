package partition

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
)

// Guard enforces the majority-continues / minority-read-only rule (spec
// §4.5): a node that has classified itself as being on the minority side
// of a stable partition refuses writes but keeps serving reads from its
// local tiers.
type Guard struct {
	side Side
}

// NewGuard starts unpartitioned.
func NewGuard() *Guard { return &Guard{side: SideUnpartitioned} }

// SetSide updates the guard's classification, typically called by the
// supervisor's partition-detection task each time Classify changes.
func (g *Guard) SetSide(s Side) { g.side = s }

// Side reports the guard's current classification.
func (g *Guard) Side() Side { return g.side }

// AllowWrite returns an error if this node must refuse writes because it
// is on the minority side of a stable partition.
func (g *Guard) AllowWrite(ctx context.Context) error {
	if g.side == SideMinority {
		return aerrors.Partitionedf("node is on the minority side of a stable partition, writes refused")
	}
	return nil
}

// AllowRead never refuses reads — a minority partition keeps serving
// reads from local tiers, possibly stale (spec §4.5).
func (g *Guard) AllowRead(ctx context.Context) error {
	return nil
}
