package docstore

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/rs/zerolog"
)

// Hierarchy composes the four tiers and implements the descend-on-read,
// write-through-on-write path from spec §4.1.
type Hierarchy struct {
	L1  *MemTier
	L2  *SSDTier
	L3  *DistTier
	L4  *ArchiveTier
	log zerolog.Logger
}

// NewHierarchy composes the four tiers. L3 and L4 may be nil for a
// single-node deployment with no distributed or archive tier configured.
func NewHierarchy(l1 *MemTier, l2 *SSDTier, l3 *DistTier, l4 *ArchiveTier, log zerolog.Logger) *Hierarchy {
	return &Hierarchy{L1: l1, L2: l2, L3: l3, L4: l4, log: log.With().Str("component", "storage_hierarchy").Logger()}
}

// Get descends L1 -> L2 -> L3 -> L4, stopping at the first hit. A hit on
// L2+ triggers an async promotion back toward L1 (and L2, if the hit
// came from L3/L4) that must never block the read.
func (h *Hierarchy) Get(ctx context.Context, collection, id string) (document.Document, bool, error) {
	if doc, ok, err := h.L1.Get(ctx, collection, id); err != nil {
		return document.Document{}, false, err
	} else if ok {
		return h.checkTombstone(doc)
	}

	if h.L2 != nil {
		if doc, ok, err := h.L2.Get(ctx, collection, id); err != nil {
			return document.Document{}, false, err
		} else if ok {
			h.promote(doc, false)
			return h.checkTombstone(doc)
		}
	}

	if h.L3 != nil {
		if doc, ok, err := h.L3.Get(ctx, collection, id); err != nil {
			return document.Document{}, false, err
		} else if ok {
			h.promote(doc, true)
			return h.checkTombstone(doc)
		}
	}

	if h.L4 != nil {
		if doc, ok, err := h.L4.Get(ctx, collection, id); err != nil {
			return document.Document{}, false, err
		} else if ok {
			h.promote(doc, true)
			return h.checkTombstone(doc)
		}
	}

	return document.Document{}, false, nil
}

func (h *Hierarchy) checkTombstone(doc document.Document) (document.Document, bool, error) {
	if doc.Tombstone {
		return document.Document{}, false, nil
	}
	return doc, true, nil
}

// promote asynchronously writes doc back to faster tiers. toL2 controls
// whether L2 is also repopulated (true when the hit came from L3/L4).
// Promotion never blocks the read that triggered it (spec §4.1).
func (h *Hierarchy) promote(doc document.Document, toL2 bool) {
	go func() {
		ctx := context.Background()
		if err := h.L1.Put(ctx, doc); err != nil {
			h.log.Warn().Err(err).Str("collection", doc.Collection).Str("id", doc.ID).Msg("L1 promotion failed")
		}
		if toL2 && h.L2 != nil {
			if err := h.L2.Put(ctx, doc); err != nil {
				h.log.Warn().Err(err).Str("collection", doc.Collection).Str("id", doc.ID).Msg("L2 promotion failed")
			}
		}
	}()
}

// Put writes through L1 and L2 synchronously (spec §4.1). L3
// replication is driven by the replication manager and L4 archival by
// explicit Archive calls, not by this call.
func (h *Hierarchy) Put(ctx context.Context, doc document.Document) error {
	if err := h.L1.Put(ctx, doc); err != nil {
		return err
	}
	if h.L2 != nil {
		if err := h.L2.Put(ctx, doc); err != nil {
			return aerrors.Wrap(aerrors.Internal, err, "L2 write-through failed")
		}
	}
	return nil
}

// Delete writes a tombstone through L1 and L2; the caller is expected to
// have already set doc.Tombstone = true.
func (h *Hierarchy) Delete(ctx context.Context, doc document.Document) error {
	return h.Put(ctx, doc)
}

// Archive writes doc to L4. It runs only when called: nothing in this
// package or in aerolithd archives documents by age or on L2 eviction.
func (h *Hierarchy) Archive(ctx context.Context, doc document.Document) error {
	if h.L4 == nil {
		return nil
	}
	return h.L4.Put(ctx, doc)
}

// Stats reports per-tier stats for admin/metrics use.
func (h *Hierarchy) Stats() []TierStats {
	out := []TierStats{h.L1.Stats()}
	if h.L2 != nil {
		out = append(out, h.L2.Stats())
	}
	if h.L3 != nil {
		out = append(out, h.L3.Stats())
	}
	if h.L4 != nil {
		out = append(out, h.L4.Stats())
	}
	return out
}
