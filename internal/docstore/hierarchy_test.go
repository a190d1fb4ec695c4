package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHierarchy(t *testing.T) (*Hierarchy, *fakeFetcher) {
	t.Helper()
	l1 := NewMemTier(10)
	l2, err := OpenSSDTier(filepath.Join(t.TempDir(), "l2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.Close() })
	fetcher := newFakeFetcher()
	l3 := NewDistTier(fetcher)
	l4, err := NewArchiveTier(filepath.Join(t.TempDir(), "archive"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l4.Close() })

	return NewHierarchy(l1, l2, l3, l4, zerolog.Nop()), fetcher
}

func TestHierarchyGetPrefersFastestTier(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	require.NoError(t, h.L1.Put(ctx, document.Document{Collection: "c", ID: "d1", Payload: []byte("l1")}))
	require.NoError(t, h.L2.Put(ctx, document.Document{Collection: "c", ID: "d1", Payload: []byte("l2")}))

	got, ok, err := h.Get(ctx, "c", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("l1"), got.Payload)
}

func TestHierarchyGetFallsThroughToDistributedTier(t *testing.T) {
	h, fetcher := newTestHierarchy(t)
	ctx := context.Background()
	fetcher.docs["c/d1"] = document.Document{Collection: "c", ID: "d1", Payload: []byte("l3")}

	got, ok, err := h.Get(ctx, "c", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("l3"), got.Payload)
}

func TestHierarchyGetFallsThroughToArchiveTier(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()
	require.NoError(t, h.L4.Put(ctx, document.Document{Collection: "c", ID: "d1", Payload: []byte("l4")}))

	got, ok, err := h.Get(ctx, "c", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("l4"), got.Payload)
}

func TestHierarchyGetReturnsMissWhenAbsentEverywhere(t *testing.T) {
	h, _ := newTestHierarchy(t)
	_, ok, err := h.Get(context.Background(), "c", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHierarchyGetTreatsTombstoneAsMiss(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()
	require.NoError(t, h.L1.Put(ctx, document.Document{Collection: "c", ID: "d1", Tombstone: true}))

	_, ok, err := h.Get(ctx, "c", "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHierarchyPutWritesThroughL1AndL2(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()
	doc := document.Document{Collection: "c", ID: "d1", Payload: []byte("v1")}
	require.NoError(t, h.Put(ctx, doc))

	_, ok, err := h.L1.Get(ctx, "c", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = h.L2.Get(ctx, "c", "d1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHierarchyStatsReportsAllConfiguredTiers(t *testing.T) {
	h, _ := newTestHierarchy(t)
	stats := h.Stats()
	require.Len(t, stats, 4)
	assert.Equal(t, "L1Memory", stats[0].Name)
	assert.Equal(t, "L4Archive", stats[3].Name)
}
