package query

import (
	"context"
	"errors"
	"testing"

	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedRunner(docs ...document.Document) ShardRunner {
	return func(ctx context.Context, q Query) ([]document.Document, error) {
		return docs, nil
	}
}

func TestCoordinatorMergesPerShardSortedResults(t *testing.T) {
	shard1 := sortedRunner(payloadDoc("a", 10), payloadDoc("c", 30))
	shard2 := sortedRunner(payloadDoc("b", 20), payloadDoc("d", 40))

	coord := NewCoordinator([]ShardRunner{shard1, shard2})
	got, err := coord.Run(context.Background(), Query{Sort: []SortField{{Path: "age"}}})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
}

func TestCoordinatorAppliesGlobalOffsetLimitAfterMerge(t *testing.T) {
	shard1 := sortedRunner(payloadDoc("a", 10), payloadDoc("c", 30))
	shard2 := sortedRunner(payloadDoc("b", 20), payloadDoc("d", 40))

	coord := NewCoordinator([]ShardRunner{shard1, shard2})
	got, err := coord.Run(context.Background(), Query{Sort: []SortField{{Path: "age"}}, Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestCoordinatorPropagatesAnyShardError(t *testing.T) {
	shard1 := sortedRunner(payloadDoc("a", 10))
	failing := ShardRunner(func(ctx context.Context, q Query) ([]document.Document, error) {
		return nil, errors.New("shard unreachable")
	})

	coord := NewCoordinator([]ShardRunner{shard1, failing})
	_, err := coord.Run(context.Background(), Query{})
	assert.Error(t, err)
}

func TestCoordinatorHandlesEmptyShardResults(t *testing.T) {
	coord := NewCoordinator([]ShardRunner{sortedRunner(), sortedRunner(payloadDoc("a", 1))})
	got, err := coord.Run(context.Background(), Query{Sort: []SortField{{Path: "age"}}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
