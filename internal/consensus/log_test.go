package consensus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardLogAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.log")

	l, err := OpenShardLog(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(Batch{ShardID: 1, Seq: 1}))
	require.NoError(t, l.Append(Batch{ShardID: 1, Seq: 2}))
	assert.Equal(t, uint64(2), l.HighestCommittedSeq())
	require.NoError(t, l.Close())

	reopened, err := OpenShardLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.HighestCommittedSeq())

	batches, err := reopened.BatchesFrom(2)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, uint64(2), batches[0].Seq)
}

func TestShardLogBatchesFromFiltersBySeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.log")
	l, err := OpenShardLog(path)
	require.NoError(t, err)
	defer l.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, l.Append(Batch{ShardID: 1, Seq: seq}))
	}

	batches, err := l.BatchesFrom(3)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, uint64(3), batches[0].Seq)
	assert.Equal(t, uint64(5), batches[2].Seq)
}

func TestShardLogAppendIsUsableAfterReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.log")
	l, err := OpenShardLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Batch{ShardID: 1, Seq: 1}))
	require.NoError(t, l.Close())

	reopened, err := OpenShardLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Append(Batch{ShardID: 1, Seq: 2}))
	assert.Equal(t, uint64(2), reopened.HighestCommittedSeq())
}
