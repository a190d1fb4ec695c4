package query

import (
	"context"
	"testing"

	"github.com/aerolithdb/aerolithdb/internal/docstore"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIterator struct {
	docs []document.Document
	pos  int
}

func (it *fakeIterator) Next() bool {
	it.pos++
	return it.pos < len(it.docs)
}
func (it *fakeIterator) Document() document.Document { return it.docs[it.pos] }
func (it *fakeIterator) Err() error                   { return nil }
func (it *fakeIterator) Close() error                 { return nil }

func newFakeIterator(docs []document.Document) *fakeIterator {
	return &fakeIterator{docs: docs, pos: -1}
}

type fakeTier struct {
	docs []document.Document
}

func (t *fakeTier) Put(ctx context.Context, doc document.Document) error { return nil }
func (t *fakeTier) Get(ctx context.Context, collection, id string) (document.Document, bool, error) {
	return document.Document{}, false, nil
}
func (t *fakeTier) Delete(ctx context.Context, collection, id string) error { return nil }
func (t *fakeTier) Scan(ctx context.Context, collection string) (docstore.Iterator, error) {
	var matching []document.Document
	for _, d := range t.docs {
		if d.Collection == collection {
			matching = append(matching, d)
		}
	}
	return newFakeIterator(matching), nil
}
func (t *fakeTier) Stats() docstore.TierStats { return docstore.TierStats{} }

func payloadDoc(id string, age int) document.Document {
	return document.Document{Collection: "people", ID: id, Payload: []byte(`{"age":` + itoaAge(age) + `}`)}
}

func itoaAge(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func TestExecutorRunFiltersSortsAndPaginates(t *testing.T) {
	tier := &fakeTier{docs: []document.Document{
		payloadDoc("a", 40),
		payloadDoc("b", 20),
		payloadDoc("c", 30),
	}}
	exec := NewExecutor(0)

	got, err := exec.Run(context.Background(), tier, Query{
		Collection: "people",
		Filter:     Node{},
		Sort:       []SortField{{Path: "age"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestExecutorRunSkipsTombstones(t *testing.T) {
	tombstoned := payloadDoc("a", 40)
	tombstoned.Tombstone = true
	tier := &fakeTier{docs: []document.Document{tombstoned, payloadDoc("b", 20)}}
	exec := NewExecutor(0)

	got, err := exec.Run(context.Background(), tier, Query{Collection: "people"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestExecutorRunAppliesOffsetAndLimit(t *testing.T) {
	tier := &fakeTier{docs: []document.Document{
		payloadDoc("a", 10), payloadDoc("b", 20), payloadDoc("c", 30), payloadDoc("d", 40),
	}}
	exec := NewExecutor(0)

	got, err := exec.Run(context.Background(), tier, Query{
		Collection: "people",
		Sort:       []SortField{{Path: "age"}},
		Offset:     1,
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestExecutorRunRespectsCancelledContext(t *testing.T) {
	tier := &fakeTier{docs: []document.Document{payloadDoc("a", 1)}}
	exec := NewExecutor(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, tier, Query{Collection: "people"})
	assert.Error(t, err)
}

func TestExecutorRunSpillsPastMemoryBudget(t *testing.T) {
	docs := make([]document.Document, 0, 50)
	for i := 0; i < 50; i++ {
		docs = append(docs, payloadDoc(string(rune('a'+i%26))+itoaAge(i), 50-i))
	}
	tier := &fakeTier{docs: docs}
	exec := NewExecutor(16) // tiny budget forces a spill quickly

	got, err := exec.Run(context.Background(), tier, Query{
		Collection: "people",
		Sort:       []SortField{{Path: "age"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		prevAge, _ := fieldValue(got[i-1], "age")
		curAge, _ := fieldValue(got[i], "age")
		assert.LessOrEqual(t, compareOrdered(prevAge, curAge), 0, "results must stay sorted by age across the spill/merge")
	}
}

func TestDefaultSortFallsBackToCollectionIDTieBreak(t *testing.T) {
	tier := &fakeTier{docs: []document.Document{payloadDoc("z", 1), payloadDoc("a", 1)}}
	exec := NewExecutor(0)

	got, err := exec.Run(context.Background(), tier, Query{Collection: "people"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "z", got[1].ID)
}

func TestPaginateOffsetBeyondLengthReturnsEmpty(t *testing.T) {
	docs := []document.Document{payloadDoc("a", 1)}
	assert.Empty(t, paginate(docs, 5, 10))
}
