package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/document"
	bolt "go.etcd.io/bbolt"
)

// bucketFor namespaces bbolt buckets per collection so Scan can iterate
// a single collection without a full-database walk.
func bucketFor(collection string) []byte {
	return []byte("docs:" + collection)
}

// SSDTier is the L2 tier: bbolt, an embedded B-tree-style KV store,
// giving durable point lookups with a target read latency under 10ms
// (spec §4.1). Loss of L2 is local-only — it must be recoverable by
// streaming from L3 (spec §4.1 failure semantics).
type SSDTier struct {
	db *bolt.DB

	hits, misses int64
}

// OpenSSDTier opens (creating if absent) a bbolt database at path.
func OpenSSDTier(path string) (*SSDTier, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, aerrors.Internalf("open ssd tier %s: %v", path, err)
	}
	return &SSDTier{db: db}, nil
}

func (t *SSDTier) Put(_ context.Context, doc document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketFor(doc.Collection))
		if err != nil {
			return err
		}
		return b.Put([]byte(doc.ID), data)
	})
}

func (t *SSDTier) Get(_ context.Context, collection, id string) (document.Document, bool, error) {
	var doc document.Document
	found := false
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(collection))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &doc)
	})
	if err != nil {
		return document.Document{}, false, aerrors.Internalf("ssd get %s/%s: %v", collection, id, err)
	}
	if found {
		t.hits++
	} else {
		t.misses++
	}
	return doc, found, nil
}

func (t *SSDTier) Delete(_ context.Context, collection, id string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(collection))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

func (t *SSDTier) Scan(_ context.Context, collection string) (Iterator, error) {
	var docs []document.Document
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var doc document.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, aerrors.Internalf("ssd scan %s: %v", collection, err)
	}
	return newSliceIterator(docs), nil
}

func (t *SSDTier) Stats() TierStats {
	var entries int64
	var bytesUsed int64
	_ = t.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			entries += int64(b.Stats().KeyN)
			return nil
		})
	})
	bytesUsed = int64(t.db.Stats().TxStats.PageCount) * int64(t.db.Info().PageSize)
	return TierStats{Name: "L2SSD", EntryCount: entries, BytesUsed: bytesUsed, Hits: t.hits, Misses: t.misses}
}

func (t *SSDTier) Close() error {
	return t.db.Close()
}
