package docstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/klauspost/compress/zstd"
)

// ArchiveTier is the L4 cold tier: compressed blobs on disk, target
// read latency in the seconds range, governed by a retention policy
// rather than eviction (spec §4.1). L4 must compress — there is no
// "off" switch, unlike L1–L3 where compression is merely optional.
type ArchiveTier struct {
	mu      sync.Mutex
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	retention time.Duration
}

// NewArchiveTier opens (creating if absent) a directory of per-document
// compressed blobs. retention <= 0 disables age-based pruning.
func NewArchiveTier(dir string, retention time.Duration) (*ArchiveTier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, aerrors.Internalf("create archive dir: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ArchiveTier{dir: dir, encoder: enc, decoder: dec, retention: retention}, nil
}

func (t *ArchiveTier) blobPath(collection, id string) string {
	return filepath.Join(t.dir, collection, id+".zst")
}

func (t *ArchiveTier) Put(_ context.Context, doc document.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	compressed := t.encoder.EncodeAll(raw, nil)

	path := t.blobPath(doc.Collection, doc.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return aerrors.Internalf("archive mkdir: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return aerrors.Internalf("archive write: %v", err)
	}
	return os.Rename(tmp, path)
}

func (t *ArchiveTier) Get(_ context.Context, collection, id string) (document.Document, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.blobPath(collection, id)
	compressed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, aerrors.Internalf("archive read: %v", err)
	}

	raw, err := t.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return document.Document{}, false, aerrors.CorruptedRecordf("archive blob %s/%s failed to decompress: %v", collection, id, err)
	}

	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document.Document{}, false, aerrors.CorruptedRecordf("archive blob %s/%s invalid JSON: %v", collection, id, err)
	}

	if t.retention > 0 && time.Since(doc.UpdatedAt) > t.retention {
		return document.Document{}, false, nil
	}
	return doc, true, nil
}

func (t *ArchiveTier) Delete(_ context.Context, collection, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := os.Remove(t.blobPath(collection, id))
	if err != nil && !os.IsNotExist(err) {
		return aerrors.Internalf("archive delete: %v", err)
	}
	return nil
}

func (t *ArchiveTier) Scan(ctx context.Context, collection string) (Iterator, error) {
	t.mu.Lock()
	dir := filepath.Join(t.dir, collection)
	entries, err := os.ReadDir(dir)
	t.mu.Unlock()
	if os.IsNotExist(err) {
		return newSliceIterator(nil), nil
	}
	if err != nil {
		return nil, aerrors.Internalf("archive scan: %v", err)
	}

	var docs []document.Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := e.Name()
		id = id[:len(id)-len(filepath.Ext(id))]
		doc, ok, err := t.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return newSliceIterator(docs), nil
}

func (t *ArchiveTier) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var count int64
	var size int64
	_ = filepath.WalkDir(t.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		count++
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return TierStats{Name: "L4Archive", EntryCount: count, BytesUsed: size}
}

func (t *ArchiveTier) Close() error {
	t.encoder.Close()
	t.decoder.Close()
	return nil
}
