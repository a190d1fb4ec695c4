package query

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/docstore"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/security"
)

// DecryptingTier wraps a docstore.Tier so every document the executor
// observes is already opened through the security envelope (spec §2 read
// data flow: Storage Hierarchy -> Security Envelope (decrypt) -> Query
// Executor). Documents written with Encrypted unset pass through with
// only their checksum verified.
type DecryptingTier struct {
	Inner docstore.Tier
	Env   *security.Envelope
}

func (t DecryptingTier) Put(ctx context.Context, doc document.Document) error {
	return t.Inner.Put(ctx, doc)
}

func (t DecryptingTier) Get(ctx context.Context, collection, id string) (document.Document, bool, error) {
	doc, ok, err := t.Inner.Get(ctx, collection, id)
	if err != nil || !ok {
		return doc, ok, err
	}
	return t.open(doc)
}

func (t DecryptingTier) Delete(ctx context.Context, collection, id string) error {
	return t.Inner.Delete(ctx, collection, id)
}

func (t DecryptingTier) Scan(ctx context.Context, collection string) (docstore.Iterator, error) {
	it, err := t.Inner.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &decryptingIterator{inner: it, tier: t}, nil
}

func (t DecryptingTier) Stats() docstore.TierStats {
	return t.Inner.Stats()
}

func (t DecryptingTier) open(doc document.Document) (document.Document, bool, error) {
	if doc.Tombstone {
		return doc, true, nil
	}
	if !doc.Encrypted {
		if !security.VerifyChecksum(doc.Payload, doc.Checksum) {
			return document.Document{}, false, checksumMismatch(doc)
		}
		return doc, true, nil
	}
	plaintext, err := t.Env.Open(doc.Collection, doc.ID, doc.Version, doc.Payload, doc.Checksum)
	if err != nil {
		return document.Document{}, false, err
	}
	doc.Payload = plaintext
	return doc, true, nil
}

type decryptingIterator struct {
	inner docstore.Iterator
	tier  DecryptingTier
	cur   document.Document
	err   error
}

func (it *decryptingIterator) Next() bool {
	if !it.inner.Next() {
		return false
	}
	doc, _, err := it.tier.open(it.inner.Document())
	if err != nil {
		it.err = err
		return false
	}
	it.cur = doc
	return true
}

func (it *decryptingIterator) Document() document.Document { return it.cur }

func (it *decryptingIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Err()
}

func (it *decryptingIterator) Close() error { return it.inner.Close() }

func checksumMismatch(doc document.Document) error {
	return aerrors.CorruptedRecordf("checksum mismatch for %s/%s v%d", doc.Collection, doc.ID, doc.Version)
}
