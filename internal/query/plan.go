package query

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/aerolithdb/aerolithdb/internal/docstore"
	"github.com/aerolithdb/aerolithdb/internal/document"
)

// SortField names a payload field and direction to order results by.
// A nil or empty Sort falls back to (collection, id) lexicographic
// order, the tie-break every plan ultimately uses (spec §4.7).
type SortField struct {
	Path       string
	Descending bool
}

// Query is one scan request against a single shard's tier.
type Query struct {
	Collection string
	Filter     Node
	Sort       []SortField
	Offset     int
	Limit      int // 0 means unlimited
}

// Executor runs Query plans against a tier. Once the matched documents'
// payload bytes exceed MemoryBudgetBytes it moves them to a temp file
// during the scan; the sort still happens in memory after every spilled
// document is read back, so the budget bounds the scan, not the sort.
type Executor struct {
	MemoryBudgetBytes int64
}

// NewExecutor creates an Executor with the given spill threshold; zero
// disables spilling (everything sorts in memory).
func NewExecutor(memoryBudgetBytes int64) *Executor {
	return &Executor{MemoryBudgetBytes: memoryBudgetBytes}
}

// Run scans tier for q.Collection, keeping only documents matching
// q.Filter, sorted per q.Sort (or the default tie-break), then applies
// Offset/Limit. The scan observes whatever single, consistent view of
// the shard the tier's Scan call returns — the read-committed-per-shard
// snapshot guarantee is the tier's responsibility, not the executor's.
func (e *Executor) Run(ctx context.Context, tier docstore.Tier, q Query) ([]document.Document, error) {
	it, err := tier.Scan(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var matched []document.Document
	var approxBytes int64
	var spill *spillFile

	for it.Next() {
		select {
		case <-ctx.Done():
			return nil, aerrors.Cancelledf("query scan of %s cancelled: %v", q.Collection, ctx.Err())
		default:
		}
		doc := it.Document()
		if doc.Tombstone || !q.Filter.Evaluate(doc) {
			continue
		}
		matched = append(matched, doc)
		approxBytes += int64(len(doc.Payload))

		if e.MemoryBudgetBytes > 0 && approxBytes > e.MemoryBudgetBytes && spill == nil {
			sf, err := newSpillFile()
			if err != nil {
				return nil, err
			}
			spill = sf
		}
		if spill != nil {
			if err := spill.Append(matched); err != nil {
				return nil, err
			}
			matched = matched[:0]
			approxBytes = 0
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var all []document.Document
	if spill != nil {
		if err := spill.Append(matched); err != nil {
			return nil, err
		}
		all, err = spill.SortedMerge(q.Sort)
		spill.Close()
		if err != nil {
			return nil, err
		}
	} else {
		sortDocuments(matched, q.Sort)
		all = matched
	}

	return paginate(all, q.Offset, q.Limit), nil
}

func paginate(docs []document.Document, offset, limit int) []document.Document {
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// sortDocuments orders docs by the requested sort fields, falling back
// to (collection, id) lexicographic order as the final tie-break so
// pagination is stable across repeated queries (spec §4.7).
func sortDocuments(docs []document.Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			av, aok := fieldValue(docs[i], f.Path)
			bv, bok := fieldValue(docs[j], f.Path)
			c := compareOrdered(orNil(av, aok), orNil(bv, bok))
			if c == 0 {
				continue
			}
			if f.Descending {
				return c > 0
			}
			return c < 0
		}
		return tieBreak(docs[i], docs[j])
	})
}

func orNil(v any, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func tieBreak(a, b document.Document) bool {
	if a.Collection != b.Collection {
		return a.Collection < b.Collection
	}
	return a.ID < b.ID
}

func fieldValue(doc document.Document, path string) (any, bool) {
	var fields map[string]any
	if err := json.Unmarshal(doc.Payload, &fields); err != nil {
		return nil, false
	}
	return lookup(fields, splitPath(path))
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}

// spillFile is an external-sort spill area: matched documents are
// appended as NDJSON and sorted on SortedMerge via a single in-memory
// load, sized to whatever was spilled rather than the full scan at once.
type spillFile struct {
	f *os.File
}

func newSpillFile() (*spillFile, error) {
	f, err := os.CreateTemp("", "aerolithdb-query-spill-*.ndjson")
	if err != nil {
		return nil, aerrors.Internalf("create query spill file: %v", err)
	}
	return &spillFile{f: f}, nil
}

func (s *spillFile) Append(docs []document.Document) error {
	enc := json.NewEncoder(s.f)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return aerrors.Internalf("spill write: %v", err)
		}
	}
	return nil
}

func (s *spillFile) SortedMerge(fields []SortField) ([]document.Document, error) {
	if _, err := s.f.Seek(0, 0); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(s.f)
	var all []document.Document
	for dec.More() {
		var d document.Document
		if err := dec.Decode(&d); err != nil {
			return nil, aerrors.CorruptedRecordf("query spill decode: %v", err)
		}
		all = append(all, d)
	}
	sortDocuments(all, fields)
	return all, nil
}

func (s *spillFile) Close() {
	name := s.f.Name()
	s.f.Close()
	os.Remove(name)
}
