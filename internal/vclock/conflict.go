package vclock

import (
	"sort"
	"time"
)

// Policy names the conflict-resolution strategy a collection declares
// (spec §3 Collection Descriptor, §4.2).
type Policy int

const (
	LastWriterWins Policy = iota
	SemanticMerge
	Manual
)

func (p Policy) String() string {
	switch p {
	case LastWriterWins:
		return "LastWriterWins"
	case SemanticMerge:
		return "SemanticMerge"
	case Manual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// Candidate is one version under consideration during conflict resolution.
type Candidate struct {
	NodeID    string
	Clock     Clock
	Payload   []byte
	Timestamp time.Time
}

// Merger is registered per collection for the SemanticMerge policy. It
// must be pure and deterministic: given the same two payloads it always
// returns the same merged payload, regardless of call order or node.
// Mergers operate on already-decrypted plaintext — the security envelope
// (C8) owns key custody and never hands a merger key material, only the
// plaintext payloads to merge and the ciphertext to re-wrap afterward.
type Merger func(a, b []byte) ([]byte, error)

// Siblings holds the unresolved concurrent versions produced by the
// Manual policy. It is only returned to Resolve's caller: nothing in
// this package stores siblings or blocks further writes to the id.
type Siblings struct {
	Versions []Candidate
}

// Resolver applies a collection's ConflictPolicy to a pair of concurrent
// candidates. It returns the winning candidate (for SemanticMerge, the
// merged payload with the merge of both clocks; otherwise the winner's
// own clock) and (only for Manual) the full sibling set.
type Resolver struct {
	Policy  Policy
	Merger  Merger // required when Policy == SemanticMerge
}

// Resolve resolves a and b, which the caller has already established are
// Concurrent (Compare == Concurrent). Calling Resolve on comparable
// clocks is a caller error; Resolve does not re-check dominance.
func (r Resolver) Resolve(a, b Candidate) (winner Candidate, siblings *Siblings, err error) {
	switch r.Policy {
	case LastWriterWins:
		return r.resolveLWW(a, b), nil, nil
	case SemanticMerge:
		merged, err := r.Merger(a.Payload, b.Payload)
		if err != nil {
			return Candidate{}, nil, err
		}
		return Candidate{
			NodeID:    lexMax(a.NodeID, b.NodeID),
			Clock:     a.Clock.Merge(b.Clock),
			Payload:   merged,
			Timestamp: laterOf(a.Timestamp, b.Timestamp),
		}, nil, nil
	case Manual:
		sibs := &Siblings{Versions: sortedSiblings(a, b)}
		// Winner is a placeholder ordering so a caller that ignores
		// siblings still gets a deterministic pick; the real UI for
		// Manual surfaces Siblings, not Winner.
		return r.resolveLWW(a, b), sibs, nil
	default:
		return r.resolveLWW(a, b), nil, nil
	}
}

// resolveLWW picks the version with the larger coordinator timestamp;
// ties break on lexicographically-larger node-id, per spec §4.2.
func (r Resolver) resolveLWW(a, b Candidate) Candidate {
	if a.Timestamp.After(b.Timestamp) {
		return a
	}
	if b.Timestamp.After(a.Timestamp) {
		return b
	}
	if a.NodeID > b.NodeID {
		return a
	}
	return b
}

func lexMax(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func sortedSiblings(a, b Candidate) []Candidate {
	out := []Candidate{a, b}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NodeID < out[j].NodeID
	})
	return out
}
