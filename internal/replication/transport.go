package replication

import (
	"context"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// PeerTransport is the seam replication uses to reach one remote node.
// The network layer (C6) implements it over the real wire protocol; in
// tests a fake satisfies it directly.
type PeerTransport interface {
	NodeID() string
	ReplicaPut(ctx context.Context, doc document.Document) error
	ReplicaGet(ctx context.Context, collection, id string) (document.Document, bool, error)
	ReplicaDelete(ctx context.Context, collection, id string) error
	ReplicaScan(ctx context.Context, collection string) ([]document.Document, error)
}

// LocalStore is the local tier (docstore.Hierarchy's L1/L2 path) that a
// replication write also applies to, so the local node counts as one of
// its own replicas without a network round trip.
type LocalStore interface {
	Put(ctx context.Context, doc document.Document) error
	Get(ctx context.Context, collection, id string) (document.Document, bool, error)
	Delete(ctx context.Context, doc document.Document) error
}
