package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aerolithdb/aerolithdb/internal/cache"
	"github.com/aerolithdb/aerolithdb/internal/cluster"
	"github.com/aerolithdb/aerolithdb/internal/consensus"
	"github.com/aerolithdb/aerolithdb/internal/docstore"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/query"
	"github.com/aerolithdb/aerolithdb/internal/replication"
	"github.com/aerolithdb/aerolithdb/internal/security"
	"github.com/aerolithdb/aerolithdb/internal/vclock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplicaFetcher struct{}

func (fakeReplicaFetcher) FetchFromReplicas(ctx context.Context, collection, id string) (document.Document, bool, error) {
	return document.Document{}, false, nil
}
func (fakeReplicaFetcher) PutToReplicas(ctx context.Context, doc document.Document) error { return nil }
func (fakeReplicaFetcher) DeleteFromReplicas(ctx context.Context, collection, id string) error {
	return nil
}
func (fakeReplicaFetcher) ScanReplicas(ctx context.Context, collection string) ([]document.Document, error) {
	return nil, nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(ctx context.Context, vote consensus.SignedVote) error { return nil }

// testApplier mirrors cmd/aerolithd's storageApplier: puts flow through
// replication (which writes the hierarchy locally), deletes must touch
// the hierarchy directly since DeleteFromReplicas only reaches peers.
type testApplier struct {
	hierarchy *docstore.Hierarchy
	repl      *replication.Manager
}

func (a testApplier) Apply(ctx context.Context, batch consensus.Batch) error {
	for _, op := range batch.Operations {
		doc := document.Document{
			Collection: op.Collection,
			ID:         op.ID,
			Payload:    op.Payload,
			Version:    op.Version,
			Checksum:   op.Checksum,
			Encrypted:  op.Encrypted,
			Clock:      op.ClientClock,
			Tombstone:  op.Tombstone,
			CreatedAt:  op.CreatedAt,
		}
		if op.Tombstone {
			if err := a.hierarchy.Delete(ctx, doc); err != nil {
				return err
			}
			if err := a.repl.DeleteFromReplicas(ctx, op.Collection, op.ID); err != nil {
				return err
			}
			continue
		}
		if err := a.repl.PutToReplicas(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l1 := docstore.NewMemTier(100)
	l2, err := docstore.OpenSSDTier(filepath.Join(t.TempDir(), "l2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.Close() })
	l3 := docstore.NewDistTier(fakeReplicaFetcher{})
	hierarchy := docstore.NewHierarchy(l1, l2, l3, nil, zerolog.Nop())

	membership := cluster.NewMembership([]cluster.Node{{ID: "self", IsAlive: true}}, 32)
	state := cluster.NewClusterState(membership)
	repl := replication.NewManager(replication.Config{
		SelfID:      "self",
		Local:       hierarchy,
		Cluster:     state,
		Resolver:    vclock.Resolver{Policy: vclock.LastWriterWins},
		WriteQuorum: 1,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(repl.Close)

	applier := testApplier{hierarchy: hierarchy, repl: repl}
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	eng := consensus.NewEngine(consensus.Config{
		ShardID: 0,
		SelfID:  "self",
		Keypair: priv,
		Replicas: []consensus.ReplicaInfo{
			{NodeID: "self", PublicKey: priv.Public().(ed25519.PublicKey)},
		},
		Broadcaster: noopBroadcaster{},
		Applier:     applier,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(eng.Close)
	consensusRouter := consensus.NewRouter(map[uint32]*consensus.Engine{0: eng})

	keyRing, err := security.NewKeyRing()
	require.NoError(t, err)
	envelope := security.NewEnvelope(keyRing)
	executor := query.NewExecutor(1 << 20)

	docCache := cache.New(100, nil)
	h := NewHandler(hierarchy, repl, membership, docCache, "self",
		consensusRouter, envelope, false, executor)

	r := gin.New()
	h.Register(r)
	return r, h
}

func TestPutThenGetDocumentRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	putBody, _ := json.Marshal(map[string]any{"payload": map[string]any{"name": "ada"}})
	req := httptest.NewRequest(http.MethodPut, "/collections/people/documents/d1", bytes.NewReader(putBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/collections/people/documents/d1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "d1", got["id"])
}

func TestGetMissingDocumentReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/collections/people/documents/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutDocumentRejectsMissingPayload(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/collections/people/documents/d1", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocumentThenGetReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	putBody, _ := json.Marshal(map[string]any{"payload": map[string]any{"name": "ada"}})
	req := httptest.NewRequest(http.MethodPut, "/collections/people/documents/d1", bytes.NewReader(putBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/collections/people/documents/d1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/collections/people/documents/d1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClusterJoinLeaveAndListNodes(t *testing.T) {
	router, _ := newTestRouter(t)

	joinBody, _ := json.Marshal(map[string]any{"id": "n2", "address": "n2:7700"})
	req := httptest.NewRequest(http.MethodPost, "/cluster/join", bytes.NewReader(joinBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/cluster/nodes", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	assert.Len(t, listed["nodes"], 2)

	leaveBody, _ := json.Marshal(map[string]any{"id": "n2"})
	req = httptest.NewRequest(http.MethodPost, "/cluster/leave", bytes.NewReader(leaveBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClusterJoinDuplicateReturnsConflict(t *testing.T) {
	router, _ := newTestRouter(t)
	joinBody, _ := json.Marshal(map[string]any{"id": "self", "address": "self:7700"})
	req := httptest.NewRequest(http.MethodPost, "/cluster/join", bytes.NewReader(joinBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthReportsNodeAndClusterSize(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "self", got["node"])
	assert.Equal(t, "ok", got["status"])
}
