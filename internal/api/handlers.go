// Package api wires a thin Gin HTTP router over the core engine — the
// collaborator boundary spec §6 describes, not part of the core itself.
// It exercises the core's exposed operations (put/get/delete/query,
// change-stream subscribe, cluster join/leave, admin introspection) the
// way the teacher's internal/api wired its KV store, generalized to
// documents and collections.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
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
)

// Handler holds every dependency the routes need, injected from main.
type Handler struct {
	hierarchy  *docstore.Hierarchy
	repl       *replication.Manager
	membership *cluster.Membership
	cache      *cache.Cache
	selfID     string

	consensus *consensus.Router
	envelope  *security.Envelope
	encrypt   bool // whether writes are sealed through envelope (config's encryption_at_rest)
	executor  *query.Executor
	changes   *changeBus
}

// NewHandler creates a Handler. consensusRouter drives every document
// write through its shard's consensus engine before it reaches storage
// (spec §2 write data flow); envelope seals/opens payloads when encrypt
// is true, and always supplies the checksum recorded at rest.
func NewHandler(h *docstore.Hierarchy, repl *replication.Manager, m *cluster.Membership, c *cache.Cache, selfID string,
	consensusRouter *consensus.Router, envelope *security.Envelope, encrypt bool, executor *query.Executor) *Handler {
	return &Handler{
		hierarchy:  h,
		repl:       repl,
		membership: m,
		cache:      c,
		selfID:     selfID,
		consensus:  consensusRouter,
		envelope:   envelope,
		encrypt:    encrypt,
		executor:   executor,
		changes:    newChangeBus(),
	}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	docs := r.Group("/collections/:collection/documents")
	docs.GET("/:id", h.GetDocument)
	docs.PUT("/:id", h.PutDocument)
	docs.DELETE("/:id", h.DeleteDocument)

	r.POST("/collections/:collection/query", h.QueryCollection)
	r.GET("/collections/:collection/changes", h.Subscribe)

	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.Join)
	clusterGroup.POST("/leave", h.Leave)
	clusterGroup.GET("/nodes", h.ListNodes)

	r.GET("/health", h.Health)
}

// PutDocument handles PUT /collections/:collection/documents/:id.
// Body: {"payload": <json object>, "expected_version": <uint64, optional>}
func (h *Handler) PutDocument(c *gin.Context) {
	collection := c.Param("collection")
	id := c.Param("id")

	var body struct {
		Payload         map[string]any `json:"payload" binding:"required"`
		ExpectedVersion *uint64        `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, err := jsonMarshal(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	wasFound := false
	build := func() (consensus.Operation, error) {
		existing, found, err := h.hierarchy.Get(ctx, collection, id)
		if err != nil {
			return consensus.Operation{}, err
		}
		wasFound = found

		curVersion := uint64(0)
		if found {
			curVersion = existing.Version
		}
		if body.ExpectedVersion != nil && *body.ExpectedVersion != curVersion {
			return consensus.Operation{}, aerrors.VersionConflictf(
				"expected version %d for %s/%s, found %d", *body.ExpectedVersion, collection, id, curVersion)
		}

		clock := vclock.New()
		createdAt := timeNow()
		if found {
			clock = existing.Clock.Copy()
			createdAt = existing.CreatedAt
		}
		clock = clock.Tick(h.selfID)
		newVersion := curVersion + 1

		payload := raw
		checksum := security.Checksum(raw)
		if h.encrypt {
			ciphertext, sealedChecksum, err := h.envelope.Seal(collection, id, newVersion, raw)
			if err != nil {
				return consensus.Operation{}, err
			}
			payload, checksum = ciphertext, sealedChecksum
		}

		return consensus.Operation{
			Collection:      collection,
			ID:              id,
			Payload:         payload,
			Checksum:        checksum,
			Encrypted:       h.encrypt,
			Version:         newVersion,
			CreatedAt:       createdAt,
			ExpectedVersion: body.ExpectedVersion,
			ClientClock:     clock,
		}, nil
	}

	if err := h.consensus.Propose(ctx, collection, id, build); err != nil {
		writeError(c, err)
		return
	}
	h.cache.Invalidate(collection, id)

	committed, found, err := h.hierarchy.Get(ctx, collection, id)
	if err != nil || !found {
		writeError(c, err)
		return
	}

	changeType := changeUpdated
	if !wasFound {
		changeType = changeCreated
	}
	h.changes.publish(ChangeEvent{Collection: collection, ID: id, Type: changeType, Version: committed.Version, Clock: committed.Clock})

	c.JSON(http.StatusOK, gin.H{"collection": collection, "id": id, "version": committed.Version})
}

// GetDocument handles GET /collections/:collection/documents/:id.
func (h *Handler) GetDocument(c *gin.Context) {
	collection := c.Param("collection")
	id := c.Param("id")

	doc, found, err := h.hierarchy.Get(c.Request.Context(), collection, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	payload, err := h.open(doc)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"collection": doc.Collection,
		"id":         doc.ID,
		"version":    doc.Version,
		"payload":    jsonRawMessage(payload),
		"updated_at": doc.UpdatedAt,
	})
}

// open returns doc's plaintext payload, decrypting through the security
// envelope when the document was sealed and always verifying the
// checksum recorded at rest (spec §2 read data flow, §3 integrity).
func (h *Handler) open(doc document.Document) ([]byte, error) {
	if doc.Encrypted {
		return h.envelope.Open(doc.Collection, doc.ID, doc.Version, doc.Payload, doc.Checksum)
	}
	if !security.VerifyChecksum(doc.Payload, doc.Checksum) {
		return nil, aerrors.CorruptedRecordf("checksum mismatch for %s/%s v%d", doc.Collection, doc.ID, doc.Version)
	}
	return doc.Payload, nil
}

// DeleteDocument handles DELETE /collections/:collection/documents/:id.
// Body (optional): {"expected_version": <uint64>}
func (h *Handler) DeleteDocument(c *gin.Context) {
	collection := c.Param("collection")
	id := c.Param("id")

	var body struct {
		ExpectedVersion *uint64 `json:"expected_version"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	var clockAtDelete vclock.Clock
	var versionAtDelete uint64
	build := func() (consensus.Operation, error) {
		existing, found, err := h.hierarchy.Get(ctx, collection, id)
		if err != nil {
			return consensus.Operation{}, err
		}
		if !found {
			return consensus.Operation{}, aerrors.NotFoundf("%s/%s not found", collection, id)
		}
		if body.ExpectedVersion != nil && *body.ExpectedVersion != existing.Version {
			return consensus.Operation{}, aerrors.VersionConflictf(
				"expected version %d for %s/%s, found %d", *body.ExpectedVersion, collection, id, existing.Version)
		}

		clock := existing.Clock.Copy().Tick(h.selfID)
		clockAtDelete = clock
		versionAtDelete = existing.Version + 1

		return consensus.Operation{
			Collection:      collection,
			ID:              id,
			Version:         existing.Version + 1,
			CreatedAt:       existing.CreatedAt,
			ExpectedVersion: body.ExpectedVersion,
			Tombstone:       true,
			ClientClock:     clock,
		}, nil
	}

	if err := h.consensus.Propose(ctx, collection, id, build); err != nil {
		writeError(c, err)
		return
	}
	h.cache.Invalidate(collection, id)
	h.changes.publish(ChangeEvent{Collection: collection, ID: id, Type: changeDeleted, Version: versionAtDelete, Clock: clockAtDelete})

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// QueryCollection handles POST /collections/:collection/query. Body:
// {"filter": <filter tree>, "sort": [...], "offset": int, "limit": int}.
// It runs the query executor (C7) against the durable L2 tier, with
// every scanned document opened through the security envelope first
// (spec §2 read data flow, §4.7).
func (h *Handler) QueryCollection(c *gin.Context) {
	collection := c.Param("collection")

	var body struct {
		Filter filterSpec `json:"filter"`
		Sort   []sortSpec `json:"sort"`
		Offset int        `json:"offset"`
		Limit  int        `json:"limit"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	filter, err := body.Filter.toNode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := docstore.Tier(h.hierarchy.L2)
	if h.hierarchy.L2 == nil {
		tier = h.hierarchy.L1
	}
	decrypting := query.DecryptingTier{Inner: tier, Env: h.envelope}

	docs, err := h.executor.Run(c.Request.Context(), decrypting, query.Query{
		Collection: collection,
		Filter:     filter,
		Sort:       toSortFields(body.Sort),
		Offset:     body.Offset,
		Limit:      body.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	results := make([]gin.H, len(docs))
	for i, d := range docs {
		results[i] = gin.H{
			"collection": d.Collection,
			"id":         d.ID,
			"version":    d.Version,
			"payload":    jsonRawMessage(d.Payload),
			"updated_at": d.UpdatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// Subscribe handles GET /collections/:collection/changes: a server-sent
// event stream of Created|Updated|Deleted events for collection (spec §6
// change stream). Delivery is best-effort — a slow client can miss
// events rather than stall writers, and missed events are not resent.
func (h *Handler) Subscribe(c *gin.Context) {
	collection := c.Param("collection")
	id, ch := h.changes.subscribe()
	defer h.changes.unsubscribe(id)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if ev.Collection != collection {
				return true
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Join handles POST /cluster/join. Body: {"id", "address"}.
func (h *Handler) Join(c *gin.Context) {
	var node cluster.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Join(node); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": node.ID})
}

// Leave handles POST /cluster/leave. Body: {"id"}.
func (h *Handler) Leave(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Leave(body.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.ID})
}

// ListNodes handles GET /cluster/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.membership.All()})
}

// Health is a readiness probe endpoint, mirroring the teacher's
// cmd/server inline health handler.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":   h.selfID,
		"status": "ok",
		"nodes":  h.membership.Ring().NodeCount(),
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch aerrors.KindOf(err) {
	case aerrors.NotFound:
		status = http.StatusNotFound
	case aerrors.VersionConflict:
		status = http.StatusConflict
	case aerrors.Unauthorized:
		status = http.StatusUnauthorized
	case aerrors.Overloaded:
		status = http.StatusTooManyRequests
	case aerrors.Timeout, aerrors.QuorumUnavailable, aerrors.Partitioned:
		status = http.StatusServiceUnavailable
	case aerrors.CorruptedRecord:
		status = http.StatusUnprocessableEntity
	case aerrors.Cancelled:
		status = 499
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func timeNow() time.Time { return time.Now() }
