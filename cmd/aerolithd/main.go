// aerolithd is the entrypoint for one AerolithDB storage node. It reads
// a YAML config (internal/config), opens the tiered storage hierarchy
// (internal/docstore), establishes this node's identity and cluster
// membership view (internal/cluster), starts a per-shard consensus
// engine (internal/consensus) backed by a durable commit log, wires
// replication (internal/replication) and the cache orchestrator
// (internal/cache) in front of it, and serves the HTTP collaborator
// (internal/api) until signaled to shut down — generalizing the
// teacher's cmd/server from a single flat KV store to the tiered,
// replicated document store spec §3-§9 describe.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/api"
	"github.com/aerolithdb/aerolithdb/internal/cache"
	"github.com/aerolithdb/aerolithdb/internal/cluster"
	"github.com/aerolithdb/aerolithdb/internal/config"
	"github.com/aerolithdb/aerolithdb/internal/consensus"
	"github.com/aerolithdb/aerolithdb/internal/docstore"
	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/metrics"
	"github.com/aerolithdb/aerolithdb/internal/partition"
	"github.com/aerolithdb/aerolithdb/internal/query"
	"github.com/aerolithdb/aerolithdb/internal/replication"
	"github.com/aerolithdb/aerolithdb/internal/security"
	"github.com/aerolithdb/aerolithdb/internal/supervisor"
	"github.com/aerolithdb/aerolithdb/internal/vclock"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const numShards = 16

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults used if empty)")
	addrFlag := flag.String("addr", "", "Override bind address:port (host:port)")
	dataDirFlag := flag.String("data-dir", "", "Override data directory")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	identity, err := cluster.NewIdentity(document.RoleRegular)
	if err != nil {
		log.Fatal().Err(err).Msg("generate node identity")
	}
	if cfg.NodeID == "" || cfg.NodeID == "node1" {
		cfg.NodeID = identity.NodeID
	}
	log = log.With().Str("node_id", cfg.NodeID).Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}

	// ── Storage tiers ───────────────────────────────────────────────────
	l1 := docstore.NewMemTier(10_000)
	l2, err := docstore.OpenSSDTier(cfg.DataDir + "/l2.db")
	if err != nil {
		log.Fatal().Err(err).Msg("open L2 SSD tier")
	}
	defer l2.Close()
	l4, err := docstore.NewArchiveTier(cfg.DataDir+"/archive", time.Duration(cfg.RetentionSeconds)*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("open L4 archive tier")
	}
	defer l4.Close()

	membership := cluster.NewMembership([]cluster.Node{
		{ID: cfg.NodeID, Address: fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port), Role: document.RoleRegular, IsAlive: true},
	}, 150)
	clusterState := cluster.NewClusterState(membership)

	// l3's fetcher forwards to the replication Manager, which itself
	// needs the hierarchy as its local store — resolved by constructing
	// the fetcher empty and wiring the Manager into it once built.
	fetcher := &lazyFetcher{}
	l3 := docstore.NewDistTier(fetcher)
	hierarchy := docstore.NewHierarchy(l1, l2, l3, l4, log.With().Str("component", "docstore").Logger())

	// ── Conflict resolution + replication ───────────────────────────────
	resolver := vclock.Resolver{Policy: conflictPolicyFromString(cfg.ConflictResolution)}

	replMgr := replication.NewManager(replication.Config{
		SelfID:      cfg.NodeID,
		Local:       hierarchy,
		Cluster:     clusterState,
		Resolver:    resolver,
		WriteQuorum: quorumFor(cfg.ReplicationFactor),
		PeerTimeout: cfg.ConnectionTimeout,
		Logger:      log.With().Str("component", "replication").Logger(),
	})
	defer replMgr.Close()
	fetcher.mgr = replMgr

	// ── Security: per-node key ring + envelope, shared by every shard ──
	keyRing, err := security.NewKeyRing()
	if err != nil {
		log.Fatal().Err(err).Msg("generate key ring")
	}
	envelope := security.NewEnvelope(keyRing)

	applier := storageApplier{hierarchy: hierarchy, repl: replMgr}

	// ── Consensus: one engine per shard, each durable via its own log ──
	engines := make(map[uint32]*consensus.Engine, numShards)
	for shard := uint32(0); shard < numShards; shard++ {
		shardLog, err := consensus.OpenShardLog(fmt.Sprintf("%s/shard-%d.log", cfg.DataDir, shard))
		if err != nil {
			log.Fatal().Err(err).Uint32("shard", shard).Msg("open shard log")
		}
		defer shardLog.Close()

		eng := consensus.NewEngine(consensus.Config{
			ShardID: shard,
			SelfID:  cfg.NodeID,
			Keypair: identity.Keypair.Private,
			Replicas: []consensus.ReplicaInfo{
				{NodeID: cfg.NodeID, PublicKey: identity.Keypair.Public},
			},
			Broadcaster:  localOnlyBroadcaster{},
			Applier:      applier,
			ShardLog:     shardLog,
			BatchTimeout: 5 * time.Second,
			Logger:       log.With().Str("component", "consensus").Uint32("shard", shard).Logger(),
		})
		defer eng.Close()
		engines[shard] = eng
	}
	consensusRouter := consensus.NewRouter(engines)
	executor := query.NewExecutor(64 << 20)

	guard := partition.NewGuard()
	reachability := partition.NewReachability(cfg.PartitionStabilityWindow)
	_ = reachability // populated by the gossip/heartbeat task once multi-node peers are configured

	docCache := cache.New(50_000, nil)

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	// ── Supervised background tasks ─────────────────────────────────────
	sup := supervisor.New(log.With().Str("component", "supervisor").Logger(), time.Second)
	sup.Add("heartbeat-ticker", func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				replMgr.TickMissedHeartbeats()
			}
		}
	})
	sup.Add("tier-stats-reporter", func(ctx context.Context) error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, st := range hierarchy.Stats() {
					registry.ObserveTierStats(st.Name, int64(st.EntryCount), int64(st.Hits), int64(st.Misses))
				}
			}
		}
	})
	sup.Add("key-rewrap", func(ctx context.Context) error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := keyRing.RotateMasterKey(); err != nil {
					log.Error().Err(err).Msg("rotate master key")
					continue
				}
				n, err := keyRing.ReWrapAll()
				if err != nil {
					log.Error().Err(err).Msg("re-wrap collection keys")
					continue
				}
				log.Info().Int("collections", n).Msg("re-wrapped collection keys under new master generation")
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	// ── HTTP collaborator surface ────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := api.NewHandler(hierarchy, replMgr, membership, docCache, cfg.NodeID,
		consensusRouter, envelope, cfg.EncryptionAtRest, executor)
	handler.Register(router)

	bindAddr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	if *addrFlag != "" {
		bindAddr = *addrFlag
	}
	srv := &http.Server{
		Addr:         bindAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", bindAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	for shard, eng := range engines {
		_ = shard
		eng.Close()
	}
	guard.SetSide(partition.SideUnpartitioned)
}

func quorumFor(replicationFactor int) int {
	if replicationFactor <= 1 {
		return 1
	}
	return replicationFactor/2 + 1
}

func conflictPolicyFromString(s string) vclock.Policy {
	switch s {
	case "semantic_merge":
		return vclock.SemanticMerge
	case "manual":
		return vclock.Manual
	default:
		return vclock.LastWriterWins
	}
}

// lazyFetcher satisfies docstore.ReplicaFetcher by forwarding to a
// replication.Manager assigned after construction, breaking the
// docstore/replication initialization cycle (the Manager needs the
// Hierarchy as its local store, and the Hierarchy's L3 tier needs the
// Manager as its replica fetcher).
type lazyFetcher struct {
	mgr *replication.Manager
}

func (f *lazyFetcher) FetchFromReplicas(ctx context.Context, collection, id string) (document.Document, bool, error) {
	if f.mgr == nil {
		return document.Document{}, false, nil
	}
	return f.mgr.FetchFromReplicas(ctx, collection, id)
}

func (f *lazyFetcher) PutToReplicas(ctx context.Context, doc document.Document) error {
	if f.mgr == nil {
		return nil
	}
	return f.mgr.PutToReplicas(ctx, doc)
}

func (f *lazyFetcher) DeleteFromReplicas(ctx context.Context, collection, id string) error {
	if f.mgr == nil {
		return nil
	}
	return f.mgr.DeleteFromReplicas(ctx, collection, id)
}

func (f *lazyFetcher) ScanReplicas(ctx context.Context, collection string) ([]document.Document, error) {
	if f.mgr == nil {
		return nil, nil
	}
	return f.mgr.ScanReplicas(ctx, collection)
}

// localOnlyBroadcaster is the single-node consensus broadcaster: with
// one replica, PrePrepare/Prepare/Commit votes only ever need to reach
// this node's own Engine, which ProposeBatch already does directly.
// A multi-node deployment replaces this with an internal/netlayer-backed
// broadcaster that sends SignedVotes as netlayer ConsensusPrePrepare/
// Prepare/Commit messages to the shard's replica set.
type localOnlyBroadcaster struct{}

func (localOnlyBroadcaster) Broadcast(ctx context.Context, vote consensus.SignedVote) error {
	return nil
}

// storageApplier is the consensus.Applier every shard Engine commits
// batches to (spec §2 "once committed -> Storage Hierarchy -> Replication").
// Puts go through the replication Manager, which writes the local
// hierarchy then fans out to the shard's other replicas in one call;
// deletes must still touch the hierarchy directly because
// DeleteFromReplicas only reaches remote peers.
type storageApplier struct {
	hierarchy *docstore.Hierarchy
	repl      *replication.Manager
}

func (a storageApplier) Apply(ctx context.Context, batch consensus.Batch) error {
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
			UpdatedAt:  time.Now(),
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
