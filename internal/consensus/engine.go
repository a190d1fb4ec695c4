package consensus

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"github.com/rs/zerolog"
)

// Broadcaster sends a vote to every other replica in the active set. The
// network layer (C6) implements it; consensus never dials sockets
// itself.
type Broadcaster interface {
	Broadcast(ctx context.Context, vote SignedVote) error
}

// Applier commits a batch's operations to local storage once the commit
// quorum is reached. The storage hierarchy (C1) and replication manager
// (C4) implement it.
type Applier interface {
	Apply(ctx context.Context, batch Batch) error
}

// ReplicaInfo is what the engine needs to know about one replica: its
// signing public key, for verifying votes.
type ReplicaInfo struct {
	NodeID    string
	PublicKey ed25519.PublicKey
}

type batchState struct {
	batch        Batch
	phase        Phase
	prepareVotes map[string]SignedVote
	commitVotes  map[string]SignedVote
	leaderID     string
	timer        *time.Timer
	committed    chan struct{}
}

// Engine drives the three-phase protocol for a single shard. Distinct
// shards progress independently (spec §5); each Engine owns one shard's
// sequence space.
type Engine struct {
	ShardID uint32
	selfID  string
	keypair ed25519.PrivateKey

	mu        sync.Mutex
	replicas  map[string]ReplicaInfo
	order     []string // stable, sorted replica id order for seq-mod-n leader election
	quarantined map[string]bool

	committedSeq uint64
	pending      map[uint64]*batchState
	equivocation map[uint64]map[string][32]byte // seq -> leaderID -> first hash seen from that leader

	votes chan SignedVote // lock-free MPMC-style inbound vote channel; a single goroutine drains it

	broadcaster   Broadcaster
	applier       Applier
	shardLog      *ShardLog
	batchTimeout  time.Duration
	log           zerolog.Logger

	onViewChange func(newLeader string)

	closed chan struct{}
}

// Config parameterizes a new Engine.
type Config struct {
	ShardID      uint32
	SelfID       string
	Keypair      ed25519.PrivateKey
	Replicas     []ReplicaInfo
	Broadcaster  Broadcaster
	Applier      Applier
	ShardLog     *ShardLog // durable commit log; nil disables durability (tests only)
	BatchTimeout time.Duration // default 5s per spec §5
	Logger       zerolog.Logger
}

// NewEngine builds an Engine and starts its vote-processing loop. Call
// Close to stop it.
func NewEngine(cfg Config) *Engine {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	e := &Engine{
		ShardID:      cfg.ShardID,
		selfID:       cfg.SelfID,
		keypair:      cfg.Keypair,
		replicas:     make(map[string]ReplicaInfo),
		quarantined:  make(map[string]bool),
		pending:      make(map[uint64]*batchState),
		equivocation: make(map[uint64]map[string][32]byte),
		votes:        make(chan SignedVote, 4096),
		broadcaster:  cfg.Broadcaster,
		applier:      cfg.Applier,
		shardLog:     cfg.ShardLog,
		batchTimeout: cfg.BatchTimeout,
		log:          cfg.Logger.With().Uint32("shard", cfg.ShardID).Logger(),
		closed:       make(chan struct{}),
	}
	for _, r := range cfg.Replicas {
		e.replicas[r.NodeID] = r
		e.order = append(e.order, r.NodeID)
	}
	sortStrings(e.order)
	if e.shardLog != nil {
		e.committedSeq = e.shardLog.HighestCommittedSeq()
	}
	go e.run()
	return e
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// Close stops the vote-processing loop.
func (e *Engine) Close() {
	close(e.closed)
}

// activeOrder returns the replica id order with quarantined nodes
// skipped, used for leader election (spec §4.3).
func (e *Engine) activeOrder() []string {
	var out []string
	for _, id := range e.order {
		if !e.quarantined[id] {
			out = append(out, id)
		}
	}
	return out
}

// LeaderFor returns the leader for seq: active-set order, seq mod n,
// skipping quarantined nodes (spec §4.3).
func (e *Engine) LeaderFor(seq uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := e.activeOrder()
	if len(active) == 0 {
		return ""
	}
	return active[int(seq)%len(active)]
}

// NextSeq returns the next unassigned sequence number for this shard.
// Callers proposing a new batch must serialize against one another (see
// Router) so two proposals never race for the same seq.
func (e *Engine) NextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committedSeq + 1
}

// Quorum returns the current 2f+1-of-3f+1 threshold for the full replica
// set (quarantined nodes still count toward n for the tolerance
// calculation, matching the GLOSSARY's fixed-n formula).
func (e *Engine) Quorum() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return QuorumSize(len(e.replicas))
}

// ProposeBatch is called by the shard leader to start a new round for
// batch. It signs a pre-prepare vote and broadcasts it; it does not wait
// for completion. Use AwaitCommit to block until batch commits, times
// out, or is cancelled.
func (e *Engine) ProposeBatch(ctx context.Context, batch Batch) error {
	if e.LeaderFor(batch.Seq) != e.selfID {
		return aerrors.Internalf("node %s is not leader for shard %d seq %d", e.selfID, e.ShardID, batch.Seq)
	}

	e.mu.Lock()
	if _, exists := e.pending[batch.Seq]; exists {
		e.mu.Unlock()
		return aerrors.Internalf("batch already proposed for seq %d", batch.Seq)
	}
	state := &batchState{
		batch:        batch,
		phase:        PhasePrePrepare,
		prepareVotes: make(map[string]SignedVote),
		commitVotes:  make(map[string]SignedVote),
		leaderID:     e.selfID,
		committed:    make(chan struct{}),
	}
	e.pending[batch.Seq] = state
	e.armTimeoutLocked(state)
	e.mu.Unlock()

	vote := SignedVote{NodeID: e.selfID, ShardID: e.ShardID, Seq: batch.Seq, BatchHash: batch.Hash, Phase: PhasePrePrepare}
	vote.Sign(e.keypair)
	if err := e.broadcaster.Broadcast(ctx, vote); err != nil {
		return aerrors.QuorumUnavailablef("pre-prepare broadcast failed: %v", err)
	}

	// The proposer also votes Prepare on its own batch, same as any
	// other replica validating a pre-prepare.
	e.submitVote(SignedVote{NodeID: e.selfID, ShardID: e.ShardID, Seq: batch.Seq, BatchHash: batch.Hash, Phase: PhasePrepare}, &batch)
	return nil
}

// OnPrePrepare is called when a replica receives a leader's pre-prepare
// for batch. It validates the signature, monotone seq, and absence of
// equivocation, then (if valid) casts its own prepare vote.
func (e *Engine) OnPrePrepare(ctx context.Context, leaderID string, batch Batch, sig []byte) error {
	e.mu.Lock()
	info, ok := e.replicas[leaderID]
	if !ok {
		e.mu.Unlock()
		return aerrors.Unauthorizedf("pre-prepare from unknown node %s", leaderID)
	}
	if e.quarantined[leaderID] {
		e.mu.Unlock()
		return aerrors.Unauthorizedf("pre-prepare from quarantined node %s", leaderID)
	}
	if batch.Seq <= e.committedSeq {
		e.mu.Unlock()
		return aerrors.Internalf("pre-prepare for already-committed seq %d", batch.Seq)
	}

	if seen, ok := e.equivocation[batch.Seq]; ok {
		if prior, ok := seen[leaderID]; ok && prior != batch.Hash {
			e.mu.Unlock()
			e.handleEquivocation(leaderID, batch.Seq)
			return aerrors.Internalf("equivocation detected from leader %s at seq %d", leaderID, batch.Seq)
		}
	} else {
		e.equivocation[batch.Seq] = make(map[string][32]byte)
	}
	e.equivocation[batch.Seq][leaderID] = batch.Hash

	vote := SignedVote{NodeID: leaderID, ShardID: e.ShardID, Seq: batch.Seq, BatchHash: batch.Hash, Phase: PhasePrePrepare, Signature: sig}
	if !vote.Verify(info.PublicKey) {
		e.mu.Unlock()
		return aerrors.Unauthorizedf("pre-prepare signature invalid from %s", leaderID)
	}

	state, exists := e.pending[batch.Seq]
	if !exists {
		state = &batchState{
			batch:        batch,
			phase:        PhasePrePrepare,
			prepareVotes: make(map[string]SignedVote),
			commitVotes:  make(map[string]SignedVote),
			leaderID:     leaderID,
			committed:    make(chan struct{}),
		}
		e.pending[batch.Seq] = state
		e.armTimeoutLocked(state)
	}
	e.mu.Unlock()

	prepare := SignedVote{NodeID: e.selfID, ShardID: e.ShardID, Seq: batch.Seq, BatchHash: batch.Hash, Phase: PhasePrepare}
	prepare.Sign(e.keypair)
	if err := e.broadcaster.Broadcast(ctx, prepare); err != nil {
		return aerrors.QuorumUnavailablef("prepare broadcast failed: %v", err)
	}
	e.submitVote(prepare, &batch)
	return nil
}

// handleEquivocation quarantines leaderID and triggers a view change.
func (e *Engine) handleEquivocation(leaderID string, seq uint64) {
	e.mu.Lock()
	e.quarantined[leaderID] = true
	state := e.pending[seq]
	if state != nil {
		state.phase = PhaseDiscarded
		delete(e.pending, seq)
	}
	newLeader := ""
	if active := e.activeOrder(); len(active) > 0 {
		newLeader = active[int(seq)%len(active)]
	}
	cb := e.onViewChange
	e.mu.Unlock()

	e.log.Warn().Str("equivocator", leaderID).Uint64("seq", seq).Str("new_leader", newLeader).Msg("equivocation detected, view change")
	if cb != nil {
		cb(newLeader)
	}
}

// OnViewChange registers a callback invoked whenever the engine quarantines
// a node and a new leader is elected.
func (e *Engine) OnViewChange(cb func(newLeader string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onViewChange = cb
}

// SubmitVote is the ingress for votes received from other replicas over
// the network layer; it hands them to the single-writer processing loop.
func (e *Engine) SubmitVote(vote SignedVote) error {
	select {
	case e.votes <- vote:
		return nil
	default:
		return aerrors.Overloadedf("shard %d vote queue full", e.ShardID)
	}
}

func (e *Engine) submitVote(vote SignedVote, batch *Batch) {
	_ = e.SubmitVote(vote)
}

// run drains the vote channel on a single goroutine, so the consensus
// queue per shard is single-writer even though votes arrive concurrently
// (spec §5).
func (e *Engine) run() {
	for {
		select {
		case <-e.closed:
			return
		case v := <-e.votes:
			e.applyVote(v)
		}
	}
}

func (e *Engine) applyVote(v SignedVote) {
	e.mu.Lock()
	state, ok := e.pending[v.Seq]
	if !ok {
		e.mu.Unlock()
		return
	}
	if info, known := e.replicas[v.NodeID]; known && len(v.Signature) > 0 {
		if !v.Verify(info.PublicKey) {
			e.mu.Unlock()
			return
		}
	}

	switch v.Phase {
	case PhasePrepare:
		if state.phase != PhasePrePrepare && state.phase != PhasePrepared {
			e.mu.Unlock()
			return
		}
		state.prepareVotes[v.NodeID] = v
		if len(state.prepareVotes) >= QuorumSize(len(e.replicas)) && state.phase == PhasePrePrepare {
			if !canTransition(state.phase, PhasePrepared) {
				e.mu.Unlock()
				return
			}
			state.phase = PhasePrepared
			e.mu.Unlock()
			e.onPrepared(state)
			return
		}
	case PhaseCommit:
		if state.phase != PhasePrepared && state.phase != PhaseCommitted {
			e.mu.Unlock()
			return
		}
		state.commitVotes[v.NodeID] = v
		if len(state.commitVotes) >= QuorumSize(len(e.replicas)) && state.phase == PhasePrepared {
			if !canTransition(state.phase, PhaseCommitted) {
				e.mu.Unlock()
				return
			}
			state.phase = PhaseCommitted
			e.mu.Unlock()
			e.onCommitted(state)
			return
		}
	}
	e.mu.Unlock()
}

// onPrepared fires once a batch reaches the prepared quorum: every
// prepared replica multicasts a commit vote (spec §4.3).
func (e *Engine) onPrepared(state *batchState) {
	if state.timer != nil {
		state.timer.Stop()
	}
	vote := SignedVote{NodeID: e.selfID, ShardID: e.ShardID, Seq: state.batch.Seq, BatchHash: state.batch.Hash, Phase: PhaseCommit}
	vote.Sign(e.keypair)
	ctx, cancel := context.WithTimeout(context.Background(), e.batchTimeout)
	defer cancel()
	if err := e.broadcaster.Broadcast(ctx, vote); err != nil {
		e.log.Warn().Err(err).Uint64("seq", state.batch.Seq).Msg("commit broadcast failed")
	}
	_ = e.SubmitVote(vote)
}

// onCommitted fires once a batch reaches the commit quorum: it is
// applied to local storage and the shard's committed sequence advances
// (spec §4.3, durability contract).
func (e *Engine) onCommitted(state *batchState) {
	e.mu.Lock()
	if state.batch.Seq == e.committedSeq+1 {
		e.committedSeq = state.batch.Seq
	}
	delete(e.pending, state.batch.Seq)
	e.mu.Unlock()

	if e.shardLog != nil {
		if err := e.shardLog.Append(state.batch); err != nil {
			e.log.Error().Err(err).Uint64("seq", state.batch.Seq).Msg("durable append of committed batch failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.batchTimeout)
	defer cancel()
	if err := e.applier.Apply(ctx, state.batch); err != nil {
		e.log.Error().Err(err).Uint64("seq", state.batch.Seq).Msg("apply committed batch failed")
	}
	close(state.committed)
}

// armTimeoutLocked schedules a view change if state does not reach
// PhaseCommitted within the batch timeout. Must be called with e.mu held.
func (e *Engine) armTimeoutLocked(state *batchState) {
	seq := state.batch.Seq
	state.timer = time.AfterFunc(e.batchTimeout, func() {
		e.mu.Lock()
		s, ok := e.pending[seq]
		stillPending := ok && s.phase != PhaseCommitted && s.phase != PhaseDiscarded
		if stillPending {
			s.phase = PhaseDiscarded
			delete(e.pending, seq)
		}
		leaderID := state.leaderID
		e.mu.Unlock()
		if stillPending {
			e.log.Warn().Uint64("seq", seq).Str("leader", leaderID).Msg("batch timed out, triggering view change")
			e.handleEquivocation(leaderID, seq) // leader timeout uses the same quarantine+view-change path as equivocation
		}
	})
}

// AwaitCommit blocks until batch.Seq commits, ctx is done, or the batch
// is discarded. Consensus rounds themselves are not cancellable by
// clients — cancelling ctx only detaches this waiter (spec §5).
func (e *Engine) AwaitCommit(ctx context.Context, seq uint64) error {
	e.mu.Lock()
	state, ok := e.pending[seq]
	e.mu.Unlock()
	if !ok {
		// Already committed (or never existed) — treat absence from
		// pending plus seq <= committedSeq as success.
		e.mu.Lock()
		committed := seq <= e.committedSeq
		e.mu.Unlock()
		if committed {
			return nil
		}
		return aerrors.Internalf("no such pending batch for seq %d", seq)
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-state.committed:
			return nil
		case <-ctx.Done():
			return aerrors.Cancelledf("await commit for seq %d cancelled: %v", seq, ctx.Err())
		case <-ticker.C:
			e.mu.Lock()
			discarded := state.phase == PhaseDiscarded
			e.mu.Unlock()
			if discarded {
				return aerrors.QuorumUnavailablef("batch for seq %d was discarded before commit", seq)
			}
		}
	}
}
