// Package netlayer implements the connection-oriented transport (C6):
// mutually authenticated peer connections, bootstrap+gossip discovery, a
// bounded connection pool with backpressure, and the typed message
// taxonomy every other core component speaks over the wire (spec §4.6).
package netlayer

import (
	"bytes"
	"encoding/json"
)

// ProtocolVersion is bumped on any wire-incompatible change to Message
// or its Kind-specific bodies. A peer announcing a different version is
// rejected during the handshake rather than allowed to negotiate down
// (spec §4.6 "protocol-version mismatch rejection").
const ProtocolVersion = 1

// Kind identifies which of the fixed message shapes a Message carries.
// New kinds are added here, never inferred from body shape.
type Kind int

const (
	KindHeartbeat Kind = iota
	KindPeerAnnounce
	KindConsensusPrePrepare
	KindConsensusPrepare
	KindConsensusCommit
	KindReplicationAppend
	KindRepairRequest
	KindRepairResponse
	KindQueryForward
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "Heartbeat"
	case KindPeerAnnounce:
		return "PeerAnnounce"
	case KindConsensusPrePrepare:
		return "ConsensusPrePrepare"
	case KindConsensusPrepare:
		return "ConsensusPrepare"
	case KindConsensusCommit:
		return "ConsensusCommit"
	case KindReplicationAppend:
		return "ReplicationAppend"
	case KindRepairRequest:
		return "RepairRequest"
	case KindRepairResponse:
		return "RepairResponse"
	case KindQueryForward:
		return "QueryForward"
	default:
		return "Unknown"
	}
}

// Message is the envelope every wire exchange uses. Body is the
// kind-specific JSON payload produced by EncodeBody. Nothing signs Body
// itself; consensus votes carry their own signature over SignedVote's
// binary encoding.
type Message struct {
	Version   int    `json:"version"`
	Kind      Kind   `json:"kind"`
	FromNode  string `json:"from_node"`
	Body      []byte `json:"body"`
}

// Encode serializes msg to its canonical wire form.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a wire message and checks its protocol version.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version != ProtocolVersion {
		return Message{}, errProtocolMismatch(msg.Version)
	}
	return msg, nil
}

// EncodeBody canonically encodes a kind-specific body value for embedding
// in Message.Body.
func EncodeBody(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HeartbeatBody is KindHeartbeat's payload.
type HeartbeatBody struct {
	NodeID string `json:"node_id"`
	Seq    uint64 `json:"seq"`
}

// PeerAnnounceBody is KindPeerAnnounce's payload, used by gossip.
type PeerAnnounceBody struct {
	NodeID    string   `json:"node_id"`
	Address   string   `json:"address"`
	PublicKey string   `json:"public_key"` // hex-encoded ed25519 public key
	KnownPeers []string `json:"known_peers"`
}

// RepairRequestBody is KindRepairRequest's payload: ask a peer for its
// shard log suffix starting at FromSeq.
type RepairRequestBody struct {
	ShardID uint32 `json:"shard_id"`
	FromSeq uint64 `json:"from_seq"`
}

// RepairResponseBody carries the canonically-encoded batches a
// RepairRequest asked for; the caller deserializes BatchesJSON into
// []consensus.Batch. netlayer does not import consensus to avoid a
// cycle (consensus messages flow over netlayer, not the reverse).
type RepairResponseBody struct {
	ShardID    uint32 `json:"shard_id"`
	BatchesJSON []byte `json:"batches_json"`
}
