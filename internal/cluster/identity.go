package cluster

import (
	"encoding/hex"

	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/aerolithdb/aerolithdb/internal/security"
	"github.com/google/uuid"
)

// Identity is a node's persistent identity: a 128-bit node id, its role,
// and its Ed25519 signing keypair (spec §3 Node Identity). It is held in
// memory only: nothing in this package writes it to or reads it from
// disk, so each NewIdentity call yields a new node id and keypair.
type Identity struct {
	NodeID  string
	Role    document.Role
	Keypair security.Keypair
}

// NewIdentity generates a fresh node identity with a random 128-bit id.
func NewIdentity(role document.Role) (Identity, error) {
	kp, err := security.GenerateKeypair()
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		NodeID:  uuid.NewString(),
		Role:    role,
		Keypair: kp,
	}, nil
}

// PublicKeyHex returns the node's Ed25519 public key, hex-encoded, for
// inclusion in PeerAnnounce gossip messages.
func (id Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.Keypair.Public)
}
