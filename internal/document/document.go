// Package document defines the core data model (spec §3): the Document
// envelope every tier, consensus batch, and replication message carries,
// and the collection/node-identity descriptors that parameterize it.
package document

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/vclock"
)

// Document is one versioned JSON record. Payload is opaque to the engine
// — it is never interpreted beyond being valid JSON at the top level.
type Document struct {
	Collection string        `json:"collection"`
	ID         string        `json:"id"`
	Payload    []byte        `json:"payload"` // plaintext, or AEAD ciphertext when Encrypted is set
	Version    uint64        `json:"version"`
	Clock      vclock.Clock  `json:"vector_clock"`
	Checksum   [32]byte      `json:"checksum"` // BLAKE3 digest over plaintext payload
	Encrypted  bool          `json:"encrypted"` // Payload is sealed under the security envelope
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Tombstone  bool          `json:"tombstone"`
}

// NewID generates a server-assigned 128-bit random document id, hex
// encoded so it is safe in URLs and filenames.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Descriptor is a collection's configuration (spec §3 Collection
// Descriptor).
type Descriptor struct {
	Name               string
	ShardCount         int
	ReplicationFactor  int
	ConflictPolicy     vclock.Policy
	EncryptionRequired bool
	RetentionSeconds   int64
}

// DefaultDescriptor returns the documented defaults: replication factor
// 3, LastWriterWins conflict policy.
func DefaultDescriptor(name string) Descriptor {
	return Descriptor{
		Name:              name,
		ShardCount:        1,
		ReplicationFactor: 3,
		ConflictPolicy:    vclock.LastWriterWins,
	}
}

// Role distinguishes a node that seeds cluster membership from one that
// only joins it (spec §3 Node Identity).
type Role int

const (
	RoleRegular Role = iota
	RoleBootstrap
)

func (r Role) String() string {
	if r == RoleBootstrap {
		return "Bootstrap"
	}
	return "Regular"
}
