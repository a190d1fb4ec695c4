// Package security implements the Security Envelope (C8): per-document
// at-rest encryption, integrity checksums, capability-token verification,
// and scheduled master-key rotation with background re-wrap.
package security

import "github.com/zeebo/blake3"

// Checksum computes the BLAKE3 digest over canonical-encoded plaintext
// payload bytes, per spec §3. It is always computed over plaintext —
// the ciphertext's AEAD tag is a separate, orthogonal protection against
// in-transit/on-disk tampering (§4.8).
func Checksum(payload []byte) [32]byte {
	return blake3.Sum256(payload)
}

// VerifyChecksum reports whether payload matches the recorded digest.
func VerifyChecksum(payload []byte, want [32]byte) bool {
	return Checksum(payload) == want
}
