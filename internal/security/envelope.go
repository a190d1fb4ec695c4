package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Keypair is a node's signing (Ed25519) identity. X25519 key agreement
// material is derived from the same seed elsewhere (curve25519) when a
// future transport needs it; the core envelope only needs signing today.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 signing keypair for a node
// identity (spec §3 Node Identity).
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Public: pub, Private: priv}, nil
}

// Sign signs bytes with the node's private key.
func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks a signature against a public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// CapabilityToken asserts that its holder may perform named operations on
// named collections. The envelope only verifies the signature against a
// known issuer key; it never manages users or issues tokens itself (§4.8
// — external collaborator's job).
type CapabilityToken struct {
	Issuer      ed25519.PublicKey
	Collections []string
	Operations  []string
	Signature   []byte
	Payload     []byte // signed material, opaque to the envelope
}

// Authorize verifies tok was signed by a key in trustedIssuers and that
// it grants op on collection.
func Authorize(tok CapabilityToken, trustedIssuers []ed25519.PublicKey, collection, op string) error {
	trusted := false
	for _, pk := range trustedIssuers {
		if string(pk) == string(tok.Issuer) {
			trusted = true
			break
		}
	}
	if !trusted {
		return aerrors.Unauthorizedf("capability token issuer is not trusted")
	}
	if !Verify(tok.Issuer, tok.Payload, tok.Signature) {
		return aerrors.Unauthorizedf("capability token signature invalid")
	}
	if !contains(tok.Collections, collection) && !contains(tok.Collections, "*") {
		return aerrors.Unauthorizedf("capability token does not grant access to collection %q", collection)
	}
	if !contains(tok.Operations, op) && !contains(tok.Operations, "*") {
		return aerrors.Unauthorizedf("capability token does not grant operation %q", op)
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// WrappedKey is a per-collection data-encryption key, wrapped (encrypted)
// under the node's current master key.
type WrappedKey struct {
	Ciphertext []byte
	MasterGen  uint64 // which master-key generation wrapped this
}

// KeyRing holds the node's master key history and per-collection wrapped
// keys, and drives background re-wrap on rotation (§4.8). Old master
// keys are retained for decryption until every document is re-wrapped
// under the newest generation.
type KeyRing struct {
	mu         sync.RWMutex
	masters    map[uint64][]byte // generation -> 32-byte key
	currentGen uint64
	wrapped    map[string]WrappedKey // collection -> wrapped DEK
	plaintext  map[string][]byte     // collection -> cached unwrapped DEK (memory-only)
}

// NewKeyRing creates a KeyRing seeded with one master key generation.
func NewKeyRing() (*KeyRing, error) {
	k := &KeyRing{
		masters: make(map[uint64][]byte),
		wrapped: make(map[string]WrappedKey),
		plaintext: make(map[string][]byte),
	}
	if err := k.RotateMasterKey(); err != nil {
		return nil, err
	}
	return k, nil
}

// RotateMasterKey generates a new master key generation and makes it
// current. Existing wrapped keys remain decryptable under their
// original generation until re-wrapped by the background task.
func (k *KeyRing) RotateMasterKey() error {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.currentGen++
	k.masters[k.currentGen] = key
	return nil
}

// DEKFor returns the data-encryption key for a collection, generating and
// wrapping a fresh one under the current master generation on first use.
func (k *KeyRing) DEKFor(collection string) ([]byte, error) {
	k.mu.RLock()
	if dek, ok := k.plaintext[collection]; ok {
		k.mu.RUnlock()
		return dek, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if dek, ok := k.plaintext[collection]; ok {
		return dek, nil
	}

	dek := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, err
	}
	wrapped, err := k.wrapLocked(dek, k.currentGen)
	if err != nil {
		return nil, err
	}
	k.wrapped[collection] = WrappedKey{Ciphertext: wrapped, MasterGen: k.currentGen}
	k.plaintext[collection] = dek
	return dek, nil
}

func (k *KeyRing) wrapLocked(dek []byte, gen uint64) ([]byte, error) {
	master, ok := k.masters[gen]
	if !ok {
		return nil, aerrors.Internalf("unknown master key generation %d", gen)
	}
	aead, err := chacha20poly1305.New(master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nonce, nonce, dek, nil), nil
}

// ReWrapAll re-wraps every collection's DEK under the current master
// generation. It is invoked by the background re-wrap task (supervisor)
// and never blocks foreground writes — it only touches the small wrapped
// key map, not document payloads.
func (k *KeyRing) ReWrapAll() (rewrapped int, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for collection, dek := range k.plaintext {
		if w, ok := k.wrapped[collection]; ok && w.MasterGen == k.currentGen {
			continue
		}
		wrapped, err := k.wrapLocked(dek, k.currentGen)
		if err != nil {
			return rewrapped, err
		}
		k.wrapped[collection] = WrappedKey{Ciphertext: wrapped, MasterGen: k.currentGen}
		rewrapped++
	}
	return rewrapped, nil
}

// Envelope encrypts and decrypts document payloads using per-collection
// DEKs with a nonce derived from (id, version) so rewrites never reuse a
// nonce under the same key (§4.8).
type Envelope struct {
	keys *KeyRing
}

func NewEnvelope(keys *KeyRing) *Envelope {
	return &Envelope{keys: keys}
}

func nonceFor(aead interface{ NonceSize() int }, id string, version uint64) []byte {
	nonce := make([]byte, aead.NonceSize())
	// Derive deterministically from (id, version): hash id into the first
	// bytes, version into the trailing bytes, so no two (id,version)
	// pairs collide for a fixed DEK.
	h := blake3Sum(id)
	copy(nonce, h[:])
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], version)
	return nonce
}

func blake3Sum(s string) [32]byte {
	return Checksum([]byte(s))
}

// Seal encrypts payload for (collection, id, version), returning
// ciphertext and the plaintext checksum to store alongside it.
func (e *Envelope) Seal(collection, id string, version uint64, payload []byte) (ciphertext []byte, checksum [32]byte, err error) {
	dek, err := e.keys.DEKFor(collection)
	if err != nil {
		return nil, checksum, err
	}
	aead, err := chacha20poly1305.New(dek)
	if err != nil {
		return nil, checksum, err
	}
	nonce := nonceFor(aead, id, version)
	checksum = Checksum(payload)
	ciphertext = aead.Seal(nil, nonce, payload, nil)
	return ciphertext, checksum, nil
}

// Open decrypts ciphertext for (collection, id, version) and verifies the
// plaintext checksum; a checksum or AEAD-tag mismatch returns
// CorruptedRecord (§7) so the caller can trigger repair.
func (e *Envelope) Open(collection, id string, version uint64, ciphertext []byte, checksum [32]byte) ([]byte, error) {
	dek, err := e.keys.DEKFor(collection)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(dek)
	if err != nil {
		return nil, err
	}
	nonce := nonceFor(aead, id, version)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, aerrors.CorruptedRecordf("AEAD tag mismatch for %s/%s v%d: %v", collection, id, version, err)
	}
	if !VerifyChecksum(plaintext, checksum) {
		return nil, aerrors.CorruptedRecordf("checksum mismatch for %s/%s v%d", collection, id, version)
	}
	return plaintext, nil
}
