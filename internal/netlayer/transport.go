package netlayer

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"net"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
)

// tlsConfig returns a TLS 1.3 configuration that presents cert and
// requires a client certificate but verifies no certificate chain —
// there is no CA. Peer identity rests on the application-level signed
// handshake in authenticate instead; that handshake is not tied to the
// TLS session's keys.
func tlsConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
	}
}

// handshakeChallenge is exchanged first on every connection so each side
// proves it holds the private key for the public key it presents. That
// key is not checked against any record of the claimed node ID.
type handshakeChallenge struct {
	Version int    `json:"version"`
	NodeID  string `json:"node_id"`
	Nonce   []byte `json:"nonce"`
}

type handshakeResponse struct {
	NodeID    string `json:"node_id"`
	PublicKey string `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Conn is an authenticated peer connection: the underlying TLS conn plus
// the verified remote node ID.
type Conn struct {
	net.Conn
	RemoteNodeID string
	rw           *bufio.ReadWriter
}

// Dial connects to addr and performs the mutual node-keypair handshake,
// claiming selfID with keypair priv.
func Dial(addr string, selfID string, priv ed25519.PrivateKey, cert tls.Certificate, timeout time.Duration) (*Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	raw, err := tls.DialWithDialer(d, "tcp", addr, tlsConfig(cert))
	if err != nil {
		return nil, aerrors.Partitionedf("dial %s failed: %v", addr, err)
	}
	rw := bufio.NewReadWriter(bufio.NewReader(raw), bufio.NewWriter(raw))
	remote, err := authenticate(rw, selfID, priv, true)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{Conn: raw, RemoteNodeID: remote, rw: rw}, nil
}

// Accept completes the server side of the handshake on an already
// tls.Server-wrapped connection.
func Accept(raw net.Conn, selfID string, priv ed25519.PrivateKey) (*Conn, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(raw), bufio.NewWriter(raw))
	remote, err := authenticate(rw, selfID, priv, false)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{Conn: raw, RemoteNodeID: remote, rw: rw}, nil
}

// authenticate runs a symmetric challenge/response: each side sends a
// nonce under its own node ID, then signs the peer's nonce to prove key
// possession. initiator breaks the otherwise-symmetric send order to
// avoid deadlock.
func authenticate(rw *bufio.ReadWriter, selfID string, priv ed25519.PrivateKey, initiator bool) (string, error) {
	var nonce [32]byte
	_, _ = rand.Read(nonce[:])
	myChallenge := handshakeChallenge{Version: ProtocolVersion, NodeID: selfID, Nonce: nonce[:]}

	var peerChallenge handshakeChallenge
	var err error
	if initiator {
		if err = writeJSON(rw, myChallenge); err != nil {
			return "", err
		}
		if peerChallenge, err = readChallenge(rw); err != nil {
			return "", err
		}
	} else {
		if peerChallenge, err = readChallenge(rw); err != nil {
			return "", err
		}
		if err = writeJSON(rw, myChallenge); err != nil {
			return "", err
		}
	}

	if peerChallenge.Version != ProtocolVersion {
		return "", errProtocolMismatch(peerChallenge.Version)
	}

	myResponse := handshakeResponse{
		NodeID:    selfID,
		PublicKey: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Signature: ed25519.Sign(priv, peerChallenge.Nonce),
	}

	var peerResponse handshakeResponse
	if initiator {
		if err = writeJSON(rw, myResponse); err != nil {
			return "", err
		}
		if peerResponse, err = readResponse(rw); err != nil {
			return "", err
		}
	} else {
		if peerResponse, err = readResponse(rw); err != nil {
			return "", err
		}
		if err = writeJSON(rw, myResponse); err != nil {
			return "", err
		}
	}

	if peerResponse.NodeID != peerChallenge.NodeID {
		return "", aerrors.Unauthorizedf("handshake node id mismatch: challenge %s, response %s", peerChallenge.NodeID, peerResponse.NodeID)
	}
	pub, err := hex.DecodeString(peerResponse.PublicKey)
	if err != nil {
		return "", aerrors.Unauthorizedf("handshake public key undecodable: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), myChallenge.Nonce, peerResponse.Signature) {
		return "", aerrors.Unauthorizedf("handshake signature invalid for node %s", peerResponse.NodeID)
	}
	return peerResponse.NodeID, nil
}

func writeJSON(rw *bufio.ReadWriter, v any) error {
	enc := json.NewEncoder(rw)
	if err := enc.Encode(v); err != nil {
		return aerrors.Partitionedf("handshake write failed: %v", err)
	}
	return rw.Flush()
}

func readChallenge(rw *bufio.ReadWriter) (handshakeChallenge, error) {
	var c handshakeChallenge
	if err := json.NewDecoder(rw).Decode(&c); err != nil {
		return c, aerrors.Partitionedf("handshake read failed: %v", err)
	}
	return c, nil
}

func readResponse(rw *bufio.ReadWriter) (handshakeResponse, error) {
	var r handshakeResponse
	if err := json.NewDecoder(rw).Decode(&r); err != nil {
		return r, aerrors.Partitionedf("handshake read failed: %v", err)
	}
	return r, nil
}

// SendMessage writes msg to the connection, canonically encoded.
func (c *Conn) SendMessage(msg Message) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := c.rw.Write(raw); err != nil {
		return aerrors.Partitionedf("send to %s failed: %v", c.RemoteNodeID, err)
	}
	return c.rw.Flush()
}

// ReadMessage reads and decodes the next message from the connection.
func (c *Conn) ReadMessage() (Message, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(c.rw).Decode(&raw); err != nil {
		return Message{}, aerrors.Partitionedf("read from %s failed: %v", c.RemoteNodeID, err)
	}
	return Decode(raw)
}
