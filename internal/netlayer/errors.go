package netlayer

import "github.com/aerolithdb/aerolithdb/internal/aerrors"

func errProtocolMismatch(got int) error {
	return aerrors.Unauthorizedf("protocol version mismatch: got %d, want %d", got, ProtocolVersion)
}
