package shared

import (
	"encoding/hex"

	"go.uber.org/zap/zapcore"
)

// Signer produces sr25519 signatures over extrinsic signing payloads.
type Signer interface {
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// Identity is one registrable participant: a hotkey address
// and the signer that pays for its registration.
type Identity struct {
	// Address is the SS58 encoding of the hotkey public key.
	Address string
	// Label is the hotkey name as found in the wallet directory.
	Label  string
	Signer Signer
}

// implement zap.ObjectMarshaler interface.
func (i Identity) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("label", i.Label)
	enc.AddString("address", i.Address)
	return nil
}

// Call is a SCALE-encoded runtime call, ready to be wrapped or signed.
type Call []byte

func (c Call) String() string {
	return "0x" + hex.EncodeToString(c)
}

// Block is a new block notification.
type Block struct {
	Height     uint64
	Hash       []byte
	ParentHash []byte
}
