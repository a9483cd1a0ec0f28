package substrate

import (
	"errors"
	"fmt"

	"github.com/ChainSafe/go-schnorrkel"
)

const (
	seedSize      = 32
	signatureSize = 64
)

var ErrInvalidSeed = errors.New("invalid sr25519 seed")

// signingContext is the schnorrkel context substrate signs extrinsics under.
var signingContext = []byte("substrate")

// Keypair is an sr25519 keypair derived from a 32 byte mini secret.
type Keypair struct {
	secret *schnorrkel.SecretKey
	public [publicKeySize]byte
}

func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != seedSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSeed, seedSize, len(seed))
	}
	var raw [seedSize]byte
	copy(raw[:], seed)
	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	secret := mini.ExpandEd25519()
	pub, err := secret.Public()
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return &Keypair{secret: secret, public: pub.Encode()}, nil
}

func (k *Keypair) PublicKey() []byte {
	return append([]byte{}, k.public[:]...)
}

func (k *Keypair) Address(prefix uint16) string {
	return SS58Encode(k.public[:], prefix)
}

func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	sig, err := k.secret.Sign(schnorrkel.NewSigningContext(signingContext, msg))
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	encoded := sig.Encode()
	return encoded[:], nil
}

// Verify checks an sr25519 signature made under the substrate signing context.
func Verify(pub, msg, signature []byte) (bool, error) {
	if len(pub) != publicKeySize || len(signature) != signatureSize {
		return false, nil
	}
	var rawPub [publicKeySize]byte
	copy(rawPub[:], pub)
	pk := &schnorrkel.PublicKey{}
	if err := pk.Decode(rawPub); err != nil {
		return false, fmt.Errorf("decoding public key: %w", err)
	}
	var rawSig [signatureSize]byte
	copy(rawSig[:], signature)
	sig := &schnorrkel.Signature{}
	if err := sig.Decode(rawSig); err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	return pk.Verify(sig, schnorrkel.NewSigningContext(signingContext, msg))
}
