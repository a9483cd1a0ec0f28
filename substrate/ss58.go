package substrate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// DefaultSS58Prefix is the generic substrate address format used by subtensor.
const DefaultSS58Prefix uint16 = 42

const (
	publicKeySize  = 32
	checksumLength = 2
)

var (
	ErrInvalidAddress  = errors.New("invalid ss58 address")
	ErrInvalidChecksum = errors.New("invalid ss58 checksum")
)

var ss58Pre = []byte("SS58PRE")

func ss58Checksum(data []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Pre...), data...))
	return h[:checksumLength]
}

func encodePrefix(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	first := byte((prefix&0b1111_1100)>>2) | 0b0100_0000
	second := byte(prefix>>8) | byte((prefix&0b11)<<6)
	return []byte{first, second}
}

// SS58Encode encodes a 32 byte public key as an address for the network prefix.
func SS58Encode(pub []byte, prefix uint16) string {
	data := append(encodePrefix(prefix), pub...)
	return base58.Encode(append(data, ss58Checksum(data)...))
}

// SS58Decode returns the network prefix and public key of an address.
func SS58Decode(address string) (uint16, []byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 1 {
		return 0, nil, ErrInvalidAddress
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, nil, ErrInvalidAddress
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, nil, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, raw[0])
	}

	if len(raw) != prefixLen+publicKeySize+checksumLength {
		return 0, nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}
	body := raw[:prefixLen+publicKeySize]
	if !bytes.Equal(ss58Checksum(body), raw[len(body):]) {
		return 0, nil, ErrInvalidChecksum
	}
	return prefix, append([]byte{}, raw[prefixLen:prefixLen+publicKeySize]...), nil
}

// PublicKeyFromAddress is SS58Decode without the prefix.
func PublicKeyFromAddress(address string) ([]byte, error) {
	_, pub, err := SS58Decode(address)
	return pub, err
}
