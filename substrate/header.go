package substrate

import (
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/epochreg/regbot/shared"
)

const hashSize = 32

type header struct {
	ParentHash     string `json:"parentHash"`
	Number         string `json:"number"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
	Digest         struct {
		// Logs are SCALE encoded digest items.
		Logs []string `json:"logs"`
	} `json:"digest"`
}

func parseHexNumber(s string) (uint64, error) {
	v, err := strconv.ParseUint(normalizeHex(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block number %q", ErrMalformedValue, s)
	}
	return v, nil
}

func decodeHash(s string) ([]byte, error) {
	b, err := decodeHex(s)
	if err != nil || len(b) != hashSize {
		return nil, fmt.Errorf("%w: hash %q", ErrMalformedValue, s)
	}
	return b, nil
}

// encode returns the SCALE encoding the block hash is computed over.
func (h *header) encode() ([]byte, error) {
	out, err := decodeHash(h.ParentHash)
	if err != nil {
		return nil, err
	}
	number, err := parseHexNumber(h.Number)
	if err != nil {
		return nil, err
	}
	out = appendCompact(out, number)
	for _, field := range []string{h.StateRoot, h.ExtrinsicsRoot} {
		b, err := decodeHash(field)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	out = appendCompact(out, uint64(len(h.Digest.Logs)))
	for _, log := range h.Digest.Logs {
		b, err := decodeHex(log)
		if err != nil {
			return nil, fmt.Errorf("%w: digest item %q", ErrMalformedValue, log)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (h *header) block() (shared.Block, error) {
	number, err := parseHexNumber(h.Number)
	if err != nil {
		return shared.Block{}, err
	}
	parent, err := decodeHash(h.ParentHash)
	if err != nil {
		return shared.Block{}, err
	}
	encoded, err := h.encode()
	if err != nil {
		return shared.Block{}, err
	}
	hash := blake2b.Sum256(encoded)
	return shared.Block{Height: number, Hash: hash[:], ParentHash: parent}, nil
}
