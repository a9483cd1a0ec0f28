package substrate

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

// appendCompact appends the SCALE compact encoding of v.
func appendCompact(dst []byte, v uint64) []byte {
	var buf bytes.Buffer
	if _, err := scale.EncodeCompact64(scale.NewEncoder(&buf), v); err != nil {
		// writes to a bytes.Buffer never fail
		panic(fmt.Sprintf("encoding compact %d: %v", v, err))
	}
	return append(dst, buf.Bytes()...)
}

func decodeCompact(b []byte) (uint64, error) {
	v, _, err := scale.DecodeCompact64(scale.NewDecoder(bytes.NewReader(b)))
	if err != nil {
		return 0, fmt.Errorf("decoding compact: %w", err)
	}
	return v, nil
}

func appendU16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// decodeUint reads a fixed-width little endian unsigned integer.
// Empty values decode to zero, matching storage items with a zero default.
func decodeUint(b []byte, width int) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) < width {
		return 0, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedValue, width, len(b))
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("%w: unsupported width %d", ErrMalformedValue, width)
}
