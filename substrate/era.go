package substrate

import "math/bits"

const (
	minEraPeriod = 4
	maxEraPeriod = 1 << 16
)

// Era is a mortal transaction validity window.
// The chain rejects the transaction once Period blocks passed since its birth block.
type Era struct {
	Period uint64
	Phase  uint64
}

// MortalEra returns the era of `period` blocks (rounded up to a power of two)
// anchored at block `current`.
func MortalEra(period, current uint64) Era {
	p := uint64(1) << bits.Len64(period-1)
	if period <= 1 {
		p = minEraPeriod
	}
	p = min(max(p, minEraPeriod), maxEraPeriod)

	quantizeFactor := max(p>>12, 1)
	phase := current % p / quantizeFactor * quantizeFactor
	return Era{Period: p, Phase: phase}
}

// Encode returns the two byte SCALE representation.
func (e Era) Encode() []byte {
	quantizeFactor := max(e.Period>>12, 1)
	low := min(max(uint64(bits.TrailingZeros64(e.Period))-1, 1), 15)
	encoded := uint16(low) | uint16((e.Phase/quantizeFactor)<<4)
	return []byte{byte(encoded), byte(encoded >> 8)}
}

// Birth returns the first block of the era containing `current`.
// Its hash is part of the signing payload.
func (e Era) Birth(current uint64) uint64 {
	return (max(current, e.Phase)-e.Phase)/e.Period*e.Period + e.Phase
}

// Death returns the first block at which the transaction is no longer valid.
func (e Era) Death(current uint64) uint64 {
	return e.Birth(current) + e.Period
}
