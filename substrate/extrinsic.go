package substrate

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/epochreg/regbot/shared"
)

const (
	extrinsicVersion   = 4
	signedFlag         = 0b1000_0000
	multiAddressID     = 0x00
	multiSigSr25519    = 0x01
	maxUnhashedPayload = 256
)

// CallIndex addresses a dispatchable by pallet and call position in the runtime metadata.
type CallIndex struct {
	Pallet uint8
	Call   uint8
}

// CallIndices are the dispatchables the bot composes.
type CallIndices struct {
	BurnedRegister CallIndex
	ForceBatch     CallIndex
}

// DefaultCallIndices match the finney runtime.
func DefaultCallIndices() CallIndices {
	return CallIndices{
		BurnedRegister: CallIndex{Pallet: 7, Call: 7},
		ForceBatch:     CallIndex{Pallet: 11, Call: 4},
	}
}

func encodeBurnedRegister(idx CallIndex, netuid uint16, hotkey []byte) (shared.Call, error) {
	if len(hotkey) != publicKeySize {
		return nil, fmt.Errorf("hotkey must be %d bytes, got %d", publicKeySize, len(hotkey))
	}
	call := []byte{idx.Pallet, idx.Call}
	call = appendU16(call, netuid)
	return append(call, hotkey...), nil
}

// encodeForceBatch wraps calls into Utility.force_batch(calls: Vec<Call>).
func encodeForceBatch(idx CallIndex, calls []shared.Call) shared.Call {
	out := []byte{idx.Pallet, idx.Call}
	out = appendCompact(out, uint64(len(calls)))
	for _, c := range calls {
		out = append(out, c...)
	}
	return out
}

// signedExtra carries the signed extension values included in the extrinsic body.
type signedExtra struct {
	era   Era
	nonce uint64
	tip   uint64
	// metadataHash enables the CheckMetadataHash extension (mode byte + empty additional data).
	metadataHash bool
}

func (x signedExtra) encode() []byte {
	out := x.era.Encode()
	out = appendCompact(out, x.nonce)
	out = appendCompact(out, x.tip)
	if x.metadataHash {
		out = append(out, 0) // mode: disabled
	}
	return out
}

// additionalSigned is signed over but not transmitted.
type additionalSigned struct {
	specVersion        uint32
	transactionVersion uint32
	genesisHash        []byte
	birthHash          []byte
	metadataHash       bool
}

func (a additionalSigned) encode() []byte {
	out := appendU32(nil, a.specVersion)
	out = appendU32(out, a.transactionVersion)
	out = append(out, a.genesisHash...)
	out = append(out, a.birthHash...)
	if a.metadataHash {
		out = append(out, 0) // Option<Hash>::None
	}
	return out
}

// signingPayload returns the bytes the signer signs.
// Payloads longer than 256 bytes are replaced by their blake2b-256 hash.
func signingPayload(call shared.Call, extra signedExtra, additional additionalSigned) []byte {
	payload := append(append([]byte{}, call...), extra.encode()...)
	payload = append(payload, additional.encode()...)
	if len(payload) > maxUnhashedPayload {
		h := blake2b.Sum256(payload)
		return h[:]
	}
	return payload
}

// encodeSignedExtrinsic returns the length-prefixed extrinsic ready for author_submitExtrinsic.
func encodeSignedExtrinsic(call shared.Call, signer, signature []byte, extra signedExtra) []byte {
	body := []byte{signedFlag | extrinsicVersion, multiAddressID}
	body = append(body, signer...)
	body = append(body, multiSigSr25519)
	body = append(body, signature...)
	body = append(body, extra.encode()...)
	body = append(body, call...)
	return append(appendCompact(nil, uint64(len(body))), body...)
}
