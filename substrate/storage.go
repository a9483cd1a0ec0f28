package substrate

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	subtensorPallet = "SubtensorModule"
	systemPallet    = "System"
)

// storageKey is the raw key of a storage entry.
type storageKey []byte

func (k storageKey) Hex() string {
	return "0x" + hex.EncodeToString(k)
}

// twox128 is the storage prefix hasher: xxhash64 with seeds 0 and 1, concatenated little endian.
func twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		h := xxhash.NewWithSeed(seed)
		_, _ = h.Write(data)
		out = binary.LittleEndian.AppendUint64(out, h.Sum64())
	}
	return out
}

// hasher transforms an encoded map key into its storage representation.
type hasher func([]byte) []byte

func identity(b []byte) []byte {
	return b
}

func blake2128Concat(b []byte) []byte {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write(b)
	return append(h.Sum(nil), b...)
}

func storagePrefix(pallet, item string) []byte {
	return append(twox128([]byte(pallet)), twox128([]byte(item))...)
}

// mapKey builds the key of a (multi-)map entry.
// hashers and keys must have the same length.
func mapKey(pallet, item string, hashers []hasher, keys ...[]byte) storageKey {
	k := storagePrefix(pallet, item)
	for i, key := range keys {
		k = append(k, hashers[i](key)...)
	}
	return k
}

func u16Key(v uint16) []byte {
	return appendU16(nil, v)
}

// Storage items of the subtensor pallet read by the bot.
// All netuid-keyed maps use the Identity hasher.
func lastAdjustmentBlockKey(netuid uint16) storageKey {
	return mapKey(subtensorPallet, "LastAdjustmentBlock", []hasher{identity}, u16Key(netuid))
}

func adjustmentIntervalKey(netuid uint16) storageKey {
	return mapKey(subtensorPallet, "AdjustmentInterval", []hasher{identity}, u16Key(netuid))
}

func burnKey(netuid uint16) storageKey {
	return mapKey(subtensorPallet, "Burn", []hasher{identity}, u16Key(netuid))
}

func networksAddedKey(netuid uint16) storageKey {
	return mapKey(subtensorPallet, "NetworksAdded", []hasher{identity}, u16Key(netuid))
}

func subnetworkNKey(netuid uint16) storageKey {
	return mapKey(subtensorPallet, "SubnetworkN", []hasher{identity}, u16Key(netuid))
}

func keysKey(netuid, uid uint16) storageKey {
	return mapKey(subtensorPallet, "Keys", []hasher{identity, identity}, u16Key(netuid), u16Key(uid))
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "0x"))
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
