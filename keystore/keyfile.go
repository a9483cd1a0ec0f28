package keystore

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	naclPrefix = "$NACL"
	nonceSize  = 24
	keySize    = 32
)

var (
	ErrEncrypted     = errors.New("keyfile is encrypted")
	ErrWrongPassword = errors.New("keyfile decryption failed")
	ErrMalformedKey  = errors.New("malformed keyfile")
)

// naclSalt is the fixed salt the wallet tool derives keyfile passwords with.
var naclSalt = []byte{0x13, 0x71, 0x83, 0xdf, 0xf1, 0x5a, 0x09, 0xbc, 0x9c, 0x90, 0xb5, 0x51, 0x87, 0x39, 0xe9, 0xb1}

// kdfParams are argon2i's sensitive limits: 8 passes over 512 MiB.
var kdfParams = struct {
	time   uint32
	memory uint32
}{time: 8, memory: 512 * 1024}

// keyfile is the JSON document stored in a hotkey, coldkey or coldkeypub file.
type keyfile struct {
	AccountID   string `json:"accountId"`
	PublicKey   string `json:"publicKey"`
	SecretSeed  string `json:"secretSeed"`
	SS58Address string `json:"ss58Address"`
}

func (k *keyfile) publicKey() ([]byte, error) {
	for _, v := range []string{k.PublicKey, k.AccountID} {
		if v == "" {
			continue
		}
		return decodeHex(v)
	}
	return nil, fmt.Errorf("%w: no public key", ErrMalformedKey)
}

func (k *keyfile) seed() ([]byte, error) {
	if k.SecretSeed == "" {
		return nil, fmt.Errorf("%w: no secret seed", ErrMalformedKey)
	}
	return decodeHex(k.SecretSeed)
}

func readKeyfile(path string, password []byte) (*keyfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte(naclPrefix)) {
		if len(password) == 0 {
			return nil, ErrEncrypted
		}
		if data, err = decrypt(data[len(naclPrefix):], password); err != nil {
			return nil, err
		}
	}
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return &kf, nil
}

func deriveKey(password []byte) *[keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.Key(password, naclSalt, kdfParams.time, kdfParams.memory, 1, keySize))
	return &key
}

func decrypt(box, password []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrMalformedKey)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, deriveKey(password))
	if !ok {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return b, nil
}
