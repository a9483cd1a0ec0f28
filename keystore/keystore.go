// Package keystore reads a wallet directory laid out as
// <root>/<coldkey>/{coldkey,coldkeypub.txt,hotkeys/<name>}.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/shared"
	"github.com/epochreg/regbot/substrate"
)

const (
	hotkeysDir     = "hotkeys"
	coldkeyFile    = "coldkey"
	coldkeyPubFile = "coldkeypub.txt"
)

type Options struct {
	Root     string
	Coldkey  string
	Password string
	// HotkeyGlob selects hotkeys by file name. Empty matches all.
	HotkeyGlob string
	SS58Prefix uint16
}

// Wallet is a coldkey and the hotkeys it registers.
type Wallet struct {
	Coldkey *Coldkey
	// Hotkeys are ordered by file name, one per distinct address.
	Hotkeys []shared.Identity
}

func configErr(reason string, err error) error {
	return &registration.ConfigurationError{Reason: reason, Err: err}
}

// Discover lists the hotkeys of a coldkey. Every identity is signed for by the coldkey.
func Discover(ctx context.Context, opts Options) (*Wallet, error) {
	logger := logging.FromContext(ctx).Named("keystore")
	if opts.Coldkey == "" {
		return nil, configErr("coldkey name is empty", nil)
	}
	if opts.HotkeyGlob != "" && !doublestar.ValidatePattern(opts.HotkeyGlob) {
		return nil, configErr("hotkey glob", fmt.Errorf("invalid pattern %q", opts.HotkeyGlob))
	}
	walletDir := filepath.Join(opts.Root, opts.Coldkey)
	entries, err := os.ReadDir(filepath.Join(walletDir, hotkeysDir))
	if err != nil {
		return nil, configErr("reading hotkeys directory", err)
	}

	coldkey, err := openColdkey(walletDir, opts.Password)
	if err != nil {
		return nil, configErr("coldkey "+opts.Coldkey, err)
	}

	// ReadDir returns entries sorted by file name.
	seen := make(map[string]string)
	var hotkeys []shared.Identity
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || skipName(name) {
			logger.Debug("skipping hotkey directory entry", zap.String("name", name))
			continue
		}
		if opts.HotkeyGlob != "" {
			if ok, _ := doublestar.Match(opts.HotkeyGlob, name); !ok {
				continue
			}
		}
		address, err := hotkeyAddress(filepath.Join(walletDir, hotkeysDir, name), opts.SS58Prefix)
		if err != nil {
			logger.Warn("failed to load hotkey", zap.String("name", name), zap.Error(err))
			continue
		}
		if first, ok := seen[address]; ok {
			logger.Info("skipping duplicate hotkey",
				zap.String("name", name),
				zap.String("duplicate_of", first),
				zap.String("address", address),
			)
			continue
		}
		seen[address] = name
		hotkeys = append(hotkeys, shared.Identity{Address: address, Label: name, Signer: coldkey})
		logger.Debug("discovered hotkey", zap.String("name", name), zap.String("address", address))
	}
	if len(hotkeys) == 0 {
		return nil, configErr("no hotkeys found in "+filepath.Join(walletDir, hotkeysDir), nil)
	}
	logger.Info("discovered hotkeys", zap.Int("count", len(hotkeys)), zap.String("coldkey", opts.Coldkey))
	return &Wallet{Coldkey: coldkey, Hotkeys: hotkeys}, nil
}

// skipName excludes public key files and hidden entries.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".pub") ||
		strings.HasSuffix(name, ".txt")
}

func hotkeyAddress(path string, prefix uint16) (string, error) {
	kf, err := readKeyfile(path, nil)
	if err != nil {
		return "", err
	}
	if pub, err := kf.publicKey(); err == nil {
		if len(pub) != 32 {
			return "", fmt.Errorf("%w: public key is %d bytes", ErrMalformedKey, len(pub))
		}
		return substrate.SS58Encode(pub, prefix), nil
	}
	if kf.SS58Address == "" {
		return "", fmt.Errorf("%w: no address", ErrMalformedKey)
	}
	pub, err := substrate.PublicKeyFromAddress(kf.SS58Address)
	if err != nil {
		return "", err
	}
	return substrate.SS58Encode(pub, prefix), nil
}

// Coldkey signs registrations. Its secret is only read by Load or the first Sign.
type Coldkey struct {
	path     string
	password []byte
	public   []byte

	mu      sync.Mutex
	keypair *substrate.Keypair
}

func openColdkey(walletDir, password string) (*Coldkey, error) {
	path := filepath.Join(walletDir, coldkeyFile)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	c := &Coldkey{path: path, password: []byte(password)}
	pub, err := readKeyfile(filepath.Join(walletDir, coldkeyPubFile), nil)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", coldkeyPubFile, err)
	default:
		if c.public, err = pub.publicKey(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", coldkeyPubFile, err)
		}
	}
	return c, nil
}

// Load decrypts the coldkey. Calling it at startup keeps the password KDF out of the submission path.
func (c *Coldkey) Load() error {
	_, err := c.load()
	return err
}

func (c *Coldkey) load() (*substrate.Keypair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keypair != nil {
		return c.keypair, nil
	}
	kf, err := readKeyfile(c.path, c.password)
	if err != nil {
		return nil, fmt.Errorf("loading coldkey: %w", err)
	}
	seed, err := kf.seed()
	if err != nil {
		return nil, fmt.Errorf("loading coldkey: %w", err)
	}
	kp, err := substrate.KeypairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("loading coldkey: %w", err)
	}
	if c.public != nil && string(c.public) != string(kp.PublicKey()) {
		return nil, fmt.Errorf("%w: coldkey does not match %s", ErrMalformedKey, coldkeyPubFile)
	}
	c.keypair = kp
	c.public = kp.PublicKey()
	return kp, nil
}

// PublicKey is nil until the public half is known from coldkeypub.txt or Load.
func (c *Coldkey) PublicKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.public...)
}

func (c *Coldkey) Sign(msg []byte) ([]byte, error) {
	kp, err := c.load()
	if err != nil {
		return nil, err
	}
	return kp.Sign(msg)
}

func (c *Coldkey) Address(prefix uint16) string {
	pub := c.PublicKey()
	if pub == nil {
		return ""
	}
	return substrate.SS58Encode(pub, prefix)
}
