// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/substrate"
)

const (
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultNetwork        = "finney"
	defaultWalletPath     = "~/.bittensor/wallets"
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultWatchTimeout   = 2 * time.Minute
)

// Config defines the configuration options for the bot.
type Config struct {
	Dir            string  `long:"dir"            description:"The base directory that contains the bot's logs and configuration file"`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                             short:"c"`
	LogDir         string  `long:"logdir"         description:"Directory to log output"`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	Chain        ChainConfig         `group:"Chain"`
	Wallet       WalletConfig        `group:"Wallet"`
	Registration registration.Config `group:"Registration"`
}

//nolint:lll
type ChainConfig struct {
	Network     string        `long:"network"      env:"NETWORK" description:"Network name (finney, test, archive, local) or a ws:// / wss:// endpoint"`
	SS58Prefix  uint16        `long:"ss58-prefix"  description:"Address format of the chain"`
	DialTimeout    time.Duration `long:"dial-timeout"    description:"Timeout for connecting to the node"`
	RequestTimeout time.Duration `long:"request-timeout" description:"Timeout for a single request to the node"`
	WatchTimeout   time.Duration `long:"watch-timeout"   description:"How long a watched registration waits for inclusion"`

	SubtensorPallet    uint8 `long:"subtensor-pallet"     description:"Pallet index of the subtensor module"`
	BurnedRegisterCall uint8 `long:"burned-register-call" description:"Call index of burned_register"`
	UtilityPallet      uint8 `long:"utility-pallet"       description:"Pallet index of the utility module"`
	ForceBatchCall     uint8 `long:"force-batch-call"     description:"Call index of force_batch"`
	MetadataHashExt    bool  `long:"metadata-hash-ext"    description:"Sign with the CheckMetadataHash extension (runtime has it enabled)"`
}

func (c ChainConfig) CallIndices() substrate.CallIndices {
	return substrate.CallIndices{
		BurnedRegister: substrate.CallIndex{Pallet: c.SubtensorPallet, Call: c.BurnedRegisterCall},
		ForceBatch:     substrate.CallIndex{Pallet: c.UtilityPallet, Call: c.ForceBatchCall},
	}
}

// implement zap.ObjectMarshaler interface.
func (c ChainConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("network", c.Network)
	enc.AddUint16("ss58-prefix", c.SS58Prefix)
	enc.AddBool("metadata-hash-ext", c.MetadataHashExt)
	enc.AddDuration("request-timeout", c.RequestTimeout)
	return nil
}

type WalletConfig struct {
	Path       string `long:"wallet-path"     env:"WALLET_PATH"     description:"Directory holding the wallets"`
	Coldkey    string `long:"coldkey"         env:"COLD_KEY"        description:"Name of the coldkey paying for registrations"`
	Password   string `long:"wallet-password" env:"WALLET_PASSWORD" description:"Password of an encrypted coldkey"`
	HotkeyGlob string `long:"hotkey-glob"     description:"Only register hotkeys whose file name matches this pattern"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	dir := "./regbot"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		dir = filepath.Join(cacheDir, "regbot")
	}
	calls := substrate.DefaultCallIndices()

	return &Config{
		Dir:            dir,
		LogDir:         filepath.Join(dir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Chain: ChainConfig{
			Network:            defaultNetwork,
			SS58Prefix:         substrate.DefaultSS58Prefix,
			DialTimeout:        defaultDialTimeout,
			RequestTimeout:     defaultRequestTimeout,
			WatchTimeout:       defaultWatchTimeout,
			SubtensorPallet:    calls.BurnedRegister.Pallet,
			BurnedRegisterCall: calls.BurnedRegister.Call,
			UtilityPallet:      calls.ForceBatch.Pallet,
			ForceBatchCall:     calls.ForceBatch.Call,
		},
		Wallet: WalletConfig{
			Path: defaultWalletPath,
		},
		Registration: registration.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments and the environment.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	defaultCfg := DefaultConfig()
	if cfg.Dir != defaultCfg.Dir && cfg.LogDir == defaultCfg.LogDir {
		cfg.LogDir = filepath.Join(cfg.Dir, defaultLogDirname)
	}

	cfg.Dir = cleanAndExpandPath(cfg.Dir)
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.Dir, err)
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.Wallet.Path = cleanAndExpandPath(cfg.Wallet.Path)

	return cfg, nil
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Wallet.Coldkey == "" {
		result = multierror.Append(result, errors.New("coldkey is required (--coldkey or COLD_KEY)"))
	}
	if c.Wallet.Path == "" {
		result = multierror.Append(result, errors.New("wallet-path is required"))
	}
	if _, err := substrate.ResolveEndpoint(c.Chain.Network); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Chain.DialTimeout <= 0 {
		result = multierror.Append(result, errors.New("dial-timeout must be positive"))
	}
	if c.Chain.RequestTimeout <= 0 {
		result = multierror.Append(result, errors.New("request-timeout must be positive"))
	}
	if err := c.Registration.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return &registration.ConfigurationError{Reason: "invalid options", Err: err}
	}
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
