package registration

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"
)

func DefaultConfig() Config {
	return Config{
		Netuid:       1,
		MaxSlots:     6,
		PreOffset:    1,
		Tip:          1_000_000,
		EraPeriod:    5,
		BlockTime:    12 * time.Second,
		SafetyMargin: 5,
		StallBlocks:  5,
		IdleBuffer:   30 * time.Second,
		Cooldown:     60 * time.Second,
		Backoff:      60 * time.Second,
		MaxBackoff:   10 * time.Minute,
	}
}

//nolint:lll
type Config struct {
	Netuid uint16 `long:"netuid" env:"NETUID" description:"The subnet to register on"`

	MaxSlots  uint64  `long:"max-slots"    env:"MAX_SLOTS"        description:"The number of consecutive blocks (and hotkeys) used per window"`
	PreOffset uint64  `long:"start-offset" env:"START_OFFSET"     description:"How many blocks before the adjustment boundary the window opens"`
	Tip       uint64  `long:"tip"          env:"REGISTRATION_TIP" description:"Priority tip attached to every registration, in rao"`
	EraPeriod uint64  `long:"era-period"   env:"ERA_PERIOD"       description:"Mortality of registration transactions in blocks"`
	MaxBurn   Balance `long:"max-burn"     env:"REGISTER_COST_LIMIT" description:"Skip windows whose burn cost exceeds this amount in TAO (0 disables the check)"`

	BlockTime    time.Duration `long:"block-time"    description:"Expected block production interval"`
	SafetyMargin uint64        `long:"safety-margin" description:"Blocks of slack kept between waking up and the window start"`
	StallBlocks  uint64        `long:"stall-blocks"  description:"Block times without a new head after which the subscription is restarted (0 disables the check)"`
	IdleBuffer   time.Duration `long:"idle-buffer"   description:"Extra wait past the boundary when every hotkey is already registered"`
	Cooldown     time.Duration `long:"cooldown"      description:"Pause after a window closed"`
	Backoff      time.Duration `long:"backoff"       description:"Initial delay after a failed cycle, doubled on every consecutive failure"`
	MaxBackoff   time.Duration `long:"max-backoff"   description:"Upper bound of the failure delay"`
}

// StallTimeout is how long a head subscription may stay silent.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.StallBlocks) * c.BlockTime
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.MaxSlots == 0 {
		result = multierror.Append(result, errors.New("max-slots must be positive"))
	}
	if c.EraPeriod == 0 {
		result = multierror.Append(result, errors.New("era-period must be positive"))
	}
	if c.BlockTime <= 0 {
		result = multierror.Append(result, errors.New("block-time must be positive"))
	}
	if c.Backoff <= 0 {
		result = multierror.Append(result, errors.New("backoff must be positive"))
	}
	if c.MaxBackoff < c.Backoff {
		result = multierror.Append(result, errors.New("max-backoff must not be shorter than backoff"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return &ConfigurationError{Reason: "invalid registration options", Err: err}
	}
	return nil
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint16("netuid", c.Netuid)
	enc.AddUint64("max_slots", c.MaxSlots)
	enc.AddUint64("pre_offset", c.PreOffset)
	enc.AddUint64("tip_rao", c.Tip)
	enc.AddUint64("era_period", c.EraPeriod)
	if c.MaxBurn > 0 {
		enc.AddString("max_burn", c.MaxBurn.String())
	}
	enc.AddDuration("block_time", c.BlockTime)
	enc.AddUint64("safety_margin", c.SafetyMargin)
	enc.AddUint64("stall_blocks", c.StallBlocks)
	enc.AddDuration("cooldown", c.Cooldown)
	enc.AddDuration("backoff", c.Backoff)
	enc.AddDuration("max_backoff", c.MaxBackoff)
	return nil
}
