package registration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RaoPerTAO is the number of base units in one TAO.
const RaoPerTAO = 1_000_000_000

var ErrInvalidBalance = errors.New("invalid balance")

// Balance is an amount in rao.
type Balance uint64

func (b Balance) String() string {
	return fmt.Sprintf("τ%d.%09d", uint64(b)/RaoPerTAO, uint64(b)%RaoPerTAO)
}

// ParseBalance parses a TAO amount such as "1", "0.25" or "1.000000001".
// A "rao" suffix ("1000000rao") denotes base units.
func ParseBalance(value string) (Balance, error) {
	value = strings.TrimSpace(value)
	if raw, ok := strings.CutSuffix(value, "rao"); ok {
		rao, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, value)
		}
		return Balance(rao), nil
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, value)
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("%w: %q has more than 9 decimals", ErrInvalidBalance, value)
	}
	var w, f uint64
	var err error
	if whole != "" {
		if w, err = strconv.ParseUint(whole, 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, value)
		}
	}
	if frac != "" {
		if f, err = strconv.ParseUint(frac+strings.Repeat("0", 9-len(frac)), 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidBalance, value)
		}
	}
	if w > (^uint64(0)-f)/RaoPerTAO {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidBalance, value)
	}
	return Balance(w*RaoPerTAO + f), nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (b *Balance) UnmarshalFlag(value string) error {
	v, err := ParseBalance(value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}
