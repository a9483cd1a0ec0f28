package registration

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// SubnetParameters is a snapshot of the on-chain values the window is derived from.
type SubnetParameters struct {
	Netuid               uint16
	AdjustmentInterval   uint64
	LastAdjustmentHeight uint64
	Burn                 Balance
}

// NextBoundary returns the height at which the subnet admits its next batch of registrations.
func NextBoundary(params SubnetParameters) uint64 {
	return params.LastAdjustmentHeight + params.AdjustmentInterval
}

// Window is the range of heights [Start, End] in which registrations are submitted,
// one slot per block.
type Window struct {
	Boundary  uint64
	PreOffset uint64
	MaxSlots  uint64
	Start     uint64
	End       uint64
}

func NewWindow(boundary, preOffset, maxSlots uint64) Window {
	start := boundary - min(preOffset, boundary)
	return Window{
		Boundary:  boundary,
		PreOffset: preOffset,
		MaxSlots:  maxSlots,
		Start:     start,
		End:       start + max(maxSlots, 1) - 1,
	}
}

// SlotIndex maps a height to its slot. The second value is false outside the window.
func (w Window) SlotIndex(height uint64) (int, bool) {
	if height < w.Start || height > w.End {
		return 0, false
	}
	return int(height - w.Start), true
}

// Position labels a height relative to the boundary: "epoch-2", "epoch", "epoch+1".
func (w Window) Position(height uint64) string {
	switch {
	case height == w.Boundary:
		return "epoch"
	case height < w.Boundary:
		return fmt.Sprintf("epoch-%d", w.Boundary-height)
	default:
		return fmt.Sprintf("epoch+%d", height-w.Boundary)
	}
}

// implement zap.ObjectMarshaler interface.
func (w Window) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("boundary", w.Boundary)
	enc.AddUint64("start", w.Start)
	enc.AddUint64("end", w.End)
	enc.AddUint64("slots", w.MaxSlots)
	return nil
}

// ETA estimates the wall-clock time until the chain reaches boundary.
// It is advisory only; submissions are triggered by block arrival.
func ETA(current, boundary uint64, blockTime time.Duration) time.Duration {
	if boundary <= current {
		return 0
	}
	return time.Duration(boundary-current) * blockTime
}
