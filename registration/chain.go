package registration

import (
	"context"
	"time"

	"github.com/epochreg/regbot/shared"
)

//go:generate mockgen -package mocks -destination mocks/chain.go . ChainClient,Subscription

// ChainClient is the RPC surface the bot needs from the chain.
type ChainClient interface {
	BlockSource

	CurrentHeight(ctx context.Context) (uint64, error)
	SubnetHyperparameters(ctx context.Context, netuid uint16) (Hyperparameters, error)
	LastAdjustmentHeight(ctx context.Context, netuid uint16) (uint64, error)
	// MembershipSnapshot returns the addresses registered on the subnet at one instant.
	MembershipSnapshot(ctx context.Context, netuid uint16) (map[string]struct{}, error)

	ComposeRegistration(ctx context.Context, netuid uint16, address string) (shared.Call, error)
	// WrapAtomic wraps calls in a batch envelope the chain applies as one unit.
	WrapAtomic(ctx context.Context, calls []shared.Call) (shared.Call, error)
	SignAndSubmit(
		ctx context.Context,
		envelope shared.Call,
		signer shared.Signer,
		opts SubmitOptions,
	) (SubmissionResult, error)
}

// BlockSource pushes new block notifications.
type BlockSource interface {
	// SubscribeBlocks calls onBlock sequentially for every new block header, in arrival order.
	// Returning true from onBlock ends the subscription.
	SubscribeBlocks(ctx context.Context, onBlock func(shared.Block) bool) (Subscription, error)
}

type Subscription interface {
	// Unsubscribe tears the subscription down. It is safe to call more than once.
	Unsubscribe()
	// Err delivers a terminal subscription failure. It is closed when the subscription ends.
	Err() <-chan error
}

type Hyperparameters struct {
	AdjustmentInterval uint64
	// Burn is the current registration cost in rao.
	Burn Balance
}

type SubmitOptions struct {
	// EraStart anchors the mortal era the transaction is valid in.
	EraStart  uint64
	EraPeriod uint64
	Tip       Balance

	WaitForInclusion    bool
	WaitForFinalization bool
}

type SubmissionResult struct {
	// Hash is the extrinsic hash reported by the node.
	Hash  string
	Nonce uint64
	// Prepared is the time spent signing before the extrinsic went on the wire.
	Prepared time.Duration
	// InBlock and Finalized are only set when waiting for them was requested.
	InBlock   string
	Finalized string
}
