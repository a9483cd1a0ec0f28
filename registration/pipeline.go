package registration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/shared"
)

// Submitter performs one registration attempt for the identity owning a slot.
type Submitter interface {
	Submit(ctx context.Context, slot int, identity shared.Identity, netuid uint16, height uint64) Outcome
}

// Outcome is the result of one slot's submission attempt.
type Outcome struct {
	Slot     int
	Height   uint64
	Identity shared.Identity
	Result   SubmissionResult
	// Err is a *SubmissionError when the attempt failed.
	Err     error
	Latency time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// implement zap.ObjectMarshaler interface.
func (o Outcome) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("slot", o.Slot)
	enc.AddUint64("height", o.Height)
	enc.AddString("hotkey", o.Identity.Label)
	enc.AddDuration("latency", o.Latency)
	if o.Err != nil {
		enc.AddString("error", o.Err.Error())
	} else {
		enc.AddString("extrinsic", o.Result.Hash)
	}
	return nil
}

// Pipeline composes, wraps, signs and submits a registration in one pass.
// It makes exactly one submission attempt per call.
type Pipeline struct {
	chain     ChainClient
	eraPeriod uint64
	tip       Balance
}

func NewPipeline(chain ChainClient, cfg Config) *Pipeline {
	return &Pipeline{
		chain:     chain,
		eraPeriod: cfg.EraPeriod,
		tip:       Balance(cfg.Tip),
	}
}

// Submit never returns an error: every failure, including a panic, ends up in the Outcome.
func (p *Pipeline) Submit(
	ctx context.Context,
	slot int,
	identity shared.Identity,
	netuid uint16,
	height uint64,
) (outcome Outcome) {
	logger := logging.FromContext(ctx).With(zap.Int("slot", slot), zap.Object("hotkey", identity))
	started := time.Now()
	outcome = Outcome{Slot: slot, Height: height, Identity: identity}

	fail := func(stage Stage, err error) Outcome {
		outcome.Err = &SubmissionError{Slot: slot, Address: identity.Address, Stage: stage, Err: err}
		outcome.Latency = time.Since(started)
		submissionsMetric.WithLabelValues("failed").Inc()
		logger.Error("registration failed",
			zap.String("stage", string(stage)),
			zap.Duration("elapsed", outcome.Latency),
			zap.Error(err),
		)
		return outcome
	}
	defer func() {
		if r := recover(); r != nil {
			outcome = fail(StagePanic, fmt.Errorf("%v", r))
		}
	}()

	if identity.Signer == nil {
		return fail(StageSubmit, ErrNoSigner)
	}
	call, err := p.chain.ComposeRegistration(ctx, netuid, identity.Address)
	if err != nil {
		return fail(StageCompose, err)
	}
	envelope, err := p.chain.WrapAtomic(ctx, []shared.Call{call})
	if err != nil {
		return fail(StageWrap, err)
	}

	opts := SubmitOptions{
		EraStart:  height - min(height, 1),
		EraPeriod: p.eraPeriod,
		Tip:       p.tip,
	}
	result, err := p.chain.SignAndSubmit(ctx, envelope, identity.Signer, opts)
	if err != nil {
		return fail(StageSubmit, err)
	}

	outcome.Result = result
	outcome.Latency = time.Since(started)
	submissionsMetric.WithLabelValues("submitted").Inc()
	submissionLatencyMetric.WithLabelValues("prepare").Observe(result.Prepared.Seconds())
	submissionLatencyMetric.WithLabelValues("total").Observe(outcome.Latency.Seconds())
	logger.Info("registration submitted",
		zap.String("extrinsic", result.Hash),
		zap.Uint64("nonce", result.Nonce),
		zap.Duration("prepare", result.Prepared),
		zap.Duration("total", outcome.Latency),
	)
	return outcome
}
