package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/shared"
)

type CycleResult string

const (
	// ResultIdle means every identity was already registered.
	ResultIdle CycleResult = "idle"
	// ResultWindow means a window was scheduled and ran to completion.
	ResultWindow CycleResult = "window"
	// ResultTooExpensive means the burn cost exceeded the configured limit.
	ResultTooExpensive CycleResult = "too-expensive"
)

// Report describes one cycle iteration.
type Report struct {
	Result     CycleResult
	Height     uint64
	Params     SubnetParameters
	Window     Window
	Members    int
	NonMembers int
	// Deferred identities did not fit into the window and wait for a later cycle.
	Deferred int
	// Scheduled is only set for ResultWindow.
	Scheduled WindowReport
}

// Cycle repeatedly plans and runs registration windows for a fixed set of identities.
type Cycle struct {
	chain      ChainClient
	identities []shared.Identity
	cfg        Config
	clock      Clock
	submitter  Submitter
}

type newCycleOptionFunc func(*newCycleOptions)

type newCycleOptions struct {
	clock     Clock
	submitter Submitter
}

func WithClock(clock Clock) newCycleOptionFunc {
	return func(opts *newCycleOptions) {
		opts.clock = clock
	}
}

// WithSubmitter replaces the default Pipeline.
func WithSubmitter(submitter Submitter) newCycleOptionFunc {
	return func(opts *newCycleOptions) {
		opts.submitter = submitter
	}
}

func NewCycle(chain ChainClient, identities []shared.Identity, cfg Config, opts ...newCycleOptionFunc) *Cycle {
	options := newCycleOptions{
		clock: realClock{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.submitter == nil {
		options.submitter = NewPipeline(chain, cfg)
	}
	return &Cycle{
		chain:      chain,
		identities: identities,
		cfg:        cfg,
		clock:      options.clock,
		submitter:  options.submitter,
	}
}

// Run iterates until ctx is cancelled. Chain failures are retried after a growing delay;
// only configuration errors end the loop.
func (c *Cycle) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("cycle")
	logger.Info("starting registration cycle",
		zap.Object("config", &c.cfg),
		zap.Int("identities", len(c.identities)),
	)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		cycleLogger := logger.With(zap.String("cycle_id", uuid.New().String()))
		report, err := c.Iterate(logging.NewContext(ctx, cycleLogger))
		switch {
		case err == nil:
			failures = 0
			cyclesMetric.WithLabelValues(string(report.Result)).Inc()
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrBoundaryPassed):
			cyclesMetric.WithLabelValues("boundary-passed").Inc()
			cycleLogger.Info("boundary already passed, re-planning after one block", zap.Error(err))
			if err := c.clock.Sleep(ctx, c.cfg.BlockTime); err != nil {
				return nil
			}
			continue
		}

		class := Classify(err)
		cyclesMetric.WithLabelValues(class.String()).Inc()
		if class == ClassConfiguration {
			return err
		}
		failures++
		delay := BackoffDelay(c.cfg.Backoff, c.cfg.MaxBackoff, failures)
		cycleLogger.Error("registration cycle failed",
			zap.Error(err),
			zap.Stringer("class", class),
			zap.Int("consecutive_failures", failures),
			zap.Duration("retry_in", delay),
		)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// Iterate plans the next window and runs it to completion.
func (c *Cycle) Iterate(ctx context.Context) (Report, error) {
	logger := logging.FromContext(ctx)
	netuid := c.cfg.Netuid

	height, err := c.chain.CurrentHeight(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("querying current height: %w", err)
	}
	heightMetric.Set(float64(height))
	hyper, err := c.chain.SubnetHyperparameters(ctx, netuid)
	if err != nil {
		return Report{}, fmt.Errorf("querying subnet %d hyperparameters: %w", netuid, err)
	}
	last, err := c.chain.LastAdjustmentHeight(ctx, netuid)
	if err != nil {
		return Report{}, fmt.Errorf("querying subnet %d last adjustment: %w", netuid, err)
	}

	report := Report{
		Height: height,
		Params: SubnetParameters{
			Netuid:               netuid,
			AdjustmentInterval:   hyper.AdjustmentInterval,
			LastAdjustmentHeight: last,
			Burn:                 hyper.Burn,
		},
	}
	boundary := NextBoundary(report.Params)
	if boundary <= height {
		return report, fmt.Errorf("%w: boundary %d, height %d", ErrBoundaryPassed, boundary, height)
	}
	report.Window = NewWindow(boundary, c.cfg.PreOffset, c.cfg.MaxSlots)
	eta := ETA(height, boundary, c.cfg.BlockTime)
	logger.Info("planned next window",
		zap.Uint64("height", height),
		zap.Object("window", report.Window),
		zap.Duration("eta", eta),
		zap.Stringer("burn", hyper.Burn),
	)

	snapshot, err := c.chain.MembershipSnapshot(ctx, netuid)
	if err != nil {
		return report, fmt.Errorf("querying subnet %d members: %w", netuid, err)
	}
	members, nonMembers := Partition(c.identities, snapshot)
	report.Members, report.NonMembers = len(members), len(nonMembers)

	if len(nonMembers) == 0 {
		report.Result = ResultIdle
		logger.Info("all hotkeys registered, idling past the boundary", zap.Int("members", len(members)))
		return report, c.clock.Sleep(ctx, eta+c.cfg.IdleBuffer)
	}
	if c.cfg.MaxBurn > 0 && hyper.Burn > c.cfg.MaxBurn {
		report.Result = ResultTooExpensive
		logger.Warn("burn cost above limit, skipping window",
			zap.Stringer("burn", hyper.Burn),
			zap.Stringer("limit", c.cfg.MaxBurn),
		)
		return report, c.clock.Sleep(ctx, eta+c.cfg.IdleBuffer)
	}

	roster := nonMembers[:min(uint64(len(nonMembers)), c.cfg.MaxSlots)]
	report.Deferred = len(nonMembers) - len(roster)
	if report.Deferred > 0 {
		logger.Info("more unregistered hotkeys than slots, deferring the rest",
			zap.Int("scheduled", len(roster)),
			zap.Int("deferred", report.Deferred),
		)
	}
	for slot, identity := range roster {
		logger.Info("roster entry",
			zap.Int("slot", slot),
			zap.String("hotkey", identity.Label),
			zap.String("address", identity.Address),
		)
	}

	lead := max(c.cfg.MaxSlots, c.cfg.PreOffset) + c.cfg.SafetyMargin
	if blocksLeft := boundary - height; blocksLeft > lead {
		wait := time.Duration(blocksLeft-lead) * c.cfg.BlockTime
		logger.Info("sleeping until shortly before the window", zap.Duration("sleep", wait))
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return report, err
		}
	}

	scheduler := NewScheduler(report.Window, netuid, roster, c.submitter, logger,
		WithStallTimeout(c.cfg.StallTimeout()))
	report.Scheduled, err = scheduler.Run(ctx, c.chain)
	if err != nil {
		return report, err
	}
	report.Result = ResultWindow
	logger.Info("window finished",
		zap.Int("attempted", report.Scheduled.Attempted),
		zap.Int("submitted", report.Scheduled.Submitted()),
		zap.Int("failed", report.Scheduled.Failed()),
	)
	for _, outcome := range report.Scheduled.Outcomes {
		logger.Debug("slot outcome", zap.Object("outcome", outcome))
	}

	return report, c.clock.Sleep(ctx, c.cfg.Cooldown)
}

// BackoffDelay returns base doubled once per consecutive failure after the first, capped at limit.
func BackoffDelay(base, limit time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}
