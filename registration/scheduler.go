package registration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/shared"
)

type State int

const (
	StateWaiting State = iota
	StateActive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// WindowReport summarizes a closed window.
type WindowReport struct {
	Window    Window
	Attempted int
	// Outcomes are ordered by slot.
	Outcomes []Outcome
}

func (r WindowReport) Submitted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

func (r WindowReport) Failed() int {
	return len(r.Outcomes) - r.Submitted()
}

// Scheduler drives a single window: it maps every new block to a slot
// and launches the submission of the identity owning that slot.
// A Scheduler is used for exactly one window.
type Scheduler struct {
	window    Window
	netuid    uint16
	roster    []shared.Identity
	submitter Submitter
	logger    *zap.Logger

	// stallTimeout bounds the silence between two head notifications. Zero disables it.
	stallTimeout time.Duration
	progress     chan struct{}

	mu        sync.Mutex
	state     State
	attempted map[int]struct{}

	doneOnce sync.Once
	done     chan struct{}

	inflight   sync.WaitGroup
	outcomesMu sync.Mutex
	outcomes   []Outcome
}

type schedulerOptionFunc func(*Scheduler)

// WithStallTimeout makes Run give up on a head subscription that delivered
// nothing for timeout.
func WithStallTimeout(timeout time.Duration) schedulerOptionFunc {
	return func(s *Scheduler) {
		s.stallTimeout = timeout
	}
}

// NewScheduler creates the scheduler of window. Identities beyond the window's slot count are ignored.
func NewScheduler(
	window Window,
	netuid uint16,
	roster []shared.Identity,
	submitter Submitter,
	logger *zap.Logger,
	opts ...schedulerOptionFunc,
) *Scheduler {
	if uint64(len(roster)) > window.MaxSlots {
		roster = roster[:window.MaxSlots]
	}
	s := &Scheduler{
		window:    window,
		netuid:    netuid,
		roster:    roster,
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		progress:  make(chan struct{}, 1),
		attempted: make(map[int]struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the window closed.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// OnBlock handles a new block and reports whether the block subscription should stop.
// Calls must not overlap; in-flight submissions outlive ctx.
func (s *Scheduler) OnBlock(ctx context.Context, block shared.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.progress <- struct{}{}:
	default:
	}
	if s.state == StateDone {
		return true
	}
	blocksMetric.Inc()
	heightMetric.Set(float64(block.Height))

	h := block.Height
	logger := s.logger.With(zap.Uint64("height", h), zap.String("position", s.window.Position(h)))
	switch {
	case h < s.window.Start:
		logger.Debug("waiting for window", zap.Uint64("blocks_left", s.window.Start-h))
		return false
	case h > s.window.End:
		logger.Info("chain moved past the window")
		s.finish()
		return true
	}

	slot, _ := s.window.SlotIndex(h)
	if _, ok := s.attempted[slot]; !ok && slot < len(s.roster) {
		s.attempted[slot] = struct{}{}
		s.state = StateActive
		identity := s.roster[slot]
		logger.Info("submitting registration", zap.Int("slot", slot), zap.Object("hotkey", identity))
		s.launch(ctx, slot, identity, h)
	}

	if len(s.attempted) >= min(len(s.roster), int(s.window.MaxSlots)) {
		s.finish()
		return true
	}
	return false
}

func (s *Scheduler) launch(ctx context.Context, slot int, identity shared.Identity, height uint64) {
	ctx = logging.NewContext(context.WithoutCancel(ctx), s.logger)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		outcome := s.submitter.Submit(ctx, slot, identity, s.netuid, height)
		s.outcomesMu.Lock()
		s.outcomes = append(s.outcomes, outcome)
		s.outcomesMu.Unlock()
	}()
}

// finish must be called with mu held.
func (s *Scheduler) finish() {
	s.state = StateDone
	s.doneOnce.Do(func() {
		attemptedSlotsMetric.Observe(float64(len(s.attempted)))
		s.logger.Info("window closed", zap.Int("attempted", len(s.attempted)))
		close(s.done)
	})
}

// Run subscribes to blocks and drives the window until it closes.
// It waits for in-flight submissions before building the report unless ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, source BlockSource) (WindowReport, error) {
	s.logger.Info("scheduling window", zap.Object("window", s.window), zap.Int("roster", len(s.roster)))

	sub, err := source.SubscribeBlocks(ctx, func(block shared.Block) bool {
		return s.OnBlock(ctx, block)
	})
	if err != nil {
		return WindowReport{Window: s.window}, fmt.Errorf("subscribing to blocks: %w", err)
	}
	defer sub.Unsubscribe()

	var stalled <-chan time.Time
	if s.stallTimeout > 0 {
		timer := time.NewTimer(s.stallTimeout)
		defer timer.Stop()
		stalled = timer.C
		defer s.watchProgress(timer)()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return s.report(), ctx.Err()
	case err := <-sub.Err():
		if closed := s.subscriptionEnded(ctx, err); closed != nil {
			return s.report(), closed
		}
	case <-stalled:
		s.logger.Warn("head subscription stalled", zap.Duration("timeout", s.stallTimeout))
		sub.Unsubscribe()
		stall := fmt.Errorf("no block for %s", s.stallTimeout)
		if closed := s.subscriptionEnded(ctx, stall); closed != nil {
			return s.report(), closed
		}
	}
	sub.Unsubscribe()
	s.inflight.Wait()
	return s.report(), nil
}

// watchProgress pushes timer back on every head notification until the returned func is called.
func (s *Scheduler) watchProgress(timer *time.Timer) (stop func()) {
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-quit:
				return
			case <-s.done:
				return
			case <-s.progress:
				if !timer.Stop() {
					// The timer fired already; Run observes it.
					return
				}
				timer.Reset(s.stallTimeout)
			}
		}
	}()
	return func() {
		close(quit)
		<-exited
	}
}

// subscriptionEnded returns nil when the subscription ended because the window closed.
func (s *Scheduler) subscriptionEnded(ctx context.Context, err error) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.inflight.Wait()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscriptionClosed, err)
	}
	return ErrSubscriptionClosed
}

func (s *Scheduler) report() WindowReport {
	s.mu.Lock()
	attempted := len(s.attempted)
	s.mu.Unlock()

	s.outcomesMu.Lock()
	outcomes := append([]Outcome(nil), s.outcomes...)
	s.outcomesMu.Unlock()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Slot < outcomes[j].Slot })

	return WindowReport{Window: s.window, Attempted: attempted, Outcomes: outcomes}
}
