package registration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/shared"
)

type stubSigner struct {
	pub []byte
	err error
}

func (s *stubSigner) PublicKey() []byte {
	return s.pub
}

func (s *stubSigner) Sign(msg []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]byte, 64), nil
}

func makeIdentities(n int) []shared.Identity {
	signer := &stubSigner{pub: make([]byte, 32)}
	ids := make([]shared.Identity, n)
	for i := range ids {
		ids[i] = shared.Identity{
			Address: fmt.Sprintf("5Hotkey%02d", i),
			Label:   fmt.Sprintf("hk%02d", i),
			Signer:  signer,
		}
	}
	return ids
}

// blockFeed replays a fixed sequence of heights to the subscriber.
type blockFeed struct {
	heights []uint64
	// endErr is delivered when the feed runs out of heights before the subscriber stopped it.
	endErr error
	// silent keeps the subscription open without notifications once the heights ran out.
	silent bool

	mu           sync.Mutex
	delivered    []uint64
	unsubscribed int
}

func (f *blockFeed) SubscribeBlocks(
	ctx context.Context,
	onBlock func(shared.Block) bool,
) (registration.Subscription, error) {
	sub := &feedSubscription{feed: f, stop: make(chan struct{}), errs: make(chan error, 1)}
	go func() {
		defer close(sub.errs)
		for _, h := range f.heights {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			f.mu.Lock()
			f.delivered = append(f.delivered, h)
			f.mu.Unlock()
			if onBlock(shared.Block{Height: h}) {
				return
			}
		}
		if f.silent {
			select {
			case <-sub.stop:
			case <-ctx.Done():
			}
			return
		}
		if f.endErr != nil {
			sub.errs <- f.endErr
		}
	}()
	return sub, nil
}

func (f *blockFeed) Delivered() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.delivered...)
}

type feedSubscription struct {
	feed *blockFeed
	once sync.Once
	stop chan struct{}
	errs chan error
}

func (s *feedSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		s.feed.unsubscribed++
		s.feed.mu.Unlock()
		close(s.stop)
	})
}

func (s *feedSubscription) Err() <-chan error {
	return s.errs
}

type submission struct {
	slot     int
	identity shared.Identity
	height   uint64
}

// recordingSubmitter records every attempt and fails the slots listed in failSlots.
type recordingSubmitter struct {
	failSlots map[int]bool

	mu    sync.Mutex
	calls []submission
}

func (r *recordingSubmitter) Submit(
	ctx context.Context,
	slot int,
	identity shared.Identity,
	netuid uint16,
	height uint64,
) registration.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, submission{slot: slot, identity: identity, height: height})
	r.mu.Unlock()

	outcome := registration.Outcome{Slot: slot, Height: height, Identity: identity}
	if r.failSlots[slot] {
		outcome.Err = &registration.SubmissionError{
			Slot:    slot,
			Address: identity.Address,
			Stage:   registration.StageSubmit,
			Err:     errors.New("signer failed"),
		}
		return outcome
	}
	outcome.Result = registration.SubmissionResult{Hash: fmt.Sprintf("0x%02x", slot)}
	return outcome
}

func (r *recordingSubmitter) Calls() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.calls...)
}

// blockingSubmitter holds every submission until release is closed.
type blockingSubmitter struct {
	release chan struct{}
	started chan int
}

func newBlockingSubmitter(slots int) *blockingSubmitter {
	return &blockingSubmitter{release: make(chan struct{}), started: make(chan int, slots)}
}

func (b *blockingSubmitter) Submit(
	ctx context.Context,
	slot int,
	identity shared.Identity,
	netuid uint16,
	height uint64,
) registration.Outcome {
	b.started <- slot
	<-b.release
	return registration.Outcome{
		Slot:     slot,
		Height:   height,
		Identity: identity,
		Result:   registration.SubmissionResult{Hash: fmt.Sprintf("0x%02x", slot)},
	}
}

func heightsBetween(from, to uint64) []uint64 {
	var out []uint64
	for h := from; h <= to; h++ {
		out = append(out, h)
	}
	return out
}
