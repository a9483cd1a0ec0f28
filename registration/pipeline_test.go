package registration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/registration/mocks"
	"github.com/epochreg/regbot/shared"
)

func TestPipeline_Submit(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	chain := mocks.NewMockChainClient(gomock.NewController(t))
	id := makeIdentities(1)[0]

	call := shared.Call{7, 7, 1, 0}
	envelope := shared.Call{11, 4, 4, 7, 7, 1, 0}
	cfg := registration.DefaultConfig()

	gomock.InOrder(
		chain.EXPECT().ComposeRegistration(gomock.Any(), uint16(1), id.Address).Return(call, nil),
		chain.EXPECT().WrapAtomic(gomock.Any(), []shared.Call{call}).Return(envelope, nil),
		chain.EXPECT().SignAndSubmit(gomock.Any(), envelope, id.Signer, registration.SubmitOptions{
			EraStart:  1357,
			EraPeriod: cfg.EraPeriod,
			Tip:       registration.Balance(cfg.Tip),
		}).Return(registration.SubmissionResult{Hash: "0xabc", Nonce: 3, Prepared: time.Millisecond}, nil),
	)

	outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 0, id, 1, 1358)
	require.True(t, outcome.Succeeded())
	require.Equal(t, "0xabc", outcome.Result.Hash)
	require.Equal(t, 0, outcome.Slot)
	require.EqualValues(t, 1358, outcome.Height)
}

func TestPipeline_FailuresBecomeOutcomes(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	cfg := registration.DefaultConfig()
	id := makeIdentities(1)[0]
	boom := errors.New("boom")

	t.Run("compose", func(t *testing.T) {
		chain := mocks.NewMockChainClient(gomock.NewController(t))
		chain.EXPECT().ComposeRegistration(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom)

		outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 1, id, 1, 10)
		var subErr *registration.SubmissionError
		require.ErrorAs(t, outcome.Err, &subErr)
		require.Equal(t, registration.StageCompose, subErr.Stage)
		require.Equal(t, id.Address, subErr.Address)
		require.ErrorIs(t, outcome.Err, boom)
	})
	t.Run("wrap", func(t *testing.T) {
		chain := mocks.NewMockChainClient(gomock.NewController(t))
		chain.EXPECT().ComposeRegistration(gomock.Any(), gomock.Any(), gomock.Any()).Return(shared.Call{1}, nil)
		chain.EXPECT().WrapAtomic(gomock.Any(), gomock.Any()).Return(nil, boom)

		outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 1, id, 1, 10)
		var subErr *registration.SubmissionError
		require.ErrorAs(t, outcome.Err, &subErr)
		require.Equal(t, registration.StageWrap, subErr.Stage)
	})
	t.Run("submit is attempted once", func(t *testing.T) {
		chain := mocks.NewMockChainClient(gomock.NewController(t))
		chain.EXPECT().ComposeRegistration(gomock.Any(), gomock.Any(), gomock.Any()).Return(shared.Call{1}, nil)
		chain.EXPECT().WrapAtomic(gomock.Any(), gomock.Any()).Return(shared.Call{2}, nil)
		chain.EXPECT().SignAndSubmit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Times(1).
			Return(registration.SubmissionResult{}, registration.Transient("author_submitExtrinsic", boom))

		outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 1, id, 1, 10)
		var subErr *registration.SubmissionError
		require.ErrorAs(t, outcome.Err, &subErr)
		require.Equal(t, registration.StageSubmit, subErr.Stage)
		require.Equal(t, registration.ClassSubmission, registration.Classify(outcome.Err))
	})
	t.Run("panic", func(t *testing.T) {
		chain := mocks.NewMockChainClient(gomock.NewController(t))
		chain.EXPECT().ComposeRegistration(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, uint16, string) (shared.Call, error) {
				panic("unexpected runtime layout")
			})

		outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 4, id, 1, 10)
		var subErr *registration.SubmissionError
		require.ErrorAs(t, outcome.Err, &subErr)
		require.Equal(t, registration.StagePanic, subErr.Stage)
		require.Equal(t, 4, outcome.Slot)
	})
	t.Run("no signer", func(t *testing.T) {
		chain := mocks.NewMockChainClient(gomock.NewController(t))
		unsigned := shared.Identity{Address: "5NoSigner", Label: "none"}

		outcome := registration.NewPipeline(chain, cfg).Submit(ctx, 0, unsigned, 1, 10)
		require.ErrorIs(t, outcome.Err, registration.ErrNoSigner)
	})
}

func TestPipeline_FailureLogsElapsed(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	ctx := logging.NewContext(context.Background(), zap.New(core))
	chain := mocks.NewMockChainClient(gomock.NewController(t))
	chain.EXPECT().ComposeRegistration(gomock.Any(), gomock.Any(), gomock.Any()).Return(shared.Call{1}, nil)
	chain.EXPECT().WrapAtomic(gomock.Any(), gomock.Any()).Return(shared.Call{2}, nil)
	chain.EXPECT().SignAndSubmit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, shared.Call, shared.Signer, registration.SubmitOptions) (registration.SubmissionResult, error) {
			time.Sleep(20 * time.Millisecond)
			return registration.SubmissionResult{}, errors.New("pool is full")
		})

	outcome := registration.NewPipeline(chain, registration.DefaultConfig()).Submit(ctx, 2, makeIdentities(1)[0], 1, 10)
	require.Error(t, outcome.Err)
	require.GreaterOrEqual(t, outcome.Latency, 20*time.Millisecond)

	failed := logs.FilterMessage("registration failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	require.Equal(t, outcome.Latency, fields["elapsed"])
	require.Equal(t, string(registration.StageSubmit), fields["stage"])
}
