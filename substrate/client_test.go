package substrate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/shared"
)

func newTestClient(t *testing.T, node *fakeNode, opts ...newClientOptionFunc) (context.Context, *Client) {
	t.Helper()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	client, err := New(ctx, node.Endpoint(), append([]newClientOptionFunc{WithDialTimeout(time.Second)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return ctx, client
}

type storageEntry struct {
	key   storageKey
	value []byte
}

func storageValues(entries ...storageEntry) map[string][]byte {
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[normalizeHex(e.key.Hex())] = e.value
	}
	return out
}

func TestClient_CurrentHeight(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	genesis := testHash(0x01)
	node.withRuntime(genesis)
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		return testHeader(100, 0x63), nil
	})
	ctx, client := newTestClient(t, node)

	height, err := client.CurrentHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 100, height)
	require.Equal(t, 1, node.Calls("chain_getBlockHash"), "genesis is fetched once")

	parent, err := client.BlockHash(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, testHash(0x63), parent)
	require.Equal(t, 1, node.Calls("chain_getBlockHash"), "parent hash comes from the header")

	_, err = client.CurrentHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, node.Calls("chain_getBlockHash"))
	require.Equal(t, 2, node.Calls("state_getRuntimeVersion"))
	require.Equal(t, 1, node.Dials())
}

func TestClient_SubnetQueries(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	alice := aliceKeypair(t)
	bob := testHash(0x02)
	node.withStorage(storageValues(
		storageEntry{networksAddedKey(1), []byte{1}},
		storageEntry{adjustmentIntervalKey(1), appendU16(nil, 360)},
		storageEntry{burnKey(1), binary.LittleEndian.AppendUint64(nil, registration.RaoPerTAO)},
		storageEntry{lastAdjustmentBlockKey(1), binary.LittleEndian.AppendUint64(nil, 1000)},
		storageEntry{subnetworkNKey(1), appendU16(nil, 3)},
		storageEntry{keysKey(1, 0), alice.PublicKey()},
		storageEntry{keysKey(1, 1), bob},
	))
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		return testHeader(1200, 0x10), nil
	})
	ctx, client := newTestClient(t, node)

	hyper, err := client.SubnetHyperparameters(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, registration.Hyperparameters{AdjustmentInterval: 360, Burn: registration.RaoPerTAO}, hyper)

	last, err := client.LastAdjustmentHeight(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1000, last)

	members, err := client.MembershipSnapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		alice.Address(DefaultSS58Prefix): {},
		SS58Encode(bob, DefaultSS58Prefix): {},
	}, members)

	_, err = client.SubnetHyperparameters(ctx, 2)
	var cfgErr *registration.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.ErrorIs(t, err, ErrSubnetNotFound)
}

func TestClient_SignAndSubmit(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	genesis := testHash(0x01)
	node.withRuntime(genesis)
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		return testHeader(1358, 0x33), nil
	})
	kp := aliceKeypair(t)

	var (
		mu        sync.Mutex
		submitted string
		account   string
	)
	node.Handle("system_accountNextIndex", func(params []json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(params[0], &account); err != nil {
			return nil, err
		}
		return 5, nil
	})
	node.Handle("author_submitExtrinsic", func(params []json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(params[0], &submitted); err != nil {
			return nil, err
		}
		return "0xfeed", nil
	})
	ctx, client := newTestClient(t, node)

	_, err := client.CurrentHeight(ctx)
	require.NoError(t, err)
	call, err := client.ComposeRegistration(ctx, 1, kp.Address(DefaultSS58Prefix))
	require.NoError(t, err)
	envelope, err := client.WrapAtomic(ctx, []shared.Call{call})
	require.NoError(t, err)

	opts := registration.SubmitOptions{EraStart: 1357, EraPeriod: 5, Tip: 1_000_000}
	result, err := client.SignAndSubmit(ctx, envelope, kp, opts)
	require.NoError(t, err)
	require.Equal(t, "0xfeed", result.Hash)
	require.EqualValues(t, 5, result.Nonce)
	require.Equal(t, 1, node.Calls("chain_getBlockHash"), "birth hash is served from the cache")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, kp.Address(DefaultSS58Prefix), account)

	ext, err := decodeHex(submitted)
	require.NoError(t, err)
	length, err := decodeCompact(ext)
	require.NoError(t, err)
	body := ext[len(appendCompact(nil, length)):]

	extra := signedExtra{era: MortalEra(5, 1357), nonce: 5, tip: 1_000_000}
	payload := signingPayload(envelope, extra, additionalSigned{
		specVersion:        201,
		transactionVersion: 1,
		genesisHash:        genesis,
		birthHash:          testHash(0x33),
	})
	ok, err := Verify(body[2:34], payload, body[35:99])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(envelope), body[99+len(extra.encode()):])
}

func TestClient_SubmitRejected(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	node.withRuntime(testHash(0x01))
	node.Handle("system_accountNextIndex", func([]json.RawMessage) (any, error) {
		return 0, nil
	})
	node.Handle("author_submitExtrinsic", func([]json.RawMessage) (any, error) {
		return nil, &rpcError{Code: 1014, Message: "Priority is too low"}
	})
	ctx, client := newTestClient(t, node)

	_, err := client.SignAndSubmit(ctx, shared.Call{11, 4, 0}, aliceKeypair(t), registration.SubmitOptions{EraStart: 10, EraPeriod: 5})
	require.Error(t, err)
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, 1014, rpcErr.Code)
	require.NotEqual(t, registration.ClassTransient, registration.Classify(err))
}

func TestClient_WatchExtrinsic(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	node.withRuntime(testHash(0x01))
	node.Handle("system_accountNextIndex", func([]json.RawMessage) (any, error) {
		return 1, nil
	})
	node.Handle("author_submitAndWatchExtrinsic", func([]json.RawMessage) (any, error) {
		return fakeSubscription{
			method: "author_extrinsicUpdate",
			notifications: []any{
				"ready",
				map[string]any{"broadcast": []string{"peer"}},
				map[string]any{"inBlock": "0xabc"},
				map[string]any{"finalized": "0xabc"},
			},
		}, nil
	})
	ctx, client := newTestClient(t, node)

	opts := registration.SubmitOptions{EraStart: 10, EraPeriod: 5, WaitForInclusion: true, WaitForFinalization: true}
	result, err := client.SignAndSubmit(ctx, shared.Call{11, 4, 0}, aliceKeypair(t), opts)
	require.NoError(t, err)
	require.Equal(t, "0xabc", result.InBlock)
	require.Equal(t, "0xabc", result.Finalized)
	require.Len(t, result.Hash, 66)

	node.Handle("author_submitAndWatchExtrinsic", func([]json.RawMessage) (any, error) {
		return fakeSubscription{method: "author_extrinsicUpdate", notifications: []any{"ready", "invalid"}}, nil
	})
	_, err = client.SignAndSubmit(ctx, shared.Call{11, 4, 0}, aliceKeypair(t), opts)
	require.ErrorIs(t, err, ErrExtrinsicRejected)
}

func TestClient_SubscribeBlocks(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	node.withRuntime(testHash(0x01))
	node.Handle("chain_subscribeNewHeads", func([]json.RawMessage) (any, error) {
		return fakeSubscription{
			method: "chain_newHead",
			notifications: []any{
				testHeader(10, 0x09),
				testHeader(11, 0x0a),
				// block 12 is missed
				testHeader(13, 0x0c),
				testHeader(14, 0x0d),
			},
		}, nil
	})
	ctx, client := newTestClient(t, node)

	var heights []uint64
	sub, err := client.SubscribeBlocks(ctx, func(block shared.Block) bool {
		heights = append(heights, block.Height)
		return block.Height >= 13
	})
	require.NoError(t, err)

	select {
	case err, ok := <-sub.Err():
		require.False(t, ok, "unexpected subscription error: %v", err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "subscription did not stop")
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	require.Equal(t, []uint64{10, 11, 13}, heights)
	hash, err := client.BlockHash(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, testHash(0x0c), hash)
	require.Zero(t, node.Calls("chain_getBlockHash"))
	require.Eventually(t, func() bool {
		return node.Calls("chain_unsubscribeNewHeads") == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	node.withRuntime(testHash(0x01))

	var mu sync.Mutex
	drop := true
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if drop {
			drop = false
			return nil, errDropConnection
		}
		return testHeader(42, 0x29), nil
	})
	ctx, client := newTestClient(t, node)

	_, err := client.CurrentHeight(ctx)
	require.Error(t, err)
	require.Equal(t, registration.ClassTransient, registration.Classify(err))

	height, err := client.CurrentHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, height)
	require.Equal(t, 2, node.Dials())
}

func TestClient_CancelledContext(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		<-block
		return testHeader(1, 0), nil
	})
	ctx, client := newTestClient(t, node)

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := client.CurrentHeight(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_MembershipSnapshotPinsOneBlock(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	const n = keysBatchSize + 44
	entries := []storageEntry{{subnetworkNKey(3), appendU16(nil, n)}}
	for uid := uint16(0); uid < n; uid++ {
		entries = append(entries, storageEntry{keysKey(3, uid), testHash(byte(uid))})
	}
	node.withStorage(storageValues(entries...))

	var mu sync.Mutex
	height := uint64(500)
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		// every request sees a newer head
		height++
		return testHeader(height, byte(height)), nil
	})
	ctx, client := newTestClient(t, node)

	members, err := client.MembershipSnapshot(ctx, 3)
	require.NoError(t, err)
	// uids sharing a hotkey collapse into one member
	require.Len(t, members, 256)
	require.Equal(t, 1, node.Calls("chain_getHeader"))

	first := uint64(501)
	head := testHeader(first, byte(first))
	pinned, err := head.block()
	require.NoError(t, err)
	at := node.StorageAt()
	require.Len(t, at, 3, "subnet size and two batches of hotkeys")
	for _, hash := range at {
		require.Equal(t, hexBytes(pinned.Hash), hash)
	}

	// plain queries still read the best block
	_, err = client.LastAdjustmentHeight(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "", node.StorageAt()[3])
}

func TestClient_RequestTimeout(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t)
	node.withRuntime(testHash(0x01))

	var mu sync.Mutex
	silent := true
	node.Handle("chain_getHeader", func([]json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if silent {
			silent = false
			return nil, errNoReply
		}
		return testHeader(42, 0x29), nil
	})
	ctx, client := newTestClient(t, node, WithRequestTimeout(100*time.Millisecond))

	started := time.Now()
	_, err := client.CurrentHeight(ctx)
	require.ErrorIs(t, err, ErrRequestTimeout)
	require.ErrorIs(t, err, registration.ErrTransientChain)
	require.Equal(t, registration.ClassTransient, registration.Classify(err))
	require.Less(t, time.Since(started), 5*time.Second)

	// the connection stays usable
	height, err := client.CurrentHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, height)
	require.Equal(t, 1, node.Dials())
}

func TestClient_SubmissionFinishesOnSilentNode(t *testing.T) {
	t.Parallel()
	opts := registration.SubmitOptions{EraStart: 10, EraPeriod: 5}
	watch := opts
	watch.WaitForInclusion = true

	for _, tc := range []struct {
		desc    string
		method  string
		handler fakeHandler
		opts    registration.SubmitOptions
	}{
		{
			desc:    "nonce",
			method:  "system_accountNextIndex",
			handler: func([]json.RawMessage) (any, error) { return nil, errNoReply },
			opts:    opts,
		},
		{
			desc:    "submit",
			method:  "author_submitExtrinsic",
			handler: func([]json.RawMessage) (any, error) { return nil, errNoReply },
			opts:    opts,
		},
		{
			desc:    "watch request",
			method:  "author_submitAndWatchExtrinsic",
			handler: func([]json.RawMessage) (any, error) { return nil, errNoReply },
			opts:    watch,
		},
		{
			desc:   "watch never included",
			method: "author_submitAndWatchExtrinsic",
			handler: func([]json.RawMessage) (any, error) {
				return fakeSubscription{method: "author_extrinsicUpdate", notifications: []any{"ready"}}, nil
			},
			opts: watch,
		},
	} {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			node := newFakeNode(t)
			node.withRuntime(testHash(0x01))
			node.Handle("system_accountNextIndex", func([]json.RawMessage) (any, error) {
				return 0, nil
			})
			node.Handle(tc.method, tc.handler)
			ctx, client := newTestClient(t, node,
				WithRequestTimeout(100*time.Millisecond),
				WithWatchTimeout(200*time.Millisecond),
			)

			// submissions run detached from the caller's cancellation
			ctx = context.WithoutCancel(ctx)
			signer := aliceKeypair(t)
			done := make(chan error, 1)
			go func() {
				_, err := client.SignAndSubmit(ctx, shared.Call{11, 4, 0}, signer, tc.opts)
				done <- err
			}()
			select {
			case err := <-done:
				require.ErrorIs(t, err, ErrRequestTimeout)
				require.Equal(t, registration.ClassTransient, registration.Classify(err))
			case <-time.After(5 * time.Second):
				require.FailNow(t, "submission did not finish")
			}
		})
	}
}
