package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/shared"
)

const (
	keysBatchSize      = 256
	unsubscribeTimeout = 5 * time.Second
)

var (
	ErrMalformedValue = errors.New("malformed chain value")
	ErrSubnetNotFound = errors.New("subnet does not exist")
	// ErrExtrinsicRejected is returned when a watched extrinsic is dropped or invalid.
	ErrExtrinsicRejected = errors.New("extrinsic rejected")
	// ErrRequestTimeout is returned when the node did not answer a request in time.
	ErrRequestTimeout = errors.New("request timed out")
)

type runtimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

type storageChangeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

// Client talks to a subtensor node over a websocket JSON-RPC connection.
// The connection is dialed lazily and re-dialed on the next call after a failure.
type Client struct {
	endpoint    string
	logger      *zap.Logger
	calls       CallIndices
	metaHash    bool
	ss58Prefix  uint16
	dialTimeout time.Duration

	// requestTimeout bounds a single request and watchTimeout a watched submission.
	requestTimeout time.Duration
	watchTimeout   time.Duration

	connMu sync.Mutex
	conn   *rpcConn

	hashes *hashCache

	runtimeMu sync.RWMutex
	runtime   *runtimeVersion
	genesis   []byte
}

type newClientOptionFunc func(*newClientOptions)

type newClientOptions struct {
	calls         CallIndices
	metadataHash  bool
	ss58Prefix    uint16
	hashCacheSize  int
	dialTimeout    time.Duration
	requestTimeout time.Duration
	watchTimeout   time.Duration
}

func WithCallIndices(calls CallIndices) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.calls = calls
	}
}

// WithMetadataHashExtension enables the CheckMetadataHash signed extension.
func WithMetadataHashExtension(enabled bool) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.metadataHash = enabled
	}
}

func WithSS58Prefix(prefix uint16) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.ss58Prefix = prefix
	}
}

func WithHashCacheSize(size int) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.hashCacheSize = size
	}
}

func WithDialTimeout(timeout time.Duration) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.dialTimeout = timeout
	}
}

// WithRequestTimeout bounds every request sent to the node. Zero disables the bound.
func WithRequestTimeout(timeout time.Duration) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.requestTimeout = timeout
	}
}

// WithWatchTimeout bounds how long a watched submission waits for inclusion or finality.
func WithWatchTimeout(timeout time.Duration) newClientOptionFunc {
	return func(opts *newClientOptions) {
		opts.watchTimeout = timeout
	}
}

func New(ctx context.Context, endpoint string, opts ...newClientOptionFunc) (*Client, error) {
	options := newClientOptions{
		calls:         DefaultCallIndices(),
		ss58Prefix:    DefaultSS58Prefix,
		hashCacheSize:  64,
		dialTimeout:    10 * time.Second,
		requestTimeout: 10 * time.Second,
		watchTimeout:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(&options)
	}
	hashes, err := newHashCache(options.hashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating block hash cache: %w", err)
	}
	return &Client{
		endpoint:    endpoint,
		logger:      logging.FromContext(ctx).Named("substrate"),
		calls:       options.calls,
		metaHash:    options.metadataHash,
		ss58Prefix:     options.ss58Prefix,
		dialTimeout:    options.dialTimeout,
		requestTimeout: options.requestTimeout,
		watchTimeout:   options.watchTimeout,
		hashes:         hashes,
	}, nil
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) connection(ctx context.Context) (*rpcConn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		err := c.conn.Err()
		if err == nil {
			return c.conn, nil
		}
		c.logger.Warn("connection lost, reconnecting", zap.String("endpoint", c.endpoint), zap.Error(err))
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := dialRPC(dialCtx, c.endpoint, c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Info("connected", zap.String("endpoint", c.endpoint))
	c.conn = conn
	return conn, nil
}

// chainError classifies err: connection failures are transient, a cancelled ctx is passed through.
func chainError(ctx context.Context, op string, err error) error {
	var rpcErr *rpcError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &rpcErr), errors.Is(err, ErrMalformedValue):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return registration.Transient(op, err)
	}
}

// bounded runs do under timeout. Expiry of timeout while ctx is still live is a transient ErrRequestTimeout.
func bounded(ctx context.Context, op string, timeout time.Duration, do func(context.Context) error) error {
	if timeout <= 0 {
		return chainError(ctx, op, do(ctx))
	}
	boundedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := do(boundedCtx)
	if err != nil && ctx.Err() == nil && errors.Is(boundedCtx.Err(), context.DeadlineExceeded) {
		return registration.Transient(op, fmt.Errorf("%w after %s", ErrRequestTimeout, timeout))
	}
	return chainError(ctx, op, err)
}

func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return chainError(ctx, method, err)
	}
	return bounded(ctx, method, c.requestTimeout, func(ctx context.Context) error {
		return conn.call(ctx, method, result, params...)
	})
}

// subscribe opens a subscription, bounding the request that creates it.
func (c *Client) subscribe(ctx context.Context, method, unsubscribeMethod string, params ...any) (*rpcConn, *rpcSubscription, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, nil, chainError(ctx, method, err)
	}
	var sub *rpcSubscription
	err = bounded(ctx, method, c.requestTimeout, func(ctx context.Context) error {
		var subErr error
		sub, subErr = conn.subscribe(ctx, method, unsubscribeMethod, params...)
		return subErr
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, sub, nil
}

func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var head header
	if err := c.call(ctx, "chain_getHeader", &head); err != nil {
		return 0, err
	}
	block, err := head.block()
	if err != nil {
		return 0, chainError(ctx, "chain_getHeader", err)
	}
	c.hashes.Add(block.Height, block.Hash)
	if block.Height > 0 {
		c.hashes.Add(block.Height-1, block.ParentHash)
	}
	// runtime upgrades are picked up once per cycle
	if err := c.refreshRuntime(ctx); err != nil {
		return 0, err
	}
	return block.Height, nil
}

func (c *Client) refreshRuntime(ctx context.Context) error {
	var version runtimeVersion
	if err := c.call(ctx, "state_getRuntimeVersion", &version); err != nil {
		return err
	}
	c.runtimeMu.RLock()
	haveGenesis := c.genesis != nil
	previous := c.runtime
	c.runtimeMu.RUnlock()

	var genesis []byte
	if !haveGenesis {
		hash, err := c.BlockHash(ctx, 0)
		if err != nil {
			return err
		}
		genesis = hash
	}

	c.runtimeMu.Lock()
	defer c.runtimeMu.Unlock()
	if genesis != nil {
		c.genesis = genesis
	}
	if previous == nil || *previous != version {
		c.logger.Info("runtime version",
			zap.Uint32("spec_version", version.SpecVersion),
			zap.Uint32("transaction_version", version.TransactionVersion),
		)
	}
	c.runtime = &version
	return nil
}

func (c *Client) runtimeInfo(ctx context.Context) (runtimeVersion, []byte, error) {
	c.runtimeMu.RLock()
	version, genesis := c.runtime, c.genesis
	c.runtimeMu.RUnlock()
	if version != nil && genesis != nil {
		return *version, genesis, nil
	}
	if err := c.refreshRuntime(ctx); err != nil {
		return runtimeVersion{}, nil, err
	}
	c.runtimeMu.RLock()
	defer c.runtimeMu.RUnlock()
	return *c.runtime, c.genesis, nil
}

// BlockHash returns the hash of the block at height, served from the cache when possible.
func (c *Client) BlockHash(ctx context.Context, height uint64) ([]byte, error) {
	if hash, ok := c.hashes.Get(height); ok {
		return hash, nil
	}
	var raw *string
	if err := c.call(ctx, "chain_getBlockHash", &raw, height); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("chain_getBlockHash: %w: no block at height %d", ErrMalformedValue, height)
	}
	hash, err := decodeHash(*raw)
	if err != nil {
		return nil, fmt.Errorf("chain_getBlockHash: %w", err)
	}
	c.hashes.Add(height, hash)
	return hash, nil
}

// queryStorage reads keys at the best block. Missing entries are returned as nil.
func (c *Client) queryStorage(ctx context.Context, keys ...storageKey) ([][]byte, error) {
	return c.queryStorageAt(ctx, nil, keys...)
}

// queryStorageAt reads keys at the block with hash at, or at the best block when at is nil.
func (c *Client) queryStorageAt(ctx context.Context, at []byte, keys ...storageKey) ([][]byte, error) {
	hexKeys := make([]string, len(keys))
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		hexKeys[i] = k.Hex()
		index[normalizeHex(hexKeys[i])] = i
	}

	params := []any{hexKeys}
	if at != nil {
		params = append(params, "0x"+hex.EncodeToString(at))
	}
	var sets []storageChangeSet
	if err := c.call(ctx, "state_queryStorageAt", &sets, params...); err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	for _, set := range sets {
		for _, change := range set.Changes {
			if change[0] == nil || change[1] == nil {
				continue
			}
			i, ok := index[normalizeHex(*change[0])]
			if !ok {
				continue
			}
			v, err := decodeHex(*change[1])
			if err != nil {
				return nil, fmt.Errorf("state_queryStorageAt: %w: %v", ErrMalformedValue, err)
			}
			values[i] = v
		}
	}
	return values, nil
}

func (c *Client) SubnetHyperparameters(ctx context.Context, netuid uint16) (registration.Hyperparameters, error) {
	values, err := c.queryStorage(ctx, networksAddedKey(netuid), adjustmentIntervalKey(netuid), burnKey(netuid))
	if err != nil {
		return registration.Hyperparameters{}, err
	}
	if len(values[0]) == 0 || values[0][0] == 0 {
		return registration.Hyperparameters{}, &registration.ConfigurationError{
			Reason: fmt.Sprintf("netuid %d", netuid),
			Err:    ErrSubnetNotFound,
		}
	}
	interval, err := decodeUint(values[1], 2)
	if err != nil {
		return registration.Hyperparameters{}, fmt.Errorf("decoding adjustment interval: %w", err)
	}
	burn, err := decodeUint(values[2], 8)
	if err != nil {
		return registration.Hyperparameters{}, fmt.Errorf("decoding burn: %w", err)
	}
	return registration.Hyperparameters{AdjustmentInterval: interval, Burn: registration.Balance(burn)}, nil
}

func (c *Client) LastAdjustmentHeight(ctx context.Context, netuid uint16) (uint64, error) {
	values, err := c.queryStorage(ctx, lastAdjustmentBlockKey(netuid))
	if err != nil {
		return 0, err
	}
	height, err := decodeUint(values[0], 8)
	if err != nil {
		return 0, fmt.Errorf("decoding last adjustment block: %w", err)
	}
	return height, nil
}

// MembershipSnapshot reads the subnet size and every uid's hotkey at a single block.
func (c *Client) MembershipSnapshot(ctx context.Context, netuid uint16) (map[string]struct{}, error) {
	var head header
	if err := c.call(ctx, "chain_getHeader", &head); err != nil {
		return nil, err
	}
	block, err := head.block()
	if err != nil {
		return nil, chainError(ctx, "chain_getHeader", err)
	}
	at := block.Hash
	values, err := c.queryStorageAt(ctx, at, subnetworkNKey(netuid))
	if err != nil {
		return nil, err
	}
	n, err := decodeUint(values[0], 2)
	if err != nil {
		return nil, fmt.Errorf("decoding subnetwork size: %w", err)
	}

	members := make(map[string]struct{}, n)
	for from := uint64(0); from < n; from += keysBatchSize {
		to := min(from+keysBatchSize, n)
		keys := make([]storageKey, 0, to-from)
		for uid := from; uid < to; uid++ {
			keys = append(keys, keysKey(netuid, uint16(uid)))
		}
		hotkeys, err := c.queryStorageAt(ctx, at, keys...)
		if err != nil {
			return nil, err
		}
		for _, hotkey := range hotkeys {
			if len(hotkey) != publicKeySize {
				continue
			}
			members[SS58Encode(hotkey, c.ss58Prefix)] = struct{}{}
		}
	}
	c.logger.Debug("membership snapshot",
		zap.Uint16("netuid", netuid),
		zap.Uint64("height", block.Height),
		zap.Int("members", len(members)),
	)
	return members, nil
}

func (c *Client) ComposeRegistration(_ context.Context, netuid uint16, address string) (shared.Call, error) {
	hotkey, err := PublicKeyFromAddress(address)
	if err != nil {
		return nil, err
	}
	return encodeBurnedRegister(c.calls.BurnedRegister, netuid, hotkey)
}

func (c *Client) WrapAtomic(_ context.Context, calls []shared.Call) (shared.Call, error) {
	if len(calls) == 0 {
		return nil, errors.New("nothing to wrap")
	}
	return encodeForceBatch(c.calls.ForceBatch, calls), nil
}

func (c *Client) SignAndSubmit(
	ctx context.Context,
	envelope shared.Call,
	signer shared.Signer,
	opts registration.SubmitOptions,
) (registration.SubmissionResult, error) {
	started := time.Now()
	version, genesis, err := c.runtimeInfo(ctx)
	if err != nil {
		return registration.SubmissionResult{}, err
	}

	pub := signer.PublicKey()
	var nonce uint64
	if err := c.call(ctx, "system_accountNextIndex", &nonce, SS58Encode(pub, c.ss58Prefix)); err != nil {
		return registration.SubmissionResult{}, err
	}

	era := MortalEra(opts.EraPeriod, opts.EraStart)
	birthHash, err := c.BlockHash(ctx, era.Birth(opts.EraStart))
	if err != nil {
		return registration.SubmissionResult{}, err
	}

	extra := signedExtra{era: era, nonce: nonce, tip: uint64(opts.Tip), metadataHash: c.metaHash}
	payload := signingPayload(envelope, extra, additionalSigned{
		specVersion:        version.SpecVersion,
		transactionVersion: version.TransactionVersion,
		genesisHash:        genesis,
		birthHash:          birthHash,
		metadataHash:       c.metaHash,
	})
	signature, err := signer.Sign(payload)
	if err != nil {
		return registration.SubmissionResult{}, fmt.Errorf("signing extrinsic: %w", err)
	}
	extrinsic := encodeSignedExtrinsic(envelope, pub, signature, extra)
	txHash := blake2b.Sum256(extrinsic)
	encoded := "0x" + hex.EncodeToString(extrinsic)

	result := registration.SubmissionResult{
		Hash:     "0x" + hex.EncodeToString(txHash[:]),
		Nonce:    nonce,
		Prepared: time.Since(started),
	}
	if !opts.WaitForInclusion && !opts.WaitForFinalization {
		var hash string
		if err := c.call(ctx, "author_submitExtrinsic", &hash, encoded); err != nil {
			return result, err
		}
		result.Hash = hash
		return result, nil
	}
	return c.watchExtrinsic(ctx, encoded, opts, result)
}

// transactionStatus is either a plain string ("ready", "invalid", "dropped")
// or an object with a single key ({"inBlock": "0x.."}).
type transactionStatus struct {
	State     string
	InBlock   string
	Finalized string
	Usurped   string
}

func (s *transactionStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.State)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, value := range fields {
		s.State = key
		var hash string
		if err := json.Unmarshal(value, &hash); err != nil {
			continue
		}
		switch key {
		case "inBlock":
			s.InBlock = hash
		case "finalized":
			s.Finalized = hash
		case "usurped":
			s.Usurped = hash
		}
	}
	return nil
}

func (s *transactionStatus) rejected() bool {
	switch s.State {
	case "invalid", "dropped", "usurped", "finalityTimeout":
		return true
	}
	return false
}

func (c *Client) watchExtrinsic(
	ctx context.Context,
	encoded string,
	opts registration.SubmitOptions,
	result registration.SubmissionResult,
) (registration.SubmissionResult, error) {
	conn, sub, err := c.subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic", encoded)
	if err != nil {
		return result, err
	}
	var expired <-chan time.Time
	if c.watchTimeout > 0 {
		timer := time.NewTimer(c.watchTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
		defer cancel()
		_ = sub.Unsubscribe(unsubCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-expired:
			return result, registration.Transient("author_submitAndWatchExtrinsic",
				fmt.Errorf("%w: no inclusion after %s", ErrRequestTimeout, c.watchTimeout))
		case <-sub.Closed():
			return result, chainError(ctx, "author_submitAndWatchExtrinsic", conn.Err())
		case n := <-sub.Notifications():
			var status transactionStatus
			if err := json.Unmarshal(n.result, &status); err != nil {
				return result, fmt.Errorf("%w: transaction status %s", ErrMalformedValue, n.result)
			}
			switch {
			case status.rejected():
				return result, fmt.Errorf("%w: %s", ErrExtrinsicRejected, n.result)
			case status.InBlock != "":
				result.InBlock = status.InBlock
				if !opts.WaitForFinalization {
					return result, nil
				}
			case status.Finalized != "":
				result.Finalized = status.Finalized
				if result.InBlock == "" {
					result.InBlock = status.Finalized
				}
				return result, nil
			}
		}
	}
}

// blockSubscription implements registration.Subscription.
type blockSubscription struct {
	once sync.Once
	stop chan struct{}
	errs chan error
}

func (s *blockSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.stop) })
}

func (s *blockSubscription) Err() <-chan error {
	return s.errs
}

func (c *Client) SubscribeBlocks(
	ctx context.Context,
	onBlock func(shared.Block) bool,
) (registration.Subscription, error) {
	conn, sub, err := c.subscribe(ctx, "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	if err != nil {
		return nil, err
	}

	bs := &blockSubscription{stop: make(chan struct{}), errs: make(chan error, 1)}
	go func() {
		defer close(bs.errs)
		defer func() {
			unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
			defer cancel()
			if err := sub.Unsubscribe(unsubCtx); err != nil {
				c.logger.Debug("failed to unsubscribe from new heads", zap.Error(err))
			}
		}()

		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-bs.stop:
				return
			case <-sub.Closed():
				bs.errs <- registration.Transient("chain_subscribeNewHeads", conn.Err())
				return
			case n := <-sub.Notifications():
				var head header
				if err := json.Unmarshal(n.result, &head); err != nil {
					c.logger.Warn("skipping undecodable header", zap.Error(err))
					continue
				}
				block, err := head.block()
				if err != nil {
					c.logger.Warn("skipping malformed header", zap.Error(err))
					continue
				}
				c.hashes.Add(block.Height, block.Hash)
				if block.Height > 0 {
					c.hashes.Add(block.Height-1, block.ParentHash)
				}
				if last != 0 && block.Height > last+1 {
					c.logger.Warn("missed blocks", zap.Uint64("from", last+1), zap.Uint64("to", block.Height-1))
				}
				last = max(last, block.Height)
				if onBlock(block) {
					return
				}
			}
		}
	}()
	return bs, nil
}
