package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/epochreg/regbot/keystore"
	"github.com/epochreg/regbot/logging"
	"github.com/epochreg/regbot/registration"
	"github.com/epochreg/regbot/substrate"
)

type Server struct {
	cfg    Config
	cycle  *registration.Cycle
	wallet *keystore.Wallet
	// closer releases the chain connection when the server created it.
	closer io.Closer

	metricsListener net.Listener
}

type newServerOptionFunc func(*newServerOptions)

type newServerOptions struct {
	chain registration.ChainClient
	clock registration.Clock
}

// WithChainClient makes the server use chain instead of dialing the configured network.
func WithChainClient(chain registration.ChainClient) newServerOptionFunc {
	return func(opts *newServerOptions) {
		opts.chain = chain
	}
}

func WithClock(clock registration.Clock) newServerOptionFunc {
	return func(opts *newServerOptions) {
		opts.clock = clock
	}
}

func New(ctx context.Context, cfg Config, opts ...newServerOptionFunc) (*Server, error) {
	options := newServerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.FromContext(ctx)

	wallet, err := keystore.Discover(ctx, keystore.Options{
		Root:       cfg.Wallet.Path,
		Coldkey:    cfg.Wallet.Coldkey,
		Password:   cfg.Wallet.Password,
		HotkeyGlob: cfg.Wallet.HotkeyGlob,
		SS58Prefix: cfg.Chain.SS58Prefix,
	})
	if err != nil {
		return nil, err
	}
	started := time.Now()
	if err := wallet.Coldkey.Load(); err != nil {
		return nil, &registration.ConfigurationError{Reason: "coldkey " + cfg.Wallet.Coldkey, Err: err}
	}
	logger.Info("coldkey loaded",
		zap.String("address", wallet.Coldkey.Address(cfg.Chain.SS58Prefix)),
		zap.Duration("took", time.Since(started)),
	)

	s := &Server{cfg: cfg, wallet: wallet}
	chain := options.chain
	if chain == nil {
		endpoint, err := substrate.ResolveEndpoint(cfg.Chain.Network)
		if err != nil {
			return nil, &registration.ConfigurationError{Reason: "network", Err: err}
		}
		client, err := substrate.New(ctx, endpoint,
			substrate.WithCallIndices(cfg.Chain.CallIndices()),
			substrate.WithMetadataHashExtension(cfg.Chain.MetadataHashExt),
			substrate.WithSS58Prefix(cfg.Chain.SS58Prefix),
			substrate.WithDialTimeout(cfg.Chain.DialTimeout),
			substrate.WithRequestTimeout(cfg.Chain.RequestTimeout),
			substrate.WithWatchTimeout(cfg.Chain.WatchTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("creating chain client: %w", err)
		}
		chain, s.closer = client, client
	}

	if cfg.MetricsPort != nil {
		addr := net.JoinHostPort("", fmt.Sprint(*cfg.MetricsPort))
		if s.metricsListener, err = net.Listen("tcp", addr); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}

	if options.clock != nil {
		s.cycle = registration.NewCycle(chain, wallet.Hotkeys, cfg.Registration, registration.WithClock(options.clock))
	} else {
		s.cycle = registration.NewCycle(chain, wallet.Hotkeys, cfg.Registration)
	}
	return s, nil
}

func (s *Server) Close() error {
	var result *multierror.Error
	if s.metricsListener != nil {
		if err := s.metricsListener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// MetricsAddr returns the address metrics are served on, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

func (s *Server) Wallet() *keystore.Wallet {
	return s.wallet
}

// Start runs the registration cycle until ctx is cancelled or a configuration error stops it.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	logger.Info("starting registration cycle",
		zap.Object("chain", s.cfg.Chain),
		zap.Int("hotkeys", len(s.wallet.Hotkeys)),
	)
	serverGroup.Go(func() error {
		// Ending the cycle stops the metrics server too.
		defer stop()
		return s.cycle.Run(ctx)
	})

	var server *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := server.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	return serverGroup.Wait()
}
