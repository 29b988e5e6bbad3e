package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sequencerFeed/internal/aggregate"
	"sequencerFeed/internal/chain"
	"sequencerFeed/internal/config"
	"sequencerFeed/internal/feed"
	"sequencerFeed/internal/metrics"
	"sequencerFeed/internal/model"
	"sequencerFeed/internal/pool"
	"sequencerFeed/internal/relay"
	"sequencerFeed/internal/storage"
	"sequencerFeed/internal/storage/postgres"
	"sequencerFeed/internal/storage/redis"
)

func runRelay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RPCURL != "" {
		if err := verifyChain(ctx, cfg, logger); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	runner := relay.NewRunner(relay.RunConfig{
		ChainID:       cfg.ChainID,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
	}, sinks.storage, sinks.state, logger, m)
	if sinks.capture != nil {
		runner.SetCapture(sinks.capture)
	}
	if cfg.Window > 0 {
		agg, err := aggregate.NewAggregator(cfg.Window, sinks.windows, logger)
		if err != nil {
			return err
		}
		runner.SetAggregator(agg)
	}

	frames := make(chan model.FeedFrame, cfg.FrameBuffer)
	dialer, err := feed.NewDialer(feed.DialerConfig{
		URL:              cfg.FeedURL,
		ChainID:          cfg.ChainID,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, frames, logger, m)
	if err != nil {
		return err
	}
	connect := func(ctx context.Context, id model.ConnectionID, disconnects chan<- model.ConnectionID) (pool.Conn, error) {
		conn, err := dialer.Connect(ctx, id, disconnects)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	logger.Info("relay start",
		zap.String("feed_url", cfg.FeedURL),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("init_connections", cfg.InitConnections),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("window", cfg.Window),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.Int("sinks", len(sinks.storage)),
	)

	g, gctx := errgroup.WithContext(ctx)

	controller, err := pool.New(gctx, pool.Config{
		MaxConnections:  cfg.MaxConnections,
		InitConnections: cfg.InitConnections,
	}, connect, logger, m)
	if err != nil {
		return fmt.Errorf("start feed pool: %w", err)
	}

	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx, frames) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr, reg, logger) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("relay stopped")
		return nil
	}
	return err
}

func verifyChain(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	if err := client.VerifyChainID(ctx, cfg.ChainID); err != nil {
		return err
	}
	head, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	logger.Info("rpc chain verified", zap.Uint64("chain_id", cfg.ChainID), zap.Uint64("head", head))
	return nil
}

type relaySinks struct {
	storage []storage.Storage
	state   relay.StateStore
	windows aggregate.WindowSink
	capture relay.FrameSink
	pg      *postgres.Store
	redis   *redis.Publisher
}

func openSinks(ctx context.Context, cfg config.Config) (*relaySinks, error) {
	s := &relaySinks{}

	if cfg.Out != "" {
		s.storage = append(s.storage, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.Capture != "" {
		s.capture = storage.NewJsonlStorage(cfg.Capture)
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.pg = store
		if err := store.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.storage = append(s.storage, store)
		s.windows = store
	} else if cfg.WindowsOut != "" {
		s.windows = storage.NewJsonlStorage(cfg.WindowsOut)
	}

	if cfg.RedisAddr != "" {
		pub, err := redis.NewPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = pub
		s.storage = append(s.storage, pub)
	}

	if len(s.storage) == 0 {
		s.Close()
		return nil, fmt.Errorf("no output configured: set out, pg-dsn or redis-addr")
	}
	if cfg.Window > 0 && s.windows == nil {
		s.Close()
		return nil, fmt.Errorf("window aggregation needs pg-dsn or windows-out")
	}

	if cfg.CheckpointEnabled {
		if s.pg != nil {
			s.state = &relay.DBStateStore{Store: s.pg, Name: fmt.Sprintf("feed:%d", cfg.ChainID)}
		} else {
			s.state = &relay.FileStateStore{Path: cfg.Checkpoint}
		}
	}

	return s, nil
}

func (s *relaySinks) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pg != nil {
		s.pg.Close()
	}
}
