package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/chain"
	"stateSpace/internal/config"
	"stateSpace/internal/filter"
	"stateSpace/internal/statespace"
)

var _ amm.Provider = (*chain.Client)(nil)

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	factories, err := config.ParseFactories(cfg.Factories)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	filters, err := buildFilters(ctx, cfg, chainClient, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := statespace.NewMetrics(reg, "")

	space := statespace.New(statespace.Config{
		Factories:          factories,
		Discovery:          cfg.Discovery,
		DiscoveryFrom:      cfg.DiscoveryFrom,
		DiscoveryStep:      cfg.DiscoveryStep,
		DiscoveryThreshold: cfg.DiscoveryThreshold,
		Backfill: amm.BackfillOptions{
			PageSize:            cfg.PageSize,
			ChunkSize:           cfg.ChunkSize,
			LogStep:             cfg.LogStep,
			Concurrency:         cfg.Concurrency,
			AbortOnChunkFailure: cfg.AbortOnChunkFailure,
			Logger:              logger,
		},
		Filters:      filters,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Store:        store,
		ChainID:      chainID.Uint64(),
	}, chainClient, metrics, logger)

	logger.Info("state space start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.Int("factories", len(factories)),
		zap.Bool("discovery", cfg.Discovery),
		zap.Int("filters", len(filters)),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	restored := false
	if store != nil {
		restored, err = space.LoadFrom(ctx, store)
		if err != nil {
			logger.Warn("snapshot unusable, rebuilding", zap.Error(err))
			restored = false
		}
	}
	if !restored {
		report, err := space.Build(ctx)
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}
		for _, chunk := range report.ChunkFailures {
			logger.Warn("chunk failed", zap.Error(chunk))
		}
		for factory, err := range report.FactoryFailures {
			logger.Warn("factory failed", zap.String("factory", factory.Hex()), zap.Error(err))
		}
		for _, r := range report.DiscoveryFailures {
			logger.Warn("discovery range failed", zap.Error(r))
		}
		if store != nil {
			if err := space.SaveTo(ctx, store); err != nil {
				logger.Warn("save snapshot failed", zap.Error(err))
			}
		}
	}

	if cfg.MetricsAddr != "" {
		server := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := space.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildFilters(ctx context.Context, cfg config.Config, provider amm.Provider, logger *zap.Logger) (filter.Chain, error) {
	var filters filter.Chain

	whitelistPools, err := config.ParseAddresses(cfg.WhitelistPools)
	if err != nil {
		return nil, err
	}
	whitelistTokens, err := config.ParseAddresses(cfg.WhitelistTokens)
	if err != nil {
		return nil, err
	}
	if len(whitelistPools) > 0 || len(whitelistTokens) > 0 {
		filters = append(filters, filter.NewWhitelist(whitelistPools, whitelistTokens))
	}

	blacklistPools, err := config.ParseAddresses(cfg.BlacklistPools)
	if err != nil {
		return nil, err
	}
	blacklistTokens, err := config.ParseAddresses(cfg.BlacklistTokens)
	if err != nil {
		return nil, err
	}
	if len(blacklistPools) > 0 || len(blacklistTokens) > 0 {
		filters = append(filters, filter.NewBlacklist(blacklistPools, blacklistTokens))
	}

	if cfg.ValueThreshold > 0 {
		if !common.IsHexAddress(cfg.ValueToken) {
			return nil, fmt.Errorf("invalid value token: %s", cfg.ValueToken)
		}
		base := common.HexToAddress(cfg.ValueToken)
		valuation := filter.Valuation(base, filter.Balances(ctx, provider, nil))
		filters = append(filters, filter.NewValue(valuation, cfg.ValueThreshold, logger))
	}
	return filters, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))
	return server
}
