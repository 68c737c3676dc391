package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/chain"
	"stateSpace/internal/config"
	"stateSpace/internal/discovery"
)

// discoveredFactory is one line of discover output.
type discoveredFactory struct {
	Kind          string `json:"kind"`
	Address       string `json:"address"`
	CreationBlock uint64 `json:"creation_block"`
	PoolsCreated  uint64 `json:"pools_created"`
	Entry         string `json:"entry"`
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	toBlock, _ := cmd.Flags().GetUint64("discovery-to")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	engine := discovery.New(discovery.Config{
		FromBlock:    cfg.DiscoveryFrom,
		ToBlock:      toBlock,
		Step:         cfg.DiscoveryStep,
		Threshold:    cfg.DiscoveryThreshold,
		Concurrency:  cfg.Concurrency,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, logger)

	result, err := engine.Discover(ctx)
	if err != nil {
		return err
	}
	for _, failed := range result.Failed {
		logger.Warn("range failed", zap.Error(failed))
	}

	enc := json.NewEncoder(os.Stdout)
	for _, factory := range result.Factories {
		line := discoveredFactory{
			Kind:          string(factory.Kind()),
			Address:       factory.Address().Hex(),
			CreationBlock: factory.CreationBlock(),
			PoolsCreated:  result.Candidates[factory.Address()].Count,
			Entry:         factoryEntry(factory),
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	logger.Info("discover done",
		zap.Uint64("to_block", result.ToBlock),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("factories", len(result.Factories)),
		zap.Int("failed_ranges", len(result.Failed)),
	)
	return nil
}

// factoryEntry renders factory in the form accepted by --factories.
func factoryEntry(factory amm.Factory) string {
	entry := fmt.Sprintf("%s:%s:%d", factory.Kind(), factory.Address().Hex(), factory.CreationBlock())
	if v2, ok := factory.(*amm.UniswapV2Factory); ok {
		entry = fmt.Sprintf("%s:%d", entry, v2.Fee)
	}
	return entry
}
