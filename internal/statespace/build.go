package statespace

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/discovery"
)

// BuildReport describes a completed build, including the work that failed.
type BuildReport struct {
	Head       uint64
	Factories  int
	Discovered int
	Backfilled int
	Tracked    int

	DiscoveryFailures []*discovery.RangeError
	ChunkFailures     []*amm.ChunkError
	// FactoryFailures holds factories whose backfill failed outright.
	FactoryFailures map[common.Address]error
}

// Partial reports whether any part of the build failed.
func (r BuildReport) Partial() bool {
	return len(r.DiscoveryFailures) > 0 || len(r.ChunkFailures) > 0 || len(r.FactoryFailures) > 0
}

// Build discovers factories if enabled, backfills every factory as of the chain head,
// filters the result and replaces the registry with it.
func (s *StateSpace) Build(ctx context.Context) (BuildReport, error) {
	if s.provider == nil {
		return BuildReport{}, errors.New("provider is nil")
	}
	head, err := s.provider.LatestBlockNumber(ctx)
	if err != nil {
		return BuildReport{}, &amm.ProviderError{Op: "block number", Err: err}
	}
	report := BuildReport{Head: head, FactoryFailures: make(map[common.Address]error)}

	factories := make(map[common.Address]amm.Factory, len(s.cfg.Factories))
	for _, factory := range s.cfg.Factories {
		factories[factory.Address()] = factory
	}

	if s.cfg.Discovery {
		result, err := s.discover(ctx, head)
		if err != nil {
			return report, fmt.Errorf("discover factories: %w", err)
		}
		report.DiscoveryFailures = result.Failed
		for _, factory := range result.Factories {
			if _, ok := factories[factory.Address()]; ok {
				continue
			}
			factories[factory.Address()] = factory
			report.Discovered++
		}
	}

	ordered := make([]amm.Factory, 0, len(factories))
	for _, factory := range factories {
		ordered = append(ordered, factory)
	}
	sortFactories(ordered)
	report.Factories = len(ordered)

	pools := make(map[common.Address]amm.Pool)
	for _, factory := range ordered {
		result, err := factory.Backfill(ctx, s.provider, head, s.cfg.Backfill)
		report.ChunkFailures = append(report.ChunkFailures, result.Failed...)
		if err != nil {
			if s.cfg.Backfill.AbortOnChunkFailure || ctx.Err() != nil {
				return report, fmt.Errorf("backfill factory %s: %w", factory.Address().Hex(), err)
			}
			s.metrics.SyncErrors.WithLabelValues("backfill").Inc()
			s.logger.Warn("backfill failed", zap.String("factory", factory.Address().Hex()), zap.Error(err))
			report.FactoryFailures[factory.Address()] = err
			continue
		}
		for _, pool := range result.Pools {
			pools[pool.Address()] = pool
		}
		s.logger.Info("factory backfilled",
			zap.String("factory", factory.Address().Hex()),
			zap.String("kind", string(factory.Kind())),
			zap.Int("pools", len(result.Pools)),
			zap.Int("failed_chunks", len(result.Failed)),
		)
	}
	report.Backfilled = len(pools)

	for addr, pool := range pools {
		if !s.cfg.Filters.Accept(pool) {
			delete(pools, addr)
		}
	}
	report.Tracked = len(pools)

	s.mu.Lock()
	s.pools = pools
	s.factories = factories
	s.lastSynced = head
	s.mu.Unlock()

	s.metrics.Pools.Set(float64(len(pools)))
	s.metrics.LastSyncedBlock.Set(float64(head))
	s.logger.Info("state space built",
		zap.Uint64("block", head),
		zap.Int("factories", report.Factories),
		zap.Int("discovered", report.Discovered),
		zap.Int("backfilled", report.Backfilled),
		zap.Int("tracked", report.Tracked),
		zap.Bool("partial", report.Partial()),
	)
	return report, nil
}

func (s *StateSpace) discover(ctx context.Context, head uint64) (discovery.Result, error) {
	from := s.cfg.DiscoveryFrom
	if from == 0 && len(s.cfg.Factories) > 0 {
		from = s.cfg.Factories[0].CreationBlock()
		for _, factory := range s.cfg.Factories[1:] {
			if factory.CreationBlock() < from {
				from = factory.CreationBlock()
			}
		}
	}

	engine := discovery.New(discovery.Config{
		FromBlock:    from,
		ToBlock:      head,
		Step:         s.cfg.DiscoveryStep,
		Threshold:    s.cfg.DiscoveryThreshold,
		Concurrency:  s.cfg.Backfill.Concurrency,
		MaxRetries:   s.cfg.MaxRetries,
		RetryBackoff: s.cfg.RetryBackoff,
	}, s.provider, s.logger)
	return engine.Discover(ctx)
}
