package statespace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/chain"
)

// SyncBlock fetches and applies every relevant log of block n, which must directly follow
// the last synced block. Already synced blocks are a no-op. On error the registry and the
// last synced block are unchanged, so the same block can be retried.
func (s *StateSpace) SyncBlock(ctx context.Context, n uint64) error {
	last := s.LastSyncedBlock()
	if n <= last {
		return nil
	}
	if n != last+1 {
		return &SyncError{Block: n, Err: fmt.Errorf("%w: last synced %d", ErrBlockGap, last)}
	}

	timer := prometheus.NewTimer(s.metrics.BlockSyncDuration)
	defer timer.ObserveDuration()

	topics := s.topics()
	if len(topics) == 0 {
		return s.applyBlock(ctx, n, nil)
	}
	logs, err := s.provider.FilterLogs(ctx, n, n, nil, topics)
	if err != nil {
		s.metrics.SyncErrors.WithLabelValues("fetch").Inc()
		return &SyncError{Block: n, Err: &amm.ProviderError{Op: "filter logs", Err: err}}
	}
	return s.applyBlock(ctx, n, logs)
}

// ApplyLogs applies logs block by block in ascending order. Every block must follow the
// last synced block; a block without logs cannot be skipped over.
func (s *StateSpace) ApplyLogs(ctx context.Context, logs []types.Log) error {
	sorted := make([]types.Log, len(logs))
	copy(sorted, logs)
	amm.SortLogs(sorted)

	for start := 0; start < len(sorted); {
		block := sorted[start].BlockNumber
		end := start
		for end < len(sorted) && sorted[end].BlockNumber == block {
			end++
		}
		if err := s.applyBlock(ctx, block, sorted[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// topics returns the creation events of the tracked factories plus the events of every
// pool kind in the registry.
func (s *StateSpace) topics() []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[common.Hash]struct{})
	out := make([]common.Hash, 0)
	add := func(topic common.Hash) {
		if _, ok := seen[topic]; ok {
			return
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}

	kinds := make(map[amm.Kind]struct{})
	for _, factory := range s.factories {
		add(factory.DiscoveryEvent())
		kinds[factory.Kind()] = struct{}{}
	}
	for _, pool := range s.pools {
		if _, ok := kinds[pool.Kind()]; ok {
			continue
		}
		kinds[pool.Kind()] = struct{}{}
		for _, topic := range pool.SyncEvents() {
			add(topic)
		}
	}
	for _, topic := range kindEvents(s.factories) {
		add(topic)
	}
	return out
}

// kindEvents lists the pool events of every factory kind, so pools created live are
// synced even before the registry holds a pool of that kind.
func kindEvents(factories map[common.Address]amm.Factory) []common.Hash {
	out := make([]common.Hash, 0)
	done := make(map[amm.Kind]struct{})
	for _, factory := range factories {
		if _, ok := done[factory.Kind()]; ok {
			continue
		}
		done[factory.Kind()] = struct{}{}
		switch factory.Kind() {
		case amm.KindUniswapV2:
			out = append(out, (&amm.UniswapV2Pool{}).SyncEvents()...)
		case amm.KindUniswapV3:
			out = append(out, (&amm.UniswapV3Pool{}).SyncEvents()...)
		}
	}
	return out
}

// applyBlock applies the logs of block n in log index order to copies of the touched
// pools and commits them together with n.
func (s *StateSpace) applyBlock(ctx context.Context, n uint64, logs []types.Log) error {
	last := s.LastSyncedBlock()
	if n <= last {
		return nil
	}
	if n != last+1 {
		return &SyncError{Block: n, Err: fmt.Errorf("%w: last synced %d", ErrBlockGap, last)}
	}
	start := time.Now()

	ordered := make([]types.Log, 0, len(logs))
	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 {
			continue
		}
		block, err := amm.BlockNumberOf(log)
		if err != nil {
			s.metrics.SyncErrors.WithLabelValues("decode").Inc()
			return &SyncError{Block: n, Err: err}
		}
		if block != n {
			return &SyncError{Block: n, Err: fmt.Errorf("log from block %d", block)}
		}
		ordered = append(ordered, log)
	}
	amm.SortLogs(ordered)

	staged := make(map[common.Address]amm.Pool)
	created := make([]amm.Pool, 0)
	applied := make(map[amm.Kind]int)

	s.mu.RLock()
	lookup := func(addr common.Address) (amm.Pool, bool) {
		if pool, ok := staged[addr]; ok {
			return pool, true
		}
		pool, ok := s.pools[addr]
		if !ok {
			return nil, false
		}
		return pool.Clone(), true
	}
	err := func() error {
		for _, log := range ordered {
			topic := log.Topics[0]
			if factory, ok := s.factories[log.Address]; ok && topic == factory.DiscoveryEvent() {
				pool, err := factory.CreatePool(log)
				if err != nil {
					return err
				}
				if !s.cfg.Filters.Accept(pool) {
					s.logger.Debug("filtered new pool", zap.String("pool", pool.Address().Hex()))
					continue
				}
				staged[pool.Address()] = pool
				created = append(created, pool)
				continue
			}

			pool, ok := lookup(log.Address)
			if !ok || !handles(pool, topic) {
				continue
			}
			if err := pool.Sync(log); err != nil {
				return fmt.Errorf("pool %s log %d: %w", log.Address.Hex(), log.Index, err)
			}
			staged[log.Address] = pool
			applied[pool.Kind()]++
		}
		return nil
	}()
	s.mu.RUnlock()
	if err != nil {
		s.metrics.SyncErrors.WithLabelValues("apply").Inc()
		return &SyncError{Block: n, Err: err}
	}

	if len(created) > 0 {
		block := new(big.Int).SetUint64(n)
		if err := amm.ResolveDecimals(ctx, s.provider, s.decimals, created, block); err != nil {
			s.metrics.SyncErrors.WithLabelValues("decimals").Inc()
			return &SyncError{Block: n, Err: err}
		}
	}

	s.mu.Lock()
	for addr, pool := range staged {
		s.pools[addr] = pool
	}
	s.lastSynced = n
	tracked := len(s.pools)
	s.mu.Unlock()

	s.metrics.LastSyncedBlock.Set(float64(n))
	s.metrics.Pools.Set(float64(tracked))
	for kind, count := range applied {
		s.metrics.LogsApplied.WithLabelValues(string(kind)).Add(float64(count))
	}
	if len(ordered) > 0 {
		s.logger.Debug("block synced",
			zap.Uint64("block", n),
			zap.Int("logs", len(ordered)),
			zap.Int("created", len(created)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

func handles(pool amm.Pool, topic common.Hash) bool {
	for _, t := range pool.SyncEvents() {
		if t == topic {
			return true
		}
	}
	return false
}

// Run follows the chain head until ctx is cancelled. Blocks are synced strictly in order;
// a block that keeps failing is retried on the next poll.
func (s *StateSpace) Run(ctx context.Context) error {
	if s.provider == nil {
		return errors.New("provider is nil")
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.catchUp(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("state space stopping", zap.Uint64("last_synced", s.LastSyncedBlock()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// catchUp syncs every block up to the current head and persists a snapshot if any block
// was synced. A block that fails permanently is attempted once per call.
func (s *StateSpace) catchUp(ctx context.Context) {
	policy := chain.RetryPolicy{
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.RetryBackoff,
		Logger:     s.logger,
	}
	var head uint64
	err := chain.Retry(ctx, policy, "latest block", func(ctx context.Context) error {
		var err error
		head, err = s.provider.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.SyncErrors.WithLabelValues("head").Inc()
			s.logger.Warn("get latest block failed", zap.Error(err))
		}
		return
	}

	blockPolicy := policy
	blockPolicy.Permanent = permanentSyncError
	synced := 0
	for n := s.LastSyncedBlock() + 1; n <= head; n++ {
		n := n
		err := chain.Retry(ctx, blockPolicy, "sync block", func(ctx context.Context) error {
			err := s.SyncBlock(ctx, n)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("sync block failed", zap.Uint64("block", n), zap.Error(err))
			}
			return err
		})
		if err != nil {
			break
		}
		synced++
	}

	if synced == 0 || s.cfg.Store == nil {
		return
	}
	if err := s.SaveTo(ctx, s.cfg.Store); err != nil {
		s.metrics.SyncErrors.WithLabelValues("snapshot").Inc()
		s.logger.Warn("save snapshot failed", zap.Error(err))
		return
	}
	s.logger.Info("synced", zap.Int("blocks", synced), zap.Uint64("last_synced", s.LastSyncedBlock()))
}
