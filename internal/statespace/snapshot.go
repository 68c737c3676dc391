package statespace

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/model"
	"stateSpace/internal/storage"
)

// Snapshot captures the registry and the last synced block as of one committed block.
func (s *StateSpace) Snapshot() (model.Snapshot, error) {
	s.mu.RLock()
	pools := make([]amm.Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		pools = append(pools, pool.Clone())
	}
	factories := make([]amm.Factory, 0, len(s.factories))
	for _, factory := range s.factories {
		factories = append(factories, factory)
	}
	last := s.lastSynced
	s.mu.RUnlock()
	sortPools(pools)
	sortFactories(factories)

	snapshot := model.Snapshot{
		ChainID:         s.cfg.ChainID,
		LastSyncedBlock: last,
		SavedAt:         time.Now().UTC().Format(time.RFC3339Nano),
		Factories:       make([]model.Record, 0, len(factories)),
		Pools:           make([]model.Record, 0, len(pools)),
	}
	for _, factory := range factories {
		record, err := amm.EncodeFactory(factory)
		if err != nil {
			return model.Snapshot{}, err
		}
		snapshot.Factories = append(snapshot.Factories, record)
	}
	for _, pool := range pools {
		record, err := amm.EncodePool(pool)
		if err != nil {
			return model.Snapshot{}, err
		}
		snapshot.Pools = append(snapshot.Pools, record)
	}
	return snapshot, nil
}

// Restore replaces the registry with the content of snapshot. Nothing changes when a
// record cannot be decoded.
func (s *StateSpace) Restore(snapshot model.Snapshot) error {
	if s.cfg.ChainID != 0 && snapshot.ChainID != 0 && s.cfg.ChainID != snapshot.ChainID {
		return fmt.Errorf("snapshot chain id %d does not match %d", snapshot.ChainID, s.cfg.ChainID)
	}

	factories := make(map[common.Address]amm.Factory, len(snapshot.Factories))
	for _, record := range snapshot.Factories {
		factory, err := amm.DecodeFactory(record)
		if err != nil {
			return err
		}
		factories[factory.Address()] = factory
	}
	// Explicit factories keep their configured settings.
	for _, factory := range s.cfg.Factories {
		factories[factory.Address()] = factory
	}

	pools := make(map[common.Address]amm.Pool, len(snapshot.Pools))
	for _, record := range snapshot.Pools {
		pool, err := amm.DecodePool(record)
		if err != nil {
			return err
		}
		pools[pool.Address()] = pool
		decimals := pool.Decimals()
		for i, token := range pool.Tokens() {
			if i < len(decimals) {
				s.decimals.Set(token, decimals[i])
			}
		}
	}

	s.mu.Lock()
	s.pools = pools
	s.factories = factories
	s.lastSynced = snapshot.LastSyncedBlock
	s.mu.Unlock()

	s.metrics.Pools.Set(float64(len(pools)))
	s.metrics.LastSyncedBlock.Set(float64(snapshot.LastSyncedBlock))
	s.logger.Info("state space restored",
		zap.Uint64("block", snapshot.LastSyncedBlock),
		zap.Int("factories", len(factories)),
		zap.Int("pools", len(pools)),
	)
	return nil
}

// SaveTo writes a snapshot to store.
func (s *StateSpace) SaveTo(ctx context.Context, store storage.SnapshotStore) error {
	snapshot, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := store.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadFrom restores the registry from store. It reports false when store holds no snapshot.
func (s *StateSpace) LoadFrom(ctx context.Context, store storage.SnapshotStore) (bool, error) {
	snapshot, ok, err := store.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.Restore(snapshot); err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	return true, nil
}
