package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stateSpace/internal/config"
	"stateSpace/internal/storage"
	"stateSpace/internal/storage/postgres"
)

// openStore returns the configured snapshot store, or nil when none is configured. The
// returned close function is never nil.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.SnapshotStore, func(), error) {
	switch {
	case cfg.PGDSN != "":
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.SnapshotName)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, func() {}, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("snapshot store", zap.String("pg_dsn", redactDSN(cfg.PGDSN)), zap.String("name", cfg.SnapshotName))
		return store, store.Close, nil
	case cfg.Snapshot != "":
		logger.Info("snapshot store", zap.String("path", cfg.Snapshot))
		return storage.NewJsonlStore(cfg.Snapshot), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}
