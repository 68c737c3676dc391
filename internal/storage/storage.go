package storage

import (
	"context"

	"stateSpace/internal/model"
)

// SnapshotStore persists state space snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error
	// LoadSnapshot reports false when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error)
}
