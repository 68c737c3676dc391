package statespace

import (
	"errors"
	"fmt"

	"stateSpace/internal/amm"
)

var (
	// ErrPoolNotFound is returned for addresses that are not tracked.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrBlockGap is returned when a block is synced before its predecessor.
	ErrBlockGap = errors.New("block is not the next unsynced block")
)

// SyncError reports a block that could not be applied. The registry is left as it was
// before the block.
type SyncError struct {
	Block uint64
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync block %d: %v", e.Block, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// permanentSyncError reports block failures that syncing the same block again cannot fix.
func permanentSyncError(err error) bool {
	var decodeErr *amm.DecodeError
	return errors.As(err, &decodeErr) ||
		errors.Is(err, ErrBlockGap) ||
		errors.Is(err, amm.ErrBlockNumberNotFound) ||
		errors.Is(err, amm.ErrUnsupportedKind) ||
		errors.Is(err, amm.ErrDecimalsUnavailable)
}
