package amm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownToken is returned when neither token of a request belongs to the pool.
	ErrUnknownToken = errors.New("token not in pool")
	// ErrBlockNumberNotFound is returned for logs that carry no block number.
	ErrBlockNumberNotFound = errors.New("log block number not found")
	// ErrUnsupportedKind is returned for topics or records outside the catalogue.
	ErrUnsupportedKind = errors.New("unsupported factory kind")
	// ErrDecimalsUnavailable is returned when a pool token does not answer decimals().
	ErrDecimalsUnavailable = errors.New("token decimals unavailable")
)

// DecodeError reports a log or call payload that does not match the expected schema.
type DecodeError struct {
	Kind  Kind
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %s: %v", e.Kind, e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(kind Kind, event string, format string, args ...interface{}) error {
	return &DecodeError{Kind: kind, Event: event, Err: fmt.Errorf(format, args...)}
}

// ProviderError wraps a failure of the upstream chain access.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UnsupportedFactoryKindError names the discovery topic that is not in the catalogue.
type UnsupportedFactoryKindError struct {
	Topic common.Hash
}

func (e *UnsupportedFactoryKindError) Error() string {
	return fmt.Sprintf("%v: topic %s", ErrUnsupportedKind, e.Topic.Hex())
}

func (e *UnsupportedFactoryKindError) Unwrap() error {
	return ErrUnsupportedKind
}

// ChunkError reports one failed batch of a backfill, or one pool of a batch when Pool is set.
type ChunkError struct {
	Factory common.Address
	// Stage is "pairs", "state", "decimals" or "logs".
	Stage string
	Pool  common.Address
	// Offset and Size locate the chunk: pool index for index pages and state reads,
	// block numbers for log scans.
	Offset uint64
	Size   uint64
	Err    error
}

func (e *ChunkError) Error() string {
	if e.Pool != (common.Address{}) {
		return fmt.Sprintf("factory %s %s pool %s at %d: %v", e.Factory.Hex(), e.Stage, e.Pool.Hex(), e.Offset, e.Err)
	}
	return fmt.Sprintf("factory %s %s chunk [%d,+%d): %v", e.Factory.Hex(), e.Stage, e.Offset, e.Size, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
