// Package amm models on-chain liquidity pools and the factories that deploy them.
//
// Pool and Factory are closed: every implementation lives in this package, and adding a
// protocol means adding a new implementation next to the existing ones.
package amm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Kind discriminates pool and factory protocols in serialized records.
type Kind string

const (
	KindUniswapV2 Kind = "uniswap_v2"
	KindUniswapV3 Kind = "uniswap_v3"
)

// Pool is the capability set shared by every supported pool protocol.
type Pool interface {
	Address() common.Address
	Kind() Kind
	// SyncEvents lists the topics Sync reacts to.
	SyncEvents() []common.Hash
	// Sync decodes log and overwrites the state it carries.
	Sync(log types.Log) error
	// Tokens returns the pool's token pair in on-chain order.
	Tokens() []common.Address
	// Decimals returns the decimals of Tokens, in the same order.
	Decimals() []uint8
	// Price returns the price of base denominated in quote.
	Price(base, quote common.Address) (float64, error)
	// SimulateSwap returns the output of swapping amountIn of base for quote.
	SimulateSwap(base, quote common.Address, amountIn *big.Int) (*big.Int, error)
	// SimulateSwapMut is SimulateSwap that also applies the trade to local state.
	SimulateSwapMut(base, quote common.Address, amountIn *big.Int) (*big.Int, error)
	// Clone returns a deep copy.
	Clone() Pool

	sealedPool()
}

// Factory is the capability set shared by every supported factory protocol.
type Factory interface {
	Address() common.Address
	Kind() Kind
	// CreationBlock is the block from which the factory's pools are queryable.
	CreationBlock() uint64
	// DiscoveryEvent is the topic emitted on pool creation.
	DiscoveryEvent() common.Hash
	// CreatePool builds a zero-state pool from a creation log.
	CreatePool(log types.Log) (Pool, error)
	// Backfill loads every pool deployed by the factory as of asOfBlock.
	Backfill(ctx context.Context, provider Provider, asOfBlock uint64, opts BackfillOptions) (BackfillResult, error)

	sealedFactory()
}

// Provider is the upstream chain access the package depends on.
type Provider interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// FilterLogs returns logs ordered by block then log index.
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	// BatchCallContract issues msgs in one round trip. The returned slices are aligned with
	// msgs; a per-call failure is reported in errs, a transport failure in err.
	BatchCallContract(ctx context.Context, msgs []ethereum.CallMsg, blockNumber *big.Int) (results [][]byte, errs []error, err error)
}

// BackfillOptions tunes historical sync. Zero values fall back to defaults.
type BackfillOptions struct {
	// PageSize is the number of index reads per batch when enumerating pool addresses.
	PageSize int
	// ChunkSize is the number of pools per aggregated state read.
	ChunkSize int
	// LogStep is the block span per log query for log-scanned factories.
	LogStep uint64
	// Concurrency bounds in-flight batches.
	Concurrency int
	// AbortOnChunkFailure makes Backfill fail on the first failed chunk instead of
	// returning partial results.
	AbortOnChunkFailure bool
	// Decimals is shared across factories. A nil cache disables sharing.
	Decimals *DecimalsCache
	Logger   *zap.Logger
}

const (
	DefaultPageSize    = 766
	DefaultChunkSize   = 127
	DefaultLogStep     = 10_000
	DefaultConcurrency = 8
)

func (o BackfillOptions) withDefaults() BackfillOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.LogStep == 0 {
		o.LogStep = DefaultLogStep
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Decimals == nil {
		o.Decimals = NewDecimalsCache()
	}
	return o
}

func (o BackfillOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// BackfillResult carries the pools loaded plus every chunk that failed.
type BackfillResult struct {
	Pools  []Pool
	Failed []*ChunkError
}

func (r *BackfillResult) fail(err *ChunkError) {
	r.Failed = append(r.Failed, err)
}
