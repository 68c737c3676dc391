package amm

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stateSpace/internal/chain"
)

// UniswapV3Factory deploys concentrated-liquidity pools. It keeps no on-chain index, so
// its pools are found by scanning PoolCreated logs.
type UniswapV3Factory struct {
	FactoryAddress common.Address `json:"address"`
	DeployBlock    uint64         `json:"creation_block"`
}

var _ Factory = (*UniswapV3Factory)(nil)

func (f *UniswapV3Factory) sealedFactory() {}

func (f *UniswapV3Factory) Address() common.Address { return f.FactoryAddress }

func (f *UniswapV3Factory) Kind() Kind { return KindUniswapV3 }

func (f *UniswapV3Factory) CreationBlock() uint64 { return f.DeployBlock }

func (f *UniswapV3Factory) DiscoveryEvent() common.Hash { return PoolCreatedTopic }

// CreatePool decodes a PoolCreated log into an empty pool.
func (f *UniswapV3Factory) CreatePool(log types.Log) (Pool, error) {
	if t, ok := topic0(log); !ok || t != PoolCreatedTopic {
		return nil, decodeErr(KindUniswapV3, "PoolCreated", "unexpected topic")
	}
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	event := factoryABI.Events["PoolCreated"]

	var indexed struct {
		Token0 common.Address
		Token1 common.Address
		Fee    *big.Int
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return nil, &DecodeError{Kind: KindUniswapV3, Event: "PoolCreated", Err: err}
	}
	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV3, Event: "PoolCreated", Err: err}
	}
	spacingInt, err := asBigInt(values[0])
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV3, Event: "PoolCreated", Err: err}
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV3, Event: "PoolCreated", Err: err}
	}
	pool, err := asAddress(values[1])
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV3, Event: "PoolCreated", Err: err}
	}
	if indexed.Fee == nil || !indexed.Fee.IsUint64() {
		return nil, decodeErr(KindUniswapV3, "PoolCreated", "invalid fee")
	}

	return &UniswapV3Pool{
		PoolAddress:  pool,
		Token0:       indexed.Token0,
		Token1:       indexed.Token1,
		Fee:          uint32(indexed.Fee.Uint64()),
		TickSpacing:  spacing,
		SqrtPriceX96: new(big.Int),
		Liquidity:    new(big.Int),
		Ticks:        make(map[int32]*TickInfo),
	}, nil
}

// Backfill scans creation and position logs up to asOfBlock, then reads slot0 and
// liquidity for every pool in chunks.
func (f *UniswapV3Factory) Backfill(ctx context.Context, provider Provider, asOfBlock uint64, opts BackfillOptions) (BackfillResult, error) {
	opts = opts.withDefaults()
	logger := opts.logger()
	if asOfBlock < f.DeployBlock {
		return BackfillResult{}, nil
	}
	ranges, err := chain.SplitRange(f.DeployBlock, asOfBlock, opts.LogStep)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("split range: %w", err)
	}

	var result BackfillResult
	creations := f.scanLogs(ctx, provider, ranges, []common.Address{f.FactoryAddress}, []common.Hash{PoolCreatedTopic}, opts, &result)
	pools := make(map[common.Address]*UniswapV3Pool, len(creations))
	for _, log := range creations {
		created, err := f.CreatePool(log)
		if err != nil {
			logger.Warn("skip pool creation log", zap.Uint64("block", log.BlockNumber), zap.Error(err))
			continue
		}
		pool := created.(*UniswapV3Pool)
		pools[pool.PoolAddress] = pool
	}
	logger.Info("backfill pools",
		zap.String("factory", f.FactoryAddress.Hex()),
		zap.Uint64("block", asOfBlock),
		zap.Int("pools", len(pools)),
	)
	if opts.AbortOnChunkFailure && len(result.Failed) > 0 {
		return result, result.Failed[0]
	}

	positions := f.scanLogs(ctx, provider, ranges, nil, []common.Hash{MintTopic, BurnTopic}, opts, &result)
	for _, log := range positions {
		pool, ok := pools[log.Address]
		if !ok {
			continue
		}
		if err := pool.applyPositionLog(log); err != nil {
			logger.Warn("skip position log",
				zap.String("pool", log.Address.Hex()),
				zap.Uint64("block", log.BlockNumber),
				zap.Error(err),
			)
		}
	}
	if opts.AbortOnChunkFailure && len(result.Failed) > 0 {
		return result, result.Failed[0]
	}

	ordered := make([]*UniswapV3Pool, 0, len(pools))
	for _, pool := range pools {
		ordered = append(ordered, pool)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PoolAddress.Hex() < ordered[j].PoolAddress.Hex()
	})

	block := new(big.Int).SetUint64(asOfBlock)
	chunks := spans(len(ordered), opts.ChunkSize)
	loads, errs := fanOut(ctx, opts.Concurrency, chunks, func(ctx context.Context, s span) (chunkLoad, error) {
		return loadV3Pools(ctx, provider, ordered[s.start:s.end], block, opts)
	})
	for i, chunk := range chunks {
		if errs[i] != nil {
			result.fail(&ChunkError{
				Factory: f.FactoryAddress,
				Stage:   "state",
				Offset:  uint64(chunk.start),
				Size:    uint64(chunk.end - chunk.start),
				Err:     errs[i],
			})
			continue
		}
		result.record(f.FactoryAddress, chunk.start, loads[i])
	}
	if opts.AbortOnChunkFailure && len(result.Failed) > 0 {
		return result, result.Failed[0]
	}
	return result, nil
}

// scanLogs fetches logs over ranges concurrently and returns them in block order.
func (f *UniswapV3Factory) scanLogs(ctx context.Context, provider Provider, ranges []chain.BlockRange, addresses []common.Address, topics []common.Hash, opts BackfillOptions, result *BackfillResult) []types.Log {
	items := make([]span, len(ranges))
	for i := range ranges {
		items[i] = span{start: i, end: i + 1}
	}
	found, errs := fanOut(ctx, opts.Concurrency, items, func(ctx context.Context, s span) ([]types.Log, error) {
		r := ranges[s.start]
		logs, err := provider.FilterLogs(ctx, r.From, r.To, addresses, topics)
		if err != nil {
			return nil, &ProviderError{Op: "filter logs", Err: err}
		}
		return logs, nil
	})

	out := make([]types.Log, 0)
	for i, r := range ranges {
		if errs[i] != nil {
			result.fail(&ChunkError{
				Factory: f.FactoryAddress,
				Stage:   "logs",
				Offset:  r.From,
				Size:    r.Size(),
				Err:     errs[i],
			})
			continue
		}
		out = append(out, found[i]...)
	}
	SortLogs(out)
	return out
}

func (p *UniswapV3Pool) applyPositionLog(log types.Log) error {
	t, _ := topic0(log)
	switch t {
	case MintTopic:
		lower, upper, amount, err := decodePosition(log, "Mint", 4, 1)
		if err != nil {
			return err
		}
		return p.modifyPosition(lower, upper, amount, false)
	case BurnTopic:
		lower, upper, amount, err := decodePosition(log, "Burn", 3, 0)
		if err != nil {
			return err
		}
		return p.modifyPosition(lower, upper, amount.Neg(amount), false)
	default:
		return decodeErr(KindUniswapV3, "", "unexpected topic %s", t.Hex())
	}
}

// loadV3Pools reads slot0 and liquidity for a chunk of pools, then their decimals. A pool
// that cannot be loaded is reported as a failure.
func loadV3Pools(ctx context.Context, provider Provider, pools []*UniswapV3Pool, block *big.Int, opts BackfillOptions) (chunkLoad, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return chunkLoad{}, fmt.Errorf("parse pool abi: %w", err)
	}
	slot0, err := poolABI.Pack("slot0")
	if err != nil {
		return chunkLoad{}, fmt.Errorf("pack slot0: %w", err)
	}
	liquidity, err := poolABI.Pack("liquidity")
	if err != nil {
		return chunkLoad{}, fmt.Errorf("pack liquidity: %w", err)
	}

	msgs := make([]ethereum.CallMsg, 0, len(pools)*2)
	for _, pool := range pools {
		addr := pool.PoolAddress
		msgs = append(msgs,
			ethereum.CallMsg{To: &addr, Data: slot0},
			ethereum.CallMsg{To: &addr, Data: liquidity},
		)
	}
	results, errs, err := provider.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return chunkLoad{}, &ProviderError{Op: "batch pool state", Err: err}
	}

	logger := opts.logger()
	var load chunkLoad
	pending := make([]loadedPool, 0, len(pools))
	for i, pool := range pools {
		if err := decodeV3State(poolABI, pool, results[2*i:2*i+2], errs[2*i:2*i+2]); err != nil {
			logger.Warn("pool state unreadable", zap.String("pool", pool.PoolAddress.Hex()), zap.Error(err))
			load.failed = append(load.failed, poolFailure{index: i, pool: pool.PoolAddress, stage: "state", err: err})
			continue
		}
		pending = append(pending, loadedPool{index: i, pool: pool})
	}

	if err := attachDecimals(ctx, provider, opts.Decimals, pending, block, &load); err != nil {
		return chunkLoad{}, err
	}
	return load, nil
}

func decodeV3State(poolABI abi.ABI, pool *UniswapV3Pool, results [][]byte, errs []error) error {
	if errs[0] != nil {
		return fmt.Errorf("slot0: %w", errs[0])
	}
	values, err := unpackCall(poolABI, "slot0", results[0])
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("unexpected slot0 values: %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return err
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return err
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return err
	}

	if errs[1] != nil {
		return fmt.Errorf("liquidity: %w", errs[1])
	}
	values, err = unpackCall(poolABI, "liquidity", results[1])
	if err != nil {
		return err
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return err
	}

	pool.SqrtPriceX96, pool.Tick, pool.Liquidity = sqrtPrice, tick, liquidity
	return nil
}
