package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// UniswapV2Factory deploys constant-product pairs and indexes them in allPairs.
type UniswapV2Factory struct {
	FactoryAddress common.Address `json:"address"`
	DeployBlock    uint64         `json:"creation_block"`
	Fee            uint32         `json:"fee"`
}

var _ Factory = (*UniswapV2Factory)(nil)

func (f *UniswapV2Factory) sealedFactory() {}

func (f *UniswapV2Factory) Address() common.Address { return f.FactoryAddress }

func (f *UniswapV2Factory) Kind() Kind { return KindUniswapV2 }

func (f *UniswapV2Factory) CreationBlock() uint64 { return f.DeployBlock }

func (f *UniswapV2Factory) DiscoveryEvent() common.Hash { return PairCreatedTopic }

// CreatePool decodes a PairCreated log into an empty pair.
func (f *UniswapV2Factory) CreatePool(log types.Log) (Pool, error) {
	if t, ok := topic0(log); !ok || t != PairCreatedTopic {
		return nil, decodeErr(KindUniswapV2, "PairCreated", "unexpected topic")
	}
	factoryABI, err := V2FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	event := factoryABI.Events["PairCreated"]

	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return nil, &DecodeError{Kind: KindUniswapV2, Event: "PairCreated", Err: err}
	}
	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV2, Event: "PairCreated", Err: err}
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return nil, &DecodeError{Kind: KindUniswapV2, Event: "PairCreated", Err: err}
	}

	return &UniswapV2Pool{
		PoolAddress: pair,
		Token0:      indexed.Token0,
		Token1:      indexed.Token1,
		Reserve0:    new(big.Int),
		Reserve1:    new(big.Int),
		Fee:         f.Fee,
	}, nil
}

// Backfill enumerates allPairs as of asOfBlock and reads every pair's state in chunks.
func (f *UniswapV2Factory) Backfill(ctx context.Context, provider Provider, asOfBlock uint64, opts BackfillOptions) (BackfillResult, error) {
	opts = opts.withDefaults()
	logger := opts.logger()
	block := new(big.Int).SetUint64(asOfBlock)

	count, err := f.pairCount(ctx, provider, block)
	if err != nil {
		return BackfillResult{}, err
	}
	logger.Info("backfill pairs",
		zap.String("factory", f.FactoryAddress.Hex()),
		zap.Uint64("block", asOfBlock),
		zap.Int("pairs", count),
	)

	var result BackfillResult
	addresses := f.pairAddresses(ctx, provider, count, block, opts, &result)
	if opts.AbortOnChunkFailure && len(result.Failed) > 0 {
		return result, result.Failed[0]
	}

	chunks := spans(len(addresses), opts.ChunkSize)
	loads, errs := fanOut(ctx, opts.Concurrency, chunks, func(ctx context.Context, s span) (chunkLoad, error) {
		return f.loadPairs(ctx, provider, addresses[s.start:s.end], block, opts)
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

func (f *UniswapV2Factory) pairCount(ctx context.Context, provider Provider, block *big.Int) (int, error) {
	factoryABI, err := V2FactoryABI()
	if err != nil {
		return 0, fmt.Errorf("parse factory abi: %w", err)
	}
	data, err := factoryABI.Pack("allPairsLength")
	if err != nil {
		return 0, fmt.Errorf("pack allPairsLength: %w", err)
	}
	resp, err := provider.CallContract(ctx, ethereum.CallMsg{To: &f.FactoryAddress, Data: data}, block)
	if err != nil {
		return 0, &ProviderError{Op: "allPairsLength", Err: err}
	}
	values, err := unpackCall(factoryABI, "allPairsLength", resp)
	if err != nil {
		return 0, &DecodeError{Kind: KindUniswapV2, Event: "allPairsLength", Err: err}
	}
	count, err := asBigInt(values[0])
	if err != nil || !count.IsInt64() {
		return 0, decodeErr(KindUniswapV2, "allPairsLength", "invalid pair count %v", values[0])
	}
	return int(count.Int64()), nil
}

func (f *UniswapV2Factory) pairAddresses(ctx context.Context, provider Provider, count int, block *big.Int, opts BackfillOptions, result *BackfillResult) []common.Address {
	pages := spans(count, opts.PageSize)
	found, errs := fanOut(ctx, opts.Concurrency, pages, func(ctx context.Context, s span) ([]common.Address, error) {
		return f.pairPage(ctx, provider, s, block)
	})

	addresses := make([]common.Address, 0, count)
	for i, page := range pages {
		if errs[i] != nil {
			result.fail(&ChunkError{
				Factory: f.FactoryAddress,
				Stage:   "pairs",
				Offset:  uint64(page.start),
				Size:    uint64(page.end - page.start),
				Err:     errs[i],
			})
			continue
		}
		addresses = append(addresses, found[i]...)
	}
	return addresses
}

func (f *UniswapV2Factory) pairPage(ctx context.Context, provider Provider, s span, block *big.Int) ([]common.Address, error) {
	factoryABI, err := V2FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	msgs := make([]ethereum.CallMsg, 0, s.end-s.start)
	for i := s.start; i < s.end; i++ {
		data, err := factoryABI.Pack("allPairs", big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("pack allPairs: %w", err)
		}
		msgs = append(msgs, ethereum.CallMsg{To: &f.FactoryAddress, Data: data})
	}
	results, errs, err := provider.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return nil, &ProviderError{Op: "batch allPairs", Err: err}
	}

	out := make([]common.Address, 0, len(msgs))
	for i := range msgs {
		if errs[i] != nil {
			return nil, &ProviderError{Op: "allPairs", Err: errs[i]}
		}
		values, err := unpackCall(factoryABI, "allPairs", results[i])
		if err != nil {
			return nil, &DecodeError{Kind: KindUniswapV2, Event: "allPairs", Err: err}
		}
		pair, err := asAddress(values[0])
		if err != nil {
			return nil, &DecodeError{Kind: KindUniswapV2, Event: "allPairs", Err: err}
		}
		out = append(out, pair)
	}
	return out, nil
}

// loadPairs reads token0, token1 and reserves for a chunk of pairs, then their decimals.
// Pairs whose token0 does not resolve are dropped; every other pair that cannot be loaded
// is reported as a failure.
func (f *UniswapV2Factory) loadPairs(ctx context.Context, provider Provider, pairs []common.Address, block *big.Int, opts BackfillOptions) (chunkLoad, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return chunkLoad{}, fmt.Errorf("parse pair abi: %w", err)
	}
	methods := []string{"token0", "token1", "getReserves"}
	calldata := make([][]byte, len(methods))
	for i, method := range methods {
		calldata[i], err = pairABI.Pack(method)
		if err != nil {
			return chunkLoad{}, fmt.Errorf("pack %s: %w", method, err)
		}
	}

	msgs := make([]ethereum.CallMsg, 0, len(pairs)*len(methods))
	for i := range pairs {
		for _, data := range calldata {
			msgs = append(msgs, ethereum.CallMsg{To: &pairs[i], Data: data})
		}
	}
	results, errs, err := provider.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return chunkLoad{}, &ProviderError{Op: "batch pair state", Err: err}
	}

	logger := opts.logger()
	var load chunkLoad
	pending := make([]loadedPool, 0, len(pairs))
	for i, pair := range pairs {
		base := i * len(methods)
		pool, err := decodePairState(pairABI, pair, results[base:base+len(methods)], errs[base:base+len(methods)])
		if err != nil {
			logger.Warn("pair state unreadable", zap.String("pair", pair.Hex()), zap.Error(err))
			load.failed = append(load.failed, poolFailure{index: i, pool: pair, stage: "state", err: err})
			continue
		}
		if pool == nil {
			continue
		}
		pool.Fee = f.Fee
		pending = append(pending, loadedPool{index: i, pool: pool})
	}

	if err := attachDecimals(ctx, provider, opts.Decimals, pending, block, &load); err != nil {
		return chunkLoad{}, err
	}
	return load, nil
}

// decodePairState returns nil, nil for an unresolvable pair.
func decodePairState(pairABI abi.ABI, pair common.Address, results [][]byte, errs []error) (*UniswapV2Pool, error) {
	if errs[0] != nil {
		return nil, nil
	}
	values, err := unpackCall(pairABI, "token0", results[0])
	if err != nil {
		return nil, nil
	}
	token0, err := asAddress(values[0])
	if err != nil || token0 == (common.Address{}) {
		return nil, nil
	}

	if errs[1] != nil {
		return nil, fmt.Errorf("token1: %w", errs[1])
	}
	values, err = unpackCall(pairABI, "token1", results[1])
	if err != nil {
		return nil, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}

	if errs[2] != nil {
		return nil, fmt.Errorf("getReserves: %w", errs[2])
	}
	values, err = unpackCall(pairABI, "getReserves", results[2])
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected getReserves values: %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}

	return &UniswapV2Pool{
		PoolAddress: pair,
		Token0:      token0,
		Token1:      token1,
		Reserve0:    reserve0,
		Reserve1:    reserve1,
	}, nil
}
