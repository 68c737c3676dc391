package amm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// DecimalsCache caches token decimals by address.
type DecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{data: make(map[common.Address]uint8)}
}

func (c *DecimalsCache) Get(address common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[address]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *DecimalsCache) Set(address common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[address] = decimals
	c.mu.Unlock()
}

// FetchDecimals resolves decimals for tokens, reading uncached ones in one batch.
// Tokens whose call reverts are absent from the result.
func FetchDecimals(ctx context.Context, provider Provider, cache *DecimalsCache, tokens []common.Address, block *big.Int) (map[common.Address]uint8, error) {
	out := make(map[common.Address]uint8, len(tokens))
	missing := make([]common.Address, 0)
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		if cache != nil {
			if decimals, ok := cache.Get(token); ok {
				out[token] = decimals
				continue
			}
		}
		missing = append(missing, token)
	}
	if len(missing) == 0 {
		return out, nil
	}

	erc20, err := erc20Instance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := erc20.Pack("decimals")
	if err != nil {
		return nil, fmt.Errorf("pack decimals: %w", err)
	}
	msgs := make([]ethereum.CallMsg, len(missing))
	for i := range missing {
		msgs[i] = ethereum.CallMsg{To: &missing[i], Data: data}
	}
	results, errs, err := provider.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return nil, &ProviderError{Op: "batch decimals", Err: err}
	}
	for i, token := range missing {
		if errs[i] != nil {
			continue
		}
		values, err := unpackCall(erc20, "decimals", results[i])
		if err != nil {
			continue
		}
		decimals, err := asUint8(values[0])
		if err != nil {
			continue
		}
		out[token] = decimals
		if cache != nil {
			cache.Set(token, decimals)
		}
	}
	return out, nil
}

// ResolveDecimals fills in token decimals for pools created from logs.
func ResolveDecimals(ctx context.Context, provider Provider, cache *DecimalsCache, pools []Pool, block *big.Int) error {
	tokens := make([]common.Address, 0, len(pools)*2)
	for _, pool := range pools {
		tokens = append(tokens, pool.Tokens()...)
	}
	decimals, err := FetchDecimals(ctx, provider, cache, tokens, block)
	if err != nil {
		return err
	}
	for _, pool := range pools {
		pair := pool.Tokens()
		d0, ok0 := decimals[pair[0]]
		d1, ok1 := decimals[pair[1]]
		if !ok0 || !ok1 {
			return fmt.Errorf("pool %s: %w", pool.Address().Hex(), ErrDecimalsUnavailable)
		}
		setDecimals(pool, d0, d1)
	}
	return nil
}

// poolFailure is a pool that resolved but could not be fully loaded. index is its
// position within the chunk.
type poolFailure struct {
	index int
	pool  common.Address
	stage string
	err   error
}

// chunkLoad is the outcome of one state chunk.
type chunkLoad struct {
	pools  []Pool
	failed []poolFailure
}

// loadedPool is a pool whose state was read, waiting for token decimals.
type loadedPool struct {
	index int
	pool  Pool
}

// attachDecimals fetches decimals for the pending pools and moves each into load, either
// as a loaded pool or as a decimals failure.
func attachDecimals(ctx context.Context, provider Provider, cache *DecimalsCache, pending []loadedPool, block *big.Int, load *chunkLoad) error {
	tokens := make([]common.Address, 0, len(pending)*2)
	for _, p := range pending {
		tokens = append(tokens, p.pool.Tokens()...)
	}
	decimals, err := FetchDecimals(ctx, provider, cache, tokens, block)
	if err != nil {
		return err
	}
	for _, p := range pending {
		pair := p.pool.Tokens()
		d0, ok0 := decimals[pair[0]]
		d1, ok1 := decimals[pair[1]]
		if !ok0 || !ok1 {
			load.failed = append(load.failed, poolFailure{
				index: p.index,
				pool:  p.pool.Address(),
				stage: "decimals",
				err:   ErrDecimalsUnavailable,
			})
			continue
		}
		setDecimals(p.pool, d0, d1)
		load.pools = append(load.pools, p.pool)
	}
	return nil
}

// record adds the pools and per-pool failures of a chunk starting at offset to r.
func (r *BackfillResult) record(factory common.Address, offset int, load chunkLoad) {
	r.Pools = append(r.Pools, load.pools...)
	for _, f := range load.failed {
		r.fail(&ChunkError{
			Factory: factory,
			Stage:   f.stage,
			Pool:    f.pool,
			Offset:  uint64(offset + f.index),
			Size:    1,
			Err:     f.err,
		})
	}
}

func setDecimals(pool Pool, d0, d1 uint8) {
	switch p := pool.(type) {
	case *UniswapV2Pool:
		p.Token0Decimals, p.Token1Decimals = d0, d1
	case *UniswapV3Pool:
		p.Token0Decimals, p.Token1Decimals = d0, d1
	}
}

func unpackCall(parsed abi.ABI, method string, data []byte) ([]interface{}, error) {
	values, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// span is a half-open index range [start, end).
type span struct {
	start int
	end   int
}

func spans(n, size int) []span {
	out := make([]span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, span{start: start, end: end})
	}
	return out
}

// fanOut runs fn for every span with at most limit in flight. Results and errors are
// aligned with spans; a failed span never cancels its siblings.
func fanOut[T any](ctx context.Context, limit int, items []span, fn func(ctx context.Context, s span) (T, error)) ([]T, []error) {
	results := make([]T, len(items))
	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, s := range items {
		i, s := i, s
		g.Go(func() error {
			results[i], errs[i] = fn(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}
