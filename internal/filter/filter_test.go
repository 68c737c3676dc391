package filter_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stateSpace/internal/amm"
	"stateSpace/internal/amm/ammtest"
	"stateSpace/internal/amm/v3math"
	"stateSpace/internal/filter"
)

var (
	weth = ammtest.Addr(1)
	usdc = ammtest.Addr(2)
	dai  = ammtest.Addr(3)
	shib = ammtest.Addr(4)
)

func pair(addr int64, token0, token1 common.Address) *amm.UniswapV2Pool {
	return &amm.UniswapV2Pool{
		PoolAddress:    ammtest.Addr(addr),
		Token0:         token0,
		Token0Decimals: 18,
		Token1:         token1,
		Token1Decimals: 18,
		Reserve0:       big.NewInt(0),
		Reserve1:       big.NewInt(0),
		Fee:            amm.DefaultV2Fee,
	}
}

func TestWhitelist(t *testing.T) {
	tests := []struct {
		name   string
		pools  []common.Address
		tokens []common.Address
		pool   amm.Pool
		want   bool
	}{
		{name: "empty accepts all", pool: pair(200, weth, usdc), want: true},
		{name: "listed pool", pools: []common.Address{ammtest.Addr(200)}, pool: pair(200, weth, usdc), want: true},
		{name: "unlisted pool with no tokens", pools: []common.Address{ammtest.Addr(201)}, pool: pair(200, weth, usdc), want: false},
		{name: "listed token", tokens: []common.Address{usdc}, pool: pair(200, weth, usdc), want: true},
		{name: "listed token on unlisted pool", pools: []common.Address{ammtest.Addr(201)}, tokens: []common.Address{weth}, pool: pair(200, weth, dai), want: true},
		{name: "no listed token", tokens: []common.Address{shib}, pool: pair(200, weth, dai), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, filter.NewWhitelist(tc.pools, tc.tokens).Accept(tc.pool))
		})
	}
}

func TestBlacklist(t *testing.T) {
	blacklist := filter.NewBlacklist([]common.Address{ammtest.Addr(200)}, []common.Address{shib})

	assert.False(t, blacklist.Accept(pair(200, weth, usdc)))
	assert.False(t, blacklist.Accept(pair(201, shib, usdc)))
	assert.True(t, blacklist.Accept(pair(202, weth, usdc)))
	assert.True(t, filter.NewBlacklist(nil, nil).Accept(pair(200, weth, usdc)))
}

func TestValue(t *testing.T) {
	value := func(pool amm.Pool) (float64, error) {
		switch pool.Address() {
		case ammtest.Addr(200):
			return 10, nil
		case ammtest.Addr(201):
			return 5, nil
		default:
			return 0, errors.New("no price")
		}
	}
	f := filter.NewValue(value, 5, nil)

	assert.True(t, f.Accept(pair(200, weth, usdc)))
	assert.False(t, f.Accept(pair(201, weth, usdc)), "threshold must be exceeded")
	assert.False(t, f.Accept(pair(202, weth, usdc)))
}

type countingFilter struct {
	accept bool
	calls  int
}

func (c *countingFilter) Accept(amm.Pool) bool {
	c.calls++
	return c.accept
}

func TestChainShortCircuits(t *testing.T) {
	first := &countingFilter{accept: false}
	second := &countingFilter{accept: true}
	chain := filter.Chain{first, second}

	assert.False(t, chain.Accept(pair(200, weth, usdc)))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)

	assert.True(t, filter.Chain{}.Accept(pair(200, weth, usdc)))
}

func TestChainApply(t *testing.T) {
	chain := filter.Chain{
		filter.NewWhitelist(nil, []common.Address{weth}),
		filter.NewBlacklist(nil, []common.Address{shib}),
	}
	pools := []amm.Pool{pair(200, weth, usdc), pair(201, weth, shib), pair(202, dai, usdc), pair(203, dai, weth)}

	kept := chain.Apply(pools)
	require.Len(t, kept, 2)
	assert.Equal(t, ammtest.Addr(200), kept[0].Address())
	assert.Equal(t, ammtest.Addr(203), kept[1].Address())
}

func TestValuationFromReserves(t *testing.T) {
	pool := pair(200, weth, usdc)
	pool.Token1Decimals = 6
	pool.Reserve0 = big.NewInt(2e18)   // 2 weth
	pool.Reserve1 = big.NewInt(4000e6) // 4000 usdc

	value := filter.Valuation(weth, filter.Balances(context.Background(), ammtest.NewProvider(), nil))
	got, err := value(pool)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9)

	value = filter.Valuation(usdc, filter.Balances(context.Background(), ammtest.NewProvider(), nil))
	got, err = value(pool)
	require.NoError(t, err)
	assert.InDelta(t, 8000.0, got, 1e-6)

	value = filter.Valuation(dai, filter.Balances(context.Background(), ammtest.NewProvider(), nil))
	_, err = value(pool)
	assert.ErrorIs(t, err, filter.ErrNoRoute)
}

func TestValuationOnChain(t *testing.T) {
	provider := ammtest.NewProvider()
	pool := &amm.UniswapV3Pool{
		PoolAddress:    ammtest.Addr(400),
		Token0:         weth,
		Token0Decimals: 18,
		Token1:         dai,
		Token1Decimals: 18,
		Fee:            3000,
		SqrtPriceX96:   new(big.Int).Set(v3math.Q96),
		Liquidity:      big.NewInt(1),
	}
	provider.SetBalance(weth, pool.PoolAddress, big.NewInt(3e18))
	provider.SetBalance(dai, pool.PoolAddress, big.NewInt(1e18))

	value := filter.Valuation(weth, filter.Balances(context.Background(), provider, nil))
	got, err := value(pool)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9)

	provider.FailBatch = errors.New("connection reset")
	_, err = value(pool)
	var providerErr *amm.ProviderError
	assert.True(t, errors.As(err, &providerErr))
}
