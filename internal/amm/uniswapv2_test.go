package amm_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stateSpace/internal/amm"
	"stateSpace/internal/amm/ammtest"
)

var (
	tokenA = ammtest.Addr(1)
	tokenB = ammtest.Addr(2)
	tokenC = ammtest.Addr(3)
	tokenX = ammtest.Addr(9)
)

func newV2Pool(r0, r1 *big.Int, d0, d1 uint8) *amm.UniswapV2Pool {
	return &amm.UniswapV2Pool{
		PoolAddress:    ammtest.Addr(200),
		Token0:         tokenA,
		Token0Decimals: d0,
		Token1:         tokenB,
		Token1Decimals: d1,
		Reserve0:       r0,
		Reserve1:       r1,
		Fee:            amm.DefaultV2Fee,
	}
}

func TestUniswapV2Price(t *testing.T) {
	pool := newV2Pool(
		ammtest.Big("47092140895915000000000000"),
		ammtest.Big("28396598565590008529300"),
		18, 18,
	)

	price, err := pool.Price(tokenA, tokenB)
	require.NoError(t, err)
	assert.InDelta(t, 0.0006030007985483893, price, 1e-15)

	price, err = pool.Price(tokenB, tokenA)
	require.NoError(t, err)
	assert.InDelta(t, 1658.3725965327264, price, 1e-9)

	// base is inferred from quote when base is foreign
	price, err = pool.Price(tokenX, tokenA)
	require.NoError(t, err)
	assert.InDelta(t, 1658.3725965327264, price, 1e-9)
}

func TestUniswapV2Price64x64(t *testing.T) {
	pool := newV2Pool(big.NewInt(47092140895915), ammtest.Big("28396598565590008529300"), 6, 18)

	q, err := pool.Price64x64(tokenB, tokenA)
	require.NoError(t, err)
	assert.Equal(t, "30591574867092394336528", q.ToBig().String())

	q, err = pool.Price64x64(tokenA, tokenB)
	require.NoError(t, err)
	assert.Equal(t, "11123401407064628", q.ToBig().String())

	price, err := pool.Price(tokenB, tokenA)
	require.NoError(t, err)
	assert.Equal(t, 1658.3725965327264, price)
}

func TestUniswapV2PriceNonZero(t *testing.T) {
	pool := newV2Pool(ammtest.Big("23595096345912178729927"), ammtest.Big("154664232014390554564"), 18, 9)

	price, err := pool.Price(tokenA, tokenB)
	require.NoError(t, err)
	assert.NotZero(t, price)

	price, err = pool.Price(tokenB, tokenA)
	require.NoError(t, err)
	assert.NotZero(t, price)
}

func TestUniswapV2PriceDecimalShift(t *testing.T) {
	pool := newV2Pool(big.NewInt(1e18), big.NewInt(2e9), 18, 9)

	price, err := pool.Price(tokenA, tokenB)
	require.NoError(t, err)
	assert.Equal(t, 2.0, price)

	price, err = pool.Price(tokenB, tokenA)
	require.NoError(t, err)
	assert.Equal(t, 0.5, price)
}

func TestUniswapV2PriceEmptyReserves(t *testing.T) {
	pool := newV2Pool(new(big.Int), new(big.Int), 18, 6)

	price, err := pool.Price(tokenA, tokenB)
	require.NoError(t, err)
	assert.Equal(t, 1.0, price)
}

func TestUniswapV2UnknownToken(t *testing.T) {
	pool := newV2Pool(big.NewInt(10), big.NewInt(10), 18, 18)

	_, err := pool.Price(tokenX, tokenC)
	assert.ErrorIs(t, err, amm.ErrUnknownToken)

	_, err = pool.SimulateSwap(tokenX, tokenC, big.NewInt(1))
	assert.ErrorIs(t, err, amm.ErrUnknownToken)
}

func TestUniswapV2AmountOut(t *testing.T) {
	pool := newV2Pool(big.NewInt(1_000_000), big.NewInt(1_000_000), 18, 18)

	out, err := pool.SimulateSwap(tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "996", out.String())

	prev := new(big.Int)
	for _, in := range []int64{1, 10, 1_000, 100_000, 10_000_000, 1_000_000_000} {
		out, err := pool.SimulateSwap(tokenA, tokenB, big.NewInt(in))
		require.NoError(t, err)
		assert.True(t, out.Cmp(prev) >= 0, "output shrank at %d", in)
		assert.True(t, out.Cmp(pool.Reserve1) < 0, "output drained reserve at %d", in)
		prev = out
	}

	out, err = pool.SimulateSwap(tokenA, tokenB, new(big.Int))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Int64())
}

func TestUniswapV2FeeUnits(t *testing.T) {
	deep := big.NewInt(1_000_000_000_000_000_000)
	in := big.NewInt(1_000_000_000)
	cases := []struct {
		fee  uint32
		want string
	}{
		// 300 keeps 0.3% of the input
		{fee: amm.DefaultV2Fee, want: "996999999"},
		{fee: 1000, want: "989999999"},
		{fee: 0, want: "999999999"},
	}
	for _, tc := range cases {
		pool := newV2Pool(deep, deep, 18, 18)
		pool.Fee = tc.fee
		assert.Equal(t, tc.want, pool.AmountOut(in, deep, deep).String(), "fee %d", tc.fee)
	}
}

func TestUniswapV2SimulateSwapMut(t *testing.T) {
	pool := newV2Pool(big.NewInt(1_000_000), big.NewInt(1_000_000), 18, 18)
	before := pool.Clone().(*amm.UniswapV2Pool)

	out, err := pool.SimulateSwap(tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, before.Reserve0.String(), pool.Reserve0.String())

	mutOut, err := pool.SimulateSwapMut(tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, out.String(), mutOut.String())
	assert.Equal(t, "1001000", pool.Reserve0.String())
	assert.Equal(t, "999004", pool.Reserve1.String())

	// the clone taken earlier is unaffected
	assert.Equal(t, "1000000", before.Reserve0.String())
}

func TestUniswapV2Sync(t *testing.T) {
	pool := newV2Pool(new(big.Int), new(big.Int), 18, 18)
	log := ammtest.SyncLog(pool.PoolAddress, big.NewInt(500), big.NewInt(700), 10, 0)

	require.NoError(t, pool.Sync(log))
	assert.Equal(t, "500", pool.Reserve0.String())
	assert.Equal(t, "700", pool.Reserve1.String())

	require.NoError(t, pool.Sync(log))
	assert.Equal(t, "500", pool.Reserve0.String())
	assert.Equal(t, "700", pool.Reserve1.String())

	bad := types.Log{Address: pool.PoolAddress, Topics: log.Topics, Data: []byte{1, 2, 3}, BlockNumber: 11}
	err := pool.Sync(bad)
	var decodeErr *amm.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, amm.KindUniswapV2, decodeErr.Kind)
	assert.Equal(t, "500", pool.Reserve0.String())
}

func TestUniswapV2FactoryCreatePool(t *testing.T) {
	factory := &amm.UniswapV2Factory{FactoryAddress: ammtest.Addr(100), DeployBlock: 5, Fee: amm.DefaultV2Fee}
	log := ammtest.PairCreatedLog(factory.FactoryAddress, tokenA, tokenB, ammtest.Addr(201), 0, 7, 1)

	created, err := factory.CreatePool(log)
	require.NoError(t, err)
	pool, ok := created.(*amm.UniswapV2Pool)
	require.True(t, ok)
	assert.Equal(t, ammtest.Addr(201), pool.PoolAddress)
	assert.Equal(t, tokenA, pool.Token0)
	assert.Equal(t, tokenB, pool.Token1)
	assert.Equal(t, uint32(amm.DefaultV2Fee), pool.Fee)
	assert.Equal(t, int64(0), pool.Reserve0.Int64())

	_, err = factory.CreatePool(ammtest.SyncLog(factory.FactoryAddress, big.NewInt(1), big.NewInt(1), 7, 2))
	var decodeErr *amm.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}
