package v3math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func TestSqrtRatioAtTick(t *testing.T) {
	tests := []struct {
		tick int32
		want string
	}{
		{tick: 0, want: "79228162514264337593543950336"},
		{tick: 1, want: "79232123823359799118286999568"},
		{tick: -1, want: "79224201403219477170569942574"},
		{tick: 60, want: "79466191966197645195421774833"},
		{tick: MinTick, want: MinSqrtRatio.String()},
		{tick: MaxTick, want: MaxSqrtRatio.String()},
	}
	for _, tc := range tests {
		got, err := SqrtRatioAtTick(tc.tick)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.String(), "tick %d", tc.tick)
	}

	_, err := SqrtRatioAtTick(MaxTick + 1)
	assert.ErrorIs(t, err, ErrTickOutOfBounds)
}

func TestTickAtSqrtRatio(t *testing.T) {
	tick, err := TickAtSqrtRatio(Q96)
	require.NoError(t, err)
	assert.Equal(t, int32(0), tick)

	tick, err = TickAtSqrtRatio(MinSqrtRatio)
	require.NoError(t, err)
	assert.Equal(t, MinTick, tick)

	// one below the ratio of tick 60 still lands on tick 59
	below := bigFromString(t, "79466191966197645195421774832")
	tick, err = TickAtSqrtRatio(below)
	require.NoError(t, err)
	assert.Equal(t, int32(59), tick)

	_, err = TickAtSqrtRatio(MaxSqrtRatio)
	assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
}

func TestComputeSwapStep(t *testing.T) {
	liquidity := big.NewInt(2e18)
	amount := big.NewInt(1e18)

	t.Run("capped at target", func(t *testing.T) {
		target := bigFromString(t, "79623317895830914510639640423")
		step, err := ComputeSwapStep(Q96, target, liquidity, amount, 600)
		require.NoError(t, err)
		assert.Equal(t, target.String(), step.SqrtRatioNextX96.String())
		assert.Equal(t, "9975124224178055", step.AmountIn.String())
		assert.Equal(t, "9925619580021728", step.AmountOut.String())
		assert.Equal(t, "5988667735148", step.FeeAmount.String())
	})

	t.Run("fully spent", func(t *testing.T) {
		target := bigFromString(t, "250541448375047931186413801569")
		step, err := ComputeSwapStep(Q96, target, liquidity, amount, 600)
		require.NoError(t, err)
		assert.Equal(t, "118818475322642227089037862318", step.SqrtRatioNextX96.String())
		assert.Equal(t, "999400000000000000", step.AmountIn.String())
		assert.Equal(t, "666399946655997866", step.AmountOut.String())
		assert.Equal(t, "600000000000000", step.FeeAmount.String())
	})
}

func TestAddDelta(t *testing.T) {
	got, err := AddDelta(big.NewInt(10), big.NewInt(-4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Int64())

	_, err = AddDelta(big.NewInt(1), big.NewInt(-2))
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)

	_, err = AddDelta(maxUint128, big.NewInt(1))
	assert.ErrorIs(t, err, ErrLiquidityOverflow)
}
