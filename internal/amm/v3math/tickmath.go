// Package v3math holds the concentrated-liquidity arithmetic used to price and simulate
// swaps against Uniswap V3 style pools.
package v3math

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick accepted by SqrtRatioAtTick.
	MinTick int32 = -887272
	// MaxTick is the highest tick accepted by SqrtRatioAtTick.
	MaxTick int32 = 887272
)

var (
	// MinSqrtRatio is SqrtRatioAtTick(MinTick).
	MinSqrtRatio = mustBig("4295128739", 10)
	// MaxSqrtRatio is SqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = mustBig("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	maxUint256 = new(uint256.Int).SetAllOne()
	lowMask32  = uint256.NewInt(0xffffffff)

	// sqrt(1.0001^-(2^i)) in Q128.128, i = 0..19.
	ratioConstants = [20]*uint256.Int{
		mustUint("fffcb933bd6fad37aa2d162d1a594001"),
		mustUint("fff97272373d413259a46990580e213a"),
		mustUint("fff2e50f5f656932ef12357cf3c7fdcc"),
		mustUint("ffe5caca7e10e4e61c3624eaa0941cd0"),
		mustUint("ffcb9843d60f6159c9db58835c926644"),
		mustUint("ff973b41fa98c081472e6896dfb254c0"),
		mustUint("ff2ea16466c96a3843ec78b326b52861"),
		mustUint("fe5dee046a99a2a811c461f1969c3053"),
		mustUint("fcbe86c7900a88aedcffc83b479aa3a4"),
		mustUint("f987a7253ac413176f2b074cf7815e54"),
		mustUint("f3392b0822b70005940c7a398e4b70f3"),
		mustUint("e7159475a2c29b7443b29c7fa6e889d9"),
		mustUint("d097f3bdfd2022b8845ad8f792aa5825"),
		mustUint("a9f746462d870fdf8a65dc1f90e061e5"),
		mustUint("70d869a156d2a1b890bb3df62baf32f7"),
		mustUint("31be135f97d08fd981231505542fcfa6"),
		mustUint("9aa508b5b7a84e1c677de54f3e99bc9"),
		mustUint("5d6af8dedb81196699c329225ee604"),
		mustUint("2216e584f5fa1ea926041bedfe98"),
		mustUint("48a170391f7dc42444e8fa2"),
	}
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96, rounded up.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfBounds
	}

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	for i, c := range ratioConstants {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, c)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	rem := new(uint256.Int).And(ratio, lowMask32)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig(), nil
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	low, high := MinTick, MaxTick
	var tick int32
	for low <= high {
		mid := int32((int64(low) + int64(high)) / 2)
		ratio, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

func mustBig(s string, base int) *big.Int {
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		panic("v3math: bad constant " + s)
	}
	return v
}

func mustUint(hex string) *uint256.Int {
	v, overflow := uint256.FromBig(mustBig(hex, 16))
	if overflow {
		panic("v3math: constant overflows 256 bits")
	}
	return v
}
