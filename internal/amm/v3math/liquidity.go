package v3math

import (
	"errors"
	"math/big"
)

var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta returns x + y for an unsigned 128-bit liquidity x and signed delta y.
func AddDelta(x, y *big.Int) (*big.Int, error) {
	out := new(big.Int).Add(x, y)
	if out.Sign() < 0 {
		return nil, ErrLiquidityUnderflow
	}
	if out.Cmp(maxUint128) > 0 {
		return nil, ErrLiquidityOverflow
	}
	return out, nil
}
