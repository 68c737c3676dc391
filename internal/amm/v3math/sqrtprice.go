package v3math

import (
	"errors"
	"math/big"
)

var (
	// Q96 is 1.0 in Q64.96.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")

	errPriceUnderflow = errors.New("sqrt price underflow")

	bigOne = big.NewInt(1)
)

func mulDiv(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Div(p, c)
}

func mulDivRoundingUp(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(p, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

func divRoundingUp(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

// NextSqrtPriceFromInput returns the sqrt price after adding amountIn of the input token.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0(sqrtPX96, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1(sqrtPX96, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the sqrt price after removing amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount1(sqrtPX96, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0(sqrtPX96, liquidity, amountOut, false)
}

func nextSqrtPriceFromAmount0(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)
	if add {
		return mulDivRoundingUp(numerator, sqrtPX96, new(big.Int).Add(numerator, product)), nil
	}
	if numerator.Cmp(product) <= 0 {
		return nil, errPriceUnderflow
	}
	return mulDivRoundingUp(numerator, sqrtPX96, new(big.Int).Sub(numerator, product)), nil
}

func nextSqrtPriceFromAmount1(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if add {
		return new(big.Int).Add(sqrtPX96, mulDiv(amount, Q96, liquidity)), nil
	}
	quotient := mulDivRoundingUp(amount, Q96, liquidity)
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, errPriceUnderflow
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

// Amount0Delta returns the token0 amount between two sqrt prices for the given liquidity.
func Amount0Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	if sqrtRatioA.Sign() <= 0 {
		return nil, ErrSqrtPriceZero
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)
	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtRatioB), sqrtRatioA), nil
	}
	term := mulDiv(numerator1, numerator2, sqrtRatioB)
	return term.Div(term, sqrtRatioA), nil
}

// Amount1Delta returns the token1 amount between two sqrt prices for the given liquidity.
func Amount1Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	diff := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	return mulDiv(liquidity, diff, Q96)
}
