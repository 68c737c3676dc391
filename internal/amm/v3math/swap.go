package v3math

import (
	"math/big"
)

// FeeDenominator is 100% expressed in pips.
var FeeDenominator = big.NewInt(1_000_000)

// SwapStep is the outcome of swapping within a single initialized tick range.
type SwapStep struct {
	SqrtRatioNextX96 *big.Int
	AmountIn         *big.Int
	AmountOut        *big.Int
	FeeAmount        *big.Int
}

// ComputeSwapStep mirrors SwapMath.computeSwapStep. A non-negative amountRemaining is an
// exact input, a negative one an exact output.
func ComputeSwapStep(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int, feePips uint32) (SwapStep, error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := new(big.Int).SetUint64(uint64(feePips))
	feeComplement := new(big.Int).Sub(FeeDenominator, fee)

	var (
		step               SwapStep
		err                error
		amountRemainingAbs *big.Int
	)
	step.AmountIn = new(big.Int)
	step.AmountOut = new(big.Int)

	if exactIn {
		lessFee := mulDiv(amountRemaining, feeComplement, FeeDenominator)
		if zeroForOne {
			step.AmountIn, err = Amount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
			if err != nil {
				return SwapStep{}, err
			}
		} else {
			step.AmountIn = Amount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if lessFee.Cmp(step.AmountIn) >= 0 {
			step.SqrtRatioNextX96 = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			step.SqrtRatioNextX96, err = NextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, lessFee, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		amountRemainingAbs = new(big.Int).Neg(amountRemaining)
		if zeroForOne {
			step.AmountOut = Amount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			step.AmountOut, err = Amount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if amountRemainingAbs.Cmp(step.AmountOut) >= 0 {
			step.SqrtRatioNextX96 = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			step.SqrtRatioNextX96, err = NextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, amountRemainingAbs, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	reachedTarget := sqrtRatioTargetX96.Cmp(step.SqrtRatioNextX96) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			step.AmountIn, err = Amount0Delta(step.SqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = Amount1Delta(step.SqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			step.AmountIn = Amount1Delta(sqrtRatioCurrentX96, step.SqrtRatioNextX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut, err = Amount0Delta(sqrtRatioCurrentX96, step.SqrtRatioNextX96, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	if !exactIn && step.AmountOut.Cmp(amountRemainingAbs) > 0 {
		step.AmountOut = new(big.Int).Set(amountRemainingAbs)
	}

	if exactIn && step.SqrtRatioNextX96.Cmp(sqrtRatioTargetX96) != 0 {
		step.FeeAmount = new(big.Int).Sub(amountRemaining, step.AmountIn)
	} else {
		step.FeeAmount = mulDivRoundingUp(step.AmountIn, fee, feeComplement)
	}
	return step, nil
}
