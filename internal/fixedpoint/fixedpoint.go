// Package fixedpoint implements unsigned 64.64 fixed-point division used for pool prices.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrDivisionByZero is returned when the divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrRounding is returned when the correction pass cannot reconcile the quotient.
	// A result accompanied by this error must not be used.
	ErrRounding = errors.New("fixedpoint: rounding error")
)

var (
	one = uint256.NewInt(1)

	// One is 1.0 in 64.64 representation.
	One = new(uint256.Int).Lsh(one, 64)

	// MaxUint128 is the largest representable 64.64 value.
	MaxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 128), one)

	maxUint192 = new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 192), one)
)

// Div64x64 returns floor((x << 64) / y) as a 64.64 fixed-point value.
//
// Operands wider than 192 bits are normalized before dividing and the quotient is
// corrected with one multiply-and-subtract pass. An out of range quotient saturates to
// MaxUint128 on the direct path and collapses to zero on the normalized path.
func Div64x64(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}

	if !x.Gt(maxUint192) {
		answer := new(uint256.Int).Lsh(x, 64)
		answer.Div(answer, y)
		if answer.Gt(MaxUint128) {
			return MaxUint128.Clone(), nil
		}
		return answer, nil
	}

	msb := uint(192)
	xc := new(uint256.Int).Rsh(x, 192).Uint64()
	if xc >= 0x100000000 {
		xc >>= 32
		msb += 32
	}
	if xc >= 0x10000 {
		xc >>= 16
		msb += 16
	}
	if xc >= 0x100 {
		xc >>= 8
		msb += 8
	}
	if xc >= 0x10 {
		xc >>= 4
		msb += 4
	}
	if xc >= 0x4 {
		xc >>= 2
		msb += 2
	}
	if xc >= 0x2 {
		msb++
	}

	numerator := new(uint256.Int).Lsh(x, 255-msb)
	divisor := new(uint256.Int).Sub(y, one)
	divisor.Rsh(divisor, msb-191)
	divisor.Add(divisor, one)
	answer := new(uint256.Int).Div(numerator, divisor)
	if answer.Gt(MaxUint128) {
		return uint256.NewInt(0), nil
	}

	hi := new(uint256.Int).Mul(answer, new(uint256.Int).Rsh(y, 128))
	lo := new(uint256.Int).Mul(answer, new(uint256.Int).And(y, MaxUint128))

	xh := new(uint256.Int).Rsh(x, 192)
	xl := new(uint256.Int).Lsh(x, 64)

	if xl.Lt(lo) {
		xh.Sub(xh, one)
	}
	xl.Sub(xl, lo)
	lo.Lsh(hi, 128)
	if xl.Lt(lo) {
		xh.Sub(xh, one)
	}
	xl.Sub(xl, lo)

	if !xh.Eq(new(uint256.Int).Rsh(hi, 128)) {
		return nil, ErrRounding
	}

	answer.Add(answer, new(uint256.Int).Div(xl, y))
	if answer.Gt(MaxUint128) {
		return uint256.NewInt(0), nil
	}
	return answer, nil
}

// ToFloat converts a 64.64 value to float64, dividing by 2^64 before narrowing.
func ToFloat(q *uint256.Int) float64 {
	if q == nil {
		return 0
	}
	f := new(big.Float).SetInt(q.ToBig())
	f.SetMantExp(f, -64)
	out, _ := f.Float64()
	return out
}

// FromBig converts a non-negative big.Int to a 256-bit operand. ok is false on overflow
// or for negative values.
func FromBig(v *big.Int) (*uint256.Int, bool) {
	if v == nil {
		return uint256.NewInt(0), true
	}
	if v.Sign() < 0 {
		return nil, false
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, false
	}
	return out, true
}
