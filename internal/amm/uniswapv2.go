package amm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"stateSpace/internal/fixedpoint"
)

// DefaultV2Fee is the Uniswap V2 swap fee in tenths of a basis point (300 is 0.3%).
const DefaultV2Fee = 300

// UniswapV2Pool is a constant-product pool.
type UniswapV2Pool struct {
	PoolAddress    common.Address `json:"address"`
	Token0         common.Address `json:"token0"`
	Token0Decimals uint8          `json:"token0_decimals"`
	Token1         common.Address `json:"token1"`
	Token1Decimals uint8          `json:"token1_decimals"`
	Reserve0       *big.Int       `json:"reserve0"`
	Reserve1       *big.Int       `json:"reserve1"`
	Fee            uint32         `json:"fee"`
}

var _ Pool = (*UniswapV2Pool)(nil)

func (p *UniswapV2Pool) sealedPool() {}

func (p *UniswapV2Pool) Address() common.Address { return p.PoolAddress }

func (p *UniswapV2Pool) Kind() Kind { return KindUniswapV2 }

func (p *UniswapV2Pool) SyncEvents() []common.Hash { return []common.Hash{SyncTopic} }

func (p *UniswapV2Pool) Tokens() []common.Address {
	return []common.Address{p.Token0, p.Token1}
}

func (p *UniswapV2Pool) Decimals() []uint8 {
	return []uint8{p.Token0Decimals, p.Token1Decimals}
}

// Sync overwrites both reserves from a Sync log.
func (p *UniswapV2Pool) Sync(log types.Log) error {
	if t, ok := topic0(log); !ok || t != SyncTopic {
		return decodeErr(KindUniswapV2, "Sync", "unexpected topic")
	}
	pairABI, err := V2PairABI()
	if err != nil {
		return fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := unpackNonIndexed(pairABI.Events["Sync"], log.Data, 2)
	if err != nil {
		return &DecodeError{Kind: KindUniswapV2, Event: "Sync", Err: err}
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV2, Event: "Sync", Err: err}
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV2, Event: "Sync", Err: err}
	}
	p.Reserve0, p.Reserve1 = reserve0, reserve1
	return nil
}

// baseToken resolves which pool token is being priced or sold.
func baseToken(token0, token1, base, quote common.Address) (common.Address, error) {
	switch {
	case base == token0 || base == token1:
		return base, nil
	case quote == token0:
		return token1, nil
	case quote == token1:
		return token0, nil
	default:
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrUnknownToken, base.Hex(), quote.Hex())
	}
}

// Price returns the decimal-adjusted price of base in quote.
func (p *UniswapV2Pool) Price(base, quote common.Address) (float64, error) {
	q, err := p.Price64x64(base, quote)
	if err != nil {
		return 0, err
	}
	return fixedpoint.ToFloat(q), nil
}

// Price64x64 is Price as a 64.64 fixed-point value. An empty reserve prices at 1.0.
func (p *UniswapV2Pool) Price64x64(base, quote common.Address) (*uint256.Int, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return nil, err
	}

	r0 := cloneBig(p.Reserve0)
	r1 := cloneBig(p.Reserve1)
	shift := int(p.Token0Decimals) - int(p.Token1Decimals)
	if shift < 0 {
		r0.Mul(r0, pow10(-shift))
	} else {
		r1.Mul(r1, pow10(shift))
	}

	x, ok := fixedpoint.FromBig(r0)
	if !ok {
		return nil, fmt.Errorf("reserve0 out of range: %s", r0.String())
	}
	y, ok := fixedpoint.FromBig(r1)
	if !ok {
		return nil, fmt.Errorf("reserve1 out of range: %s", r1.String())
	}

	if base == p.Token0 {
		if x.IsZero() {
			return fixedpoint.One.Clone(), nil
		}
		return fixedpoint.Div64x64(y, x)
	}
	if y.IsZero() {
		return fixedpoint.One.Clone(), nil
	}
	return fixedpoint.Div64x64(x, y)
}

func (p *UniswapV2Pool) SimulateSwap(base, quote common.Address, amountIn *big.Int) (*big.Int, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return nil, err
	}
	if base == p.Token0 {
		return p.AmountOut(amountIn, p.Reserve0, p.Reserve1), nil
	}
	return p.AmountOut(amountIn, p.Reserve1, p.Reserve0), nil
}

func (p *UniswapV2Pool) SimulateSwapMut(base, quote common.Address, amountIn *big.Int) (*big.Int, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return nil, err
	}
	r0, r1 := cloneBig(p.Reserve0), cloneBig(p.Reserve1)
	if base == p.Token0 {
		out := p.AmountOut(amountIn, r0, r1)
		p.Reserve0 = r0.Add(r0, amountIn)
		p.Reserve1 = r1.Sub(r1, out)
		return out, nil
	}
	out := p.AmountOut(amountIn, r1, r0)
	p.Reserve0 = r0.Sub(r0, out)
	p.Reserve1 = r1.Add(r1, amountIn)
	return out, nil
}

// AmountOut applies the constant-product formula with the pool fee.
func (p *UniswapV2Pool) AmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil ||
		amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	if p.Fee/10 >= 10000 {
		return new(big.Int)
	}
	feeNumerator := big.NewInt(int64((10000 - p.Fee/10) / 10))
	amountInWithFee := new(big.Int).Mul(amountIn, feeNumerator)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(1000))
	denominator.Add(denominator, amountInWithFee)
	return numerator.Div(numerator, denominator)
}

func (p *UniswapV2Pool) Clone() Pool {
	out := *p
	out.Reserve0 = cloneBig(p.Reserve0)
	out.Reserve1 = cloneBig(p.Reserve1)
	return &out
}

var pow10Table = func() [78]*big.Int {
	var table [78]*big.Int
	table[0] = big.NewInt(1)
	ten := big.NewInt(10)
	for i := 1; i < len(table); i++ {
		table[i] = new(big.Int).Mul(table[i-1], ten)
	}
	return table
}()

func pow10(n int) *big.Int {
	if n < len(pow10Table) {
		return pow10Table[n]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
