package amm

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"stateSpace/internal/amm/v3math"
)

// TickInfo is the liquidity referenced by an initialized tick.
type TickInfo struct {
	LiquidityGross *big.Int `json:"liquidity_gross"`
	LiquidityNet   *big.Int `json:"liquidity_net"`
}

// UniswapV3Pool is a concentrated-liquidity pool.
type UniswapV3Pool struct {
	PoolAddress    common.Address      `json:"address"`
	Token0         common.Address      `json:"token0"`
	Token0Decimals uint8               `json:"token0_decimals"`
	Token1         common.Address      `json:"token1"`
	Token1Decimals uint8               `json:"token1_decimals"`
	Fee            uint32              `json:"fee"`
	TickSpacing    int32               `json:"tick_spacing"`
	SqrtPriceX96   *big.Int            `json:"sqrt_price_x96"`
	Liquidity      *big.Int            `json:"liquidity"`
	Tick           int32               `json:"tick"`
	Ticks          map[int32]*TickInfo `json:"ticks"`
}

var _ Pool = (*UniswapV3Pool)(nil)

func (p *UniswapV3Pool) sealedPool() {}

func (p *UniswapV3Pool) Address() common.Address { return p.PoolAddress }

func (p *UniswapV3Pool) Kind() Kind { return KindUniswapV3 }

func (p *UniswapV3Pool) SyncEvents() []common.Hash {
	return []common.Hash{InitializeTopic, SwapTopic, MintTopic, BurnTopic}
}

func (p *UniswapV3Pool) Tokens() []common.Address {
	return []common.Address{p.Token0, p.Token1}
}

func (p *UniswapV3Pool) Decimals() []uint8 {
	return []uint8{p.Token0Decimals, p.Token1Decimals}
}

// Sync applies Initialize, Swap, Mint and Burn logs. Initialize overwrites price and tick,
// Swap also overwrites liquidity. Mint and Burn move position liquidity between ticks.
func (p *UniswapV3Pool) Sync(log types.Log) error {
	t, ok := topic0(log)
	if !ok {
		return decodeErr(KindUniswapV3, "", "missing topics")
	}
	switch t {
	case InitializeTopic:
		return p.syncInitialize(log)
	case SwapTopic:
		return p.syncSwap(log)
	case MintTopic:
		lower, upper, amount, err := decodePosition(log, "Mint", 4, 1)
		if err != nil {
			return err
		}
		return p.modifyPosition(lower, upper, amount, true)
	case BurnTopic:
		lower, upper, amount, err := decodePosition(log, "Burn", 3, 0)
		if err != nil {
			return err
		}
		return p.modifyPosition(lower, upper, amount.Neg(amount), true)
	default:
		return decodeErr(KindUniswapV3, "", "unexpected topic %s", t.Hex())
	}
}

func (p *UniswapV3Pool) syncInitialize(log types.Log) error {
	poolABI, err := V3PoolABI()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := unpackNonIndexed(poolABI.Events["Initialize"], log.Data, 2)
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Initialize", Err: err}
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Initialize", Err: err}
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Initialize", Err: err}
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Initialize", Err: err}
	}
	p.SqrtPriceX96, p.Tick = sqrtPrice, tick
	return nil
}

func (p *UniswapV3Pool) syncSwap(log types.Log) error {
	poolABI, err := V3PoolABI()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := unpackNonIndexed(poolABI.Events["Swap"], log.Data, 5)
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Swap", Err: err}
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Swap", Err: err}
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Swap", Err: err}
	}
	tickInt, err := asBigInt(values[4])
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Swap", Err: err}
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return &DecodeError{Kind: KindUniswapV3, Event: "Swap", Err: err}
	}
	p.SqrtPriceX96, p.Liquidity, p.Tick = sqrtPrice, liquidity, tick
	return nil
}

// decodePosition reads the tick range and liquidity amount of a Mint or Burn log.
func decodePosition(log types.Log, name string, nonIndexed, amountIndex int) (int32, int32, *big.Int, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("parse pool abi: %w", err)
	}
	event := poolABI.Events[name]

	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return 0, 0, nil, &DecodeError{Kind: KindUniswapV3, Event: name, Err: err}
	}
	values, err := unpackNonIndexed(event, log.Data, nonIndexed)
	if err != nil {
		return 0, 0, nil, &DecodeError{Kind: KindUniswapV3, Event: name, Err: err}
	}
	amount, err := asBigInt(values[amountIndex])
	if err != nil {
		return 0, 0, nil, &DecodeError{Kind: KindUniswapV3, Event: name, Err: err}
	}
	lower, err := int24FromBig(indexed.TickLower)
	if err != nil {
		return 0, 0, nil, &DecodeError{Kind: KindUniswapV3, Event: name, Err: err}
	}
	upper, err := int24FromBig(indexed.TickUpper)
	if err != nil {
		return 0, 0, nil, &DecodeError{Kind: KindUniswapV3, Event: name, Err: err}
	}
	return lower, upper, amount, nil
}

// modifyPosition adds delta liquidity to [lower, upper). active also updates in-range
// liquidity; backfill leaves it off because liquidity is read from chain afterwards.
func (p *UniswapV3Pool) modifyPosition(lower, upper int32, delta *big.Int, active bool) error {
	if lower >= upper {
		return decodeErr(KindUniswapV3, "position", "invalid tick range [%d,%d)", lower, upper)
	}
	if delta.Sign() == 0 {
		return nil
	}
	if err := p.updateTick(lower, delta, false); err != nil {
		return err
	}
	if err := p.updateTick(upper, delta, true); err != nil {
		return err
	}
	if active && p.Tick >= lower && p.Tick < upper {
		liquidity, err := v3math.AddDelta(cloneBig(p.Liquidity), delta)
		if err != nil {
			return fmt.Errorf("pool %s liquidity: %w", p.PoolAddress.Hex(), err)
		}
		p.Liquidity = liquidity
	}
	return nil
}

func (p *UniswapV3Pool) updateTick(tick int32, delta *big.Int, upper bool) error {
	if p.Ticks == nil {
		p.Ticks = make(map[int32]*TickInfo)
	}
	info, ok := p.Ticks[tick]
	if !ok {
		info = &TickInfo{LiquidityGross: new(big.Int), LiquidityNet: new(big.Int)}
	}
	gross, err := v3math.AddDelta(info.LiquidityGross, delta)
	if err != nil {
		return fmt.Errorf("pool %s tick %d: %w", p.PoolAddress.Hex(), tick, err)
	}
	net := new(big.Int)
	if upper {
		net.Sub(info.LiquidityNet, delta)
	} else {
		net.Add(info.LiquidityNet, delta)
	}
	if gross.Sign() == 0 {
		delete(p.Ticks, tick)
		return nil
	}
	p.Ticks[tick] = &TickInfo{LiquidityGross: gross, LiquidityNet: net}
	return nil
}

// Price returns the decimal-adjusted spot price of base in quote. An unsynced pool
// prices at 1.0.
func (p *UniswapV3Pool) Price(base, quote common.Address) (float64, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return 0, err
	}
	if p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() == 0 {
		return 1, nil
	}

	sqrt := new(big.Float).SetPrec(256).SetInt(p.SqrtPriceX96)
	price := new(big.Float).SetPrec(256).Mul(sqrt, sqrt)
	price.SetMantExp(price, -192)

	scale := new(big.Float).SetPrec(256)
	shift := int(p.Token0Decimals) - int(p.Token1Decimals)
	if shift < 0 {
		scale.SetInt(pow10(-shift))
		price.Quo(price, scale)
	} else {
		scale.SetInt(pow10(shift))
		price.Mul(price, scale)
	}

	if base == p.Token1 {
		price.Quo(new(big.Float).SetPrec(256).SetInt64(1), price)
	}
	out, _ := price.Float64()
	return out, nil
}

func (p *UniswapV3Pool) SimulateSwap(base, quote common.Address, amountIn *big.Int) (*big.Int, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return nil, err
	}
	state, err := p.swap(base == p.Token0, amountIn)
	if err != nil {
		return nil, err
	}
	return state.amountOut, nil
}

func (p *UniswapV3Pool) SimulateSwapMut(base, quote common.Address, amountIn *big.Int) (*big.Int, error) {
	base, err := baseToken(p.Token0, p.Token1, base, quote)
	if err != nil {
		return nil, err
	}
	state, err := p.swap(base == p.Token0, amountIn)
	if err != nil {
		return nil, err
	}
	p.SqrtPriceX96, p.Tick, p.Liquidity = state.sqrtPriceX96, state.tick, state.liquidity
	return state.amountOut, nil
}

type swapState struct {
	remaining    *big.Int
	amountOut    *big.Int
	sqrtPriceX96 *big.Int
	tick         int32
	liquidity    *big.Int
}

// swap simulates an exact-input swap across initialized ticks without touching p.
func (p *UniswapV3Pool) swap(zeroForOne bool, amountIn *big.Int) (swapState, error) {
	state := swapState{
		remaining:    cloneBig(amountIn),
		amountOut:    new(big.Int),
		sqrtPriceX96: cloneBig(p.SqrtPriceX96),
		tick:         p.Tick,
		liquidity:    cloneBig(p.Liquidity),
	}
	if state.remaining.Sign() <= 0 || state.sqrtPriceX96.Sign() == 0 {
		return state, nil
	}

	limit := new(big.Int).Add(v3math.MinSqrtRatio, bigOne)
	if !zeroForOne {
		limit.Sub(v3math.MaxSqrtRatio, bigOne)
	}
	ticks := p.sortedTicks()

	for state.remaining.Sign() > 0 && state.sqrtPriceX96.Cmp(limit) != 0 {
		start := new(big.Int).Set(state.sqrtPriceX96)

		next, initialized := nextInitializedTick(ticks, state.tick, zeroForOne)
		sqrtNext, err := v3math.SqrtRatioAtTick(next)
		if err != nil {
			return swapState{}, err
		}

		target := sqrtNext
		if (zeroForOne && sqrtNext.Cmp(limit) < 0) || (!zeroForOne && sqrtNext.Cmp(limit) > 0) {
			target = limit
		}

		step, err := v3math.ComputeSwapStep(state.sqrtPriceX96, target, state.liquidity, state.remaining, p.Fee)
		if err != nil {
			return swapState{}, fmt.Errorf("swap step: %w", err)
		}
		state.sqrtPriceX96 = step.SqrtRatioNextX96
		state.remaining.Sub(state.remaining, step.AmountIn)
		state.remaining.Sub(state.remaining, step.FeeAmount)
		state.amountOut.Add(state.amountOut, step.AmountOut)

		if state.sqrtPriceX96.Cmp(sqrtNext) == 0 {
			if initialized {
				net := new(big.Int).Set(p.Ticks[next].LiquidityNet)
				if zeroForOne {
					net.Neg(net)
				}
				liquidity, err := v3math.AddDelta(state.liquidity, net)
				if errors.Is(err, v3math.ErrLiquidityUnderflow) {
					break
				}
				if err != nil {
					return swapState{}, err
				}
				state.liquidity = liquidity
			}
			if zeroForOne {
				state.tick = next - 1
			} else {
				state.tick = next
			}
		} else if state.sqrtPriceX96.Cmp(start) != 0 {
			tick, err := v3math.TickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return swapState{}, err
			}
			state.tick = tick
		}
	}
	return state, nil
}

func (p *UniswapV3Pool) sortedTicks() []int32 {
	ticks := make([]int32, 0, len(p.Ticks))
	for tick := range p.Ticks {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// nextInitializedTick returns the closest initialized tick at or below tick when lte,
// strictly above otherwise. Without one it returns the price bound.
func nextInitializedTick(ticks []int32, tick int32, lte bool) (int32, bool) {
	if lte {
		i := sort.Search(len(ticks), func(i int) bool { return ticks[i] > tick })
		if i == 0 {
			return v3math.MinTick, false
		}
		return ticks[i-1], true
	}
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i] > tick })
	if i == len(ticks) {
		return v3math.MaxTick, false
	}
	return ticks[i], true
}

func (p *UniswapV3Pool) Clone() Pool {
	out := *p
	out.SqrtPriceX96 = cloneBig(p.SqrtPriceX96)
	out.Liquidity = cloneBig(p.Liquidity)
	out.Ticks = make(map[int32]*TickInfo, len(p.Ticks))
	for tick, info := range p.Ticks {
		out.Ticks[tick] = &TickInfo{
			LiquidityGross: cloneBig(info.LiquidityGross),
			LiquidityNet:   cloneBig(info.LiquidityNet),
		}
	}
	return &out
}
