package filter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"stateSpace/internal/amm"
)

// ErrNoRoute is returned when a pool does not hold the valuation token.
var ErrNoRoute = errors.New("pool does not hold valuation token")

// BalanceFunc returns a pool's raw holdings of each of its tokens, aligned with Tokens.
type BalanceFunc func(pool amm.Pool) ([]*big.Int, error)

const erc20BalanceOfABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	balanceOfABI    abi.ABI
	balanceOfOnce   sync.Once
	balanceOfABIErr error
)

func getBalanceOfABI() (abi.ABI, error) {
	balanceOfOnce.Do(func() {
		balanceOfABI, balanceOfABIErr = abi.JSON(strings.NewReader(erc20BalanceOfABIJSON))
	})
	return balanceOfABI, balanceOfABIErr
}

// Balances reads constant-product reserves from memory and asks the chain for the token
// balances of every other pool kind.
func Balances(ctx context.Context, provider amm.Provider, block *big.Int) BalanceFunc {
	onChain := OnChainBalances(ctx, provider, block)
	return func(pool amm.Pool) ([]*big.Int, error) {
		if p, ok := pool.(*amm.UniswapV2Pool); ok {
			return []*big.Int{p.Reserve0, p.Reserve1}, nil
		}
		return onChain(pool)
	}
}

// OnChainBalances reads balanceOf(pool) for each pool token in one batch.
func OnChainBalances(ctx context.Context, provider amm.Provider, block *big.Int) BalanceFunc {
	return func(pool amm.Pool) ([]*big.Int, error) {
		balanceABI, err := getBalanceOfABI()
		if err != nil {
			return nil, err
		}
		data, err := balanceABI.Pack("balanceOf", pool.Address())
		if err != nil {
			return nil, fmt.Errorf("pack balanceOf: %w", err)
		}

		tokens := pool.Tokens()
		msgs := make([]ethereum.CallMsg, len(tokens))
		for i := range tokens {
			msgs[i] = ethereum.CallMsg{To: &tokens[i], Data: data}
		}
		results, errs, err := provider.BatchCallContract(ctx, msgs, block)
		if err != nil {
			return nil, &amm.ProviderError{Op: "batch balanceOf", Err: err}
		}

		out := make([]*big.Int, len(tokens))
		for i := range tokens {
			if errs[i] != nil {
				return nil, &amm.ProviderError{Op: "balanceOf", Err: errs[i]}
			}
			values, err := balanceABI.Unpack("balanceOf", results[i])
			if err != nil {
				return nil, fmt.Errorf("unpack balanceOf: %w", err)
			}
			if len(values) != 1 {
				return nil, fmt.Errorf("balanceOf return size %d", len(values))
			}
			bal, ok := values[0].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
			}
			out[i] = bal
		}
		return out, nil
	}
}

// Valuation values a pool in units of base: its base holdings plus every other holding
// converted at the pool's own price. Pools without base fail with ErrNoRoute.
func Valuation(base common.Address, balances BalanceFunc) ValueFunc {
	return func(pool amm.Pool) (float64, error) {
		tokens := pool.Tokens()
		holdsBase := false
		for _, token := range tokens {
			if token == base {
				holdsBase = true
			}
		}
		if !holdsBase {
			return 0, ErrNoRoute
		}

		amounts, err := balances(pool)
		if err != nil {
			return 0, err
		}
		if len(amounts) != len(tokens) {
			return 0, fmt.Errorf("balances size %d for %d tokens", len(amounts), len(tokens))
		}
		decimals := pool.Decimals()

		var total float64
		for i, token := range tokens {
			amount := tokenAmount(amounts[i], decimals[i])
			if token == base {
				total += amount
				continue
			}
			price, err := pool.Price(token, base)
			if err != nil {
				return 0, err
			}
			total += amount * price
		}
		return total, nil
	}
}

// tokenAmount converts a raw amount to whole tokens.
func tokenAmount(value *big.Int, decimals uint8) float64 {
	if value == nil || value.Sign() == 0 {
		return 0
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out, _ := new(big.Rat).SetFrac(value, denom).Float64()
	return out
}
