package ammtest

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"stateSpace/internal/amm"
)

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

func mustPackCall(parsed abi.ABI, method string, values ...interface{}) []byte {
	data, err := parsed.Pack(method, values...)
	if err != nil {
		panic(err)
	}
	return data
}

// SetDecimals registers an ERC20 decimals() result.
func (p *Provider) SetDecimals(token common.Address, decimals uint8) {
	erc20 := mustABI(abi.JSON(strings.NewReader(erc20ABIJSON)))
	p.SetCall(token, mustPackCall(erc20, "decimals"), mustPack(erc20.Methods["decimals"].Outputs, decimals))
}

// SetPair registers token0, token1 and getReserves results for a V2 pair.
func (p *Provider) SetPair(pair, token0, token1 common.Address, reserve0, reserve1 *big.Int) {
	pairABI := mustABI(amm.V2PairABI())
	p.SetCall(pair, mustPackCall(pairABI, "token0"), mustPack(pairABI.Methods["token0"].Outputs, token0))
	p.SetCall(pair, mustPackCall(pairABI, "token1"), mustPack(pairABI.Methods["token1"].Outputs, token1))
	p.SetCall(pair, mustPackCall(pairABI, "getReserves"),
		mustPack(pairABI.Methods["getReserves"].Outputs, reserve0, reserve1, uint32(0)))
}

// SetV2Factory registers allPairsLength and allPairs(i) results.
func (p *Provider) SetV2Factory(factory common.Address, pairs []common.Address) {
	factoryABI := mustABI(amm.V2FactoryABI())
	p.SetCall(factory, mustPackCall(factoryABI, "allPairsLength"),
		mustPack(factoryABI.Methods["allPairsLength"].Outputs, big.NewInt(int64(len(pairs)))))
	for i, pair := range pairs {
		p.SetCall(factory, mustPackCall(factoryABI, "allPairs", big.NewInt(int64(i))),
			mustPack(factoryABI.Methods["allPairs"].Outputs, pair))
	}
}

// SetV3State registers slot0 and liquidity results for a V3 pool.
func (p *Provider) SetV3State(pool common.Address, sqrtPriceX96 *big.Int, tick int32, liquidity *big.Int) {
	poolABI := mustABI(amm.V3PoolABI())
	p.SetCall(pool, mustPackCall(poolABI, "slot0"), mustPack(poolABI.Methods["slot0"].Outputs,
		sqrtPriceX96, big.NewInt(int64(tick)), uint16(0), uint16(1), uint16(1), uint8(0), true))
	p.SetCall(pool, mustPackCall(poolABI, "liquidity"), mustPack(poolABI.Methods["liquidity"].Outputs, liquidity))
}

// SetBalance registers an ERC20 balanceOf(owner) result.
func (p *Provider) SetBalance(token, owner common.Address, amount *big.Int) {
	erc20 := mustABI(abi.JSON(strings.NewReader(erc20ABIJSON)))
	p.SetCall(token, mustPackCall(erc20, "balanceOf", owner), mustPack(erc20.Methods["balanceOf"].Outputs, amount))
}
