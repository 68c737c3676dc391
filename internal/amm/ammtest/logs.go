package ammtest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"stateSpace/internal/amm"
)

// Addr returns a deterministic address for n.
func Addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

// Big parses a base 10 integer and panics on bad input.
func Big(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("ammtest: bad integer " + s)
	}
	return v
}

func mustABI(parsed abi.ABI, err error) abi.ABI {
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustPack(args abi.Arguments, values ...interface{}) []byte {
	data, err := args.Pack(values...)
	if err != nil {
		panic(err)
	}
	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func int24Topic(value int32) common.Hash {
	v := big.NewInt(int64(value))
	if value < 0 {
		v.Add(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(v)
}

func newLog(address common.Address, topics []common.Hash, data []byte, block uint64, index uint) types.Log {
	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

// SyncLog builds a Uniswap V2 Sync log.
func SyncLog(pair common.Address, reserve0, reserve1 *big.Int, block uint64, index uint) types.Log {
	pairABI := mustABI(amm.V2PairABI())
	data := mustPack(pairABI.Events["Sync"].Inputs.NonIndexed(), reserve0, reserve1)
	return newLog(pair, []common.Hash{amm.SyncTopic}, data, block, index)
}

// PairCreatedLog builds a Uniswap V2 PairCreated log.
func PairCreatedLog(factory, token0, token1, pair common.Address, pairIndex int64, block uint64, index uint) types.Log {
	factoryABI := mustABI(amm.V2FactoryABI())
	data := mustPack(factoryABI.Events["PairCreated"].Inputs.NonIndexed(), pair, big.NewInt(pairIndex))
	topics := []common.Hash{amm.PairCreatedTopic, addressTopic(token0), addressTopic(token1)}
	return newLog(factory, topics, data, block, index)
}

// PoolCreatedLog builds a Uniswap V3 PoolCreated log.
func PoolCreatedLog(factory, token0, token1 common.Address, fee uint32, spacing int32, pool common.Address, block uint64, index uint) types.Log {
	factoryABI := mustABI(amm.V3FactoryABI())
	data := mustPack(factoryABI.Events["PoolCreated"].Inputs.NonIndexed(), big.NewInt(int64(spacing)), pool)
	topics := []common.Hash{
		amm.PoolCreatedTopic,
		addressTopic(token0),
		addressTopic(token1),
		common.BigToHash(big.NewInt(int64(fee))),
	}
	return newLog(factory, topics, data, block, index)
}

// InitializeLog builds a Uniswap V3 Initialize log.
func InitializeLog(pool common.Address, sqrtPriceX96 *big.Int, tick int32, block uint64, index uint) types.Log {
	poolABI := mustABI(amm.V3PoolABI())
	data := mustPack(poolABI.Events["Initialize"].Inputs.NonIndexed(), sqrtPriceX96, big.NewInt(int64(tick)))
	return newLog(pool, []common.Hash{amm.InitializeTopic}, data, block, index)
}

// SwapLog builds a Uniswap V3 Swap log.
func SwapLog(pool common.Address, sqrtPriceX96, liquidity *big.Int, tick int32, block uint64, index uint) types.Log {
	poolABI := mustABI(amm.V3PoolABI())
	data := mustPack(poolABI.Events["Swap"].Inputs.NonIndexed(),
		big.NewInt(0), big.NewInt(0), sqrtPriceX96, liquidity, big.NewInt(int64(tick)))
	topics := []common.Hash{amm.SwapTopic, addressTopic(Addr(1)), addressTopic(Addr(2))}
	return newLog(pool, topics, data, block, index)
}

// MintLog builds a Uniswap V3 Mint log.
func MintLog(pool common.Address, lower, upper int32, amount *big.Int, block uint64, index uint) types.Log {
	poolABI := mustABI(amm.V3PoolABI())
	data := mustPack(poolABI.Events["Mint"].Inputs.NonIndexed(), Addr(1), amount, big.NewInt(0), big.NewInt(0))
	topics := []common.Hash{amm.MintTopic, addressTopic(Addr(2)), int24Topic(lower), int24Topic(upper)}
	return newLog(pool, topics, data, block, index)
}

// BurnLog builds a Uniswap V3 Burn log.
func BurnLog(pool common.Address, lower, upper int32, amount *big.Int, block uint64, index uint) types.Log {
	poolABI := mustABI(amm.V3PoolABI())
	data := mustPack(poolABI.Events["Burn"].Inputs.NonIndexed(), amount, big.NewInt(0), big.NewInt(0))
	topics := []common.Hash{amm.BurnTopic, addressTopic(Addr(2)), int24Topic(lower), int24Topic(upper)}
	return newLog(pool, topics, data, block, index)
}
