package amm

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DiscoveryTopics lists the creation events of every factory kind that discovery can
// recognize.
func DiscoveryTopics() []common.Hash {
	return []common.Hash{PairCreatedTopic, PoolCreatedTopic}
}

// FactoryFromLog infers a factory record from a creation log emitted by it. The
// factory's creation block is the log's block.
func FactoryFromLog(log types.Log) (Factory, error) {
	t, ok := topic0(log)
	if !ok {
		return nil, &UnsupportedFactoryKindError{}
	}
	block, err := BlockNumberOf(log)
	if err != nil {
		return nil, err
	}
	switch t {
	case PairCreatedTopic:
		return &UniswapV2Factory{FactoryAddress: log.Address, DeployBlock: block, Fee: DefaultV2Fee}, nil
	case PoolCreatedTopic:
		return &UniswapV3Factory{FactoryAddress: log.Address, DeployBlock: block}, nil
	default:
		return nil, &UnsupportedFactoryKindError{Topic: t}
	}
}

// SortLogs orders logs by block number, then log index.
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
