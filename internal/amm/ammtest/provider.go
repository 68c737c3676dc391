// Package ammtest provides an in-memory chain and log builders for tests.
package ammtest

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned for calls with no canned result.
var ErrReverted = errors.New("execution reverted")

// Provider is an in-memory implementation of amm.Provider.
type Provider struct {
	mu sync.Mutex

	head  uint64
	logs  []types.Log
	calls map[string][]byte

	// FailFilter makes FilterLogs fail for any query whose range contains one of these blocks.
	FailFilter map[uint64]error
	// FailBatch makes every BatchCallContract fail at the transport level.
	FailBatch error

	filterCalls int
}

func NewProvider() *Provider {
	return &Provider{
		calls:      make(map[string][]byte),
		FailFilter: make(map[uint64]error),
	}
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hexutil.Encode(data)
}

// SetHead sets the block number returned by LatestBlockNumber.
func (p *Provider) SetHead(head uint64) {
	p.mu.Lock()
	p.head = head
	p.mu.Unlock()
}

// AddLogs appends logs to the chain; they are served in block and index order.
func (p *Provider) AddLogs(logs ...types.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, logs...)
	sort.SliceStable(p.logs, func(i, j int) bool {
		if p.logs[i].BlockNumber != p.logs[j].BlockNumber {
			return p.logs[i].BlockNumber < p.logs[j].BlockNumber
		}
		return p.logs[i].Index < p.logs[j].Index
	})
}

// SetCall registers the raw return data for a call to `to` with calldata `data`.
func (p *Provider) SetCall(to common.Address, data []byte, result []byte) {
	p.mu.Lock()
	p.calls[callKey(to, data)] = result
	p.mu.Unlock()
}

// FilterCalls reports how many log queries were served.
func (p *Provider) FilterCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filterCalls
}

func (p *Provider) LatestBlockNumber(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head, nil
}

func (p *Provider) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterCalls++

	for block, err := range p.FailFilter {
		if block >= fromBlock && block <= toBlock {
			return nil, err
		}
	}

	out := make([]types.Log, 0)
	for _, log := range p.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, log.Address) {
			continue
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || !containsHash(topic0, log.Topics[0])) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.To == nil {
		return nil, ErrReverted
	}
	result, ok := p.calls[callKey(*msg.To, msg.Data)]
	if !ok {
		return nil, ErrReverted
	}
	return result, nil
}

func (p *Provider) BatchCallContract(ctx context.Context, msgs []ethereum.CallMsg, blockNumber *big.Int) ([][]byte, []error, error) {
	if p.FailBatch != nil {
		return nil, nil, p.FailBatch
	}
	results := make([][]byte, len(msgs))
	errs := make([]error, len(msgs))
	for i, msg := range msgs {
		results[i], errs[i] = p.CallContract(ctx, msg, blockNumber)
	}
	return results, errs, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, item := range list {
		if item == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, hash common.Hash) bool {
	for _, item := range list {
		if item == hash {
			return true
		}
	}
	return false
}
