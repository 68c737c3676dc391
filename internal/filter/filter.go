// Package filter prunes the tracked pool set with composable predicates.
package filter

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
)

// Filter decides whether a pool is tracked. Accept must not mutate the pool.
type Filter interface {
	Accept(pool amm.Pool) bool
}

type addressSet map[common.Address]struct{}

func newAddressSet(addresses []common.Address) addressSet {
	set := make(addressSet, len(addresses))
	for _, addr := range addresses {
		set[addr] = struct{}{}
	}
	return set
}

func (s addressSet) has(addr common.Address) bool {
	_, ok := s[addr]
	return ok
}

func (s addressSet) hasAny(addresses []common.Address) bool {
	for _, addr := range addresses {
		if s.has(addr) {
			return true
		}
	}
	return false
}

// Whitelist accepts pools listed by address or holding a listed token. With nothing
// listed it accepts every pool.
type Whitelist struct {
	pools  addressSet
	tokens addressSet
}

func NewWhitelist(pools, tokens []common.Address) *Whitelist {
	return &Whitelist{pools: newAddressSet(pools), tokens: newAddressSet(tokens)}
}

func (w *Whitelist) Accept(pool amm.Pool) bool {
	if len(w.pools) == 0 && len(w.tokens) == 0 {
		return true
	}
	return w.pools.has(pool.Address()) || w.tokens.hasAny(pool.Tokens())
}

// Blacklist rejects pools listed by address or holding a listed token.
type Blacklist struct {
	pools  addressSet
	tokens addressSet
}

func NewBlacklist(pools, tokens []common.Address) *Blacklist {
	return &Blacklist{pools: newAddressSet(pools), tokens: newAddressSet(tokens)}
}

func (b *Blacklist) Accept(pool amm.Pool) bool {
	return !b.pools.has(pool.Address()) && !b.tokens.hasAny(pool.Tokens())
}

// ValueFunc estimates the value of a pool in some reference unit.
type ValueFunc func(pool amm.Pool) (float64, error)

// Value accepts pools whose estimated value strictly exceeds a threshold. Pools that
// cannot be valued are rejected.
type Value struct {
	value     ValueFunc
	threshold float64
	logger    *zap.Logger
}

func NewValue(value ValueFunc, threshold float64, logger *zap.Logger) *Value {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Value{value: value, threshold: threshold, logger: logger}
}

func (v *Value) Accept(pool amm.Pool) bool {
	value, err := v.value(pool)
	if err != nil {
		v.logger.Debug("value filter rejects pool", zap.String("pool", pool.Address().Hex()), zap.Error(err))
		return false
	}
	return value > v.threshold
}

// Chain accepts a pool only when every filter does, stopping at the first rejection.
type Chain []Filter

func (c Chain) Accept(pool amm.Pool) bool {
	for _, f := range c {
		if !f.Accept(pool) {
			return false
		}
	}
	return true
}

// Apply returns the pools accepted by the chain, preserving order.
func (c Chain) Apply(pools []amm.Pool) []amm.Pool {
	out := make([]amm.Pool, 0, len(pools))
	for _, pool := range pools {
		if c.Accept(pool) {
			out = append(out, pool)
		}
	}
	return out
}
