// Package statespace keeps an in-memory replica of pool state in sync with the chain.
package statespace

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/filter"
	"stateSpace/internal/storage"
)

// Config holds the settings of a state space.
type Config struct {
	// Factories are tracked explicitly and win over discovered factories at the same address.
	Factories []amm.Factory

	Discovery bool
	// DiscoveryFrom is the first block scanned. Zero means the lowest creation block of
	// the explicit factories.
	DiscoveryFrom      uint64
	DiscoveryStep      uint64
	DiscoveryThreshold uint64

	Backfill amm.BackfillOptions
	Filters  filter.Chain

	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Store, when set, receives a snapshot after every round of the live loop that
	// synced at least one block.
	Store   storage.SnapshotStore
	ChainID uint64
}

// StateSpace owns the pool registry. Only the driver calling Build, SyncBlock and Run
// mutates it; the read methods are safe for concurrent use and return copies.
type StateSpace struct {
	cfg      Config
	provider amm.Provider
	metrics  *Metrics
	logger   *zap.Logger
	decimals *amm.DecimalsCache

	mu         sync.RWMutex
	pools      map[common.Address]amm.Pool
	factories  map[common.Address]amm.Factory
	lastSynced uint64
}

// New builds an empty StateSpace. A nil metrics registers a private set of metrics.
func New(cfg Config, provider amm.Provider, metrics *Metrics, logger *zap.Logger) *StateSpace {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry(), "")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	decimals := cfg.Backfill.Decimals
	if decimals == nil {
		decimals = amm.NewDecimalsCache()
		cfg.Backfill.Decimals = decimals
	}
	if cfg.Backfill.Logger == nil {
		cfg.Backfill.Logger = logger
	}

	factories := make(map[common.Address]amm.Factory, len(cfg.Factories))
	for _, factory := range cfg.Factories {
		factories[factory.Address()] = factory
	}
	return &StateSpace{
		cfg:       cfg,
		provider:  provider,
		metrics:   metrics,
		logger:    logger,
		decimals:  decimals,
		pools:     make(map[common.Address]amm.Pool),
		factories: factories,
	}
}

// LastSyncedBlock returns the last block fully applied to the registry.
func (s *StateSpace) LastSyncedBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSynced
}

// Pool returns a copy of the pool at addr.
func (s *StateSpace) Pool(addr common.Address) (amm.Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[addr]
	if !ok {
		return nil, false
	}
	return pool.Clone(), true
}

// Pools returns copies of every tracked pool ordered by address.
func (s *StateSpace) Pools() []amm.Pool {
	s.mu.RLock()
	out := make([]amm.Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		out = append(out, pool.Clone())
	}
	s.mu.RUnlock()
	sortPools(out)
	return out
}

// Factories returns the tracked factories ordered by address.
func (s *StateSpace) Factories() []amm.Factory {
	s.mu.RLock()
	out := make([]amm.Factory, 0, len(s.factories))
	for _, factory := range s.factories {
		out = append(out, factory)
	}
	s.mu.RUnlock()
	sortFactories(out)
	return out
}

// Price returns the price of base in quote on the pool at addr.
func (s *StateSpace) Price(addr, base, quote common.Address) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, addr.Hex())
	}
	return pool.Price(base, quote)
}

// SimulateSwap returns the output of swapping amountIn of base on the pool at addr
// without changing the registry.
func (s *StateSpace) SimulateSwap(addr, base, quote common.Address, amountIn *big.Int) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr.Hex())
	}
	return pool.SimulateSwap(base, quote, amountIn)
}

func sortPools(pools []amm.Pool) {
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Address().Hex() < pools[j].Address().Hex()
	})
}

func sortFactories(factories []amm.Factory) {
	sort.Slice(factories, func(i, j int) bool {
		return factories[i].Address().Hex() < factories[j].Address().Hex()
	})
}
