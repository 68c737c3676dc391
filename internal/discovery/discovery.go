// Package discovery finds factory contracts by scanning historical creation logs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stateSpace/internal/amm"
	"stateSpace/internal/chain"
)

const (
	DefaultStep        = 10_000
	DefaultConcurrency = 8
)

// Config holds discovery settings.
type Config struct {
	// FromBlock is the first block scanned.
	FromBlock uint64
	// ToBlock is the last block scanned; zero means the chain head.
	ToBlock     uint64
	Step        uint64
	Threshold   uint64
	Concurrency int
	// Topics defaults to every creation event in the catalogue.
	Topics       []common.Hash
	MaxRetries   int
	RetryBackoff time.Duration
}

// RangeError reports one block range whose logs could not be fetched.
type RangeError struct {
	From uint64
	To   uint64
	Err  error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("discover blocks [%d,%d]: %v", e.From, e.To, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// Candidate is a factory seen during a scan together with the number of pools it created
// after its first creation log.
type Candidate struct {
	Factory amm.Factory
	Count   uint64
}

// Result is the outcome of a discovery run.
type Result struct {
	ToBlock uint64
	// Factories holds qualified candidates sorted by address.
	Factories []amm.Factory
	// Candidates holds every factory seen, qualified or not.
	Candidates map[common.Address]Candidate
	Failed     []*RangeError
}

// Engine scans block ranges concurrently for factory creation logs.
type Engine struct {
	cfg      Config
	provider amm.Provider
	logger   *zap.Logger
}

// New builds an Engine with its dependencies.
func New(cfg Config, provider amm.Provider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Step == 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = amm.DiscoveryTopics()
	}
	return &Engine{cfg: cfg, provider: provider, logger: logger}
}

// tally is the per-range view of one factory.
type tally struct {
	first types.Log
	logs  uint64
}

// Discover scans [FromBlock, ToBlock] and returns the factories that created at least
// Threshold pools after their first creation log. Failed ranges are reported in the
// result and never abort the other ranges.
func (e *Engine) Discover(ctx context.Context) (Result, error) {
	if e.provider == nil {
		return Result{}, errors.New("provider is nil")
	}
	to := e.cfg.ToBlock
	if to == 0 {
		head, err := e.provider.LatestBlockNumber(ctx)
		if err != nil {
			return Result{}, &amm.ProviderError{Op: "block number", Err: err}
		}
		to = head
	}
	result := Result{ToBlock: to, Candidates: make(map[common.Address]Candidate)}
	if e.cfg.FromBlock > to {
		e.logger.Info("nothing to discover", zap.Uint64("from", e.cfg.FromBlock), zap.Uint64("to", to))
		return result, nil
	}

	ranges, err := chain.SplitRange(e.cfg.FromBlock, to, e.cfg.Step)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("discover factories",
		zap.Uint64("from", e.cfg.FromBlock),
		zap.Uint64("to", to),
		zap.Int("ranges", len(ranges)),
	)

	tallies := make([]map[common.Address]*tally, len(ranges))
	errs := make([]error, len(ranges))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			tallies[i], errs[i] = e.scan(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[common.Address]*tally)
	for i, r := range ranges {
		if errs[i] != nil {
			e.logger.Warn("discover range failed", zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Error(errs[i]))
			result.Failed = append(result.Failed, &RangeError{From: r.From, To: r.To, Err: errs[i]})
			continue
		}
		for addr, t := range tallies[i] {
			current, ok := merged[addr]
			if !ok {
				merged[addr] = &tally{first: t.first, logs: t.logs}
				continue
			}
			current.logs += t.logs
			if before(t.first, current.first) {
				current.first = t.first
			}
		}
	}

	for addr, t := range merged {
		factory, err := amm.FactoryFromLog(t.first)
		if err != nil {
			e.logger.Debug("skip candidate", zap.String("factory", addr.Hex()), zap.Error(err))
			continue
		}
		count := t.logs - 1
		result.Candidates[addr] = Candidate{Factory: factory, Count: count}
		if count >= e.cfg.Threshold {
			result.Factories = append(result.Factories, factory)
		}
	}
	sort.Slice(result.Factories, func(i, j int) bool {
		return result.Factories[i].Address().Hex() < result.Factories[j].Address().Hex()
	})

	e.logger.Info("discovery complete",
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("factories", len(result.Factories)),
		zap.Int("failed_ranges", len(result.Failed)),
	)
	return result, nil
}

// scan tallies the creation logs of one range by emitting address.
func (e *Engine) scan(ctx context.Context, r chain.BlockRange) (map[common.Address]*tally, error) {
	var logs []types.Log
	policy := chain.RetryPolicy{MaxRetries: e.cfg.MaxRetries, BaseDelay: e.cfg.RetryBackoff, Logger: e.logger}
	err := chain.Retry(ctx, policy, "filter logs", func(ctx context.Context) error {
		var err error
		logs, err = e.provider.FilterLogs(ctx, r.From, r.To, nil, e.cfg.Topics)
		return err
	})
	if err != nil {
		return nil, &amm.ProviderError{Op: "filter logs", Err: err}
	}

	out := make(map[common.Address]*tally)
	for _, log := range logs {
		if log.Removed {
			continue
		}
		if _, err := amm.BlockNumberOf(log); err != nil {
			return nil, fmt.Errorf("log %d of %s: %w", log.Index, log.Address.Hex(), err)
		}
		t, ok := out[log.Address]
		if !ok {
			out[log.Address] = &tally{first: log, logs: 1}
			continue
		}
		t.logs++
		if before(log, t.first) {
			t.first = log
		}
	}
	return out, nil
}

func before(a, b types.Log) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	return a.Index < b.Index
}
