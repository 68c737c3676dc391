package statespace

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stateSpace/internal/amm"
	"stateSpace/internal/amm/ammtest"
	"stateSpace/internal/amm/v3math"
	"stateSpace/internal/filter"
	"stateSpace/internal/storage"
)

var (
	tokenA = ammtest.Addr(1)
	tokenB = ammtest.Addr(2)
	tokenC = ammtest.Addr(3)

	v2Factory = ammtest.Addr(100)
	v3Factory = ammtest.Addr(300)
	pairAB    = ammtest.Addr(201)
	pairAC    = ammtest.Addr(202)
)

func newV2Chain() *ammtest.Provider {
	provider := ammtest.NewProvider()
	provider.SetV2Factory(v2Factory, []common.Address{pairAB, pairAC})
	provider.SetPair(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	provider.SetPair(pairAC, tokenA, tokenC, big.NewInt(30), big.NewInt(40))
	provider.SetDecimals(tokenA, 18)
	provider.SetDecimals(tokenB, 6)
	provider.SetDecimals(tokenC, 8)
	provider.SetHead(50)
	return provider
}

func testConfig() Config {
	return Config{
		Factories: []amm.Factory{
			&amm.UniswapV2Factory{FactoryAddress: v2Factory, DeployBlock: 1, Fee: amm.DefaultV2Fee},
		},
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		ChainID:      1,
	}
}

func buildSpace(t *testing.T, provider *ammtest.Provider, cfg Config) *StateSpace {
	t.Helper()
	space := New(cfg, provider, nil, zap.NewNop())
	_, err := space.Build(context.Background())
	require.NoError(t, err)
	return space
}

func v2Pool(t *testing.T, space *StateSpace, addr common.Address) *amm.UniswapV2Pool {
	t.Helper()
	pool, ok := space.Pool(addr)
	require.True(t, ok, "pool %s not tracked", addr.Hex())
	return pool.(*amm.UniswapV2Pool)
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, gauge.Write(m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(label).Write(m))
	return m.GetCounter().GetValue()
}

func encodedPools(t *testing.T, space *StateSpace) []string {
	t.Helper()
	out := make([]string, 0)
	for _, pool := range space.Pools() {
		record, err := amm.EncodePool(pool)
		require.NoError(t, err)
		out = append(out, string(record.Data))
	}
	return out
}

func requireSamePools(t *testing.T, want, got *StateSpace) {
	t.Helper()
	wantPools := encodedPools(t, want)
	gotPools := encodedPools(t, got)
	require.Len(t, gotPools, len(wantPools))
	for i := range wantPools {
		assert.JSONEq(t, wantPools[i], gotPools[i])
	}
}

func TestBuildExplicitFactory(t *testing.T) {
	provider := newV2Chain()
	space := New(testConfig(), provider, nil, zap.NewNop())

	report, err := space.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Partial())
	assert.Equal(t, uint64(50), report.Head)
	assert.Equal(t, 1, report.Factories)
	assert.Equal(t, 2, report.Backfilled)
	assert.Equal(t, 2, report.Tracked)
	assert.Equal(t, uint64(50), space.LastSyncedBlock())

	pool := v2Pool(t, space, pairAB)
	assert.Equal(t, "1000", pool.Reserve0.String())
	assert.Equal(t, "2000", pool.Reserve1.String())
	assert.Equal(t, uint8(6), pool.Token1Decimals)

	assert.Equal(t, float64(2), gaugeValue(t, space.metrics.Pools))
	assert.Equal(t, float64(50), gaugeValue(t, space.metrics.LastSyncedBlock))
}

func TestBuildAppliesFilters(t *testing.T) {
	cfg := testConfig()
	cfg.Filters = filter.Chain{filter.NewBlacklist([]common.Address{pairAC}, nil)}

	space := New(cfg, newV2Chain(), nil, zap.NewNop())
	report, err := space.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Backfilled)
	assert.Equal(t, 1, report.Tracked)

	_, ok := space.Pool(pairAC)
	assert.False(t, ok)
	_, ok = space.Pool(pairAB)
	assert.True(t, ok)
}

func TestBuildDiscoveryKeepsExplicitFactory(t *testing.T) {
	provider := newV2Chain()
	v3Pool := ammtest.Addr(400)
	provider.AddLogs(
		ammtest.PairCreatedLog(v2Factory, tokenA, tokenB, pairAB, 0, 5, 0),
		ammtest.PairCreatedLog(v2Factory, tokenA, tokenC, pairAC, 1, 6, 0),
		ammtest.PoolCreatedLog(v3Factory, tokenA, tokenB, 3000, 60, v3Pool, 8, 0),
	)
	provider.SetV3State(v3Pool, v3math.Q96, 0, big.NewInt(1000))

	cfg := testConfig()
	cfg.Discovery = true
	cfg.Factories = []amm.Factory{
		&amm.UniswapV2Factory{FactoryAddress: v2Factory, DeployBlock: 1, Fee: 250},
	}

	space := New(cfg, provider, nil, zap.NewNop())
	report, err := space.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Factories)
	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 3, report.Tracked)

	factories := space.Factories()
	require.Len(t, factories, 2)
	v2, ok := factories[0].(*amm.UniswapV2Factory)
	require.True(t, ok)
	assert.Equal(t, uint32(250), v2.Fee)
	assert.Equal(t, uint64(1), v2.DeployBlock)
	assert.Equal(t, amm.KindUniswapV3, factories[1].Kind())

	price, err := space.Price(v3Pool, tokenA, tokenB)
	require.NoError(t, err)
	assert.InEpsilon(t, 1e12, price, 1e-9)
}

func TestBuildRecordsFailedFactory(t *testing.T) {
	provider := newV2Chain()
	cfg := testConfig()
	cfg.Factories = append(cfg.Factories, &amm.UniswapV2Factory{FactoryAddress: ammtest.Addr(101), DeployBlock: 1, Fee: amm.DefaultV2Fee})

	space := New(cfg, provider, nil, zap.NewNop())
	report, err := space.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Partial())
	assert.Contains(t, report.FactoryFailures, ammtest.Addr(101))
	assert.Equal(t, 2, report.Tracked)

	cfg.Backfill.AbortOnChunkFailure = true
	_, err = New(cfg, provider, nil, zap.NewNop()).Build(context.Background())
	require.Error(t, err)
}

func TestSyncBlockAppliesLogs(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())

	provider.AddLogs(
		ammtest.SyncLog(pairAB, big.NewInt(1500), big.NewInt(1400), 51, 0),
		ammtest.SyncLog(ammtest.Addr(999), big.NewInt(1), big.NewInt(1), 51, 1),
	)
	provider.SetHead(51)

	require.NoError(t, space.SyncBlock(context.Background(), 51))
	assert.Equal(t, uint64(51), space.LastSyncedBlock())

	pool := v2Pool(t, space, pairAB)
	assert.Equal(t, "1500", pool.Reserve0.String())
	assert.Equal(t, "1400", pool.Reserve1.String())
	_, ok := space.Pool(ammtest.Addr(999))
	assert.False(t, ok)

	assert.Equal(t, float64(1), counterValue(t, space.metrics.LogsApplied, string(amm.KindUniswapV2)))
	assert.Equal(t, float64(51), gaugeValue(t, space.metrics.LastSyncedBlock))
}

func TestSyncBlockCreatesPoolAndAppliesSameBlockLogs(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())

	pairBC := ammtest.Addr(204)
	provider.AddLogs(
		ammtest.PairCreatedLog(v2Factory, tokenB, tokenC, pairBC, 2, 51, 0),
		ammtest.SyncLog(pairBC, big.NewInt(10), big.NewInt(20), 51, 1),
	)
	provider.SetHead(51)

	require.NoError(t, space.SyncBlock(context.Background(), 51))

	pool := v2Pool(t, space, pairBC)
	assert.Equal(t, "10", pool.Reserve0.String())
	assert.Equal(t, "20", pool.Reserve1.String())
	assert.Equal(t, []uint8{6, 8}, pool.Decimals())
	assert.Len(t, space.Pools(), 3)
	assert.Equal(t, float64(3), gaugeValue(t, space.metrics.Pools))
}

func TestSyncBlockFilterRejectsNewPool(t *testing.T) {
	provider := newV2Chain()
	cfg := testConfig()
	cfg.Filters = filter.Chain{filter.NewWhitelist(nil, []common.Address{tokenA})}
	space := buildSpace(t, provider, cfg)

	provider.AddLogs(ammtest.PairCreatedLog(v2Factory, tokenB, tokenC, ammtest.Addr(204), 2, 51, 0))
	provider.SetHead(51)

	require.NoError(t, space.SyncBlock(context.Background(), 51))
	_, ok := space.Pool(ammtest.Addr(204))
	assert.False(t, ok)
	assert.Equal(t, uint64(51), space.LastSyncedBlock())
}

func TestSyncBlockFetchFailure(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())

	provider.FailFilter[51] = errors.New("connection reset")
	err := space.SyncBlock(context.Background(), 51)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, uint64(51), syncErr.Block)
	var providerErr *amm.ProviderError
	assert.ErrorAs(t, err, &providerErr)
	assert.Equal(t, uint64(50), space.LastSyncedBlock())
	assert.Equal(t, float64(1), counterValue(t, space.metrics.SyncErrors, "fetch"))
}

func TestSyncBlockDecodeErrorLeavesStateUnchanged(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())

	provider.AddLogs(
		ammtest.SyncLog(pairAB, big.NewInt(1500), big.NewInt(1400), 51, 0),
		types.Log{
			Address:     pairAC,
			Topics:      []common.Hash{amm.SyncTopic},
			Data:        []byte{0x01},
			BlockNumber: 51,
			BlockHash:   common.HexToHash("0x33"),
			Index:       1,
		},
	)
	provider.SetHead(51)

	err := space.SyncBlock(context.Background(), 51)
	var decodeErr *amm.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, uint64(50), space.LastSyncedBlock())

	pool := v2Pool(t, space, pairAB)
	assert.Equal(t, "1000", pool.Reserve0.String())
	assert.Equal(t, "2000", pool.Reserve1.String())
}

func TestCatchUpRetriesOnlyTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3

	provider := newV2Chain()
	space := buildSpace(t, provider, cfg)
	provider.AddLogs(types.Log{
		Address:     pairAC,
		Topics:      []common.Hash{amm.SyncTopic},
		Data:        []byte{0x01},
		BlockNumber: 51,
		BlockHash:   common.HexToHash("0x33"),
		Index:       0,
	})
	provider.SetHead(51)
	space.catchUp(context.Background())
	assert.Equal(t, float64(1), counterValue(t, space.metrics.SyncErrors, "apply"))
	assert.Equal(t, uint64(50), space.LastSyncedBlock())

	provider = newV2Chain()
	space = buildSpace(t, provider, cfg)
	provider.FailFilter[51] = errors.New("connection reset")
	provider.SetHead(51)
	space.catchUp(context.Background())
	assert.Equal(t, float64(4), counterValue(t, space.metrics.SyncErrors, "fetch"))
	assert.Equal(t, uint64(50), space.LastSyncedBlock())
}

func TestSyncBlockOrdering(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())
	ctx := context.Background()

	require.NoError(t, space.SyncBlock(ctx, 50))
	require.NoError(t, space.SyncBlock(ctx, 12))

	err := space.SyncBlock(ctx, 52)
	require.ErrorIs(t, err, ErrBlockGap)
	assert.Equal(t, uint64(50), space.LastSyncedBlock())

	provider.AddLogs(ammtest.SyncLog(pairAB, big.NewInt(7), big.NewInt(8), 51, 0))
	require.NoError(t, space.SyncBlock(ctx, 51))
	require.NoError(t, space.SyncBlock(ctx, 51))
	assert.Equal(t, "7", v2Pool(t, space, pairAB).Reserve0.String())
}

func TestApplyLogsMatchesBlockWiseSync(t *testing.T) {
	provider := newV2Chain()
	logs := []types.Log{
		ammtest.SyncLog(pairAC, big.NewInt(31), big.NewInt(39), 53, 0),
		ammtest.SyncLog(pairAB, big.NewInt(1100), big.NewInt(1900), 51, 0),
		ammtest.PairCreatedLog(v2Factory, tokenB, tokenC, ammtest.Addr(204), 2, 52, 0),
		ammtest.SyncLog(ammtest.Addr(204), big.NewInt(5), big.NewInt(6), 52, 1),
		ammtest.SyncLog(pairAB, big.NewInt(1200), big.NewInt(1800), 51, 3),
		ammtest.SyncLog(ammtest.Addr(204), big.NewInt(9), big.NewInt(4), 53, 2),
	}

	blockWise := buildSpace(t, provider, testConfig())
	combined := buildSpace(t, provider, testConfig())

	provider.AddLogs(logs...)
	provider.SetHead(53)
	ctx := context.Background()
	for n := uint64(51); n <= 53; n++ {
		require.NoError(t, blockWise.SyncBlock(ctx, n))
	}
	require.NoError(t, combined.ApplyLogs(ctx, logs))

	assert.Equal(t, uint64(53), combined.LastSyncedBlock())
	requireSamePools(t, blockWise, combined)
	assert.Equal(t, "1200", v2Pool(t, combined, pairAB).Reserve0.String())
	assert.Equal(t, "9", v2Pool(t, combined, ammtest.Addr(204)).Reserve0.String())
}

func TestLookupErrors(t *testing.T) {
	space := buildSpace(t, newV2Chain(), testConfig())

	_, err := space.Price(ammtest.Addr(999), tokenA, tokenB)
	require.ErrorIs(t, err, ErrPoolNotFound)
	_, err = space.SimulateSwap(ammtest.Addr(999), tokenA, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, ErrPoolNotFound)

	out, err := space.SimulateSwap(pairAB, tokenA, tokenB, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, "19", out.String())
	assert.Equal(t, "1000", v2Pool(t, space, pairAB).Reserve0.String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())
	provider.AddLogs(ammtest.SyncLog(pairAB, big.NewInt(1500), big.NewInt(1400), 51, 0))
	provider.SetHead(51)
	require.NoError(t, space.SyncBlock(context.Background(), 51))

	store := storage.NewJsonlStore(filepath.Join(t.TempDir(), "snapshot.jsonl"))
	ctx := context.Background()

	restored := New(testConfig(), provider, nil, zap.NewNop())
	ok, err := restored.LoadFrom(ctx, store)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, space.SaveTo(ctx, store))
	ok, err = restored.LoadFrom(ctx, store)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(51), restored.LastSyncedBlock())
	assert.Len(t, restored.Factories(), 1)
	requireSamePools(t, space, restored)

	provider.AddLogs(ammtest.SyncLog(pairAC, big.NewInt(1), big.NewInt(2), 52, 0))
	require.NoError(t, restored.SyncBlock(ctx, 52))
	assert.Equal(t, "1", v2Pool(t, restored, pairAC).Reserve0.String())
}

func TestSnapshotIsConsistentDuringSync(t *testing.T) {
	provider := newV2Chain()
	// reserve0 tracks the block it was written at
	provider.SetPair(pairAB, tokenA, tokenB, big.NewInt(50), big.NewInt(1))
	space := buildSpace(t, provider, testConfig())

	logs := make([]types.Log, 0, 2000)
	for block := uint64(51); block <= 2050; block++ {
		logs = append(logs, ammtest.SyncLog(pairAB, new(big.Int).SetUint64(block), big.NewInt(1), block, 0))
	}
	done := make(chan error, 1)
	go func() { done <- space.ApplyLogs(context.Background(), logs) }()

	check := func() {
		snapshot, err := space.Snapshot()
		require.NoError(t, err)
		found := false
		for _, record := range snapshot.Pools {
			pool, err := amm.DecodePool(record)
			require.NoError(t, err)
			if pool.Address() != pairAB {
				continue
			}
			found = true
			require.Equal(t, new(big.Int).SetUint64(snapshot.LastSyncedBlock).String(), pool.(*amm.UniswapV2Pool).Reserve0.String())
		}
		require.True(t, found)
	}
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			check()
			assert.Equal(t, uint64(2050), space.LastSyncedBlock())
			return
		default:
			check()
		}
	}
}

func TestRestoreRejectsOtherChain(t *testing.T) {
	space := buildSpace(t, newV2Chain(), testConfig())
	snapshot, err := space.Snapshot()
	require.NoError(t, err)
	snapshot.ChainID = 10

	other := New(testConfig(), newV2Chain(), nil, zap.NewNop())
	require.Error(t, other.Restore(snapshot))
	assert.Equal(t, uint64(0), other.LastSyncedBlock())
}

func TestRunFollowsHead(t *testing.T) {
	provider := newV2Chain()
	cfg := testConfig()
	store := storage.NewJsonlStore(filepath.Join(t.TempDir(), "snapshot.jsonl"))
	cfg.Store = store
	space := buildSpace(t, provider, cfg)

	provider.AddLogs(
		ammtest.SyncLog(pairAB, big.NewInt(1100), big.NewInt(1900), 51, 0),
		ammtest.SyncLog(pairAB, big.NewInt(1200), big.NewInt(1800), 52, 0),
	)
	provider.SetHead(52)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- space.Run(ctx) }()

	require.Eventually(t, func() bool {
		snapshot, ok, err := store.LoadSnapshot(context.Background())
		return err == nil && ok && snapshot.LastSyncedBlock == 52
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1200", v2Pool(t, space, pairAB).Reserve0.String())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunRetriesFailedBlock(t *testing.T) {
	provider := newV2Chain()
	space := buildSpace(t, provider, testConfig())

	provider.AddLogs(ammtest.SyncLog(pairAB, big.NewInt(1100), big.NewInt(1900), 51, 0))
	provider.FailFilter[51] = errors.New("connection reset")
	provider.SetHead(51)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = space.Run(ctx) }()

	require.Eventually(t, func() bool {
		return counterValue(t, space.metrics.SyncErrors, "fetch") >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(50), space.LastSyncedBlock())
}
