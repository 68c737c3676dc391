package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stateSpace/internal/model"
)

func TestJsonlStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.jsonl")
	store := NewJsonlStore(path)
	ctx := context.Background()

	_, ok, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot := model.Snapshot{
		ChainID:         1,
		LastSyncedBlock: 19000000,
		SavedAt:         "2024-03-01T00:00:00Z",
		Factories: []model.Record{
			{Kind: "uniswap_v2", Address: "0x01", Data: json.RawMessage(`{"address":"0x01","creation_block":1,"fee":300}`)},
		},
		Pools: []model.Record{
			{Kind: "uniswap_v2", Address: "0x02", Data: json.RawMessage(`{"reserve0":1,"reserve1":2}`)},
			{Kind: "uniswap_v3", Address: "0x03", Data: json.RawMessage(`{"ticks":{"-60":{"liquidity_net":5}}}`)},
		},
	}
	require.NoError(t, store.SaveSnapshot(ctx, snapshot))

	loaded, ok, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot.ChainID, loaded.ChainID)
	assert.Equal(t, snapshot.LastSyncedBlock, loaded.LastSyncedBlock)
	assert.Equal(t, snapshot.SavedAt, loaded.SavedAt)
	require.Len(t, loaded.Factories, 1)
	require.Len(t, loaded.Pools, 2)
	assert.JSONEq(t, string(snapshot.Pools[1].Data), string(loaded.Pools[1].Data))
	assert.Equal(t, "uniswap_v3", loaded.Pools[1].Kind)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestJsonlStoreOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	store := NewJsonlStore(path)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, model.Snapshot{LastSyncedBlock: 1, Pools: []model.Record{{Kind: "uniswap_v2", Address: "0x02", Data: json.RawMessage(`{}`)}}}))
	require.NoError(t, store.SaveSnapshot(ctx, model.Snapshot{LastSyncedBlock: 2}))

	loaded, ok, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), loaded.LastSyncedBlock)
	assert.Empty(t, loaded.Pools)
}

func TestJsonlStoreRejectsMissingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"pool","record":{"kind":"uniswap_v2","address":"0x02","data":{}}}`+"\n"), 0o644))

	_, _, err := NewJsonlStore(path).LoadSnapshot(context.Background())
	assert.Error(t, err)
}
