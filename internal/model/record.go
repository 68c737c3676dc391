package model

import "encoding/json"

// Record is a serialized pool or factory tagged by its protocol kind.
type Record struct {
	Kind    string          `json:"kind"`
	Address string          `json:"address"`
	Data    json.RawMessage `json:"data"`
}

// Snapshot is a restorable copy of a state space.
type Snapshot struct {
	ChainID         uint64   `json:"chain_id,omitempty"`
	LastSyncedBlock uint64   `json:"last_synced_block"`
	SavedAt         string   `json:"saved_at,omitempty"`
	Factories       []Record `json:"factories"`
	Pools           []Record `json:"pools"`
}
