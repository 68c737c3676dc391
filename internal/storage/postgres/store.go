package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stateSpace/internal/model"
	"stateSpace/internal/storage"
)

// Schema creates the snapshot tables. Every row is keyed by the snapshot name so several
// state spaces can share a database.
const Schema = `
CREATE TABLE IF NOT EXISTS statespace_state (
	name              TEXT PRIMARY KEY,
	chain_id          BIGINT NOT NULL DEFAULT 0,
	last_synced_block BIGINT NOT NULL,
	saved_at          TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS statespace_factories (
	name    TEXT NOT NULL,
	address TEXT NOT NULL,
	kind    TEXT NOT NULL,
	data    JSONB NOT NULL,
	PRIMARY KEY (name, address)
);
CREATE TABLE IF NOT EXISTS statespace_pools (
	name    TEXT NOT NULL,
	address TEXT NOT NULL,
	kind    TEXT NOT NULL,
	data    JSONB NOT NULL,
	PRIMARY KEY (name, address)
);
`

// Store persists snapshots in Postgres.
type Store struct {
	pool *pgxpool.Pool
	name string
}

var _ storage.SnapshotStore = (*Store)(nil)

func NewStore(ctx context.Context, dsn, name string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if name == "" {
		return nil, fmt.Errorf("snapshot name required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the snapshot tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM statespace_factories WHERE name = $1`, s.name)
	batch.Queue(`DELETE FROM statespace_pools WHERE name = $1`, s.name)
	queueRecords(batch, "statespace_factories", s.name, snapshot.Factories)
	queueRecords(batch, "statespace_pools", s.name, snapshot.Pools)
	batch.Queue(`
		INSERT INTO statespace_state (name, chain_id, last_synced_block, saved_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			last_synced_block = EXCLUDED.last_synced_block,
			saved_at = EXCLUDED.saved_at,
			updated_at = now()
	`,
		s.name,
		int64(snapshot.ChainID),
		int64(snapshot.LastSyncedBlock),
		snapshot.SavedAt,
	)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close snapshot batch: %w", err)
	}
	return tx.Commit(ctx)
}

func queueRecords(batch *pgx.Batch, table, name string, records []model.Record) {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, address, kind, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, address) DO UPDATE SET
			kind = EXCLUDED.kind,
			data = EXCLUDED.data
	`, table)
	for _, record := range records {
		batch.Queue(query, name, record.Address, record.Kind, []byte(record.Data))
	}
}

// LoadSnapshot reads the stored snapshot, reporting false when none was saved.
func (s *Store) LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	var (
		snapshot model.Snapshot
		chainID  int64
		block    int64
	)
	row := s.pool.QueryRow(ctx, `SELECT chain_id, last_synced_block, saved_at FROM statespace_state WHERE name=$1`, s.name)
	if err := row.Scan(&chainID, &block, &snapshot.SavedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	snapshot.ChainID = uint64(chainID)
	snapshot.LastSyncedBlock = uint64(block)

	var err error
	snapshot.Factories, err = s.loadRecords(ctx, "statespace_factories")
	if err != nil {
		return model.Snapshot{}, false, err
	}
	snapshot.Pools, err = s.loadRecords(ctx, "statespace_pools")
	if err != nil {
		return model.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *Store) loadRecords(ctx context.Context, table string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT address, kind, data FROM %s WHERE name=$1 ORDER BY address`, table), s.name)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]model.Record, 0)
	for rows.Next() {
		var (
			record model.Record
			data   []byte
		)
		if err := rows.Scan(&record.Address, &record.Kind, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		record.Data = data
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return records, nil
}

