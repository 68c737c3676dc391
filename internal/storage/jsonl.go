package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stateSpace/internal/model"
)

const maxLineSize = 64 << 20

const (
	lineHeader  = "header"
	lineFactory = "factory"
	linePool    = "pool"
)

// snapshotLine is one line of a snapshot file. The first line is the header.
type snapshotLine struct {
	Type            string        `json:"type"`
	ChainID         uint64        `json:"chain_id,omitempty"`
	LastSyncedBlock uint64        `json:"last_synced_block,omitempty"`
	SavedAt         string        `json:"saved_at,omitempty"`
	Record          *model.Record `json:"record,omitempty"`
}

// JsonlStore keeps the latest snapshot in a JSONL file, replaced atomically on save.
type JsonlStore struct {
	path string
	mu   sync.Mutex
}

var _ SnapshotStore = (*JsonlStore)(nil)

func NewJsonlStore(path string) *JsonlStore {
	return &JsonlStore{path: path}
}

// SaveSnapshot writes the snapshot to a temporary file and renames it over the old one.
func (s *JsonlStore) SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot tmp: %w", err)
	}

	if err := writeSnapshot(file, snapshot); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(file *os.File, snapshot model.Snapshot) error {
	writer := bufio.NewWriter(file)
	write := func(line snapshotLine) error {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", line.Type, err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("write snapshot %s: %w", line.Type, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		return nil
	}

	header := snapshotLine{
		Type:            lineHeader,
		ChainID:         snapshot.ChainID,
		LastSyncedBlock: snapshot.LastSyncedBlock,
		SavedAt:         snapshot.SavedAt,
	}
	if err := write(header); err != nil {
		return err
	}
	for i := range snapshot.Factories {
		if err := write(snapshotLine{Type: lineFactory, Record: &snapshot.Factories[i]}); err != nil {
			return err
		}
	}
	for i := range snapshot.Pools {
		if err := write(snapshotLine{Type: linePool, Record: &snapshot.Pools[i]}); err != nil {
			return err
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot file. A missing file is not an error.
func (s *JsonlStore) LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return model.Snapshot{}, false, fmt.Errorf("snapshot path is a directory")
	}

	file, err := os.Open(s.path)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		snapshot model.Snapshot
		lineNo   int
	)
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line snapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return model.Snapshot{}, false, fmt.Errorf("parse snapshot line %d: %w", lineNo, err)
		}
		if lineNo == 1 && line.Type != lineHeader {
			return model.Snapshot{}, false, fmt.Errorf("snapshot header missing")
		}
		switch line.Type {
		case lineHeader:
			snapshot.ChainID = line.ChainID
			snapshot.LastSyncedBlock = line.LastSyncedBlock
			snapshot.SavedAt = line.SavedAt
		case lineFactory, linePool:
			if line.Record == nil {
				return model.Snapshot{}, false, fmt.Errorf("snapshot line %d: missing record", lineNo)
			}
			if line.Type == lineFactory {
				snapshot.Factories = append(snapshot.Factories, *line.Record)
			} else {
				snapshot.Pools = append(snapshot.Pools, *line.Record)
			}
		default:
			return model.Snapshot{}, false, fmt.Errorf("snapshot line %d: unknown type %q", lineNo, line.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if lineNo == 0 {
		return model.Snapshot{}, false, fmt.Errorf("snapshot file is empty")
	}
	return snapshot, true, nil
}
