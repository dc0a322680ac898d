package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"issuerLedger/internal/model"
)

// JSONLArchive appends raw settlement logs to a JSONL file, one record per
// line in settlement order. Removed logs are not archived.
type JSONLArchive struct {
	path string

	mu      sync.Mutex
	written uint64
}

func NewJSONLArchive(path string) *JSONLArchive {
	return &JSONLArchive{path: path}
}

// PutLogBatch appends a batch of records ordered by block and log index.
func (a *JSONLArchive) PutLogBatch(logs []model.LogRecord) error {
	records := make([]model.LogRecord, 0, len(logs))
	for _, record := range logs {
		if !record.Removed {
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		return nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("write archive record %s:%d: %w", record.TxHash, record.LogIndex, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	a.written += uint64(len(records))
	return nil
}

// Written returns how many records this archive has appended.
func (a *JSONLArchive) Written() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}
