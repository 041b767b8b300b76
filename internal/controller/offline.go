// internal/controller/offline.go
package controller

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxOfflineLine bounds one cached record.
const maxOfflineLine = 1 << 20

// OfflineCache is an append-only JSONL file of records the console could not
// deliver upstream. One compact JSON value per line.
type OfflineCache struct {
	mu   sync.Mutex
	path string
}

func NewOfflineCache(path string) *OfflineCache {
	return &OfflineCache{path: path}
}

func (c *OfflineCache) Path() string { return c.path }

// Append writes raw as one compact line.
func (c *OfflineCache) Append(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("offline cache: invalid record: %w", err)
	}
	buf.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("offline cache: create dir: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("offline cache: open %s: %w", c.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("offline cache: append: %w", err)
	}
	return f.Close()
}

// Clear empties the cache, creating the file if needed.
func (c *OfflineCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("offline cache: create dir: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("offline cache: truncate %s: %w", c.path, err)
	}
	return f.Close()
}

// Load parses every line independently. Lines that are not valid JSON are
// counted in skipped and do not affect the others. A missing file is empty.
func (c *OfflineCache) Load() (records []json.RawMessage, skipped int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("offline cache: open %s: %w", c.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxOfflineLine)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		records = append(records, json.RawMessage(bytes.Clone(line)))
	}
	if err := sc.Err(); err != nil {
		return records, skipped, fmt.Errorf("offline cache: read %s: %w", c.path, err)
	}
	return records, skipped, nil
}
