// internal/state/snapshot.go
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

// snapshotFile is the compacted document on disk.
type snapshotFile struct {
	Version int            `msgpack:"version"`
	TakenAt int64          `msgpack:"taken_at"`
	Doc     map[string]any `msgpack:"doc"`
}

// writeSnapshot replaces path atomically (temp file + rename).
func writeSnapshot(path string, doc map[string]any, now time.Time) error {
	raw, err := msgpack.Marshal(snapshotFile{
		Version: snapshotVersion,
		TakenAt: now.UnixMilli(),
		Doc:     doc,
	})
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("state: install snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads path. ok=false when no snapshot exists.
func readSnapshot(path string) (doc map[string]any, ok bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: read snapshot %s: %w", path, err)
	}

	var sf snapshotFile
	if err := msgpack.Unmarshal(raw, &sf); err != nil {
		return nil, false, fmt.Errorf("state: decode snapshot %s: %w", path, err)
	}
	if sf.Version != snapshotVersion {
		return nil, false, fmt.Errorf("state: snapshot %s: unsupported version %d", path, sf.Version)
	}
	if sf.Doc == nil {
		return nil, false, fmt.Errorf("state: snapshot %s: empty document", path)
	}
	return normalize(sf.Doc).(map[string]any), true, nil
}
