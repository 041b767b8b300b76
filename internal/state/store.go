// internal/state/store.go
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

// Store is the event-sourced operator/session document.
//
// Every mutation except UpdatePLCMemory goes through a patch that is
// validated, journaled, then applied, all under one lock.
type Store struct {
	mu  sync.Mutex
	doc map[string]any
	j   *journal

	snapshotPath string
	compactAfter int

	log *slog.Logger
	m   *metrics.Metrics
	now func() time.Time
}

// Open restores the document (snapshot + journal) and opens the journal for append.
func Open(cfg config.StateConfig, log *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir %s: %w", cfg.Dir, err)
	}

	s := &Store{
		doc:          Default(),
		snapshotPath: filepath.Join(cfg.Dir, cfg.Snapshot),
		compactAfter: cfg.CompactAfter,
		log:          log.With("component", "state"),
		m:            m,
		now:          time.Now,
	}

	// ------------------------------------------------------------
	// RESTORE: snapshot, then journal on top
	// ------------------------------------------------------------

	doc, ok, err := readSnapshot(s.snapshotPath)
	if err != nil {
		return nil, err
	}
	if ok {
		s.doc = doc
		s.log.Info("snapshot loaded", "path", s.snapshotPath)
	}

	journalPath := filepath.Join(cfg.Dir, cfg.Journal)
	applied, skipped, err := replayJournal(journalPath, func(ev Event) error {
		p, err := ev.Patch()
		if err != nil {
			return err
		}
		if err := check(s.doc, p); err != nil {
			return err
		}
		s.doc = apply(s.doc, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("journal replayed", "path", journalPath, "applied", applied, "skipped", skipped)
	if skipped > 0 {
		s.log.Warn("journal lines skipped", "count", skipped)
	}

	j, err := openJournal(journalPath, cfg.Sync)
	if err != nil {
		return nil, err
	}
	j.lines = applied + skipped
	s.j = j

	if s.compactAfter > 0 && j.lines > s.compactAfter {
		if err := s.Compact(); err != nil {
			_ = j.close()
			return nil, err
		}
	}
	return s, nil
}

// ---- mutation ----

// ApplyPatch decodes one wire event and applies it.
// Malformed events return ErrMalformedPatch, ill-fitting ones ErrPatchRejected;
// neither is journaled.
func (s *Store) ApplyPatch(raw json.RawMessage) error {
	ev, err := DecodeEvent(raw)
	if err != nil {
		s.m.PatchRejected()
		return err
	}
	return s.applyEvent(ev)
}

// Apply journals and applies a typed patch.
func (s *Store) Apply(p Patch) error {
	ev, err := p.event()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPatch, err)
	}
	return s.applyEvent(ev)
}

func (s *Store) applyEvent(ev Event) error {
	// values always come from the wire form so live and replayed documents match
	p, err := ev.Patch()
	if err != nil {
		s.m.PatchRejected()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.j == nil {
		return fmt.Errorf("state: store closed")
	}
	if err := check(s.doc, p); err != nil {
		s.m.PatchRejected()
		return err
	}

	if ev.TS == nil {
		ts := s.now().UnixMilli()
		ev.TS = &ts
	}
	if err := s.j.append(ev); err != nil {
		return err
	}
	s.m.JournalEvent()

	s.doc = apply(s.doc, p)
	return nil
}

// UpdatePLCMemory overwrites the plc subtree. Not journaled.
func (s *Store) UpdatePLCMemory(plc map[string]any) {
	v := normalize(plc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc["plc"] = v
}

// ---- reads ----

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.doc).(map[string]any)
}

// JournalLen is the number of events since the last compaction.
func (s *Store) JournalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.j == nil {
		return 0
	}
	return s.j.lines
}

// ---- maintenance ----

// Compact writes the current document as a snapshot and empties the journal.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.j == nil {
		return fmt.Errorf("state: store closed")
	}
	n := s.j.lines
	if err := writeSnapshot(s.snapshotPath, s.doc, s.now()); err != nil {
		return err
	}
	if err := s.j.truncate(); err != nil {
		return err
	}
	s.log.Info("journal compacted", "events", n, "snapshot", s.snapshotPath)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.j.close()
	s.j = nil
	return err
}
