// internal/state/journal.go
package state

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxJournalLine bounds one journal line (large scan dictionaries included).
const maxJournalLine = 4 << 20

// journalFile is the part of *os.File the journal writes through.
type journalFile interface {
	io.Writer
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// journal is the append-only JSONL event log.
type journal struct {
	f     journalFile
	path  string
	sync  bool
	lines int
}

func openJournal(path string, sync bool) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("state: open journal %s: %w", path, err)
	}
	return &journal{f: f, path: path, sync: sync}, nil
}

func (j *journal) append(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("state: encode event: %w", err)
	}
	line = append(line, '\n')

	prev, err := j.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("state: journal seek: %w", err)
	}
	if _, err := j.f.Write(line); err != nil {
		return j.rollback(prev, fmt.Errorf("state: journal append: %w", err))
	}
	if j.sync {
		if err := j.f.Sync(); err != nil {
			return j.rollback(prev, fmt.Errorf("state: journal sync: %w", err))
		}
	}
	j.lines++
	return nil
}

// rollback cuts a partially written line so the next append starts clean.
func (j *journal) rollback(size int64, cause error) error {
	if err := j.f.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("state: journal rollback: %w", err))
	}
	return cause
}

func (j *journal) truncate() error {
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("state: journal truncate: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("state: journal sync: %w", err)
	}
	j.lines = 0
	return nil
}

func (j *journal) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// replayJournal feeds every line of path to fn in order.
// Undecodable lines, and lines fn rejects, are counted as skipped.
func replayJournal(path string, fn func(Event) error) (applied, skipped int, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("state: open journal %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxJournalLine)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeEvent(line)
		if err != nil {
			skipped++
			continue
		}
		if err := fn(ev); err != nil {
			skipped++
			continue
		}
		applied++
	}
	if err := sc.Err(); err != nil {
		return applied, skipped, fmt.Errorf("state: read journal %s: %w", path, err)
	}
	return applied, skipped, nil
}
