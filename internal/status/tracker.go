// internal/status/tracker.go
package status

import (
	"errors"
	"net"
	"os"
	"sync"
)

// Tracker folds PLC link events into a Snapshot.
// Safe for concurrent use: link events arrive from the PLC loop,
// Tick and Snapshot from the mirror loop.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Health: HealthUnknown}}
}

// LinkUp marks the link healthy and resets the error clock.
func (t *Tracker) LinkUp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Health = HealthOK
	t.snap.SecondsInError = 0
}

// LinkDown marks the link failed. err selects the link error code.
func (t *Tracker) LinkDown(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Health != HealthError {
		t.snap.SecondsInError = 0
	}
	t.snap.Health = HealthError
	t.snap.LastErrorCode = linkErrorCode(err)
}

// LinkError records a PLC end code. Health is unchanged: the link still works.
func (t *Tracker) LinkError(code uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastErrorCode = code
}

// Tick advances the error clock by one second while not OK.
// Saturates instead of wrapping.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Health == HealthOK {
		return
	}
	if t.snap.SecondsInError < 0xFFFF {
		t.snap.SecondsInError++
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func linkErrorCode(err error) uint16 {
	if err == nil {
		return ErrCodeIO
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrCodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrCodeTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return ErrCodeConnect
	}
	return ErrCodeIO
}
