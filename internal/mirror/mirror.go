// internal/mirror/mirror.go
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/status"
)

const tickInterval = time.Second

// Mirror publishes PLC link health and the decoded status points to a
// Modbus TCP endpoint once per second.
type Mirror struct {
	tracker *status.Tracker
	w       *statusWriter
	closeFn func() error
	log     *slog.Logger

	mu     sync.Mutex
	points status.Points

	failing bool // owned by Run
}

// New dials nothing; the endpoint is contacted on the first tick.
func New(cfg config.MirrorConfig, tracker *status.Tracker, log *slog.Logger) (*Mirror, error) {
	cli, err := NewEndpointClient(cfg.Endpoint, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return newMirror(cfg, tracker, cli, cli.Close, log)
}

func newMirror(cfg config.MirrorConfig, tracker *status.Tracker, cli endpointClient, closeFn func() error, log *slog.Logger) (*Mirror, error) {
	if tracker == nil {
		return nil, errors.New("mirror: tracker required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		tracker: tracker,
		w:       newStatusWriter(cli, cfg.UnitID, cfg.RegisterAddress, cfg.CoilAddress, cfg.Name),
		closeFn: closeFn,
		log:     log.With("component", "mirror", "endpoint", cfg.Endpoint),
	}, nil
}

// SetPoints records the latest decoded tuple. Written on the next tick.
func (m *Mirror) SetPoints(p status.Points) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = p
}

// Run ticks the error clock and writes the block until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	defer func() {
		if m.closeFn != nil {
			_ = m.closeFn()
		}
	}()

	m.log.Info("status mirror started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tracker.Tick()
			m.flush()
		}
	}
}

func (m *Mirror) flush() {
	m.mu.Lock()
	p := m.points
	m.mu.Unlock()

	err := m.w.Write(m.tracker.Snapshot(), p)
	switch {
	case err != nil && !m.failing:
		m.failing = true
		m.log.Warn("status mirror write failed", "error", err)
	case err == nil && m.failing:
		m.failing = false
		m.log.Info("status mirror recovered")
	}
}
