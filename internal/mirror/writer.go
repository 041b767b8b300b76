// internal/mirror/writer.go
package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/station-bridge/internal/status"
)

// statusWriter delivers link status and points to the mirror endpoint.
// The first write, and the first write after any failure, is the full block.
// Otherwise only changed slots go out.
type statusWriter struct {
	cli      endpointClient
	unitID   uint8
	regAddr  uint16
	coilAddr uint16
	name     string

	needFull   bool
	last       status.Snapshot
	lastPoints status.Points
}

func newStatusWriter(cli endpointClient, unitID uint8, regAddr, coilAddr uint16, name string) *statusWriter {
	return &statusWriter{
		cli:      cli,
		unitID:   unitID,
		regAddr:  regAddr,
		coilAddr: coilAddr,
		name:     name,
		needFull: true,
		last:     status.Snapshot{Health: status.HealthUnknown},
	}
}

func (w *statusWriter) Write(s status.Snapshot, p status.Points) error {
	if w.cli == nil {
		return errors.New("mirror: no endpoint client")
	}

	// ------------------------------------------------------------
	// FULL BLOCK (registers + coils)
	// ------------------------------------------------------------
	if w.needFull {
		if err := w.cli.WriteRegisters(w.unitID, w.regAddr, status.Encode(s, p, w.name)); err != nil {
			return fmt.Errorf("mirror: full block write: %w", err)
		}
		if err := w.cli.WriteCoils(w.unitID, w.coilAddr, p.Bits()); err != nil {
			return fmt.Errorf("mirror: coil write: %w", err)
		}
		w.needFull = false
		w.last = s
		w.lastPoints = p
		return nil
	}

	// ------------------------------------------------------------
	// CHANGED SLOTS ONLY
	// ------------------------------------------------------------
	var errs []string

	slot := func(idx int, old, cur uint16, label string) bool {
		if old == cur {
			return true
		}
		if err := w.cli.WriteRegisters(w.unitID, w.regAddr+uint16(idx), []uint16{cur}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s: %v", idx, label, err))
			return false
		}
		return true
	}

	if slot(status.SlotHealthCode, w.last.Health, s.Health, "health") {
		w.last.Health = s.Health
	}
	if slot(status.SlotLastErrorCode, w.last.LastErrorCode, s.LastErrorCode, "last_error") {
		w.last.LastErrorCode = s.LastErrorCode
	}
	if slot(status.SlotSecondsInError, w.last.SecondsInError, s.SecondsInError, "seconds") {
		w.last.SecondsInError = s.SecondsInError
	}

	if w.lastPoints != p {
		ok := slot(status.SlotPointsPacked, status.PackPoints(w.lastPoints), status.PackPoints(p), "points")
		if err := w.cli.WriteCoils(w.unitID, w.coilAddr, p.Bits()); err != nil {
			errs = append(errs, fmt.Sprintf("coils: %v", err))
			ok = false
		}
		if ok {
			w.lastPoints = p
		}
	}

	if len(errs) > 0 {
		w.needFull = true
		return errors.New("mirror: " + strings.Join(errs, " | "))
	}
	return nil
}
