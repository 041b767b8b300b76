// internal/scanner/scanner.go
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/goburrow/serial"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/config"
)

const (
	readTimeout = 500 * time.Millisecond
	reopenDelay = 3 * time.Second
	maxCodeLen  = 256
)

type Publisher interface {
	Push(msg bus.Message)
}

// ------------------------------------------------------------
// SESSION
// ------------------------------------------------------------

// Session assembles scanner keystrokes into codes. It owns its buffer;
// one Session per device.
type Session struct {
	buf     []byte
	aliases map[string][]config.AliasMessage
	pub     Publisher
	log     *slog.Logger
}

func NewSession(aliases map[string][]config.AliasMessage, pub Publisher, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{aliases: aliases, pub: pub, log: log}
}

// Feed consumes one byte. CR or LF terminates the pending code; anything
// other than letters, digits, '-' and '_' is ignored.
func (s *Session) Feed(b byte) {
	switch {
	case b == '\r' || b == '\n':
		s.flush()
	case accepted(b):
		if len(s.buf) >= maxCodeLen {
			s.log.Warn("scanner code too long, discarded", "len", len(s.buf))
			s.buf = s.buf[:0]
		}
		s.buf = append(s.buf, b)
	}
}

// Consume feeds everything read from r until ctx is done or r fails.
// Port read timeouts are not failures.
func (s *Session) Consume(ctx context.Context, r io.Reader) error {
	chunk := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := r.Read(chunk)
		for _, b := range chunk[:n] {
			s.Feed(b)
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Session) flush() {
	if len(s.buf) == 0 {
		return
	}
	code := string(s.buf)
	s.buf = s.buf[:0]

	if msgs, ok := s.aliases[code]; ok {
		for _, m := range msgs {
			s.log.Info("scanner alias", "code", code, "source", m.Source, "payload", m.Payload)
			s.pub.Push(bus.Message{Source: m.Source, Type: bus.TypeData, Payload: m.Payload})
		}
		return
	}

	s.log.Info("scanner code", "code", code)
	s.pub.Push(bus.Message{Source: bus.SourceScanner, Type: bus.TypeData, Payload: code})
}

func accepted(b byte) bool {
	return (b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		b == '-' || b == '_'
}

// ------------------------------------------------------------
// DEVICE
// ------------------------------------------------------------

// Opener opens the scanner device. serial.Open in production.
type Opener func(*serial.Config) (serial.Port, error)

// Device runs a Session against a serial-attached scanner, reopening the
// port when it fails.
type Device struct {
	cfg     config.ScannerConfig
	open    Opener
	session *Session
	log     *slog.Logger
}

func NewDevice(cfg config.ScannerConfig, pub Publisher, log *slog.Logger) (*Device, error) {
	if cfg.Device == "" {
		return nil, errors.New("scanner: device required")
	}
	if pub == nil {
		return nil, errors.New("scanner: publisher required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scanner", "device", cfg.Device)
	return &Device{
		cfg:     cfg,
		open:    serial.Open,
		session: NewSession(cfg.Aliases, pub, log),
		log:     log,
	}, nil
}

// Run reads the device until ctx is cancelled.
func (d *Device) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := d.runOnce(ctx); err != nil {
			d.log.Warn("scanner port failed", "error", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(reopenDelay):
		}
	}
}

func (d *Device) runOnce(ctx context.Context) error {
	port, err := d.open(&serial.Config{
		Address:  d.cfg.Device,
		BaudRate: d.cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  readTimeout,
	})
	if err != nil {
		return fmt.Errorf("scanner: open %s: %w", d.cfg.Device, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()
	defer port.Close()

	d.log.Info("scanner port open", "baud", d.cfg.BaudRate)
	if err := d.session.Consume(ctx, port); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scanner: read: %w", err)
	}
	return nil
}
