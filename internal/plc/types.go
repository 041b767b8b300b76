// internal/plc/types.go
package plc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

// ErrNotConnected is returned by I/O helpers when no socket is open.
var ErrNotConnected = errors.New("plc: not connected")

// ConnState is the link state owned by Client.Run.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StatusFrame is the payload of every PLC/STATUS message.
// Raw holds ceil(count/2) bytes, two M-relays per byte.
type StatusFrame struct {
	Raw       []byte `json:"raw"`
	StartAddr int    `json:"start_addr"`
}

// WriteCommand is one pending single-point write.
type WriteCommand struct {
	Address int
	Value   bool
}

// Publisher receives decoded-but-raw status frames.
// *bus.Bus satisfies it.
type Publisher interface {
	Push(msg bus.Message)
}

// Dialer opens the PLC socket. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// LinkObserver is told about link health changes.
// *status.Tracker satisfies it.
type LinkObserver interface {
	LinkUp()
	LinkDown(err error)
	LinkError(code uint16)
}

// Config is the runtime config of one PLC link.
type Config struct {
	Endpoint string

	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	ReconnectDelay time.Duration
	WriteInterval  time.Duration
	PollInterval   time.Duration
	PulseHold      time.Duration

	// Optional collaborators.
	Dialer   Dialer
	Observer LinkObserver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 2 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.WriteInterval <= 0 {
		c.WriteInterval = 50 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.PulseHold <= 0 {
		c.PulseHold = 2 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
