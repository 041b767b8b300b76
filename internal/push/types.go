// internal/push/types.go
package push

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

// Command is an inbound console frame, pushed as WS/CMD.
type Command struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Disconnect is the WS/DISCONNECTED payload.
type Disconnect struct {
	ClientID  string `json:"client_id"`
	Remaining int    `json:"remaining"`
}

// Publisher is where inbound commands and heartbeats go.
type Publisher interface {
	Push(msg bus.Message)
}

const (
	commandHeartbeat    = "HEARTBEAT"
	commandHeartbeatAck = "HEARTBEAT_ACK"

	welcomeMessage = "Connected to station bridge"
)

type Config struct {
	Listen            string
	Path              string
	HeartbeatInterval time.Duration
	InboundRate       float64 // frames/sec per client
	InboundBurst      int
	SendBuffer        int // per-client outbound frames

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.InboundRate <= 0 {
		c.InboundRate = 50
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// envelopes written by the hub itself

type infoFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ackPayload struct {
	ServerTS int64           `json:"server_ts"`
	ClientTS json.RawMessage `json:"client_ts"`
}

type ackFrame struct {
	Type    string     `json:"type"`
	Command string     `json:"command"`
	Payload ackPayload `json:"payload"`
}
