// internal/controller/controller.go
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/metrics"
	"github.com/tamzrod/station-bridge/internal/plc"
	"github.com/tamzrod/station-bridge/internal/push"
	"github.com/tamzrod/station-bridge/internal/status"
)

// Console commands carried in WS/CMD payloads.
const (
	CmdGoNoGo             = "GO_NOGO"
	CmdStepUpdate         = "STEP_UPDATE"
	CmdAppendOfflineCache = "APPEND_OFFLINE_CACHE"
	CmdClearOfflineCache  = "CLEAR_OFFLINE_CACHE"
	CmdLoadOfflineCache   = "LOAD_OFFLINE_CACHE"
	CmdLoadState          = "LOAD_STATE"
	CmdStatePatch         = "STATE_PATCH"

	CmdOfflineCacheLoaded = "OFFLINE_CACHE_LOADED"
)

// SourcePLCMonitor tags change-gated PLC status envelopes.
const SourcePLCMonitor = "PLC_MONITOR"

const livenessInterval = 5 * time.Second

// PLC is the part of the protocol client the controller drives.
type PLC interface {
	WritePulsePair(a1 int, v1 bool, a2 int, v2 bool)
	SafetyReset()
}

// Store is the part of the state store the controller drives.
type Store interface {
	ApplyPatch(raw json.RawMessage) error
	UpdatePLCMemory(plc map[string]any)
	Snapshot() map[string]any
}

// PointsSink receives every decoded status tuple (status mirror).
type PointsSink interface {
	SetPoints(p status.Points)
}

type Config struct {
	Bus         *bus.Bus
	Store       Store
	PLC         PLC
	Points      config.Points
	Offline     *OfflineCache
	Broadcaster Broadcaster
	Mirror      PointsSink // optional

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Controller is the single consumer of the bus. It routes every message to at
// most one action.
type Controller struct {
	bus     *bus.Bus
	store   Store
	plc     PLC
	points  config.Points
	offline *OfflineCache
	out     Broadcaster
	mirror  PointsSink

	m   *metrics.Metrics
	log *slog.Logger
	now func() time.Time

	// owned by the Run goroutine
	last     *status.Points
	lastLive time.Time
}

func New(cfg Config) (*Controller, error) {
	if cfg.Bus == nil {
		return nil, errors.New("controller: bus required")
	}
	if cfg.Store == nil {
		return nil, errors.New("controller: store required")
	}
	if cfg.PLC == nil {
		return nil, errors.New("controller: plc client required")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("controller: broadcaster required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		bus:     cfg.Bus,
		store:   cfg.Store,
		plc:     cfg.PLC,
		points:  cfg.Points,
		offline: cfg.Offline,
		out:     cfg.Broadcaster,
		mirror:  cfg.Mirror,
		m:       cfg.Metrics,
		log:     log.With("component", "controller"),
		now:     time.Now,
	}, nil
}

// Run consumes the bus until it is stopped and drained.
func (c *Controller) Run() {
	c.log.Info("controller started")
	for {
		msg, ok := c.bus.Pop()
		if !ok {
			c.log.Info("controller stopped")
			return
		}
		c.m.BusDepth(c.bus.Len())
		c.dispatch(msg)
	}
}

// dispatch isolates one message: a panic in a handler is logged, never fatal.
func (c *Controller) dispatch(msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic", "source", msg.Source, "type", msg.Type, "panic", fmt.Sprint(r))
		}
	}()
	c.Handle(msg)
}

// ------------------------------------------------------------
// ROUTING
// ------------------------------------------------------------

// Handle applies the routing table to one message.
func (c *Controller) Handle(msg bus.Message) {
	switch {
	case msg.Source == bus.SourcePLC && msg.Type == bus.TypeStatus:
		c.handlePLCStatus(msg)

	case msg.Source == bus.SourceWS && msg.Type == bus.TypeCmd:
		c.handleCommand(msg)

	case msg.Source == bus.SourceWS && msg.Type == bus.TypeDisconnected:
		c.handleDisconnect(msg)

	case msg.Source == bus.SourceSys && msg.Type == bus.TypeHeartbeat:
		// suppressed

	case shouldBroadcast(msg):
		c.forward(msg)
	}
}

// shouldBroadcast is the forwarding predicate for anything not routed above.
func shouldBroadcast(msg bus.Message) bool {
	if msg.Source == bus.SourceSys && msg.Type == bus.TypeHeartbeat {
		return false
	}
	switch msg.Source {
	case bus.SourceSys, bus.SourceWS, bus.SourceScanner:
		return true
	}
	return msg.IsCamera()
}

func (c *Controller) forward(msg bus.Message) {
	if msg.Type == bus.TypeStateSync {
		c.emit(controlEnvelope(bus.TypeStateSync, msg.Payload))
		return
	}
	c.emit(dataEnvelope(msg.Source, msg.Payload))
}

func (c *Controller) emit(env Envelope) {
	frame, err := env.encode()
	if err != nil {
		c.log.Warn("envelope encode failed", "type", env.Type, "source", env.Source, "error", err)
		return
	}
	c.m.Broadcast(env.Type)
	c.out.Broadcast(frame)
}

// ------------------------------------------------------------
// PLC STATUS
// ------------------------------------------------------------

func (c *Controller) handlePLCStatus(msg bus.Message) {
	var frame plc.StatusFrame
	switch p := msg.Payload.(type) {
	case plc.StatusFrame:
		frame = p
	case *plc.StatusFrame:
		if p == nil {
			c.log.Warn("plc status without payload")
			return
		}
		frame = *p
	default:
		c.log.Warn("malformed plc status payload", "payload_type", fmt.Sprintf("%T", msg.Payload))
		return
	}

	pts := plc.DecodePoints(frame.Raw, frame.StartAddr, c.points)
	payload := pts.Payload()

	c.store.UpdatePLCMemory(payload)
	if c.mirror != nil {
		c.mirror.SetPoints(pts)
	}

	now := c.now()
	if now.Sub(c.lastLive) >= livenessInterval {
		c.lastLive = now
		c.log.Info("plc monitor alive", "points", payload)
	}

	if c.last != nil && *c.last == pts {
		return
	}
	c.last = &pts
	c.log.Info("plc status changed",
		"up_in", payload["up_in"],
		"up_out", payload["up_out"],
		"dn_in", payload["dn_in"],
		"dn_out", payload["dn_out"],
		"start_message", payload["start_message"],
	)
	c.emit(dataEnvelope(SourcePLCMonitor, payload))
}

// ------------------------------------------------------------
// CONSOLE
// ------------------------------------------------------------

func (c *Controller) handleDisconnect(msg bus.Message) {
	attrs := []any{}
	if d, ok := msg.Payload.(push.Disconnect); ok {
		attrs = append(attrs, "client_id", d.ClientID, "remaining", d.Remaining)
	}
	c.log.Info("console disconnected, resetting handshake bits", attrs...)
	c.plc.SafetyReset()
}

func (c *Controller) handleCommand(msg bus.Message) {
	var cmd push.Command
	switch p := msg.Payload.(type) {
	case push.Command:
		cmd = p
	case json.RawMessage:
		if err := json.Unmarshal(p, &cmd); err != nil {
			c.log.Warn("malformed command", "error", err)
			return
		}
	default:
		c.log.Warn("malformed command payload", "payload_type", fmt.Sprintf("%T", msg.Payload))
		return
	}

	log := c.log.With("command", cmd.Command)

	switch cmd.Command {
	case CmdGoNoGo:
		var v float64
		if err := json.Unmarshal(cmd.Payload, &v); err != nil {
			log.Warn("malformed payload", "error", err)
			return
		}
		ok := v == 1
		log.Info("go/no-go", "result", ok)
		c.plc.WritePulsePair(c.points.WriteTrigger, ok, c.points.WriteResult, true)

	case CmdStepUpdate:
		var step string
		if err := json.Unmarshal(cmd.Payload, &step); err != nil {
			log.Warn("malformed payload", "error", err)
			return
		}
		log.Info("step update", "step", step)

	case CmdAppendOfflineCache:
		if c.offline == nil {
			log.Warn("offline cache not configured")
			return
		}
		if !isObject(cmd.Payload) {
			log.Warn("malformed payload", "error", "expected a JSON object")
			return
		}
		if err := c.offline.Append(cmd.Payload); err != nil {
			log.Warn("offline cache append failed", "error", err)
		}

	case CmdClearOfflineCache:
		if c.offline == nil {
			log.Warn("offline cache not configured")
			return
		}
		if err := c.offline.Clear(); err != nil {
			log.Warn("offline cache clear failed", "error", err)
			return
		}
		log.Info("offline cache cleared")

	case CmdLoadOfflineCache:
		c.loadOfflineCache(log)

	case CmdLoadState:
		if err := c.bus.PushErr(bus.Message{
			Source:  bus.SourceSys,
			Type:    bus.TypeStateSync,
			Payload: c.store.Snapshot(),
		}); err != nil {
			log.Warn("state sync dropped", "error", err)
		}

	case CmdStatePatch:
		c.applyPatches(log, cmd.Payload)

	default:
		log.Warn("unknown command")
	}
}

func (c *Controller) loadOfflineCache(log *slog.Logger) {
	if c.offline == nil {
		log.Warn("offline cache not configured")
		return
	}
	records, skipped, err := c.offline.Load()
	if skipped > 0 {
		log.Warn("offline cache lines skipped", "count", skipped)
	}
	if err != nil {
		log.Warn("offline cache load failed", "error", err)
	}
	if len(records) == 0 {
		return
	}
	log.Info("offline cache loaded", "records", len(records))
	c.emit(controlEnvelope(CmdOfflineCacheLoaded, records))
}

type patchBatch struct {
	Events []json.RawMessage `json:"events"`
}

func (c *Controller) applyPatches(log *slog.Logger, raw json.RawMessage) {
	var batch patchBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		log.Warn("malformed payload", "error", err)
		return
	}
	applied := 0
	for i, ev := range batch.Events {
		if err := c.store.ApplyPatch(ev); err != nil {
			log.Warn("patch rejected", "index", i, "error", err)
			continue
		}
		applied++
	}
	log.Debug("patches applied", "applied", applied, "total", len(batch.Events))
}

func isObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "{") && json.Valid(raw)
}
