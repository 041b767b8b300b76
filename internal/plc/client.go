// internal/plc/client.go
package plc

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/plc/mc"
	"github.com/tamzrod/station-bridge/internal/status"
)

// Client owns one PLC link: the socket loop (Run), the outbound write queue,
// the sent-state cache and the pulse-pair reset timer.
//
// WriteBit, WritePulsePair and SafetyReset are safe from any goroutine.
// They never touch the socket.
type Client struct {
	cfg    Config
	points config.Points
	pub    Publisher
	log    *slog.Logger

	startAddr int
	readCount int

	state atomic.Int32
	wake  chan struct{}

	mu    sync.Mutex
	queue []WriteCommand
	sent  map[int]bool // last value queued per address; suppression only

	pulseGen   uint64
	pulseTimer *time.Timer
}

// New creates a client. The read range is derived once from points.
func New(cfg Config, points config.Points, pub Publisher) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("plc: endpoint required")
	}
	if pub == nil {
		return nil, errors.New("plc: publisher required")
	}
	cfg.setDefaults()

	c := &Client{
		cfg:    cfg,
		points: points,
		pub:    pub,
		log:    cfg.Logger.With("component", "plc", "endpoint", cfg.Endpoint),
		wake:   make(chan struct{}, 1),
		sent:   make(map[int]bool),
	}
	c.startAddr, c.readCount = DeriveRange(points)
	c.log.Info("auto-range", "start", c.startAddr, "count", c.readCount)
	return c, nil
}

// ---- geometry ----

// DeriveRange computes the batch-read window covering the five status points.
// start is the lowest address floored to a multiple of 100; count is at least 100
// and leaves 20 points of margin past the highest address.
func DeriveRange(p config.Points) (startAddr, readCount int) {
	st := p.Status()
	lo, hi := st[0], st[0]
	for _, a := range st[1:] {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	startAddr = (lo / 100) * 100
	readCount = max(100, hi-startAddr+20)
	return startAddr, readCount
}

// Range returns the derived read window.
func (c *Client) Range() (startAddr, readCount int) {
	return c.startAddr, c.readCount
}

// Decode returns the state of M<addr> in a read block starting at base.
func Decode(raw []byte, base, addr int) bool {
	return mc.Bit(raw, base, addr)
}

// DecodePoints extracts the five status points.
func DecodePoints(raw []byte, base int, p config.Points) status.Points {
	return status.Points{
		UpIn:         Decode(raw, base, p.UpIn),
		UpOut:        Decode(raw, base, p.UpOut),
		DnIn:         Decode(raw, base, p.DnIn),
		DnOut:        Decode(raw, base, p.DnOut),
		StartMessage: Decode(raw, base, p.Start),
	}
}

// State returns the current link state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// ---- write API ----

// WriteBit enqueues a write of M<addr> unless the last queued value already matches.
func (c *Client) WriteBit(addr int, value bool) {
	c.mu.Lock()
	queued := c.enqueueLocked(addr, value, false)
	c.mu.Unlock()

	if queued {
		c.signal()
	} else {
		c.cfg.Metrics.PLCCoalesced()
	}
}

// WritePulsePair writes (a1,v1) and (a2,v2) now and schedules both addresses
// back to false after the pulse hold. A later call, or SafetyReset, cancels a
// pending reset before it fires.
func (c *Client) WritePulsePair(a1 int, v1 bool, a2 int, v2 bool) {
	c.mu.Lock()
	c.cancelPulseLocked()
	q1 := c.enqueueLocked(a1, v1, false)
	q2 := c.enqueueLocked(a2, v2, false)

	gen := c.pulseGen
	c.pulseTimer = time.AfterFunc(c.cfg.PulseHold, func() {
		c.firePulseReset(gen, a1, a2)
	})
	c.mu.Unlock()

	if !q1 {
		c.cfg.Metrics.PLCCoalesced()
	}
	if !q2 {
		c.cfg.Metrics.PLCCoalesced()
	}
	c.signal()
}

// SafetyReset cancels any pending pulse reset and forces trigger/result low.
func (c *Client) SafetyReset() {
	c.mu.Lock()
	c.cancelPulseLocked()
	c.enqueueLocked(c.points.WriteTrigger, false, true)
	c.enqueueLocked(c.points.WriteResult, false, true)
	c.mu.Unlock()

	c.log.Info("safety reset", "trigger", c.points.WriteTrigger, "result", c.points.WriteResult)
	c.signal()
}

func (c *Client) firePulseReset(gen uint64, a1, a2 int) {
	c.mu.Lock()
	if gen != c.pulseGen {
		// superseded after the timer already fired
		c.mu.Unlock()
		return
	}
	c.pulseTimer = nil
	c.enqueueLocked(a1, false, true)
	c.enqueueLocked(a2, false, true)
	c.mu.Unlock()

	c.log.Debug("pulse reset", "a1", a1, "a2", a2)
	c.signal()
}

// ---- queue internals (c.mu held) ----

func (c *Client) enqueueLocked(addr int, value, force bool) bool {
	if !force {
		if last, ok := c.sent[addr]; ok && last == value {
			return false
		}
	}
	c.sent[addr] = value
	c.queue = append(c.queue, WriteCommand{Address: addr, Value: value})
	return true
}

func (c *Client) cancelPulseLocked() {
	c.pulseGen++
	if c.pulseTimer != nil {
		c.pulseTimer.Stop()
		c.pulseTimer = nil
	}
}

// ---- queue internals used by Run ----

// popWrite removes the head of the queue.
func (c *Client) popWrite() (WriteCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return WriteCommand{}, false
	}
	cmd := c.queue[0]
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return cmd, true
}

// prependSafety puts trigger=false, result=false at the front of the queue.
// Cache entries for both addresses follow the last queued value.
func (c *Client) prependSafety() {
	trig, res := c.points.WriteTrigger, c.points.WriteResult

	c.mu.Lock()
	defer c.mu.Unlock()

	q := make([]WriteCommand, 0, len(c.queue)+2)
	q = append(q, WriteCommand{Address: trig}, WriteCommand{Address: res})
	q = append(q, c.queue...)
	c.queue = q

	c.sent[trig] = c.lastQueuedLocked(trig)
	c.sent[res] = c.lastQueuedLocked(res)
}

func (c *Client) lastQueuedLocked(addr int) bool {
	for i := len(c.queue) - 1; i >= 0; i-- {
		if c.queue[i].Address == addr {
			return c.queue[i].Value
		}
	}
	return false
}

// invalidate forgets the cached value of a failed write unless a later
// queued command for the same address will overwrite it.
func (c *Client) invalidate(cmd WriteCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queue {
		if q.Address == cmd.Address {
			return
		}
	}
	delete(c.sent, cmd.Address)
}

// QueueLen returns the number of pending writes.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
