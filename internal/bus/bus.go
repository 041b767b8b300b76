// internal/bus/bus.go
package bus

import (
	"errors"
	"strings"
	"sync"
)

// ErrStopped is returned by PushErr after Stop.
var ErrStopped = errors.New("bus: stopped")

// ---- SOURCES ----

const (
	SourcePLC     = "PLC"
	SourceWS      = "WS"
	SourceScanner = "SCANNER"
	SourceSys     = "SYS"

	// CameraPrefix prefixes every camera-derived source (CAMERA_UP, CAMERA_UNKNOWN_10.0.0.9, ...).
	CameraPrefix = "CAMERA"
)

// ---- TYPES ----

const (
	TypeStatus       = "STATUS"
	TypeCmd          = "CMD"
	TypeData         = "DATA"
	TypeHeartbeat    = "HEARTBEAT"
	TypeStateSync    = "STATE_SYNC"
	TypeDisconnected = "DISCONNECTED"
	TypeTimeout      = "TIMEOUT"
)

// Message is one event travelling from a producer to the controller.
// Payload must not be mutated after Push.
type Message struct {
	Source  string
	Type    string
	Payload any
}

// IsCamera reports whether the message originates from a camera connection.
func (m Message) IsCamera() bool {
	return strings.HasPrefix(m.Source, CameraPrefix)
}

// Bus is an unbounded multi-producer, single-consumer FIFO.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Message
	stopped bool
}

func New() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push enqueues msg. It never blocks. Messages pushed after Stop are dropped.
func (b *Bus) Push(msg Message) {
	_ = b.PushErr(msg)
}

// PushErr is Push that reports a drop after Stop.
func (b *Bus) PushErr(msg Message) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	b.cond.Signal()
	return nil
}

// Pop blocks until a message is available or the bus is stopped.
// After Stop, remaining messages are still returned; ok is false once drained.
func (b *Bus) Pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) == 0 && !b.stopped {
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return Message{}, false
	}

	msg := b.queue[0]
	b.queue[0] = Message{}
	b.queue = b.queue[1:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return msg, true
}

// Stop wakes every blocked consumer. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
