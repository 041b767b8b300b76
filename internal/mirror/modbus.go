// internal/mirror/modbus.go
package mirror

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// endpointClient is what the status writer needs from the Modbus side.
type endpointClient interface {
	WriteCoils(unitID uint8, addr uint16, bits []bool) error
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// EndpointClient pushes the status block to the station HMI over Modbus TCP.
//
// Nothing is dialed until the first flush. A failed request drops the
// connection, so the next 1 Hz flush redials instead of writing into a
// socket the HMI has already abandoned.
type EndpointClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func NewEndpointClient(endpoint string, timeout time.Duration) (*EndpointClient, error) {
	if endpoint == "" {
		return nil, errors.New("mirror: endpoint required")
	}
	h := modbus.NewTCPClientHandler(endpoint)
	if timeout > 0 {
		h.Timeout = timeout
	}
	return &EndpointClient{handler: h, client: modbus.NewClient(h)}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteCoils mirrors the point bits (FC15).
func (c *EndpointClient) WriteCoils(unitID uint8, addr uint16, bits []bool) error {
	return c.send(unitID, func() error {
		_, err := c.client.WriteMultipleCoils(addr, uint16(len(bits)), packBits(bits))
		return err
	})
}

// WriteRegisters mirrors status slots (FC16).
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	return c.send(unitID, func() error {
		_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
		return err
	})
}

func (c *EndpointClient) send(unitID uint8, req func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID
	err := req()
	if err != nil {
		_ = c.handler.Close()
	}
	return err
}

// packBits: coil n is bit n%8 of byte n/8.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, on := range bits {
		if on {
			out[i>>3] |= 1 << (i & 7)
		}
	}
	return out
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out
}
