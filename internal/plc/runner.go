// internal/plc/runner.go
package plc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/plc/mc"
)

// Run drives the link until ctx is done:
//
//	connect -> safety writes first -> (write one | read + publish) -> sleep -> ...
//
// Any transport error or timeout closes the socket and reconnects after
// ReconnectDelay. Pending writes survive reconnects.
func (c *Client) Run(ctx context.Context) {
	defer c.setState(Disconnected, nil)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(Connecting, nil)
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("connect failed", "err", err, "retry_in", c.cfg.ReconnectDelay)
			c.setState(Disconnected, err)
			c.cfg.Metrics.PLCReconnect()
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		c.log.Info("connected")
		c.setState(Connected, nil)
		c.prependSafety()

		err = c.serve(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.log.Warn("link lost", "err", err, "retry_in", c.cfg.ReconnectDelay)
		c.setState(Disconnected, err)
		c.cfg.Metrics.PLCReconnect()
		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			return
		}
	}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dctx, "tcp", c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("plc: connect %s: %w", c.cfg.Endpoint, err)
	}
	return conn, nil
}

// serve runs cycles on one connection. Returns the transport error that ended it.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// ------------------------------------------------------------
		// WRITE CYCLE: queue drained before any read
		// ------------------------------------------------------------
		if cmd, ok := c.popWrite(); ok {
			if err := c.writeOne(conn, cmd); err != nil {
				c.invalidate(cmd)
				if !c.protocolError("write", err, "addr", cmd.Address) {
					return err
				}
			} else {
				c.cfg.Metrics.PLCWrite()
				c.log.Debug("write ack", "addr", cmd.Address, "value", cmd.Value)
			}
			if !sleepCtx(ctx, c.cfg.WriteInterval) {
				return ctx.Err()
			}
			continue
		}

		// ------------------------------------------------------------
		// READ CYCLE
		// ------------------------------------------------------------
		raw, err := c.readOnce(conn)
		if err != nil {
			if !c.protocolError("read", err) {
				return err
			}
		} else {
			c.cfg.Metrics.PLCRead()
			c.pub.Push(bus.Message{
				Source:  bus.SourcePLC,
				Type:    bus.TypeStatus,
				Payload: StatusFrame{Raw: raw, StartAddr: c.startAddr},
			})
		}

		if !c.idle(ctx, c.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// protocolError logs and absorbs a PLC end code. It reports false for
// transport errors, which must end the connection.
func (c *Client) protocolError(op string, err error, attrs ...any) bool {
	var ec *mc.EndCodeError
	if !errors.As(err, &ec) {
		return false
	}
	c.cfg.Metrics.PLCProtocolError()
	if c.cfg.Observer != nil {
		c.cfg.Observer.LinkError(ec.Code)
	}
	c.log.Warn("plc rejected "+op, append([]any{"end_code", fmt.Sprintf("0x%04X", ec.Code)}, attrs...)...)
	return true
}

func (c *Client) writeOne(conn net.Conn, cmd WriteCommand) error {
	if err := conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return fmt.Errorf("plc: write M%d: %w", cmd.Address, err)
	}
	if _, err := conn.Write(mc.BuildWrite(cmd.Address, cmd.Value)); err != nil {
		return fmt.Errorf("plc: write M%d: %w", cmd.Address, err)
	}
	if _, err := mc.ReadResponse(conn); err != nil {
		return fmt.Errorf("plc: write M%d ack: %w", cmd.Address, err)
	}
	return nil
}

func (c *Client) readOnce(conn net.Conn) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("plc: read: %w", err)
	}
	if _, err := conn.Write(mc.BuildRead(c.startAddr, c.readCount)); err != nil {
		return nil, fmt.Errorf("plc: read request: %w", err)
	}
	raw, err := mc.ReadBits(conn, c.readCount)
	if err != nil {
		return nil, fmt.Errorf("plc: read response: %w", err)
	}
	return raw, nil
}

// idle sleeps d, returning early when a write is enqueued.
func (c *Client) idle(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-c.wake:
		return true
	}
}

func (c *Client) setState(s ConnState, err error) {
	prev := ConnState(c.state.Swap(int32(s)))
	c.cfg.Metrics.PLCState(int(s))

	if c.cfg.Observer == nil || prev == s {
		return
	}
	switch s {
	case Connected:
		c.cfg.Observer.LinkUp()
	case Disconnected:
		if err != nil {
			c.cfg.Observer.LinkDown(err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
