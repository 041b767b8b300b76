// internal/push/hub.go
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

// Hub is the console push channel.
//
// The loop goroutine exclusively owns the client set; everything else talks
// to it through channels.
type Hub struct {
	cfg      Config
	pub      Publisher
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	m   *metrics.Metrics
	log *slog.Logger
	now func() time.Time
}

func New(cfg Config, pub Publisher) (*Hub, error) {
	if pub == nil {
		return nil, errors.New("push: publisher required")
	}
	cfg.setDefaults()

	return &Hub{
		cfg: cfg,
		pub: pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// consoles are served from other origins on the station LAN
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		m:          cfg.Metrics,
		log:        cfg.Logger.With("component", "push"),
		now:        time.Now,
	}, nil
}

// Run serves the push channel until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Listen)
	if err != nil {
		return fmt.Errorf("push: listen %s: %w", h.cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(h.cfg.Path, h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go h.loop(ctx)
	go h.heartbeat(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	h.log.Info("push channel listening", "listen", ln.Addr().String(), "path", h.cfg.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("push: serve: %w", err)
	}
}

// Broadcast hands frame to the hub without blocking. A full hand-off buffer
// drops the frame.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		h.m.PushDropped("hub_full")
		h.log.Warn("broadcast dropped, hub busy")
	}
}

// ------------------------------------------------------------
// HUB LOOP
// ------------------------------------------------------------

func (h *Hub) loop(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*client]struct{})

	drop := func(c *client, reason string) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		c.close()
		h.m.PushClients(len(clients))
		h.log.Info("console disconnected", "client_id", c.id, "reason", reason, "remaining", len(clients))
		h.pub.Push(bus.Message{
			Source:  bus.SourceWS,
			Type:    bus.TypeDisconnected,
			Payload: Disconnect{ClientID: c.id, Remaining: len(clients)},
		})
	}

	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				c.close()
			}
			h.m.PushClients(0)
			return

		case c := <-h.register:
			clients[c] = struct{}{}
			h.m.PushClients(len(clients))
			h.log.Info("console connected", "client_id", c.id, "clients", len(clients))

		case c := <-h.unregister:
			drop(c, "closed")

		case frame := <-h.broadcast:
			for c := range clients {
				if !c.enqueue(frame) {
					h.m.PushDropped("slow_client")
					drop(c, "slow")
				}
			}
		}
	}
}

func (h *Hub) heartbeat(ctx context.Context) {
	t := time.NewTicker(h.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.pub.Push(bus.Message{
				Source:  bus.SourceSys,
				Type:    bus.TypeHeartbeat,
				Payload: map[string]any{"ts": h.now().Unix()},
			})
		}
	}
}

// ------------------------------------------------------------
// CONNECTIONS
// ------------------------------------------------------------

// ServeHTTP upgrades one console connection and runs its read pump.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn, h.cfg.SendBuffer, rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)

	welcome, _ := json.Marshal(infoFrame{Type: "info", Message: welcomeMessage})
	c.enqueue(welcome)

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := h.log.With("client_id", c.id)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("console read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			h.m.PushDropped("rate_limited")
			log.Debug("inbound frame throttled")
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
			h.m.PushDropped("malformed")
			log.Warn("malformed console frame", "error", err)
			continue
		}

		if cmd.Command == commandHeartbeat {
			h.ack(c, cmd.Payload)
			continue
		}
		h.pub.Push(bus.Message{Source: bus.SourceWS, Type: bus.TypeCmd, Payload: cmd})
	}
}

// ack answers a console heartbeat directly, bypassing the bus.
func (h *Hub) ack(c *client, payload json.RawMessage) {
	var hb struct {
		TS json.RawMessage `json:"ts"`
	}
	_ = json.Unmarshal(payload, &hb)
	clientTS := bytes.TrimSpace(hb.TS)
	if len(clientTS) == 0 {
		clientTS = json.RawMessage("0")
	}

	frame, err := json.Marshal(ackFrame{
		Type:    "control",
		Command: commandHeartbeatAck,
		Payload: ackPayload{ServerTS: h.now().UnixMilli(), ClientTS: clientTS},
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}
