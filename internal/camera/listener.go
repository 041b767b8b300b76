// internal/camera/listener.go
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tamzrod/station-bridge/internal/bus"
)

const (
	readBufSize   = 1024
	unknownPrefix = bus.CameraPrefix + "_UNKNOWN_"
	monitorSuffix = "_MONITOR"

	// TimeoutBlank is the payload of idle notifications.
	TimeoutBlank = "TIMEOUT_BLANK"
)

type Publisher interface {
	Push(msg bus.Message)
}

type Config struct {
	Listen      string
	IdleTimeout time.Duration
	Mapping     map[string]string // remote ip -> source name
	Logger      *slog.Logger
}

// Listener accepts camera connections. Every read chunk is one decoded
// barcode.
type Listener struct {
	cfg Config
	pub Publisher
	log *slog.Logger

	wg sync.WaitGroup
}

func New(cfg Config, pub Publisher) (*Listener, error) {
	if pub == nil {
		return nil, errors.New("camera: publisher required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Listener{cfg: cfg, pub: pub, log: cfg.Logger.With("component", "camera")}, nil
}

// Run listens on cfg.Listen until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Listen)
	if err != nil {
		return fmt.Errorf("camera: listen %s: %w", l.cfg.Listen, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then waits for every session.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.log.Info("camera listener started", "listen", ln.Addr().String(), "cameras", len(l.cfg.Mapping))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("camera: accept: %w", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.session(ctx, conn)
		}()
	}
}

// SourceFor maps a camera ip to its bus source name.
func (l *Listener) SourceFor(ip string) string {
	if name, ok := l.cfg.Mapping[ip]; ok {
		return name
	}
	return unknownPrefix + ip
}

func (l *Listener) session(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	ip := remoteIP(conn)
	source := l.SourceFor(ip)
	log := l.log.With("source", source, "remote", conn.RemoteAddr().String())
	if !strings.HasPrefix(source, unknownPrefix) {
		log.Info("camera connected")
	} else {
		log.Warn("unknown camera ip, check cameras.mapping", "ip", ip)
	}

	buf := make([]byte, readBufSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		n, err := conn.Read(buf)

		if n > 0 {
			if code := Clean(buf[:n]); code != "" {
				log.Info("barcode received", "code", code)
				l.pub.Push(bus.Message{Source: source, Type: bus.TypeData, Payload: code})
			}
		}

		var ne net.Error
		switch {
		case err == nil:
		case errors.As(err, &ne) && ne.Timeout() && ctx.Err() == nil:
			l.pub.Push(bus.Message{Source: source + monitorSuffix, Type: bus.TypeTimeout, Payload: TimeoutBlank})
		default:
			log.Info("camera disconnected", "error", err)
			return
		}
	}
}

// Clean strips every CR and LF from one read chunk.
func Clean(chunk []byte) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(string(chunk))
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
