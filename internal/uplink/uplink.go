// internal/uplink/uplink.go
package uplink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

const clientName = "station-bridge"

// publisher is the part of *nats.Conn the uplink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Uplink republishes console envelopes on a NATS subject.
// Publish is buffered by the client while reconnecting, so Broadcast never
// blocks the caller.
type Uplink struct {
	pub     publisher
	closeFn func()
	subject string

	failing atomic.Bool
	m       *metrics.Metrics
	log     *slog.Logger
}

// Connect dials NATS. Connection failures at startup are retried in the
// background.
func Connect(cfg config.UplinkConfig, m *metrics.Metrics, log *slog.Logger) (*Uplink, error) {
	if cfg.NATSURL == "" || cfg.Subject == "" {
		return nil, errors.New("uplink: nats_url and subject required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "uplink", "subject", cfg.Subject)

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(clientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("uplink: connect %s: %w", cfg.NATSURL, err)
	}
	log.Info("uplink ready", "url", cfg.NATSURL)
	return newUplink(nc, nc.Close, cfg.Subject, m, log), nil
}

func newUplink(pub publisher, closeFn func(), subject string, m *metrics.Metrics, log *slog.Logger) *Uplink {
	if log == nil {
		log = slog.Default()
	}
	return &Uplink{pub: pub, closeFn: closeFn, subject: subject, m: m, log: log}
}

// Broadcast publishes frame. Failures are counted and logged once per outage.
func (u *Uplink) Broadcast(frame []byte) {
	if err := u.pub.Publish(u.subject, frame); err != nil {
		u.m.UplinkError()
		if !u.failing.Swap(true) {
			u.log.Warn("uplink publish failed", "error", err)
		}
		return
	}
	if u.failing.Swap(false) {
		u.log.Info("uplink publish recovered")
	}
}

func (u *Uplink) Close() {
	if u.closeFn != nil {
		u.closeFn()
	}
}
