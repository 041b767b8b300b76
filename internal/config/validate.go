// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strings"
)

// MaxReadPoints bounds one batch read in bit units.
const MaxReadPoints = 960

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	st := &cfg.Station

	// ------------------------------------------------------------
	// PLC LINK
	// ------------------------------------------------------------

	if st.PLC.Endpoint == "" {
		return fmt.Errorf("plc: endpoint is required")
	}
	if _, _, err := net.SplitHostPort(st.PLC.Endpoint); err != nil {
		return fmt.Errorf("plc: endpoint %q: %v", st.PLC.Endpoint, err)
	}
	for name, v := range map[string]int{
		"connect_timeout_ms": st.PLC.ConnectTimeoutMs,
		"io_timeout_ms":      st.PLC.IOTimeoutMs,
		"reconnect_delay_ms": st.PLC.ReconnectDelayMs,
		"write_interval_ms":  st.PLC.WriteIntervalMs,
		"poll_interval_ms":   st.PLC.PollIntervalMs,
		"pulse_hold_ms":      st.PLC.PulseHoldMs,
	} {
		if v < 0 {
			return fmt.Errorf("plc: %s must be >= 0, got %d", name, v)
		}
	}

	// ------------------------------------------------------------
	// POINT MAP
	// ------------------------------------------------------------

	if err := validatePoints(st.Points); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// CAMERAS
	// ------------------------------------------------------------

	seenNames := make(map[string]string)
	for ip, name := range st.Cameras.Mapping {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("cameras: mapping key %q is not an IP address", ip)
		}
		if !strings.HasPrefix(name, "CAMERA") {
			return fmt.Errorf("cameras: name %q for %s must start with CAMERA", name, ip)
		}
		if prev, ok := seenNames[name]; ok {
			return fmt.Errorf("cameras: name %q used by %s and %s", name, prev, ip)
		}
		seenNames[name] = ip
	}
	if st.Cameras.IdleTimeoutMs < 0 {
		return fmt.Errorf("cameras: idle_timeout_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// PUSH CHANNEL
	// ------------------------------------------------------------

	if st.Push.Path != "" && !strings.HasPrefix(st.Push.Path, "/") {
		return fmt.Errorf("push: path %q must start with /", st.Push.Path)
	}
	if st.Push.InboundRate < 0 || st.Push.InboundBurst < 0 {
		return fmt.Errorf("push: inbound_rate and inbound_burst must be >= 0")
	}

	// ------------------------------------------------------------
	// STATE
	// ------------------------------------------------------------

	if st.State.CompactAfter < 0 {
		return fmt.Errorf("state: compact_after must be >= 0")
	}
	if st.State.Journal != "" && strings.ContainsAny(st.State.Journal, `/\`) {
		return fmt.Errorf("state: journal %q must be a file name inside state.dir", st.State.Journal)
	}
	if st.State.Snapshot != "" && strings.ContainsAny(st.State.Snapshot, `/\`) {
		return fmt.Errorf("state: snapshot %q must be a file name inside state.dir", st.State.Snapshot)
	}

	// ------------------------------------------------------------
	// OPTIONAL SECTIONS (opt-in)
	// ------------------------------------------------------------

	if sc := st.Scanner; sc != nil {
		if sc.Device == "" {
			return fmt.Errorf("scanner: device is required when scanner is configured")
		}
		for code, msgs := range sc.Aliases {
			if len(msgs) == 0 {
				return fmt.Errorf("scanner: alias %q has no messages", code)
			}
			for _, m := range msgs {
				if m.Source == "" {
					return fmt.Errorf("scanner: alias %q has a message without source", code)
				}
			}
		}
	}

	if m := st.Mirror; m != nil {
		if m.Endpoint == "" {
			return fmt.Errorf("mirror: endpoint is required when mirror is configured")
		}
		if _, _, err := net.SplitHostPort(m.Endpoint); err != nil {
			return fmt.Errorf("mirror: endpoint %q: %v", m.Endpoint, err)
		}
	}

	if u := st.Uplink; u != nil {
		if u.NATSURL == "" {
			return fmt.Errorf("uplink: nats_url is required when uplink is configured")
		}
		if u.Subject == "" || strings.ContainsAny(u.Subject, " \t*>") {
			return fmt.Errorf("uplink: subject %q must be a literal NATS subject", u.Subject)
		}
	}

	if db := st.ConfigDB; db != nil && db.Path == "" {
		return fmt.Errorf("config_db: path is required when config_db is configured")
	}

	switch strings.ToLower(st.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", st.Log.Level)
	}
	switch strings.ToLower(st.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", st.Log.Format)
	}

	return nil
}

func validatePoints(p Points) error {
	named := []struct {
		name string
		addr int
	}{
		{"up_in", p.UpIn},
		{"up_out", p.UpOut},
		{"dn_in", p.DnIn},
		{"dn_out", p.DnOut},
		{"start", p.Start},
		{"write_trigger", p.WriteTrigger},
		{"write_result", p.WriteResult},
	}

	owner := make(map[int]string)
	for _, n := range named {
		if n.addr < 0 || n.addr > 0xFFFF {
			return fmt.Errorf("points: %s address %d out of range 0-65535", n.name, n.addr)
		}
		if prev, ok := owner[n.addr]; ok {
			return fmt.Errorf("points: address M%d used by %s and %s", n.addr, prev, n.name)
		}
		owner[n.addr] = n.name
	}

	// status span must fit one batch read
	st := p.Status()
	lo, hi := st[0], st[0]
	for _, a := range st[1:] {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	start := (lo / 100) * 100
	if need := hi - start + 20; need > MaxReadPoints {
		return fmt.Errorf(
			"points: status span M%d-M%d needs %d points, exceeds batch limit %d",
			lo, hi, need, MaxReadPoints,
		)
	}

	return nil
}
