// internal/config/normalize.go
package config

import "path/filepath"

// Defaults applied by Normalize for fields left at zero.
const (
	DefaultConnectTimeoutMs = 3000
	DefaultIOTimeoutMs      = 2000
	DefaultReconnectDelayMs = 3000
	DefaultWriteIntervalMs  = 50
	DefaultPollIntervalMs   = 200
	DefaultPulseHoldMs      = 2000

	DefaultCameraListen        = ":6060"
	DefaultCameraIdleTimeoutMs = 1000

	DefaultPushListen          = ":8181"
	DefaultPushPath            = "/"
	DefaultHeartbeatIntervalMs = 2000
	DefaultInboundRate         = 50
	DefaultInboundBurst        = 20

	DefaultStateDir      = "state"
	DefaultJournal       = "scan-ui.events.jsonl"
	DefaultSnapshot      = "scan-ui.snapshot.msgpack"
	DefaultOfflineCache  = "offline-cache.jsonl"
	DefaultScannerBaud   = 9600
	DefaultMirrorTimeout = 1000
	DefaultMirrorName    = "STATION"
	DefaultMetricsPath   = "/metrics"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	st := &cfg.Station

	// ------------------------------------------------------------
	// PLC TIMING
	// ------------------------------------------------------------

	defaultInt(&st.PLC.ConnectTimeoutMs, DefaultConnectTimeoutMs)
	defaultInt(&st.PLC.IOTimeoutMs, DefaultIOTimeoutMs)
	defaultInt(&st.PLC.ReconnectDelayMs, DefaultReconnectDelayMs)
	defaultInt(&st.PLC.WriteIntervalMs, DefaultWriteIntervalMs)
	defaultInt(&st.PLC.PollIntervalMs, DefaultPollIntervalMs)
	defaultInt(&st.PLC.PulseHoldMs, DefaultPulseHoldMs)

	// ------------------------------------------------------------
	// PRODUCERS / CONSUMERS
	// ------------------------------------------------------------

	if st.Cameras.Listen == "" {
		st.Cameras.Listen = DefaultCameraListen
	}
	defaultInt(&st.Cameras.IdleTimeoutMs, DefaultCameraIdleTimeoutMs)
	if st.Cameras.Mapping == nil {
		st.Cameras.Mapping = map[string]string{}
	}

	if st.Push.Listen == "" {
		st.Push.Listen = DefaultPushListen
	}
	if st.Push.Path == "" {
		st.Push.Path = DefaultPushPath
	}
	defaultInt(&st.Push.HeartbeatIntervalMs, DefaultHeartbeatIntervalMs)
	if st.Push.InboundRate == 0 {
		st.Push.InboundRate = DefaultInboundRate
	}
	defaultInt(&st.Push.InboundBurst, DefaultInboundBurst)

	// ------------------------------------------------------------
	// PERSISTENCE
	// ------------------------------------------------------------

	if st.State.Dir == "" {
		st.State.Dir = DefaultStateDir
	}
	if st.State.Journal == "" {
		st.State.Journal = DefaultJournal
	}
	if st.State.Snapshot == "" {
		st.State.Snapshot = DefaultSnapshot
	}
	if st.OfflineCache.Path == "" {
		st.OfflineCache.Path = filepath.Join(st.State.Dir, DefaultOfflineCache)
	}

	// ------------------------------------------------------------
	// OPT-IN SECTIONS
	// ------------------------------------------------------------

	if st.Scanner != nil {
		defaultInt(&st.Scanner.BaudRate, DefaultScannerBaud)
	}
	if st.Mirror != nil {
		defaultInt(&st.Mirror.TimeoutMs, DefaultMirrorTimeout)
		if st.Mirror.UnitID == 0 {
			st.Mirror.UnitID = 1
		}
		if st.Mirror.Name == "" {
			st.Mirror.Name = DefaultMirrorName
		}
	}
	if st.Metrics != nil && st.Metrics.Path == "" {
		st.Metrics.Path = DefaultMetricsPath
	}

	if st.Log.Level == "" {
		st.Log.Level = "info"
	}
	if st.Log.Format == "" {
		st.Log.Format = "text"
	}
}

func defaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
