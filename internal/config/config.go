// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Station StationConfig `yaml:"station"`
}

type StationConfig struct {
	PLC          PLCConfig          `yaml:"plc"`
	Points       Points             `yaml:"points"`
	ConfigDB     *ConfigDBConfig    `yaml:"config_db"`
	Cameras      CamerasConfig      `yaml:"cameras"`
	Push         PushConfig         `yaml:"push"`
	State        StateConfig        `yaml:"state"`
	OfflineCache OfflineCacheConfig `yaml:"offline_cache"`
	Scanner      *ScannerConfig     `yaml:"scanner"`
	Mirror       *MirrorConfig      `yaml:"mirror"`
	Uplink       *UplinkConfig      `yaml:"uplink"`
	Metrics      *MetricsConfig     `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// ---- PLC LINK ----

type PLCConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	IOTimeoutMs      int    `yaml:"io_timeout_ms"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	WriteIntervalMs  int    `yaml:"write_interval_ms"`
	PollIntervalMs   int    `yaml:"poll_interval_ms"`
	PulseHoldMs      int    `yaml:"pulse_hold_ms"`
}

// Points binds logical signal names to M-relay addresses.
// Read-only once loaded.
type Points struct {
	UpIn  int `yaml:"up_in"`
	UpOut int `yaml:"up_out"`
	DnIn  int `yaml:"dn_in"`
	DnOut int `yaml:"dn_out"`
	Start int `yaml:"start"`

	WriteTrigger int `yaml:"write_trigger"`
	WriteResult  int `yaml:"write_result"`
}

// Status returns the five status-point addresses in fixed order.
func (p Points) Status() [5]int {
	return [5]int{p.UpIn, p.UpOut, p.DnIn, p.DnOut, p.Start}
}

// ConfigDBConfig points at an SQLite database holding the point map and
// camera table. Values found there override the file.
type ConfigDBConfig struct {
	Path string `yaml:"path"`
}

// ---- PRODUCERS ----

type CamerasConfig struct {
	Listen        string            `yaml:"listen"`
	IdleTimeoutMs int               `yaml:"idle_timeout_ms"`
	Mapping       map[string]string `yaml:"mapping"` // ip -> logical source name
}

type ScannerConfig struct {
	Device   string                    `yaml:"device"`
	BaudRate int                       `yaml:"baud_rate"`
	Aliases  map[string][]AliasMessage `yaml:"aliases"`
}

// AliasMessage is one canned message injected when the scanner reads an alias code.
type AliasMessage struct {
	Source  string `yaml:"source"`
	Payload string `yaml:"payload"`
}

// ---- CONSUMERS ----

type PushConfig struct {
	Listen              string  `yaml:"listen"`
	Path                string  `yaml:"path"`
	HeartbeatIntervalMs int     `yaml:"heartbeat_interval_ms"`
	InboundRate         float64 `yaml:"inbound_rate"`
	InboundBurst        int     `yaml:"inbound_burst"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	Journal      string `yaml:"journal"`
	Snapshot     string `yaml:"snapshot"`
	CompactAfter int    `yaml:"compact_after"`
	Sync         bool   `yaml:"sync"`
}

type OfflineCacheConfig struct {
	Path string `yaml:"path"`
}

type MirrorConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Name            string `yaml:"name"` // written into the status block
	UnitID          uint8  `yaml:"unit_id"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	RegisterAddress uint16 `yaml:"register_address"`
	CoilAddress     uint16 `yaml:"coil_address"`
}

type UplinkConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and decodes a YAML config file.
// It does not validate or normalize.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
