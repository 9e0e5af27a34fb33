package config

import (
	"fmt"
	"time"
)

// Config is the main configuration struct, loaded from YAML with env and
// flag overrides on top.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Relay       RelayConfig       `yaml:"relay"`
	Admin       AdminConfig       `yaml:"admin"`
	Security    SecurityConfig    `yaml:"security"`
	Logging     LoggingConfig     `yaml:"logging"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds the chat listener and storage settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
	// ID is this server's identity on the relay, a UUID string. One is
	// generated and logged when empty, but federated deployments should
	// pin it so the relay cursor survives restarts on the peer side.
	ID string `yaml:"id"`
}

// RelayConfig points at the replication peer. An empty address selects
// the no-op relay (standalone mode).
type RelayConfig struct {
	Address string `yaml:"address"`
	Secret  string `yaml:"secret"`
	PollMS  int    `yaml:"poll_ms"`
	Batch   int    `yaml:"batch"`
	Timeout int    `yaml:"timeout_ms"`
}

// PollInterval returns the poll period with the 5s default applied.
func (r RelayConfig) PollInterval() time.Duration {
	if r.PollMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.PollMS) * time.Millisecond
}

// DialTimeout returns the per-round-trip relay timeout.
func (r RelayConfig) DialTimeout() time.Duration {
	if r.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.Timeout) * time.Millisecond
}

// AdminConfig holds the admin/metrics HTTP listener; disabled when empty.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// SecurityConfig holds accept-path settings.
type SecurityConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MaintenanceConfig holds the cron-driven compaction runner settings.
type MaintenanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Addr returns the chat listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 2007
	}
	return fmt.Sprintf("%s:%d", host, port)
}
