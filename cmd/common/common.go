// Package common provides shared utilities for LQAP CLI commands:
// TOML configuration loading and logger construction.
package common

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shafiqahmeddev/lqap-project/protocol"
	"github.com/shafiqahmeddev/lqap-project/services"
)

// FileConfig is the TOML configuration for the node command.
type FileConfig struct {
	NodeID         string `toml:"node_id"`
	Domain         string `toml:"domain"`
	HTTPAddr       string `toml:"http_addr"`
	MetricsAddr    string `toml:"metrics_addr"`
	LedgerURL      string `toml:"ledger_url"`
	ScorerURL      string `toml:"scorer_url"`
	AuditQueuePath string `toml:"audit_queue_path"`
	LogJSON        bool   `toml:"log_json"`
	LogDebug       bool   `toml:"log_debug"`

	Postgres *PostgresFileConfig `toml:"postgres"`
	Protocol ProtocolFileConfig  `toml:"protocol"`
}

// PostgresFileConfig mirrors services.PostgresConfig in TOML form.
type PostgresFileConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// ProtocolFileConfig overrides protocol parameters. Zero values keep the
// defaults.
type ProtocolFileConfig struct {
	TreeHeight          int     `toml:"tree_height"`
	PUFHammingThreshold int     `toml:"puf_hamming_threshold"`
	CredentialTTL       string  `toml:"credential_ttl"`
	SessionTTL          string  `toml:"session_ttl"`
	AnomalyThreshold    float64 `toml:"anomaly_threshold"`
	AnomalyTimeout      string  `toml:"anomaly_timeout"`
	AnomalyFailOpen     bool    `toml:"anomaly_fail_open"`
}

// LoadConfig reads a TOML config file. A missing path returns an empty
// config so flags alone can configure the node.
func LoadConfig(path string) (*FileConfig, error) {
	config := &FileConfig{}
	if path == "" {
		return config, nil
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return config, nil
}

// ProtocolConfig merges the file overrides onto the defaults.
func (c *FileConfig) ProtocolConfig() (*protocol.Config, error) {
	config := protocol.DefaultConfig()
	p := c.Protocol

	if p.TreeHeight > 0 {
		config.TreeHeight = p.TreeHeight
	}
	if p.PUFHammingThreshold > 0 {
		config.PUFHammingThreshold = p.PUFHammingThreshold
	}
	if p.AnomalyThreshold > 0 {
		config.AnomalyThreshold = p.AnomalyThreshold
	}
	config.AnomalyFailOpen = p.AnomalyFailOpen

	for _, d := range []struct {
		raw  string
		dest *time.Duration
	}{
		{p.CredentialTTL, &config.CredentialTTL},
		{p.SessionTTL, &config.SessionTTL},
		{p.AnomalyTimeout, &config.AnomalyTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", d.raw, err)
		}
		*d.dest = parsed
	}
	return config, nil
}

// PostgresConfig converts the TOML postgres section, or nil when absent.
func (c *FileConfig) PostgresConfig() *services.PostgresConfig {
	if c.Postgres == nil {
		return nil
	}
	return &services.PostgresConfig{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		Database: c.Postgres.Database,
		SSLMode:  c.Postgres.SSLMode,
	}
}

// NewLogger builds the process logger.
func NewLogger(json, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
