// Package config loads SyncKit's YAML configuration (spec §6's
// options table), defaults-overlay style: every field is optional, and
// a missing file is not an error — callers get defaults plus a
// generated clientId.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is SyncKit's top-level replica configuration.
type Config struct {
	ClientID   string           `yaml:"client_id"`
	Storage    StorageConfig    `yaml:"storage"`
	ServerURL  string           `yaml:"server_url"` // empty = offline-only
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Queue      QueueConfig      `yaml:"queue"`
	Awareness  AwarenessConfig  `yaml:"awareness"`
	CRDTs      []string         `yaml:"crdts"` // enabled CRDT kinds, for build-size pruning
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Kind string `yaml:"kind"` // "memory" | "bolt"
	Path string `yaml:"path"` // bolt db file path
}

// ReconnectConfig controls the transport's backoff schedule (spec §4.5).
type ReconnectConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// HeartbeatConfig controls ping/pong liveness checking (spec §4.5).
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// QueueConfig controls the offline outbound queue (spec §4.5).
type QueueConfig struct {
	MaxSize       int           `yaml:"max_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryBackoff  float64       `yaml:"retry_backoff"`
}

// AwarenessConfig controls ephemeral presence expiry (spec §4.6).
type AwarenessConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
}

// defaults mirrors spec §4.5/§4.6's stated defaults exactly.
var defaults = Config{
	Storage: StorageConfig{Kind: "memory"},
	Reconnect: ReconnectConfig{
		Initial:     1 * time.Second,
		Max:         30 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 8,
	},
	Heartbeat: HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	},
	Queue: QueueConfig{
		MaxSize:      1000,
		MaxRetries:   5,
		RetryDelay:   500 * time.Millisecond,
		RetryBackoff: 2.0,
	},
	Awareness: AwarenessConfig{InactivityTimeout: 30 * time.Second},
}

// Load reads a YAML config file and overlays it onto defaults. A
// missing file is not an error: the caller gets defaults plus a fresh
// generated ClientID (spec §6: "all optional").
func Load(path string) (*Config, error) {
	cfg := defaults

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ClientID = uuid.NewString()
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	applyZeroDefaults(&cfg)
	return &cfg, nil
}

// applyZeroDefaults fills in any sub-struct field left at its zero
// value after the YAML overlay — a partial "reconnect:" stanza that
// only sets Initial shouldn't zero out Max/Multiplier/MaxAttempts.
func applyZeroDefaults(cfg *Config) {
	if cfg.Reconnect.Initial == 0 {
		cfg.Reconnect.Initial = defaults.Reconnect.Initial
	}
	if cfg.Reconnect.Max == 0 {
		cfg.Reconnect.Max = defaults.Reconnect.Max
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = defaults.Reconnect.Multiplier
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = defaults.Reconnect.MaxAttempts
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = defaults.Heartbeat.Interval
	}
	if cfg.Heartbeat.Timeout == 0 {
		cfg.Heartbeat.Timeout = defaults.Heartbeat.Timeout
	}
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = defaults.Queue.MaxSize
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = defaults.Queue.MaxRetries
	}
	if cfg.Queue.RetryDelay == 0 {
		cfg.Queue.RetryDelay = defaults.Queue.RetryDelay
	}
	if cfg.Queue.RetryBackoff == 0 {
		cfg.Queue.RetryBackoff = defaults.Queue.RetryBackoff
	}
	if cfg.Awareness.InactivityTimeout == 0 {
		cfg.Awareness.InactivityTimeout = defaults.Awareness.InactivityTimeout
	}
	if cfg.Storage.Kind == "" {
		cfg.Storage.Kind = defaults.Storage.Kind
	}
}
