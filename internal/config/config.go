package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds coordinator configuration.
type Config struct {
	// Listen addresses
	WSAddress   string `yaml:"ws_address"`
	QUICAddress string `yaml:"quic_address"`
	ObsAddress  string `yaml:"obs_address"`

	// Session liveness
	LivenessWindowSeconds int `yaml:"liveness_window_seconds"`
	LivenessSweepSeconds  int `yaml:"liveness_sweep_seconds"`

	// Transfer lifecycle
	TransferIdleSeconds    int `yaml:"transfer_idle_seconds"`
	TransferSweepSeconds   int `yaml:"transfer_sweep_seconds"`
	CompletionGraceSeconds int `yaml:"completion_grace_seconds"`

	// Delivery
	OutboundSendDeadlineMS int `yaml:"outbound_send_deadline_ms"`
	RosterSettleMS         int `yaml:"roster_settle_ms"`

	// Envelope limits. The per-message ceiling is 1.5x the chunk size to
	// leave room for base64 expansion and JSON framing.
	MaxChunkBytes int64 `yaml:"max_chunk_bytes"`

	// Ingress
	AcceptRatePerSecond float64 `yaml:"accept_rate_per_second"`
	AcceptBurst         int     `yaml:"accept_burst"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		WSAddress:              ":8090",
		QUICAddress:            ":4455",
		ObsAddress:             ":8091",
		LivenessWindowSeconds:  300,
		LivenessSweepSeconds:   120,
		TransferIdleSeconds:    600,
		TransferSweepSeconds:   30,
		CompletionGraceSeconds: 30,
		OutboundSendDeadlineMS: 10000,
		RosterSettleMS:         300,
		MaxChunkBytes:          1 << 20, // 1 MiB
		AcceptRatePerSecond:    50,
		AcceptBurst:            100,
		LogLevel:               "info",
	}
}

// LoadConfig loads configuration from a YAML file, applying defaults for
// unset fields. An empty path returns the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.LivenessWindowSeconds <= 0 {
		return fmt.Errorf("liveness_window_seconds must be positive, got %d", c.LivenessWindowSeconds)
	}
	if c.LivenessSweepSeconds <= 0 {
		return fmt.Errorf("liveness_sweep_seconds must be positive, got %d", c.LivenessSweepSeconds)
	}
	if c.TransferIdleSeconds <= 0 {
		return fmt.Errorf("transfer_idle_seconds must be positive, got %d", c.TransferIdleSeconds)
	}
	if c.OutboundSendDeadlineMS <= 0 {
		return fmt.Errorf("outbound_send_deadline_ms must be positive, got %d", c.OutboundSendDeadlineMS)
	}
	if c.MaxChunkBytes <= 0 {
		return fmt.Errorf("max_chunk_bytes must be positive, got %d", c.MaxChunkBytes)
	}
	return nil
}

// LivenessWindow returns the staleness cutoff as a duration.
func (c *Config) LivenessWindow() time.Duration {
	return time.Duration(c.LivenessWindowSeconds) * time.Second
}

// LivenessSweep returns the eviction sweep period.
func (c *Config) LivenessSweep() time.Duration {
	return time.Duration(c.LivenessSweepSeconds) * time.Second
}

// TransferIdle returns the chunk-inactivity cutoff.
func (c *Config) TransferIdle() time.Duration {
	return time.Duration(c.TransferIdleSeconds) * time.Second
}

// TransferSweep returns the transfer sweep period.
func (c *Config) TransferSweep() time.Duration {
	return time.Duration(c.TransferSweepSeconds) * time.Second
}

// CompletionGrace returns how long completed transfers linger before reaping.
func (c *Config) CompletionGrace() time.Duration {
	return time.Duration(c.CompletionGraceSeconds) * time.Second
}

// SendDeadline returns the per-send outbound deadline.
func (c *Config) SendDeadline() time.Duration {
	return time.Duration(c.OutboundSendDeadlineMS) * time.Millisecond
}

// RosterSettle returns the delay before the second roster broadcast.
func (c *Config) RosterSettle() time.Duration {
	return time.Duration(c.RosterSettleMS) * time.Millisecond
}

// MaxEnvelopeBytes returns the hard per-message byte ceiling.
func (c *Config) MaxEnvelopeBytes() int64 {
	return c.MaxChunkBytes + c.MaxChunkBytes/2
}
