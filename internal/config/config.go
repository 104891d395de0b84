// Package config provides the structured YAML configuration for
// cmd/channel-server and cmd/metrics-api, layered over
// the GetEnv family so the fields an operator most commonly varies can be
// overridden by an environment variable without editing the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VaultConfig selects and configures the key-material backend. Only
// "software" is implemented; the field exists so a future HSM-backed
// vault can be selected without changing the shape of the file.
type VaultConfig struct {
	Kind string `yaml:"kind"`
}

// IdentityConfig configures certificate issuance/verification.
type IdentityConfig struct {
	Issuer    string        `yaml:"issuer"`
	Secret    string        `yaml:"secret"`
	TTL       time.Duration `yaml:"ttl"`
	VerifyKey string        `yaml:"verify_key"` // hex; loaded but not read by any command (channel-server verifies with Secret)
}

// AuditConfig configures the audit sink. Sink is "postgres" or "noop".
type AuditConfig struct {
	Sink     string `yaml:"sink"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ReplayConfig configures the replay ledger. Ledger is "redis" or "memory".
type ReplayConfig struct {
	Ledger    string        `yaml:"ledger"`
	RedisAddr string        `yaml:"redis_addr"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
}

// MetricsConfig configures the metrics HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level application configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Vault      VaultConfig    `yaml:"vault"`
	Identity   IdentityConfig `yaml:"identity"`
	Audit      AuditConfig    `yaml:"audit"`
	Replay     ReplayConfig   `yaml:"replay"`
	Metrics    MetricsConfig  `yaml:"metrics"`
}

// Default returns a Config usable for local development: software vault,
// noop audit sink, in-memory replay ledger.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:4433",
		Vault:      VaultConfig{Kind: "software"},
		Identity: IdentityConfig{
			Issuer: "secure-channel-demo",
			TTL:    24 * time.Hour,
		},
		Audit: AuditConfig{
			Sink:     "noop",
			Host:     "localhost",
			Port:     5432,
			Database: "secure_channel_audit",
			SSLMode:  "disable",
		},
		Replay: ReplayConfig{
			Ledger:    "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "secure-channel:",
			Retention: 24 * time.Hour,
		},
		Metrics: MetricsConfig{ListenAddr: "127.0.0.1:9090"},
	}
}

// Load reads a YAML file at path into a Config seeded with Default(), then
// applies environment variable overrides for the handful of fields an
// operator most commonly needs to vary per deployment (addresses and
// secrets). Missing path is not an error: Default() plus env overrides is
// a valid configuration on its own.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ListenAddr = GetEnv("CHANNEL_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Identity.Secret = GetEnv("CHANNEL_IDENTITY_SECRET", cfg.Identity.Secret)
	cfg.Identity.VerifyKey = GetEnv("CHANNEL_IDENTITY_VERIFY_KEY", cfg.Identity.VerifyKey)
	cfg.Audit.Sink = GetEnv("CHANNEL_AUDIT_SINK", cfg.Audit.Sink)
	cfg.Audit.Host = GetEnv("CHANNEL_AUDIT_HOST", cfg.Audit.Host)
	cfg.Audit.Port = GetEnvInt("CHANNEL_AUDIT_PORT", cfg.Audit.Port)
	cfg.Audit.Password = GetEnv("CHANNEL_AUDIT_PASSWORD", cfg.Audit.Password)
	cfg.Replay.Ledger = GetEnv("CHANNEL_REPLAY_LEDGER", cfg.Replay.Ledger)
	cfg.Replay.RedisAddr = GetEnv("CHANNEL_REPLAY_REDIS_ADDR", cfg.Replay.RedisAddr)
	cfg.Metrics.ListenAddr = GetEnv("CHANNEL_METRICS_ADDR", cfg.Metrics.ListenAddr)

	return cfg, nil
}
