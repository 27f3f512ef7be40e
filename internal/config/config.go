// Package config loads and persists the node's configuration: identity,
// storage, network, logging, and the ledger/mesh/session tunables in one
// struct. An optional .env overlay is applied before YAML defaults, so
// deployment secrets (data directory, bootstrap peer list) never need to
// live in the checked-in config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meshledger/core/internal/crypto"
)

// Config holds every tunable of the mesh ledger core.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Storage  StorageConfig  `yaml:"storage"`
	Network  NetworkConfig  `yaml:"network"`
	Logging  LoggingConfig  `yaml:"logging"`

	// MinFee is the minimum fee (in smallest coin unit) the Ledger Engine
	// will admit into the mempool.
	MinFee int64 `yaml:"min_fee"`

	// PowDifficulty is the number of leading zero bits a ledger entry's
	// proof-of-work hash must have.
	PowDifficulty crypto.PowDifficulty `yaml:"pow_difficulty"`

	// MempoolMaxAge is how long an unconfirmed entry may sit in the
	// mempool before the sweeper evicts it.
	MempoolMaxAge time.Duration `yaml:"mempool_max_age"`

	// MempoolSweepInterval is how often the age-based eviction sweep runs.
	MempoolSweepInterval time.Duration `yaml:"mempool_sweep_interval"`

	// SessionTimeRotation is the maximum age of a session key before
	// rotation is forced.
	SessionTimeRotation time.Duration `yaml:"session_time_rotation"`

	// SessionVolumeRotation is the maximum number of frames a session key
	// may encrypt before rotation is forced.
	SessionVolumeRotation uint64 `yaml:"session_volume_rotation"`

	// MeshTTLDefault is the TTL a locally originated mesh message starts
	// with.
	MeshTTLDefault int `yaml:"mesh_ttl_default"`

	// MeshPriorityFairnessCap is the number of consecutive dispatches a
	// priority class may be served before a forced turn is given to the
	// next lower class.
	MeshPriorityFairnessCap int `yaml:"mesh_priority_fairness_cap"`

	Obfuscator ObfuscatorConfig `yaml:"obfuscator"`

	// SyncInterval is how often the Delta Sync engine proactively syncs
	// with a peer.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// SyncResponseMaxEntries bounds the size of a single SyncResponse.
	SyncResponseMaxEntries int `yaml:"sync_response_max_entries"`
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	// KeyFile is the path to the node's Ed25519 private key file.
	KeyFile string `yaml:"key_file"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files (SQLite store, keys).
	DataDir string `yaml:"data_dir"`
}

// NetworkConfig holds mesh transport settings.
type NetworkConfig struct {
	// ListenAddress is the local radio adapter's bind address, in
	// whatever form the configured TransportLink implementation expects.
	ListenAddress string `yaml:"listen_address"`

	// BootstrapPeers are peer IDs to attempt contact with on startup.
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	// QuarantineThreshold is the peer-table failure count past which a
	// peer is dropped from the table.
	QuarantineThreshold int `yaml:"quarantine_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// ObfuscatorConfig holds the Traffic Obfuscator's tunables.
type ObfuscatorConfig struct {
	PaddingBuckets []int   `yaml:"padding_buckets"`
	MaxJitterMS    int     `yaml:"max_jitter_ms"`
	DecoyRate      float64 `yaml:"decoy_rate"`
	DecoyThreshold float64 `yaml:"decoy_threshold"`
}

// DefaultConfig returns a Config with sensible defaults for a single-node
// dev deployment.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			KeyFile: "node.key",
		},
		Storage: StorageConfig{
			DataDir: "~/.meshledger",
		},
		Network: NetworkConfig{
			ListenAddress:       "",
			BootstrapPeers:      []string{},
			QuarantineThreshold: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		MinFee:                  1,
		PowDifficulty:           20,
		MempoolMaxAge:           30 * time.Minute,
		MempoolSweepInterval:    time.Minute,
		SessionTimeRotation:     time.Hour,
		SessionVolumeRotation:   1 << 20,
		MeshTTLDefault:          8,
		MeshPriorityFairnessCap: 4,
		Obfuscator: ObfuscatorConfig{
			PaddingBuckets: []int{256, 512, 1024, 4096},
			MaxJitterMS:    0,
			DecoyRate:      0,
			DecoyThreshold: 0,
		},
		SyncInterval:           2 * time.Minute,
		SyncResponseMaxEntries: 256,
	}
}

// ConfigFileName is the default config file name within the data directory.
const ConfigFileName = "config.yaml"

// Load loads configuration for dataDir. It first applies an optional .env
// overlay (if a .env file exists at the current working directory or
// within dataDir), then reads or creates <dataDir>/config.yaml. Environment
// variables from the overlay are not merged into the struct automatically —
// callers needing a specific secret (e.g. MESHLEDGER_DATA_DIR) read it via
// os.Getenv after Load returns, keeping the precedence explicit.
func Load(dataDir string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(dataDir, ".env"))

	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML with a header comment.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# Mesh Ledger Core node configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
