// Package config is the YAML-based configuration-provider collaborator
// (spec §6): it parses the node's recognized option set into a Config
// struct with documented defaults, the way cuemby-warren's config
// loader works, rather than inventing a bespoke flag-only format.
package config

import (
	"os"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
	"gopkg.in/yaml.v3"
)

// Config is the full recognized option set from spec §6.
type Config struct {
	NodeID      string `yaml:"node_id"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	DataDir     string `yaml:"data_dir"`

	ShardingStrategy  string `yaml:"sharding_strategy"`
	ReplicationFactor int    `yaml:"replication_factor"`

	CompressionAlgorithm string `yaml:"compression_algorithm"`
	EncryptionAtRest     bool   `yaml:"encryption_at_rest"`

	ConsensusAlgorithm  string `yaml:"consensus_algorithm"`
	ByzantineTolerance  int    `yaml:"byzantine_tolerance"`
	BatchWindow         time.Duration `yaml:"batch_window"`
	MaxBatchSize        int           `yaml:"max_batch_size"`
	ConflictResolution  string        `yaml:"conflict_resolution"`

	CacheHierarchy []string `yaml:"cache_hierarchy"`
	TTLStrategy    string   `yaml:"ttl_strategy"`

	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval"`
	ConnectionTimeout        time.Duration `yaml:"connection_timeout"`
	PartitionStabilityWindow time.Duration `yaml:"partition_stability_window"`
	RetentionSeconds         int64         `yaml:"retention_seconds"`
}

// Default returns the documented defaults for a single-node deployment.
func Default() Config {
	return Config{
		NodeID:      "node1",
		BindAddress: "0.0.0.0",
		Port:        7700,
		DataDir:     "/var/lib/aerolithdb",

		ShardingStrategy:  "consistent_hash",
		ReplicationFactor: 3,

		CompressionAlgorithm: "zstd",
		EncryptionAtRest:     false,

		ConsensusAlgorithm: "pbft",
		ByzantineTolerance: 1,
		BatchWindow:        50 * time.Millisecond,
		MaxBatchSize:       256,
		ConflictResolution: "last_writer_wins",

		CacheHierarchy: []string{"memory", "ssd", "distributed", "archive"},
		TTLStrategy:    "none",

		HeartbeatInterval:        time.Second,
		ConnectionTimeout:        5 * time.Second,
		PartitionStabilityWindow: 10 * time.Second,
		RetentionSeconds:         0,
	}
}

// Load reads and parses path over Default(), so a config file only needs
// to set the fields it wants to override.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, aerrors.Internalf("read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, aerrors.Internalf("parse config %s: %v", path, err)
	}
	return cfg, nil
}
