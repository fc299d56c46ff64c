// Package config loads and validates the replisync configuration: a JSON
// file describing replica pairs, overlaid with environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// ConfigFileName is the default configuration file name.
const ConfigFileName = "replisync.config.json"

// Replica kinds accepted in ReplicaConfig.Type.
const (
	ReplicaLocal = "local"
	ReplicaS3    = "s3"
)

// Index-store kinds accepted in ReplicaConfig.IndexStore.
const (
	IndexStoreFile   = "file"
	IndexStoreSQLite = "sqlite"
)

// ReplicaConfig describes one side of a pair.
type ReplicaConfig struct {
	// Type selects the backend: "local" or "s3".
	Type string `json:"type"`

	// Root is the directory root of a local replica.
	Root string `json:"root,omitempty"`

	// IndexStore selects how a local replica persists its name indexes:
	// "file" (default, one gzipped JSON document) or "sqlite" (one row
	// per record, for replicas with very large directory counts).
	IndexStore string `json:"indexStore,omitempty"`

	// S3 settings. Credentials may come from the environment instead of
	// the file; empty values fall back to the AWS default chain.
	Endpoint     string `json:"endpoint,omitempty"`
	Bucket       string `json:"bucket,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	Region       string `json:"region,omitempty"`
	AccessKey    string `json:"accessKey,omitempty"`
	SecretKey    string `json:"secretKey,omitempty"`
	UsePathStyle bool   `json:"usePathStyle,omitempty"`
}

// Describe returns a loggable identifier without credentials.
func (r ReplicaConfig) Describe() string {
	if r.Type == ReplicaS3 {
		return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Prefix)
	}
	return r.Root
}

// PairConfig describes one synchronized replica pair.
type PairConfig struct {
	// Name identifies the pair in logs and locks.
	Name string `json:"name"`
	// Local and Remote are the two replicas. The distinction matters for
	// vanished-source handling: remote is authoritative.
	Local  ReplicaConfig `json:"local"`
	Remote ReplicaConfig `json:"remote"`
	// ExcludeNames and ExcludePaths are regular expressions filtering
	// entries out of the pass.
	ExcludeNames string `json:"excludeNames,omitempty"`
	ExcludePaths string `json:"excludePaths,omitempty"`
}

// Config is the full configuration document.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"logLevel" env:"REPLISYNC_LOG_LEVEL"`
	// Verbose promotes per-entry decision logging to info level.
	Verbose bool `json:"verbose" env:"REPLISYNC_VERBOSE"`
	// IndexWriteThrottleSeconds spaces out durable index writes. Zero
	// writes through on every save.
	IndexWriteThrottleSeconds int `json:"indexWriteThrottleSeconds" env:"REPLISYNC_INDEX_WRITE_THROTTLE_SECONDS"`
	// MinFreeSpaceMB aborts a pass when a local replica's filesystem has
	// less than this many megabytes available. Zero disables the check.
	MinFreeSpaceMB int `json:"minFreeSpaceMB" env:"REPLISYNC_MIN_FREE_SPACE_MB"`
	// Pairs are the replica pairs to synchronize.
	Pairs []PairConfig `json:"pairs"`
}

// NewDefault returns a config with sensible defaults and no pairs.
func NewDefault() Config {
	return Config{
		LogLevel:                  "info",
		IndexWriteThrottleSeconds: 5,
	}
}

// IndexWriteThrottle returns the throttle as a duration.
func (c *Config) IndexWriteThrottle() time.Duration {
	return time.Duration(c.IndexWriteThrottleSeconds) * time.Second
}

// Load reads the configuration file at path and overlays environment
// variables on top of it.
func Load(path string) (Config, error) {
	cfg := NewDefault()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("could not read config environment: %w", err)
	}
	cfg.applyCredentialEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyCredentialEnv fills empty S3 credentials from the environment, so
// the config file can stay free of secrets. The env library cannot reach
// into the pairs slice, hence the manual overlay.
func (c *Config) applyCredentialEnv() {
	accessKey := os.Getenv("REPLISYNC_S3_ACCESS_KEY")
	secretKey := os.Getenv("REPLISYNC_S3_SECRET_KEY")
	if accessKey == "" && secretKey == "" {
		return
	}
	for i := range c.Pairs {
		for _, r := range []*ReplicaConfig{&c.Pairs[i].Local, &c.Pairs[i].Remote} {
			if r.Type != ReplicaS3 {
				continue
			}
			if r.AccessKey == "" {
				r.AccessKey = accessKey
			}
			if r.SecretKey == "" {
				r.SecretKey = secretKey
			}
		}
	}
}

// Generate writes a default config file to path, refusing to overwrite.
func Generate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	cfg := NewDefault()
	cfg.Pairs = []PairConfig{{
		Name:   "example",
		Local:  ReplicaConfig{Type: ReplicaLocal, Root: "/path/to/local"},
		Remote: ReplicaConfig{Type: ReplicaLocal, Root: "/path/to/remote"},
	}}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("could not write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config has no replica pairs")
	}
	seen := map[string]struct{}{}
	for i := range c.Pairs {
		pair := &c.Pairs[i]
		if pair.Name == "" {
			return fmt.Errorf("pair %d has no name", i)
		}
		if _, ok := seen[pair.Name]; ok {
			return fmt.Errorf("duplicate pair name %q", pair.Name)
		}
		seen[pair.Name] = struct{}{}

		if err := validateReplica(pair.Name, "local", pair.Local); err != nil {
			return err
		}
		if err := validateReplica(pair.Name, "remote", pair.Remote); err != nil {
			return err
		}
		if _, err := regexp.Compile(pair.ExcludeNames); err != nil {
			return fmt.Errorf("pair %q: invalid excludeNames pattern: %w", pair.Name, err)
		}
		if _, err := regexp.Compile(pair.ExcludePaths); err != nil {
			return fmt.Errorf("pair %q: invalid excludePaths pattern: %w", pair.Name, err)
		}
	}
	return nil
}

func validateReplica(pairName, side string, r ReplicaConfig) error {
	switch r.Type {
	case ReplicaLocal:
		if r.Root == "" {
			return fmt.Errorf("pair %q: %s replica needs a root", pairName, side)
		}
		switch r.IndexStore {
		case "", IndexStoreFile, IndexStoreSQLite:
		default:
			return fmt.Errorf("pair %q: %s replica has unknown index store %q", pairName, side, r.IndexStore)
		}
	case ReplicaS3:
		if r.Bucket == "" {
			return fmt.Errorf("pair %q: %s replica needs a bucket", pairName, side)
		}
	default:
		return fmt.Errorf("pair %q: %s replica has unknown type %q", pairName, side, r.Type)
	}
	return nil
}

// LogSummary prints a credential-free overview of the loaded configuration.
func (c *Config) LogSummary() {
	rlog.Info("configuration loaded",
		"log_level", c.LogLevel,
		"verbose", c.Verbose,
		"index_write_throttle", c.IndexWriteThrottle(),
		"min_free_space", util.ByteCountIEC(int64(c.MinFreeSpaceMB)*1024*1024),
		"pairs", len(c.Pairs),
	)
	for _, pair := range c.Pairs {
		rlog.Info("replica pair",
			"name", pair.Name,
			"local", pair.Local.Describe(),
			"remote", pair.Remote.Describe(),
			"exclude_names", pair.ExcludeNames,
			"exclude_paths", pair.ExcludePaths,
		)
	}
}
