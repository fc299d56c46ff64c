package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `{
  "logLevel": "debug",
  "indexWriteThrottleSeconds": 10,
  "pairs": [
    {
      "name": "docs",
      "local": {"type": "local", "root": "/data/docs"},
      "remote": {"type": "s3", "bucket": "backup", "prefix": "docs"}
    }
  ]
}`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.IndexWriteThrottleSeconds)
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "docs", cfg.Pairs[0].Name)
	assert.Equal(t, "/data/docs", cfg.Pairs[0].Local.Root)
	assert.Equal(t, "backup", cfg.Pairs[0].Remote.Bucket)
}

func TestLoadAppliesEnvironmentOverlay(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("REPLISYNC_LOG_LEVEL", "warn")
	t.Setenv("REPLISYNC_VERBOSE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Verbose)
}

func TestLoadFillsS3CredentialsFromEnv(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("REPLISYNC_S3_ACCESS_KEY", "AKIA123")
	t.Setenv("REPLISYNC_S3_SECRET_KEY", "sekrit")

	cfg, err := Load(path)
	require.NoError(t, err)
	remote := cfg.Pairs[0].Remote
	assert.Equal(t, "AKIA123", remote.AccessKey)
	assert.Equal(t, "sekrit", remote.SecretKey)
	// The local replica is not an S3 backend and must stay untouched.
	assert.Empty(t, cfg.Pairs[0].Local.AccessKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	pair := func() PairConfig {
		return PairConfig{
			Name:   "docs",
			Local:  ReplicaConfig{Type: ReplicaLocal, Root: "/a"},
			Remote: ReplicaConfig{Type: ReplicaLocal, Root: "/b"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no pairs", func(c *Config) { c.Pairs = nil }},
		{"unnamed pair", func(c *Config) { c.Pairs[0].Name = "" }},
		{"duplicate pair name", func(c *Config) { c.Pairs = append(c.Pairs, pair()) }},
		{"local without root", func(c *Config) { c.Pairs[0].Local.Root = "" }},
		{"unknown replica type", func(c *Config) { c.Pairs[0].Remote.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) {
			c.Pairs[0].Remote = ReplicaConfig{Type: ReplicaS3}
		}},
		{"bad exclude pattern", func(c *Config) { c.Pairs[0].ExcludeNames = "[" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.Pairs = []PairConfig{pair()}
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGenerateWritesLoadableDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, Generate(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Pairs, 1)

	// A second generate must not clobber the existing file.
	require.Error(t, Generate(path))
}

func TestDescribeHidesCredentials(t *testing.T) {
	r := ReplicaConfig{Type: ReplicaS3, Bucket: "b", Prefix: "p", SecretKey: "hunter2"}
	assert.Equal(t, "s3://b/p", r.Describe())
	assert.NotContains(t, r.Describe(), "hunter2")
}
