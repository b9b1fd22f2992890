package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.ShardCount)
	assert.Equal(t, 0.66, cfg.ConsensusThreshold)
	assert.Equal(t, 0.51, cfg.ConsensusQuorum)
	assert.Equal(t, 100, cfg.WorkerQueueCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.WaitPollInterval())
	assert.Equal(t, 3, cfg.UnlockRetryAttempts)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"shard_count": 8,
		"consensus_threshold": 0.75,
		"listen_addr": ":9090"
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ShardCount)
	assert.Equal(t, 0.75, cfg.ConsensusThreshold)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.51, cfg.ConsensusQuorum)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_SHARD_COUNT", "16")
	t.Setenv("LEDGER_CONSENSUS_QUORUM", "0.8")
	t.Setenv("LEDGER_DATA_DIR", "/var/lib/coopledger")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.ShardCount)
	assert.Equal(t, 0.8, cfg.ConsensusQuorum)
	assert.Equal(t, "/var/lib/coopledger", cfg.DataDir)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shard_count": 8}`), 0o644))
	t.Setenv("LEDGER_SHARD_COUNT", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ShardCount)
}

func TestEnvBadValue(t *testing.T) {
	t.Setenv("LEDGER_SHARD_COUNT", "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := map[string]func(*Config){
		"zero shards":        func(c *Config) { c.ShardCount = 0 },
		"threshold above 1":  func(c *Config) { c.ConsensusThreshold = 1.5 },
		"zero threshold":     func(c *Config) { c.ConsensusThreshold = 0 },
		"zero quorum":        func(c *Config) { c.ConsensusQuorum = 0 },
		"negative retries":   func(c *Config) { c.UnlockRetryAttempts = -1 },
		"zero poll interval": func(c *Config) { c.WaitPollIntervalMs = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
