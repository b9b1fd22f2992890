// Package config carries the ledger's tunables. Values come from defaults,
// an optional JSON file, and environment overrides in that order; the
// daemon loads a .env file into the environment first.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/asaskevich/govalidator"
)

type Config struct {
	// ShardCount is fixed at genesis.
	ShardCount int `json:"shard_count" valid:"range(1|4096)"`

	// ConsensusThreshold is the yes-fraction of participating reputation
	// required to accept a block.
	ConsensusThreshold float64 `json:"consensus_threshold" valid:"range(0|1)"`

	// ConsensusQuorum is the participating fraction of total validator
	// reputation required for a round to be decisive.
	ConsensusQuorum float64 `json:"consensus_quorum" valid:"range(0|1)"`

	// WorkerQueueCapacity bounds each shard's cross-shard queue.
	WorkerQueueCapacity int `json:"worker_queue_capacity" valid:"range(1|1000000)"`

	// WaitPollIntervalMs is the WaitFor backoff in milliseconds.
	WaitPollIntervalMs int `json:"wait_poll_interval_ms" valid:"range(1|60000)"`

	// UnlockRetryAttempts bounds phase-3 unlock retries.
	UnlockRetryAttempts int `json:"unlock_retry_attempts" valid:"range(0|100)"`

	DataDir    string `json:"data_dir" valid:"-"`
	ListenAddr string `json:"listen_addr" valid:"-"`
}

func Default() *Config {
	return &Config{
		ShardCount:          4,
		ConsensusThreshold:  0.66,
		ConsensusQuorum:     0.51,
		WorkerQueueCapacity: 100,
		WaitPollIntervalMs:  100,
		UnlockRetryAttempts: 3,
		DataDir:             "data",
		ListenAddr:          ":8080",
	}
}

// Load reads defaults, then the JSON file at path when non-empty, then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		configFile, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer configFile.Close()
		if err := json.NewDecoder(configFile).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decoding config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for _, override := range []struct {
		env string
		set func(string) error
	}{
		{"LEDGER_SHARD_COUNT", intSetter(&c.ShardCount)},
		{"LEDGER_CONSENSUS_THRESHOLD", floatSetter(&c.ConsensusThreshold)},
		{"LEDGER_CONSENSUS_QUORUM", floatSetter(&c.ConsensusQuorum)},
		{"LEDGER_WORKER_QUEUE_CAPACITY", intSetter(&c.WorkerQueueCapacity)},
		{"LEDGER_WAIT_POLL_INTERVAL_MS", intSetter(&c.WaitPollIntervalMs)},
		{"LEDGER_UNLOCK_RETRY_ATTEMPTS", intSetter(&c.UnlockRetryAttempts)},
		{"LEDGER_DATA_DIR", stringSetter(&c.DataDir)},
		{"LEDGER_LISTEN_ADDR", stringSetter(&c.ListenAddr)},
	} {
		if value := os.Getenv(override.env); value != "" {
			if err := override.set(value); err != nil {
				return fmt.Errorf("bad %s: %w", override.env, err)
			}
		}
	}
	return nil
}

// Validate enforces the documented ranges. Threshold and quorum live in
// (0, 1]; govalidator's range() is inclusive on both ends, so the open
// lower bound is checked by hand.
func (c *Config) Validate() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ConsensusThreshold <= 0 {
		return fmt.Errorf("invalid config: consensus_threshold must be positive")
	}
	if c.ConsensusQuorum <= 0 {
		return fmt.Errorf("invalid config: consensus_quorum must be positive")
	}
	return nil
}

func (c *Config) WaitPollInterval() time.Duration {
	return time.Duration(c.WaitPollIntervalMs) * time.Millisecond
}

func intSetter(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func floatSetter(dst *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func stringSetter(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}
