package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every timing and storage knob named in spec.md §6, plus the
// ambient knobs this expansion's composition root needs.
type Config struct {
	// RevokeDelay is the time after an offer before an unacked peer is
	// forcibly evicted. Zero means immediate eviction on the next scheduler
	// tick, used by tests for deterministic instant eviction.
	RevokeDelay time.Duration `yaml:"revoke_delay"`
	// CoordinatorMaxSleep bounds how long a Barrier Coordinator parks
	// between main-loop ticks.
	CoordinatorMaxSleep time.Duration `yaml:"coordinator_max_sleep"`
	// CoordinatorBarrierPeriod is the periodic barrier cadence.
	CoordinatorBarrierPeriod time.Duration `yaml:"coordinator_barrier_period"`
	// Heartbeat is the Barrier Coordinator's heartbeat cadence.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// TenancyID scopes checkpoint coordinates and is carried on every
	// Barrier message.
	TenancyID string `yaml:"tenancy_id"`
	// FactStoreDir is badger's on-disk data directory. Empty runs the fact
	// store fully in-memory.
	FactStoreDir string `yaml:"factstore_dir"`
	// SyncStorePollInterval is loaded but not read by any component: the
	// in-memory sync store delivers watches synchronously, with no scan loop.
	SyncStorePollInterval time.Duration `yaml:"syncstore_poll_interval"`

	CoordinatorAddr string `yaml:"coordinator_addr"`
	PeerAddr        string `yaml:"peer_addr"`
}

// Defaults returns the out-of-the-box Config before any environment or file
// overrides are applied.
func Defaults() Config {
	return Config{
		RevokeDelay:              5 * time.Second,
		CoordinatorMaxSleep:      time.Second,
		CoordinatorBarrierPeriod: 10 * time.Second,
		Heartbeat:                2 * time.Second,
		TenancyID:                "default",
		FactStoreDir:             "",
		SyncStorePollInterval:    20 * time.Millisecond,
		CoordinatorAddr:          ":8080",
		PeerAddr:                 ":8081",
	}
}

// Load builds a Config starting from Defaults, applying environment
// variables (the teacher's getenv idiom), then — if yamlPath is non-empty —
// decoding that file's fields on top. Where a field is set both in the
// environment and in the file, the file wins; fields the file leaves out
// keep their environment or default value, matching "--config cluster.yaml"
// as an override layer, not a full replacement.
func Load(yamlPath string) (Config, error) {
	cfg := Defaults()
	cfg.applyEnv()

	if yamlPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", yamlPath, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.RevokeDelay = getenvDuration("VORTEX_REVOKE_DELAY", c.RevokeDelay)
	c.CoordinatorMaxSleep = getenvDuration("VORTEX_COORDINATOR_MAX_SLEEP", c.CoordinatorMaxSleep)
	c.CoordinatorBarrierPeriod = getenvDuration("VORTEX_COORDINATOR_BARRIER_PERIOD", c.CoordinatorBarrierPeriod)
	c.Heartbeat = getenvDuration("VORTEX_HEARTBEAT", c.Heartbeat)
	c.TenancyID = getenv("VORTEX_TENANCY_ID", c.TenancyID)
	c.FactStoreDir = getenv("VORTEX_FACTSTORE_DIR", c.FactStoreDir)
	c.SyncStorePollInterval = getenvDuration("VORTEX_SYNCSTORE_POLL_INTERVAL", c.SyncStorePollInterval)
	c.CoordinatorAddr = getenv("VORTEX_COORDINATOR_ADDR", c.CoordinatorAddr)
	c.PeerAddr = getenv("VORTEX_PEER_ADDR", c.PeerAddr)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
