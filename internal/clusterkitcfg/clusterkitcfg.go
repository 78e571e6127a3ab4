// Package clusterkitcfg loads and saves the manager's run configuration.
//
// Config is stored at $XDG_CONFIG_HOME/clusterkit/config.yaml (defaults to
// ~/.config/clusterkit/config.yaml). Unlike a CLI's connection contexts,
// there is exactly one manager configuration per data root — no named
// profiles, matching spec.md's single-manager-per-host scope.
package clusterkitcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KeepAlive mirrors the public keepAlive configuration from spec.md §6.4.
// A nil *KeepAlive on Config disables heartbeat supervision entirely.
type KeepAlive struct {
	IntervalMS          int `yaml:"interval_ms"`
	MaxMissedHeartbeats int `yaml:"max_missed_heartbeats"`
	MaxClusterRestarts  int `yaml:"max_cluster_restarts"`
}

// Interval returns the configured interval as a time.Duration.
func (k *KeepAlive) Interval() time.Duration {
	if k == nil {
		return 0
	}
	return time.Duration(k.IntervalMS) * time.Millisecond
}

// Config holds the manager's run configuration (spec.md §6.4).
type Config struct {
	// Mode selects the Transport variant: "process" or "worker".
	Mode string `yaml:"mode"`
	// File is the worker executable path, used in process mode.
	File string `yaml:"file,omitempty"`
	// TotalShards is the upstream service's total shard count.
	TotalShards int `yaml:"total_shards"`
	// TotalClusters is the number of clusters to partition shards across.
	TotalClusters int `yaml:"total_clusters"`
	// SpawnQueueMode is "auto" or "manual" (spec.md §4.5).
	SpawnQueueMode string `yaml:"spawn_queue_mode"`
	// SpawnDelayMS is the inter-spawn delay in auto mode.
	SpawnDelayMS int `yaml:"spawn_delay_ms"`
	// Respawn enables automatic respawn on unexpected child exit.
	Respawn bool `yaml:"respawn"`
	// KeepAlive configures heartbeat supervision; nil disables it.
	KeepAlive *KeepAlive `yaml:"keep_alive,omitempty"`
	// Token is an opaque value forwarded to children via the environment;
	// it is NOT used to authenticate the IPC channel (spec.md Non-goals).
	Token string `yaml:"token,omitempty"`
	// Env holds application-defined variables forwarded to every child.
	Env map[string]string `yaml:"env,omitempty"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/clusterkit/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "clusterkit", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "clusterkit", "config.yaml")
}

// Load reads the config file. If the file does not exist, the
// defaultConfig() values are returned (not an error).
func Load() (*Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Mode:           "process",
		SpawnQueueMode: "auto",
		SpawnDelayMS:   7000,
		Respawn:        true,
		Env:            make(map[string]string),
	}
}

// Save writes the config to disk, creating directories as needed.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the fields required to partition and spawn clusters.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Mode) {
	case "process", "worker":
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", "process", "worker", c.Mode)
	}
	if c.Mode == "process" && strings.TrimSpace(c.File) == "" {
		return fmt.Errorf("file is required in process mode")
	}
	if c.TotalShards <= 0 {
		return fmt.Errorf("total_shards must be > 0")
	}
	if c.TotalClusters <= 0 {
		return fmt.Errorf("total_clusters must be > 0")
	}
	if c.TotalClusters > c.TotalShards {
		return fmt.Errorf("total_clusters (%d) must not exceed total_shards (%d)", c.TotalClusters, c.TotalShards)
	}
	switch strings.TrimSpace(c.SpawnQueueMode) {
	case "auto", "manual":
	default:
		return fmt.Errorf("spawn_queue_mode must be %q or %q, got %q", "auto", "manual", c.SpawnQueueMode)
	}
	if c.KeepAlive != nil {
		if c.KeepAlive.IntervalMS <= 0 {
			return fmt.Errorf("keep_alive.interval_ms must be > 0")
		}
		if c.KeepAlive.MaxMissedHeartbeats <= 0 {
			return fmt.Errorf("keep_alive.max_missed_heartbeats must be > 0")
		}
		if c.KeepAlive.MaxClusterRestarts <= 0 {
			return fmt.Errorf("keep_alive.max_cluster_restarts must be > 0")
		}
	}
	return nil
}
