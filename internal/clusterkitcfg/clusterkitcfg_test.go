package clusterkitcfg_test

import (
	"testing"

	"clusterkit/internal/clusterkitcfg"
)

func TestValidateRequiresFileInProcessMode(t *testing.T) {
	cfg := &clusterkitcfg.Config{
		Mode:           "process",
		TotalShards:    4,
		TotalClusters:  2,
		SpawnQueueMode: "auto",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when file is missing in process mode")
	}
	cfg.File = "/usr/local/bin/clusterkit-worker"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsTooManyClusters(t *testing.T) {
	cfg := &clusterkitcfg.Config{
		Mode:           "worker",
		TotalShards:    2,
		TotalClusters:  4,
		SpawnQueueMode: "manual",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when total_clusters exceeds total_shards")
	}
}

func TestValidateKeepAliveFields(t *testing.T) {
	cfg := &clusterkitcfg.Config{
		Mode:           "worker",
		TotalShards:    4,
		TotalClusters:  2,
		SpawnQueueMode: "auto",
		KeepAlive:      &clusterkitcfg.KeepAlive{},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero-value keep_alive fields")
	}
	cfg.KeepAlive = &clusterkitcfg.KeepAlive{IntervalMS: 1000, MaxMissedHeartbeats: 3, MaxClusterRestarts: 2}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got, want := cfg.KeepAlive.Interval(), 0; got.Milliseconds() == int64(want) {
		t.Fatalf("Interval: got %v, want non-zero", got)
	}
}
