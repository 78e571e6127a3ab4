package scenario

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func newTestScenario() *Scenario {
	return NewScenario(Config{
		TotalShards:         8,
		TotalClusters:       3,
		MaxMissedHeartbeats: 3,
		MaxClusterRestarts:  2,
		RestartWindow:       time.Hour,
		Interval:            time.Second,
	})
}

func TestChaosRunnerStepRecordsReplayEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestScenario()

	r, err := NewChaosRunner(s, ChaosRunnerConfig{
		Seed: 42,
		Operations: []ChaosOperation{
			{
				Name:   "noop",
				Weight: 1,
				Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
					return "ok", nil
				},
			},
		},
		Invariants: []ChaosInvariant{{
			Name: "always_ok",
			Check: func(ctx context.Context, s *Scenario) error {
				return nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewChaosRunner: %v", err)
	}

	if err := r.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	log := r.ReplayLog()
	if len(log) != 1 {
		t.Fatalf("ReplayLog len: got %d want 1", len(log))
	}
	if log[0].Operation != "noop" {
		t.Fatalf("operation: got %q want %q", log[0].Operation, "noop")
	}
	if log[0].Step != 1 {
		t.Fatalf("step: got %d want 1", log[0].Step)
	}
}

func TestChaosRunnerRunBounded(t *testing.T) {
	ctx := context.Background()
	s := newTestScenario()

	count := 0
	r, err := NewChaosRunner(s, ChaosRunnerConfig{
		Seed: 7,
		Operations: []ChaosOperation{{
			Name: "count",
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				count++
				return "count", nil
			},
		}},
		Invariants: []ChaosInvariant{{
			Name: "ok",
			Check: func(ctx context.Context, s *Scenario) error {
				return nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewChaosRunner: %v", err)
	}

	if err := r.Run(ctx, 5); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 5 {
		t.Fatalf("operation count: got %d want 5", count)
	}
	if len(r.ReplayLog()) != 5 {
		t.Fatalf("ReplayLog len: got %d want 5", len(r.ReplayLog()))
	}
}

func TestChaosRunnerInvariantFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestScenario()

	failErr := errors.New("invariant failure")
	r, err := NewChaosRunner(s, ChaosRunnerConfig{
		Seed: 9,
		Operations: []ChaosOperation{{
			Name: "noop",
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				return "noop", nil
			},
		}},
		Invariants: []ChaosInvariant{{
			Name: "fail",
			Check: func(ctx context.Context, s *Scenario) error {
				return failErr
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewChaosRunner: %v", err)
	}

	err = r.Step(ctx)
	if err == nil {
		t.Fatal("expected Step to fail on invariant")
	}

	log := r.ReplayLog()
	if len(log) != 1 {
		t.Fatalf("ReplayLog len: got %d want 1", len(log))
	}
	if len(log[0].InvariantFailures) != 1 {
		t.Fatalf("invariant failures len: got %d want 1", len(log[0].InvariantFailures))
	}
}

func TestChaosRunnerDefaultOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestScenario()

	r, err := NewChaosRunner(s, ChaosRunnerConfig{Seed: 123})
	if err != nil {
		t.Fatalf("NewChaosRunner: %v", err)
	}

	if err := r.Run(ctx, 50); err != nil {
		t.Fatalf("Run default operations: %v", err)
	}
	if len(r.ReplayLog()) != 50 {
		t.Fatalf("ReplayLog len: got %d want 50", len(r.ReplayLog()))
	}
}

func TestChaosRunnerExhaustsRestartBudget(t *testing.T) {
	s := NewScenario(Config{
		TotalShards:         4,
		TotalClusters:       1,
		MaxMissedHeartbeats: 1,
		MaxClusterRestarts:  2,
		RestartWindow:       time.Hour,
		Interval:            time.Second,
	})

	for i := 0; i < 3; i++ {
		if _, err := s.MissHeartbeat(0); err != nil {
			t.Fatalf("MissHeartbeat: %v", err)
		}
	}

	snap, ok := s.Snapshot(0)
	if !ok {
		t.Fatal("expected cluster 0 to exist")
	}
	if snap.RestartsUsed != 2 {
		t.Fatalf("RestartsUsed: got %d want 2", snap.RestartsUsed)
	}
	if snap.Ready {
		t.Fatal("expected third heartbeat-triggered respawn to be denied, leaving cluster not ready")
	}

	s.AdvanceRestartWindow()
	if _, err := s.MissHeartbeat(0); err != nil {
		t.Fatalf("MissHeartbeat after window roll: %v", err)
	}
	snap, _ = s.Snapshot(0)
	if !snap.Ready {
		t.Fatal("expected respawn to succeed once the restart window rolled over")
	}
}
