package heartbeat_test

import (
	"testing"
	"time"

	"clusterkit/internal/heartbeat"
)

func TestStateMissedBeatsTripUnhealthy(t *testing.T) {
	s := heartbeat.NewState()
	now := time.Now()

	s.Bump(now)
	s.Bump(now.Add(time.Second))
	if s.Unhealthy(3) {
		t.Fatal("expected healthy before reaching max missed beats")
	}
	s.Bump(now.Add(2 * time.Second))
	if !s.Unhealthy(3) {
		t.Fatal("expected unhealthy at max missed beats")
	}
}

func TestStateAckResetsMissedCount(t *testing.T) {
	s := heartbeat.NewState()
	now := time.Now()
	s.Bump(now)
	s.Bump(now)
	s.RecordAck(now)
	if s.Missed() != 0 {
		t.Fatalf("Missed after ack: got %d want 0", s.Missed())
	}
}

func TestRestartBudgetAllowsExactlyMax(t *testing.T) {
	b := heartbeat.NewRestartBudget(2, time.Hour)

	if !b.Allow() {
		t.Fatal("expected first restart to be allowed")
	}
	if !b.Allow() {
		t.Fatal("expected second restart to be allowed")
	}
	if b.Allow() {
		t.Fatal("expected third restart to be denied")
	}
	if b.Current() != 2 {
		t.Fatalf("Current: got %d want 2", b.Current())
	}
}

func TestRestartBudgetUnlimitedWhenMaxNonPositive(t *testing.T) {
	b := heartbeat.NewRestartBudget(0, time.Hour)
	for i := 0; i < 100; i++ {
		if !b.Allow() {
			t.Fatalf("expected unlimited budget to always allow, failed at %d", i)
		}
	}
}

func TestRestartBudgetResetReopensWindow(t *testing.T) {
	b := heartbeat.NewRestartBudget(1, time.Hour)
	if !b.Allow() {
		t.Fatal("expected first restart to be allowed")
	}
	if b.Allow() {
		t.Fatal("expected second restart to be denied before reset")
	}
	b.Reset()
	if !b.Allow() {
		t.Fatal("expected restart to be allowed again after reset")
	}
}
