package scenario

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"clusterkit/internal/clustermanager"
	"clusterkit/internal/heartbeat"
)

// simClock is a manually-advanced clock so a chaos run can push a cluster
// past the heartbeat window or the one-hour restart-budget window without
// sleeping for real (spec.md §8 scenarios 2-3).
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock(start time.Time) *simClock {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &simClock{now: start}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// clusterState is one simulated cluster's heartbeat/restart bookkeeping —
// the logical state a real Cluster carries, without an actual Transport.
type clusterState struct {
	id      int
	shards  []int
	ready   bool
	killed  bool
	hb      *heartbeat.State
	budget  *heartbeat.RestartBudget
	restart int
}

// Config seeds a fleet-level Scenario.
type Config struct {
	TotalShards         int
	TotalClusters       int
	MaxMissedHeartbeats int
	MaxClusterRestarts  int
	RestartWindow       time.Duration
	Interval            time.Duration
	Start               time.Time
}

// Snapshot is a point-in-time read of one cluster's simulated state.
type Snapshot struct {
	ID           int
	Ready        bool
	Killed       bool
	Shards       []int
	Missed       int
	RestartsUsed int
}

// Scenario simulates a ClusterManager fleet's heartbeat and restart-budget
// bookkeeping (spec.md §8 scenarios 2 and 3), driving the real
// internal/heartbeat types rather than re-deriving their rules.
type Scenario struct {
	mu          sync.Mutex
	clock       *simClock
	totalShards int
	maxMissed   int
	interval    time.Duration
	window      time.Duration
	clusters    map[int]*clusterState
	order       []int
}

// NewScenario partitions totalShards across totalClusters and starts every
// cluster ready with a clean heartbeat and restart budget.
func NewScenario(cfg Config) *Scenario {
	if cfg.TotalClusters <= 0 {
		cfg.TotalClusters = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = time.Hour
	}

	clock := newSimClock(cfg.Start)
	partition := clustermanager.PartitionShards(cfg.TotalShards, cfg.TotalClusters)

	s := &Scenario{
		clock:       clock,
		totalShards: cfg.TotalShards,
		maxMissed:   cfg.MaxMissedHeartbeats,
		interval:    cfg.Interval,
		window:      cfg.RestartWindow,
		clusters:    make(map[int]*clusterState, cfg.TotalClusters),
		order:       make([]int, 0, cfg.TotalClusters),
	}
	for id := 0; id < cfg.TotalClusters; id++ {
		s.clusters[id] = &clusterState{
			id:     id,
			shards: append([]int(nil), partition[id]...),
			ready:  true,
			hb:     heartbeat.NewState(),
			budget: heartbeat.NewRestartBudgetWithClock(cfg.MaxClusterRestarts, cfg.RestartWindow, clock.Now),
		}
		s.order = append(s.order, id)
	}
	sort.Ints(s.order)
	return s
}

// ClusterIDs returns every cluster id in ascending order.
func (s *Scenario) ClusterIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...)
}

// TotalShards returns the shard count the fleet was partitioned over.
func (s *Scenario) TotalShards() int {
	return s.totalShards
}

// MaxMissedHeartbeats returns the configured unhealthy threshold.
func (s *Scenario) MaxMissedHeartbeats() int {
	return s.maxMissed
}

func (s *Scenario) cluster(id int) (*clusterState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	return c, ok
}

// Snapshot reads one cluster's current simulated state.
func (s *Scenario) Snapshot(id int) (Snapshot, bool) {
	c, ok := s.cluster(id)
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		ID:           c.id,
		Ready:        c.ready,
		Killed:       c.killed,
		Shards:       append([]int(nil), c.shards...),
		Missed:       c.hb.Missed(),
		RestartsUsed: c.budget.Current(),
	}, true
}

// Tick advances the simulated clock by one heartbeat interval. It does not,
// by itself, bump or ack any cluster's missed count — MissHeartbeat and
// AckHeartbeat model the manager's per-scan decision explicitly so a chaos
// run can choose which clusters go quiet.
func (s *Scenario) Tick() {
	s.clock.Advance(s.interval)
}

// AdvanceRestartWindow pushes the clock past the restart-budget window in
// one step, exercising the "hour rolls over" half of scenario 3.
func (s *Scenario) AdvanceRestartWindow() {
	s.clock.Advance(s.window + time.Second)
}

// MissHeartbeat records that cluster id produced no ack on the latest scan.
// When the miss count reaches MaxMissedHeartbeats, it attempts a budgeted
// respawn, otherwise leaves the cluster down. This fires one scan earlier
// than the manager's watchHeartbeat, which waits until the count exceeds
// MaxMissedHeartbeats (spec.md §8 scenarios 2-3).
func (s *Scenario) MissHeartbeat(id int) (string, error) {
	c, ok := s.cluster(id)
	if !ok {
		return "", fmt.Errorf("unknown cluster %d", id)
	}
	missed := c.hb.Bump(s.clock.Now())
	if missed < s.maxMissed {
		return fmt.Sprintf("cluster %d missed beat %d/%d", id, missed, s.maxMissed), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.budget.Allow() {
		c.ready = false
		return fmt.Sprintf("cluster %d exhausted restart budget, not respawned", id), nil
	}
	c.ready = true
	c.killed = false
	c.restart++
	c.hb.RecordAck(s.clock.Now())
	return fmt.Sprintf("cluster %d respawned after %d missed beats", id, missed), nil
}

// AckHeartbeat records a timely ack from cluster id, resetting its miss
// count to zero.
func (s *Scenario) AckHeartbeat(id int) (string, error) {
	c, ok := s.cluster(id)
	if !ok {
		return "", fmt.Errorf("unknown cluster %d", id)
	}
	c.hb.RecordAck(s.clock.Now())
	return fmt.Sprintf("cluster %d acked", id), nil
}

// KillCluster simulates an operator or OS-level kill, independent of the
// heartbeat path.
func (s *Scenario) KillCluster(id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return "", fmt.Errorf("unknown cluster %d", id)
	}
	c.ready = false
	c.killed = true
	return fmt.Sprintf("killed cluster %d", id), nil
}

// ManualRespawn simulates an operator-triggered respawnOne, which bypasses
// the restart budget the way RespawnOne bypasses RespawnIfBudgetAllows.
func (s *Scenario) ManualRespawn(id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return "", fmt.Errorf("unknown cluster %d", id)
	}
	c.ready = true
	c.killed = false
	c.hb.RecordAck(s.clock.Now())
	return fmt.Sprintf("manually respawned cluster %d", id), nil
}
