// Package clustermanager implements the ClusterManager: the top-level
// owner of the cluster set, shard partition, shared PromiseRegistry, and
// fan-out operations (spec.md §4.6).
package clustermanager

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clusterkit/internal/cluster"
	"clusterkit/internal/events"
	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
	"clusterkit/internal/scripthost"
)

// KeepAliveConfig mirrors spec.md §6.4. A nil *KeepAliveConfig disables the
// heartbeat watchdog entirely.
type KeepAliveConfig struct {
	Interval            time.Duration
	MaxMissedHeartbeats int
	MaxClusterRestarts  int
}

// Config carries the ClusterManager's construction-time parameters
// (spec.md §4.6).
type Config struct {
	Mode          ipc.Mode
	File          string
	Token         string
	TotalShards   int
	TotalClusters int

	SpawnQueueMode cluster.QueueMode
	SpawnDelay     time.Duration
	SpawnTimeout   time.Duration

	Respawn   bool
	KeepAlive *KeepAliveConfig

	Env map[string]string

	// WorkerFactory builds the child-side WorkerFunc for ModeWorker. Tests
	// supply this directly; process mode ignores it.
	WorkerFactory func(clusterID int, shardList []int) ipc.WorkerFunc
}

// Manager owns the cluster set and is the shared router for broadcast and
// cross-cluster operations (spec.md §4.6). It implements
// cluster.ManagerFacade.
type Manager struct {
	cfg       Config
	reg       *registry.Registry
	scripts   scripthost.Host
	hub       *events.Hub
	partition [][]int
	shardMap  map[int]int

	mu       sync.RWMutex
	clusters map[int]*cluster.Cluster
	order    []int

	queue *cluster.SpawnQueue
}

var _ cluster.ManagerFacade = (*Manager)(nil)

// New constructs a Manager and partitions shards, but does not spawn any
// clusters — call Spawn for that.
func New(cfg Config, scripts scripthost.Host) (*Manager, error) {
	if cfg.TotalShards <= 0 {
		return nil, fmt.Errorf("clustermanager: total shards must be positive")
	}
	if cfg.TotalClusters <= 0 || cfg.TotalClusters > cfg.TotalShards {
		return nil, fmt.Errorf("clustermanager: total clusters must be in (0, totalShards]")
	}
	if scripts == nil {
		scripts = scripthost.NewWhitelistHost()
	}

	partition := PartitionShards(cfg.TotalShards, cfg.TotalClusters)
	m := &Manager{
		cfg:       cfg,
		reg:       registry.New(),
		scripts:   scripts,
		hub:       events.NewHub(),
		partition: partition,
		shardMap:  shardToCluster(partition),
		clusters:  make(map[int]*cluster.Cluster),
		queue:     cluster.NewSpawnQueue(cfg.SpawnQueueMode, cfg.SpawnDelay),
	}
	return m, nil
}

// On subscribes to one manager-level event kind.
func (m *Manager) On(kind events.Kind) (<-chan any, events.Subscription) { return m.hub.On(kind) }

// Off removes a subscription returned by On.
func (m *Manager) Off(sub events.Subscription) { m.hub.Off(sub) }

// Cluster returns the cluster registered under id, if any.
func (m *Manager) Cluster(id int) (*cluster.Cluster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	return c, ok
}

// Clusters returns all clusters ordered by id.
func (m *Manager) Clusters() []*cluster.Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*cluster.Cluster, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clusters[id])
	}
	return out
}

// Spawn constructs every Cluster from the partition, enqueues them, and
// starts the SpawnQueue (spec.md §4.6).
func (m *Manager) Spawn(ctx context.Context) error {
	var maxMissed, maxRestarts int
	if m.cfg.KeepAlive != nil {
		maxMissed = m.cfg.KeepAlive.MaxMissedHeartbeats
		maxRestarts = m.cfg.KeepAlive.MaxClusterRestarts
	}

	m.mu.Lock()
	for id, shards := range m.partition {
		ccfg := cluster.Config{
			ID:                  id,
			ShardList:           shards,
			TotalShards:         m.cfg.TotalShards,
			Env:                 m.clusterEnv(id, shards),
			SpawnTimeout:        m.cfg.SpawnTimeout,
			Respawn:             m.cfg.Respawn,
			MaxMissedHeartbeats: maxMissed,
			MaxClusterRestarts:  maxRestarts,
			NewTransport:        m.newTransportFactory(id, shards),
		}
		c := cluster.New(ccfg, m, m.reg)
		m.clusters[id] = c
		m.order = append(m.order, id)
		m.queue.Enqueue(c)

		if m.cfg.KeepAlive != nil {
			go m.watchHeartbeat(ctx, c)
		}
	}
	m.mu.Unlock()

	return m.queue.Start(ctx, m.cfg.SpawnTimeout)
}

func (m *Manager) clusterEnv(id int, shards []int) map[string]string {
	shardStrs := make([]string, len(shards))
	for i, s := range shards {
		shardStrs[i] = strconv.Itoa(s)
	}
	env := map[string]string{
		"CLUSTER_MANAGER_MODE": string(m.cfg.Mode),
		"CLUSTER":              strconv.Itoa(id),
		"CLUSTER_COUNT":        strconv.Itoa(m.cfg.TotalClusters),
		"SHARD_LIST":           strings.Join(shardStrs, ","),
		"TOTAL_SHARDS":         strconv.Itoa(m.cfg.TotalShards),
		"CLUSTER_QUEUE_MODE":   string(m.cfg.SpawnQueueMode),
	}
	if m.cfg.KeepAlive != nil {
		env["KEEP_ALIVE_INTERVAL"] = strconv.FormatInt(m.cfg.KeepAlive.Interval.Milliseconds(), 10)
	} else {
		env["KEEP_ALIVE_INTERVAL"] = "0"
	}
	for k, v := range m.cfg.Env {
		env[k] = v
	}
	return env
}

func (m *Manager) newTransportFactory(id int, shards []int) func(cluster.Config) (ipc.Transport, error) {
	return func(ccfg cluster.Config) (ipc.Transport, error) {
		if m.cfg.Mode == ipc.ModeWorker {
			if m.cfg.WorkerFactory == nil {
				return nil, fmt.Errorf("clustermanager: worker mode requires a WorkerFactory")
			}
			return ipc.NewWorkerTransport(m.cfg.WorkerFactory(id, shards)), nil
		}
		return ipc.NewProcessTransport(ipc.SpawnOptions{
			ExecPath:    m.cfg.File,
			ClusterData: ccfg.Env,
		})
	}
}

// watchHeartbeat periodically scans one cluster's heartbeat state for
// missed beats and triggers a budget-gated respawn once the threshold is
// crossed (spec.md §4.3, §8 scenarios 2-3).
func (m *Manager) watchHeartbeat(ctx context.Context, c *cluster.Cluster) {
	kc := m.cfg.KeepAlive
	ticker := time.NewTicker(kc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := c.HeartbeatState()
			if hb == nil {
				continue
			}
			if time.Since(hb.LastAck()) <= kc.Interval+2*time.Second {
				continue
			}
			missed := hb.Bump(time.Now())
			if missed <= kc.MaxMissedHeartbeats {
				continue
			}
			allowed, err := c.RespawnIfBudgetAllows(ctx, 500*time.Millisecond, 30*time.Second)
			if err != nil {
				m.hub.Emit(events.Error, err)
			}
			if !allowed {
				m.hub.Emit(events.ClusterDebug, fmt.Sprintf("cluster %d restart budget exhausted", c.ID()))
			}
		}
	}
}

// Broadcast sends message to every registered cluster, returning a send
// error per cluster id (nil entries mean success; a cluster with no live
// child gets ipc.ErrNoChildExists).
func (m *Manager) Broadcast(ctx context.Context, env ipc.Envelope) map[int]error {
	results := make(map[int]error)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.Clusters() {
		c := c
		g.Go(func() error {
			err := c.Send(gctx, env)
			mu.Lock()
			results[c.ID()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RespawnAll iterates clusters in id order, respawning each with a delay
// between clusters (spec.md §4.6).
func (m *Manager) RespawnAll(ctx context.Context) error {
	return m.RespawnAllOptions(ctx, 5*time.Second, 7*time.Second, 30*time.Second)
}

// RespawnAllOptions is RespawnAll with explicit timing, matching the
// source's configurable clusterDelay/respawnDelay/timeout.
func (m *Manager) RespawnAllOptions(ctx context.Context, clusterDelay, respawnDelay, timeout time.Duration) error {
	clusters := m.Clusters()
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID() < clusters[j].ID() })

	for i, c := range clusters {
		if err := c.Respawn(ctx, respawnDelay, timeout); err != nil {
			return fmt.Errorf("respawn cluster %d: %w", c.ID(), err)
		}
		if i < len(clusters)-1 {
			select {
			case <-time.After(clusterDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// AdvanceSpawnQueue implements cluster.ManagerFacade.
func (m *Manager) AdvanceSpawnQueue() error { return m.queue.Next() }

// ForwardToCluster implements cluster.ManagerFacade.
func (m *Manager) ForwardToCluster(ctx context.Context, id int, env ipc.Envelope) error {
	c, ok := m.Cluster(id)
	if !ok {
		return ipc.ErrNoChildExists
	}
	return c.Send(ctx, env)
}
