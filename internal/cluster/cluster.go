// Package cluster implements the manager-side half of one supervised
// cluster child: spawn/kill/respawn lifecycle, heartbeat consumption, and
// the inbound message dispatch table (spec.md §4.4).
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clusterkit/internal/events"
	"clusterkit/internal/heartbeat"
	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
)

// ManagerFacade is the narrow surface a Cluster needs from its owning
// ClusterManager for fan-out operations that cross cluster boundaries —
// kept as an interface so cluster does not import clustermanager (which
// imports cluster to hold its cluster set).
type ManagerFacade interface {
	// ForwardToCluster sends env to the live transport of the cluster
	// identified by id, used to relay a cross-cluster eval reply back to
	// its originating cluster (spec.md §4.4 _sClusterEvalResponse).
	ForwardToCluster(ctx context.Context, id int, env ipc.Envelope) error

	// FanOutFetch performs a fetchClientValues on behalf of a child that
	// asked its own Cluster conduit to do so (spec.md §4.4 _sFetchProp).
	FanOutFetch(ctx context.Context, prop string, clusterID *int, timeout time.Duration) (any, error)

	// FanOutEval performs a broadcastEval on behalf of a child (spec.md
	// §4.4 _sEval).
	FanOutEval(ctx context.Context, script string, clusterID *int, timeout time.Duration, evalCtx any) (any, error)

	// EvalOnManager evaluates script in the manager's own ScriptHost
	// (spec.md §4.4 _sManagerEval, §4.6 evalOnManager).
	EvalOnManager(ctx context.Context, script string) (any, error)

	// EvalOnClusterWithNonce forwards an eval request to another cluster
	// reusing nonce (rather than minting a new one) and tagging the waiter
	// with requestCluster, so the eventual reply is routed back to the
	// origin cluster by ForwardToCluster (spec.md §4.4 _sClusterEval).
	EvalOnClusterWithNonce(ctx context.Context, nonce, script string, target ClusterTarget, requestCluster int) error

	// RespawnAll triggers a fleet-wide respawn (spec.md §4.4 _sRespawnAll).
	RespawnAll(ctx context.Context) error

	// AdvanceSpawnQueue advances a manual-mode SpawnQueue (spec.md §4.4
	// _spawnNextCluster).
	AdvanceSpawnQueue() error
}

// ClusterTarget names how evalOnCluster resolves its destination (spec.md
// §4.6): explicit cluster id, shard id, or upstream guild id.
type ClusterTarget struct {
	ClusterID *int
	ShardID   *int
	GuildID   *int64
}

// Config carries the immutable, per-cluster construction parameters
// (spec.md §3 Cluster record).
type Config struct {
	ID          int
	ShardList   []int
	TotalShards int
	Env         map[string]string

	SpawnTimeout time.Duration // 0 means unbounded (spec.md §4.4)

	// Respawn enables auto-respawn on an unsolicited transport exit (spec.md
	// §4.4 _handleExit(respawn), §176 "respawn: bool"). Heartbeat-driven
	// respawn (RespawnIfBudgetAllows via the manager's watchHeartbeat) is
	// unconditional and does not consult this flag.
	Respawn bool

	MaxMissedHeartbeats int
	MaxClusterRestarts  int

	NewTransport func(Config) (ipc.Transport, error)
}

// Cluster is the manager-side record for one child (spec.md §3).
type Cluster struct {
	cfg     Config
	manager ManagerFacade
	reg     *registry.Registry
	hub     *events.Hub

	mu        sync.Mutex
	transport ipc.Transport
	ready     bool
	hb        *heartbeat.State
	restarts  *heartbeat.RestartBudget

	pendingMu      sync.Mutex
	pendingEvals   map[string]chan evalResult
	pendingFetches map[string]chan evalResult
}

type evalResult struct {
	value any
	err   error
}

// New constructs a Cluster in the not-yet-spawned state.
func New(cfg Config, manager ManagerFacade, reg *registry.Registry) *Cluster {
	return &Cluster{
		cfg:            cfg,
		manager:        manager,
		reg:            reg,
		hub:            events.NewHub(),
		restarts:       heartbeat.NewRestartBudget(cfg.MaxClusterRestarts, time.Hour),
		pendingEvals:   make(map[string]chan evalResult),
		pendingFetches: make(map[string]chan evalResult),
	}
}

// ID returns this cluster's dense id.
func (c *Cluster) ID() int { return c.cfg.ID }

// ShardList returns the shards owned by this cluster.
func (c *Cluster) ShardList() []int { return c.cfg.ShardList }

// Ready reports whether a `_ready` has been received since the last spawn.
func (c *Cluster) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// HeartbeatState returns the current heartbeat tracking state, or nil if
// the cluster is not running (spec.md §3 "heartbeat is empty when not
// running").
func (c *Cluster) HeartbeatState() *heartbeat.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hb
}

// On subscribes to one event kind emitted by this cluster.
func (c *Cluster) On(kind events.Kind) (<-chan any, events.Subscription) { return c.hub.On(kind) }

// Off removes a subscription returned by On.
func (c *Cluster) Off(sub events.Subscription) { c.hub.Off(sub) }

// SpawnTimeout implements Spawner for use with SpawnQueue; it delegates to
// Spawn using the given timeout, satisfying the queue's narrow interface.
func (c *Cluster) SpawnTimeout(ctx context.Context, timeout time.Duration) error {
	return c.Spawn(ctx, timeout)
}

// Spawn constructs a Transport and, unless timeout <= 0, waits for the
// child to become ready (spec.md §4.4).
func (c *Cluster) Spawn(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		return ipc.ErrProcessExists
	}
	tr, err := c.cfg.NewTransport(c.cfg)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("construct transport for cluster %d: %w", c.cfg.ID, err)
	}
	c.transport = tr
	c.ready = false
	c.hb = heartbeat.NewState()
	c.clearPending()
	c.mu.Unlock()

	if err := tr.Spawn(ctx); err != nil {
		return fmt.Errorf("spawn cluster %d: %w", c.cfg.ID, err)
	}
	c.hub.Emit(events.Spawn, c.cfg.ID)

	go c.readLoop(tr)
	go c.watchExit(tr)

	if timeout <= 0 {
		return nil
	}
	return c.awaitReady(ctx, timeout)
}

func (c *Cluster) awaitReady(ctx context.Context, timeout time.Duration) error {
	readyCh, readySub := c.hub.On(events.Ready)
	disconnectCh, discSub := c.hub.On(events.Disconnect)
	deathCh, deathSub := c.hub.On(events.Death)
	defer c.hub.Off(readySub)
	defer c.hub.Off(discSub)
	defer c.hub.Off(deathSub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		return nil
	case <-disconnectCh:
		return ipc.ErrReadyDisconnected
	case <-deathCh:
		return ipc.ErrReadyDied
	case <-timer.C:
		return ipc.ErrReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cluster) readLoop(tr ipc.Transport) {
	for env := range tr.Messages() {
		c.handleMessage(context.Background(), env)
	}
}

func (c *Cluster) watchExit(tr ipc.Transport) {
	info := <-tr.Exits()
	c.handleExit(info, true)
}

// Kill synchronously terminates the transport. If force, the heartbeat is
// cleared first so no auto-respawn follows (spec.md §4.4).
func (c *Cluster) Kill(force bool) error {
	c.mu.Lock()
	tr := c.transport
	if force {
		c.hb = nil
	}
	c.mu.Unlock()

	if tr == nil {
		return ipc.ErrNoChildExists
	}
	if err := tr.Kill(ipc.KillOptions{Force: force}); err != nil {
		return err
	}
	c.handleExit(ipc.ExitInfo{}, false)
	return nil
}

func (c *Cluster) handleExit(info ipc.ExitInfo, respawnEligible bool) {
	c.mu.Lock()
	c.transport = nil
	c.ready = false
	c.hb = nil
	c.mu.Unlock()
	c.clearPending()
	c.hub.Emit(events.Death, info)

	if respawnEligible && c.cfg.Respawn {
		go c.respawnAfterExit()
	}
}

// respawnAfterExit auto-respawns a child after an unsolicited transport
// exit, gated by the restart budget the same way the heartbeat watchdog is
// (spec.md §4.4 _handleExit(respawn=true), §176 "respawn: bool").
func (c *Cluster) respawnAfterExit() {
	allowed, err := c.RespawnIfBudgetAllows(context.Background(), 500*time.Millisecond, 30*time.Second)
	if err != nil {
		c.hub.Emit(events.Error, err)
		return
	}
	if !allowed {
		c.hub.Emit(events.ClusterDebug, fmt.Sprintf("cluster %d restart budget exhausted", c.cfg.ID))
	}
}

// Respawn kills (forcibly) then spawns again after delay.
func (c *Cluster) Respawn(ctx context.Context, delay, timeout time.Duration) error {
	_ = c.Kill(true)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Spawn(ctx, timeout)
}

// RespawnIfBudgetAllows applies the restart-budget gate before respawning,
// used by the heartbeat watchdog path (spec.md §4.3, §8 scenarios 2-3).
func (c *Cluster) RespawnIfBudgetAllows(ctx context.Context, delay, timeout time.Duration) (bool, error) {
	if !c.restarts.Allow() {
		return false, nil
	}
	return true, c.Respawn(ctx, delay, timeout)
}

// Send forwards message to the child transport as-is. A transport send
// failure is returned and also emitted as an events.Error.
func (c *Cluster) Send(ctx context.Context, env ipc.Envelope) error {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr == nil {
		return ipc.ErrNoChildExists
	}
	if err := tr.Send(ctx, env); err != nil {
		c.hub.Emit(events.Error, err)
		return err
	}
	return nil
}

func (c *Cluster) clearPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pendingEvals = make(map[string]chan evalResult)
	c.pendingFetches = make(map[string]chan evalResult)
}
