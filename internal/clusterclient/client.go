// Package clusterclient implements the child-side mirror of
// internal/cluster: the façade an embedded application uses to talk back
// to its manager and to other clusters (spec.md §4.7).
package clusterclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"clusterkit/internal/events"
	"clusterkit/internal/heartbeat"
	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
	"clusterkit/internal/scripthost"
)

// Config carries the bootstrap parameters read from the environment
// (process mode) or workerData (worker mode) per spec.md §6.1.
type Config struct {
	Mode              ipc.Mode
	ClusterID         int
	ClusterCount      int
	ShardList         []int
	TotalShards       int
	KeepAliveInterval time.Duration
	QueueMode         string
}

// FromEnv reads Config from the process environment, failing fast with
// ErrNoChildOrMasterOrBadMode if CLUSTER_MANAGER_MODE is missing or invalid
// (spec.md §6.1).
func FromEnv() (Config, error) {
	mode := ipc.Mode(os.Getenv("CLUSTER_MANAGER_MODE"))
	if mode != ipc.ModeProcess && mode != ipc.ModeWorker {
		return Config{}, ipc.ErrNoChildOrMasterOrBadMode
	}

	clusterID, err := strconv.Atoi(os.Getenv("CLUSTER"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CLUSTER: %w", err)
	}
	count, err := strconv.Atoi(os.Getenv("CLUSTER_COUNT"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CLUSTER_COUNT: %w", err)
	}
	totalShards, err := strconv.Atoi(os.Getenv("TOTAL_SHARDS"))
	if err != nil {
		return Config{}, fmt.Errorf("parse TOTAL_SHARDS: %w", err)
	}

	var shardList []int
	for _, s := range strings.Split(os.Getenv("SHARD_LIST"), ",") {
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, fmt.Errorf("parse SHARD_LIST entry %q: %w", s, err)
		}
		shardList = append(shardList, v)
	}

	intervalMS, _ := strconv.Atoi(os.Getenv("KEEP_ALIVE_INTERVAL"))

	return Config{
		Mode:              mode,
		ClusterID:         clusterID,
		ClusterCount:      count,
		ShardList:         shardList,
		TotalShards:       totalShards,
		KeepAliveInterval: time.Duration(intervalMS) * time.Millisecond,
		QueueMode:         os.Getenv("CLUSTER_QUEUE_MODE"),
	}, nil
}

// FirstShardID and LastShardID compute the bounds of ShardList (spec.md
// §6.1).
func (c Config) FirstShardID() int { return c.ShardList[0] }
func (c Config) LastShardID() int  { return c.ShardList[len(c.ShardList)-1] }

// Client is the child-side façade mirroring Cluster (spec.md §4.7).
type Client struct {
	cfg        Config
	transport  ipc.Transport
	reg        *registry.Registry
	scripts    scripthost.Host
	hub        *events.Hub
	appContext any

	mu    sync.RWMutex
	ready bool
	hb    *heartbeat.State

	pendingMu      sync.Mutex
	pendingEvals   map[string]chan evalResult
	pendingFetches map[string]chan evalResult

	ackMissed int
}

type evalResult struct {
	value any
	err   error
}

// New constructs a Client bound to transport (the parent-facing Transport,
// already spawned by the process-mode bootstrap) and appContext (the
// embedded application's state, resolved by scripthost.FetchProp/Eval).
func New(cfg Config, transport ipc.Transport, scripts scripthost.Host, appContext any) *Client {
	if scripts == nil {
		scripts = scripthost.NewWhitelistHost()
	}
	c := &Client{
		cfg:            cfg,
		transport:      transport,
		reg:            registry.New(),
		scripts:        scripts,
		hub:            events.NewHub(),
		appContext:     appContext,
		pendingEvals:   make(map[string]chan evalResult),
		pendingFetches: make(map[string]chan evalResult),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for env := range c.transport.Messages() {
		c.handleMessage(context.Background(), env)
	}
}

// ID returns this cluster's id.
func (c *Client) ID() int { return c.cfg.ClusterID }

// IDs returns the shard list owned by this cluster.
func (c *Client) IDs() []int { return c.cfg.ShardList }

// Count returns the total number of clusters in the fleet.
func (c *Client) Count() int { return c.cfg.ClusterCount }

// Ready reports whether this cluster has announced readiness.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// On subscribes to one event kind emitted by this client.
func (c *Client) On(kind events.Kind) (<-chan any, events.Subscription) { return c.hub.On(kind) }

// Off removes a subscription returned by On.
func (c *Client) Off(sub events.Subscription) { c.hub.Off(sub) }

// SignalReady announces readiness to the manager and starts the heartbeat
// producer if keepAlive is enabled (spec.md §4.7).
func (c *Client) SignalReady(ctx context.Context) error {
	c.mu.Lock()
	c.ready = true
	c.hb = heartbeat.NewState()
	c.mu.Unlock()

	env, err := ipc.New(ipc.KindReady, nil)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, env); err != nil {
		return err
	}
	if c.cfg.KeepAliveInterval > 0 {
		go c.produceHeartbeat(ctx)
	}
	return nil
}

// SignalDisconnect announces a disconnect to the manager.
func (c *Client) SignalDisconnect(ctx context.Context) error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	env, err := ipc.New(ipc.KindDisconnect, nil)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, env)
}

// SignalReconnecting announces a reconnect attempt to the manager.
func (c *Client) SignalReconnecting(ctx context.Context) error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	env, err := ipc.New(ipc.KindReconnecting, nil)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, env)
}

func (c *Client) produceHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			payload, _ := json.Marshal(struct {
				Last int64 `json:"last"`
			}{Last: now.UnixMilli()})
			env := ipc.Envelope{Kind: ipc.KindKeepAlive, Payload: payload}
			_ = c.transport.Send(ctx, env)
			c.checkAckWatchdog(now)
		}
	}
}

// checkAckWatchdog mirrors the manager-side scan on the child: if the gap
// since the last ack exceeds interval+2000ms, it logs and continues; at 5
// missed beats it tears down local heartbeat state without self-killing
// (spec.md §4.3, §9 Open Questions — preserve this exact, asymmetric
// behavior rather than "fixing" it to reconnect).
func (c *Client) checkAckWatchdog(now time.Time) {
	c.mu.Lock()
	hb := c.hb
	c.mu.Unlock()
	if hb == nil {
		return
	}
	if now.Sub(hb.LastAck()) <= c.cfg.KeepAliveInterval+2*time.Second {
		c.ackMissed = 0
		return
	}
	c.ackMissed++
	if c.ackMissed < 5 {
		c.hub.Emit(events.ClusterDebug, fmt.Sprintf("missed ack %d/5", c.ackMissed))
		return
	}
	c.mu.Lock()
	c.hb = nil
	c.mu.Unlock()
	c.ackMissed = 0
}

func (c *Client) clearPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pendingEvals = make(map[string]chan evalResult)
	c.pendingFetches = make(map[string]chan evalResult)
}
