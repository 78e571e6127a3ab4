package clustermanager

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"clusterkit/internal/cluster"
	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
	"clusterkit/internal/telemetry"
)

const defaultEvalTimeout = 10 * time.Second

// BroadcastEval evaluates script on one target cluster, or fans out to every
// registered cluster and aggregates results in cluster-id order; the first
// per-cluster error fails the whole call (spec.md §4.6).
func (m *Manager) BroadcastEval(ctx context.Context, script string, clusterID *int, timeout time.Duration, evalCtx any) (out []any, err error) {
	op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), "broadcastEval", "", -1)
	defer func() { op.End(err) }()

	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	if clusterID != nil {
		c, ok := m.Cluster(*clusterID)
		if !ok {
			return nil, ipc.ErrTargetClusterNotProvided
		}
		v, err := c.Eval(ctx, script, evalCtx, timeout)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}

	clusters := m.Clusters()
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID() < clusters[j].ID() })

	results := make([]any, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clusters {
		i, c := i, c
		g.Go(func() error {
			v, err := c.Eval(gctx, script, evalCtx, timeout)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchClientValues is BroadcastEval's analogue for fetchClientValue
// (spec.md §4.6).
func (m *Manager) FetchClientValues(ctx context.Context, prop string, clusterID *int, timeout time.Duration) ([]any, error) {
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	if clusterID != nil {
		c, ok := m.Cluster(*clusterID)
		if !ok {
			return nil, ipc.ErrTargetClusterNotProvided
		}
		v, err := c.FetchClientValue(ctx, prop, timeout)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}

	clusters := m.Clusters()
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID() < clusters[j].ID() })

	results := make([]any, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clusters {
		i, c := i, c
		g.Go(func() error {
			v, err := c.FetchClientValue(gctx, prop, timeout)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvalOnManager evaluates script in the manager's own trusted ScriptHost
// (spec.md §4.6).
func (m *Manager) EvalOnManager(ctx context.Context, script string) (any, error) {
	return m.scripts.Eval(ctx, script, m)
}

// EvalTargetOptions resolves a cross-cluster eval destination (spec.md
// §4.6).
type EvalTargetOptions struct {
	Cluster *int
	Shard   *int
	GuildID *int64
	Timeout time.Duration
}

// resolveTarget implements the target resolution order from spec.md §4.6:
// explicit cluster → shard lookup → guild-derived shard → shard lookup.
func (m *Manager) resolveTarget(opts EvalTargetOptions) (int, error) {
	if opts.Cluster != nil {
		if _, ok := m.Cluster(*opts.Cluster); ok {
			return *opts.Cluster, nil
		}
		return 0, ipc.ErrTargetClusterNotProvided
	}
	if opts.Shard != nil {
		if id, ok := m.shardMap[*opts.Shard]; ok {
			return id, nil
		}
		return 0, ipc.ErrTargetClusterNotProvided
	}
	if opts.GuildID != nil {
		shard := int((*opts.GuildID >> 22)) % m.cfg.TotalShards
		if id, ok := m.shardMap[shard]; ok {
			return id, nil
		}
	}
	return 0, ipc.ErrTargetClusterNotProvided
}

// EvalOnCluster resolves a target cluster and routes script to it,
// returning once the target's reply has been forwarded back (spec.md
// §4.6). requestCluster should be -1 for manager-originated calls.
func (m *Manager) EvalOnCluster(ctx context.Context, script string, opts EvalTargetOptions, requestCluster int) (any, error) {
	targetID, err := m.resolveTarget(opts)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}

	nonce := registry.NewNonce()
	waiter := m.reg.Register(nonce, 1, requestCluster)
	target := cluster.ClusterTarget{ClusterID: &targetID}
	if err := m.sendClusterEvalRequest(ctx, nonce, script, target, timeout); err != nil {
		m.reg.Forget(nonce)
		return nil, err
	}

	results, err := waiter.Wait(ctx, timeout)
	if err != nil {
		m.reg.Forget(nonce)
		return nil, err
	}
	var rp struct {
		Result any `json:"result,omitempty"`
	}
	if results[0].Error != nil {
		return nil, results[0].Error
	}
	_ = results[0].Decode(&rp)
	return rp.Result, nil
}

// EvalOnClusterWithNonce implements cluster.ManagerFacade — it is the same
// routing as EvalOnCluster, but reuses the caller-supplied nonce rather
// than minting a new one (spec.md §4.4 _sClusterEval "preserving nonce").
func (m *Manager) EvalOnClusterWithNonce(ctx context.Context, nonce, script string, target cluster.ClusterTarget, requestCluster int) error {
	targetID, err := m.resolveTarget(EvalTargetOptions{Cluster: target.ClusterID, Shard: target.ShardID, GuildID: target.GuildID})
	if err != nil {
		return err
	}
	m.reg.Register(nonce, 1, requestCluster)
	return m.sendClusterEvalRequest(ctx, nonce, script, cluster.ClusterTarget{ClusterID: &targetID}, defaultEvalTimeout)
}

func (m *Manager) sendClusterEvalRequest(ctx context.Context, nonce, script string, target cluster.ClusterTarget, timeout time.Duration) error {
	if target.ClusterID == nil {
		return ipc.ErrTargetClusterNotProvided
	}
	c, ok := m.Cluster(*target.ClusterID)
	if !ok {
		return ipc.ErrTargetClusterNotProvided
	}
	payload, err := json.Marshal(struct {
		Script    string `json:"script"`
		TimeoutMS int64  `json:"timeoutMs"`
	}{Script: script, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return err
	}
	return c.Send(ctx, ipc.Envelope{Kind: ipc.KindSClusterEvalRequest, Nonce: nonce, Payload: payload})
}

// FanOutFetch implements cluster.ManagerFacade — a child asked its own
// Cluster conduit to fetch a value across the fleet on its behalf (spec.md
// §4.4 _sFetchProp). The aggregated list is returned as a single value.
func (m *Manager) FanOutFetch(ctx context.Context, prop string, clusterID *int, timeout time.Duration) (any, error) {
	results, err := m.FetchClientValues(ctx, prop, clusterID, timeout)
	if err != nil {
		return nil, err
	}
	if clusterID != nil && len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// FanOutEval implements cluster.ManagerFacade (spec.md §4.4 _sEval).
func (m *Manager) FanOutEval(ctx context.Context, script string, clusterID *int, timeout time.Duration, evalCtx any) (any, error) {
	results, err := m.BroadcastEval(ctx, script, clusterID, timeout, evalCtx)
	if err != nil {
		return nil, err
	}
	if clusterID != nil && len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}
