package clusterclient

import (
	"context"
	"encoding/json"
	"time"

	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
)

// defaultTimeout is the ClusterClient default per spec.md §4.7 ("timeouts
// default to 10000 ms").
const defaultTimeout = 10 * time.Second

// Send forwards message to the manager as-is.
func (c *Client) Send(ctx context.Context, env ipc.Envelope) error {
	return c.transport.Send(ctx, env)
}

// BroadcastEval asks the manager to fan out script to all clusters (or one,
// when cluster is non-nil) via `_sEval` (spec.md §4.7).
func (c *Client) BroadcastEval(ctx context.Context, script string, clusterID *int, evalCtx any, timeout time.Duration) (any, error) {
	ctxRaw, err := json.Marshal(evalCtx)
	if err != nil {
		return nil, err
	}
	return c.request(ctx, ipc.KindSEval, evalRequestPayload{
		Script:    script,
		Context:   ctxRaw,
		TimeoutMS: timeout.Milliseconds(),
	}, clusterID, timeout)
}

// FetchClientValues asks the manager to fan out a fetchClientValue via
// `_sFetchProp` (spec.md §4.7).
func (c *Client) FetchClientValues(ctx context.Context, prop string, clusterID *int, timeout time.Duration) (any, error) {
	return c.request(ctx, ipc.KindSFetchProp, evalRequestPayload{Prop: prop}, clusterID, timeout)
}

// EvalOnManager evaluates script in the manager's trusted ScriptHost via
// `_sManagerEval` (spec.md §4.7).
func (c *Client) EvalOnManager(ctx context.Context, script string, timeout time.Duration) (any, error) {
	return c.request(ctx, ipc.KindSManagerEval, evalRequestPayload{Script: script}, nil, timeout)
}

// EvalOnCluster requests a cross-cluster eval via `_sClusterEval`; the
// manager tags requestCluster and routes the reply back here (spec.md
// §4.4, §4.7).
func (c *Client) EvalOnCluster(ctx context.Context, script string, clusterID *int, timeout time.Duration) (any, error) {
	return c.request(ctx, ipc.KindSClusterEval, evalRequestPayload{Script: script}, clusterID, timeout)
}

// request sends sendKind with payload and waits for the reply bearing the
// same nonce, regardless of what reply Kind the manager used — every reply
// path (same-kind for _sFetchProp/_sEval, or the named …Response kinds for
// _sManagerEval/_sClusterEval) ends in PromiseRegistry.Resolve keyed only
// by nonce.
func (c *Client) request(ctx context.Context, sendKind string, payload evalRequestPayload, clusterID *int, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if clusterID != nil {
		payload.TimeoutMS = timeout.Milliseconds()
	}
	raw, err := json.Marshal(struct {
		evalRequestPayload
		ClusterID *int `json:"clusterId,omitempty"`
	}{evalRequestPayload: payload, ClusterID: clusterID})
	if err != nil {
		return nil, err
	}

	nonce := registry.NewNonce()
	waiter := c.reg.Register(nonce, 1, -1)
	env := ipc.Envelope{Kind: sendKind, Nonce: nonce, Payload: raw}
	if err := c.transport.Send(ctx, env); err != nil {
		c.reg.Forget(nonce)
		return nil, err
	}

	results, err := waiter.Wait(ctx, timeout)
	if err != nil {
		c.reg.Forget(nonce)
		return nil, ipc.ErrEvalRequestTimedOut
	}
	reply := results[0]
	if reply.Error != nil {
		return nil, reply.Error
	}
	var rp resultPayload
	if err := reply.Decode(&rp); err != nil {
		return nil, err
	}
	return rp.Result, nil
}

// Request sends message as a custom `_sRequest`/reply exchange. As with
// Cluster.Request on the manager side, failures are swallowed into the
// resolved envelope rather than propagated (spec.md §4.4, §9).
func (c *Client) Request(ctx context.Context, env ipc.Envelope, timeout time.Duration) (ipc.Envelope, error) {
	nonce := registry.NewNonce()
	env.Nonce = nonce
	env.SRequest = true
	waiter := c.reg.Register(nonce, 1, -1)

	if err := c.transport.Send(ctx, env); err != nil {
		c.reg.Forget(nonce)
		return ipc.ErrorReply(env.Kind, nonce, err), nil
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	results, err := waiter.Wait(ctx, timeout)
	if err != nil {
		c.reg.Forget(nonce)
		return ipc.ErrorReply(env.Kind, nonce, ipc.ErrEvalRequestTimedOut), nil
	}
	return results[0], nil
}

// RespawnAll asks the manager to respawn the whole fleet via
// `_sRespawnAll`. Errors are ignored, matching the source's fire-and-forget
// contract (spec.md §4.4).
func (c *Client) RespawnAll(ctx context.Context) error {
	env, err := ipc.New(ipc.KindSRespawnAll, nil)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, env)
}

// SpawnNextCluster advances a manual-mode SpawnQueue via
// `_spawnNextCluster` (spec.md §4.5, §4.4).
func (c *Client) SpawnNextCluster(ctx context.Context) error {
	env, err := ipc.New(ipc.KindSpawnNextCluster, nil)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, env)
}
