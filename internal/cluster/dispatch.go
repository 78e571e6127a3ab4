package cluster

import (
	"context"
	"encoding/json"
	"time"

	"clusterkit/internal/events"
	"clusterkit/internal/ipc"
)

// IPCMessage is the payload emitted on events.Message for any inbound
// envelope that matches none of the known discriminators (spec.md §4.4
// "otherwise" branch).
type IPCMessage struct {
	Envelope ipc.Envelope
}

// handleMessage is the dispatch table from spec.md §4.4. First match wins;
// branches are mutually exclusive.
func (c *Cluster) handleMessage(ctx context.Context, env ipc.Envelope) {
	switch env.Kind {
	case ipc.KindReady:
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.hub.Emit(events.Ready, c.cfg.ID)

	case ipc.KindDisconnect:
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
		c.hub.Emit(events.Disconnect, c.cfg.ID)

	case ipc.KindReconnecting:
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
		c.hub.Emit(events.Reconnecting, c.cfg.ID)

	case ipc.KindKeepAlive:
		c.handleKeepAlive(ctx, env)

	case ipc.KindSFetchProp:
		c.handleFanOutFetch(ctx, env)

	case ipc.KindSEval:
		c.handleFanOutEval(ctx, env)

	case ipc.KindSManagerEval:
		c.handleManagerEval(ctx, env)

	case ipc.KindSClusterEval:
		c.handleClusterEval(ctx, env)

	case ipc.KindSClusterEvalResponse, ipc.KindSManagerEvalResponse:
		c.handleClusterEvalResponse(ctx, env)

	case ipc.KindSRespawnAll:
		_ = c.manager.RespawnAll(ctx)

	case ipc.KindSpawnNextCluster:
		_ = c.manager.AdvanceSpawnQueue()

	case ipc.KindSCustom:
		if env.SReply {
			c.reg.Resolve(env)
		} else if env.SRequest {
			c.hub.Emit(events.ClientRequest, env)
		}

	default:
		// Eval/FetchClientValue replies come back as "<kind>Response" (see
		// clusterclient.Client.reply), a kind this table doesn't catalog, so
		// match purely on nonce before falling back to a generic message
		// event (symmetric to clusterclient's default dispatch case).
		if env.SReply && c.reg.Resolve(env) {
			return
		}
		c.hub.Emit(events.Message, IPCMessage{Envelope: env})
	}
}

func (c *Cluster) handleKeepAlive(ctx context.Context, env ipc.Envelope) {
	c.mu.Lock()
	hb := c.hb
	c.mu.Unlock()
	if hb != nil {
		hb.RecordAck(time.Now())
	}
	ack, err := ipc.New(ipc.KindAck, nil)
	if err != nil {
		return
	}
	if err := c.Send(ctx, ack); err != nil {
		c.hub.Emit(events.Error, ipc.ErrAckDeliveryFailed)
	}
}

type fanOutRequest struct {
	Prop      string `json:"prop,omitempty"`
	Script    string `json:"script,omitempty"`
	ClusterID *int   `json:"clusterId,omitempty"`
	TimeoutMS int64  `json:"timeoutMs,omitempty"`
}

func (c *Cluster) handleFanOutFetch(ctx context.Context, env ipc.Envelope) {
	var req fanOutRequest
	_ = env.Decode(&req)
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result, err := c.manager.FanOutFetch(ctx, req.Prop, req.ClusterID, timeout)
	c.replyResult(ctx, env, result, err)
}

func (c *Cluster) handleFanOutEval(ctx context.Context, env ipc.Envelope) {
	var req fanOutRequest
	_ = env.Decode(&req)
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result, err := c.manager.FanOutEval(ctx, req.Script, req.ClusterID, timeout, nil)
	c.replyResult(ctx, env, result, err)
}

func (c *Cluster) handleManagerEval(ctx context.Context, env ipc.Envelope) {
	var req fanOutRequest
	_ = env.Decode(&req)
	result, err := c.manager.EvalOnManager(ctx, req.Script)
	if err != nil {
		_ = c.Send(ctx, ipc.ErrorReply(ipc.KindSManagerEvalResponse, env.Nonce, err))
		return
	}
	payload, mErr := json.Marshal(resultPayload{Result: result})
	if mErr != nil {
		_ = c.Send(ctx, ipc.ErrorReply(ipc.KindSManagerEvalResponse, env.Nonce, mErr))
		return
	}
	_ = c.Send(ctx, ipc.Envelope{Kind: ipc.KindSManagerEvalResponse, Nonce: env.Nonce, SReply: true, Payload: payload})
}

func (c *Cluster) handleClusterEval(ctx context.Context, env ipc.Envelope) {
	var req fanOutRequest
	_ = env.Decode(&req)
	target := ClusterTarget{ClusterID: req.ClusterID}
	if err := c.manager.EvalOnClusterWithNonce(ctx, env.Nonce, req.Script, target, c.cfg.ID); err != nil {
		c.replyResult(ctx, env, nil, err)
	}
}

// handleClusterEvalResponse resolves the local waiter for this nonce (if
// present) and, when the waiter was registered on behalf of another
// cluster, forwards the envelope onward so it reaches the original caller
// (spec.md §4.4 _sClusterEvalResponse, §8 scenario 4).
func (c *Cluster) handleClusterEvalResponse(ctx context.Context, env ipc.Envelope) {
	waiter, ok := c.reg.Pop(env.Nonce)
	if !ok {
		return
	}
	waiter.Deliver(env)
	if rc := waiter.RequestCluster(); rc >= 0 {
		_ = c.manager.ForwardToCluster(ctx, rc, env)
	}
}

// replyResult answers a fan-out request (_sFetchProp, _sEval) with the same
// Kind the request carried, flagged as a reply — these two kinds have no
// distinct response discriminator in spec.md §6.3, so the client side
// matches purely on nonce (see clusterclient's default dispatch case).
func (c *Cluster) replyResult(ctx context.Context, req ipc.Envelope, result any, err error) {
	if err != nil {
		_ = c.Send(ctx, ipc.ErrorReply(req.Kind, req.Nonce, err))
		return
	}
	payload, mErr := json.Marshal(resultPayload{Result: result})
	if mErr != nil {
		_ = c.Send(ctx, ipc.ErrorReply(req.Kind, req.Nonce, mErr))
		return
	}
	_ = c.Send(ctx, ipc.Envelope{Kind: req.Kind, Nonce: req.Nonce, SReply: true, Payload: payload})
}
