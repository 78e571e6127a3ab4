package clusterclient

import (
	"context"
	"encoding/json"
	"time"

	"clusterkit/internal/events"
	"clusterkit/internal/ipc"
)

type evalRequestPayload struct {
	Prop      string          `json:"prop,omitempty"`
	Script    string          `json:"script,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	TimeoutMS int64           `json:"timeoutMs,omitempty"`
}

type resultPayload struct {
	Result any `json:"result,omitempty"`
}

// handleMessage is the child-side dispatch table, symmetric to
// internal/cluster's manager-side table (spec.md §4.7).
func (c *Client) handleMessage(ctx context.Context, env ipc.Envelope) {
	switch env.Kind {
	case ipc.KindFetchProp:
		c.handleFetchProp(ctx, env)

	case ipc.KindEval:
		c.handleEval(ctx, env)

	case ipc.KindSClusterEvalRequest:
		c.handleClusterEvalRequest(ctx, env)

	case ipc.KindSClusterEvalResponse, ipc.KindSManagerEvalResponse:
		c.reg.Resolve(env)

	case ipc.KindAck:
		c.mu.Lock()
		hb := c.hb
		c.mu.Unlock()
		if hb != nil {
			hb.RecordAck(time.Now())
		}

	case ipc.KindSCustom:
		if env.SReply {
			c.reg.Resolve(env)
		} else if env.SRequest {
			c.hub.Emit(events.ClientRequest, env)
		}

	default:
		// _sFetchProp and _sEval replies carry no distinct response kind
		// (spec.md §6.3 defines none), so match purely on nonce before
		// falling back to a generic message event.
		if env.SReply && c.reg.Resolve(env) {
			return
		}
		c.hub.Emit(events.Message, env)
	}
}

func (c *Client) handleFetchProp(ctx context.Context, env ipc.Envelope) {
	var req evalRequestPayload
	_ = env.Decode(&req)
	v, err := c.scripts.FetchProp(ctx, req.Prop, c.appContext)
	c.reply(ctx, env, v, err)
}

func (c *Client) handleEval(ctx context.Context, env ipc.Envelope) {
	var req evalRequestPayload
	_ = env.Decode(&req)
	v, err := c.scripts.Eval(ctx, req.Script, c.appContext)
	c.reply(ctx, env, v, err)
}

// handleClusterEvalRequest evaluates script locally and replies with
// _sClusterEvalResponse, tagging the reply with the incoming nonce so the
// manager's router can match it back to the waiter it registered (spec.md
// §4.4 _sClusterEvalResponse, §4.7).
func (c *Client) handleClusterEvalRequest(ctx context.Context, env ipc.Envelope) {
	var req evalRequestPayload
	_ = env.Decode(&req)
	v, err := c.scripts.Eval(ctx, req.Script, c.appContext)
	c.replyKind(ctx, ipc.KindSClusterEvalResponse, env.Nonce, v, err)
}

func (c *Client) reply(ctx context.Context, req ipc.Envelope, result any, err error) {
	c.replyKind(ctx, req.Kind+"Response", req.Nonce, result, err)
}

func (c *Client) replyKind(ctx context.Context, kind, nonce string, result any, err error) {
	if err != nil {
		_ = c.transport.Send(ctx, ipc.ErrorReply(kind, nonce, err))
		return
	}
	payload, mErr := json.Marshal(resultPayload{Result: result})
	if mErr != nil {
		_ = c.transport.Send(ctx, ipc.ErrorReply(kind, nonce, mErr))
		return
	}
	_ = c.transport.Send(ctx, ipc.Envelope{Kind: kind, Nonce: nonce, SReply: true, Payload: payload})
}
