package cluster

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"

	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
	"clusterkit/internal/telemetry"
)

// defaultRequestTimeout is the ClusterClient/Cluster default per spec.md
// §4.7 ("timeouts default to 10000 ms").
const defaultRequestTimeout = 10 * time.Second

// evalPayload is the wire shape for eval requests (script + opaque
// context), serialized into Envelope.Payload.
type evalPayload struct {
	Script  string          `json:"script"`
	Context json.RawMessage `json:"context,omitempty"`
}

type fetchPayload struct {
	Prop string `json:"prop"`
}

type resultPayload struct {
	Result any `json:"result,omitempty"`
}

// Eval asks the child to evaluate script against context, memoizing
// in-flight calls by the exact script string (spec.md §4.4 — first caller's
// timeout wins for a collapsed duplicate).
func (c *Cluster) Eval(ctx context.Context, script string, evalCtx any, timeout time.Duration) (result any, err error) {
	ch, existing := c.joinPending(c.pendingEvals, script)
	if existing {
		op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), ipc.KindEval+".joined", "", c.ID())
		result, err = awaitEval(ctx, ch, ipc.ErrBroadcastEvalRequestTimedOut, timeout)
		op.End(err)
		return result, err
	}

	ctxRaw, err := json.Marshal(evalCtx)
	if err != nil {
		c.resolvePending(c.pendingEvals, script, evalResult{err: err})
		return nil, err
	}
	payload, err := json.Marshal(evalPayload{Script: script, Context: ctxRaw})
	if err != nil {
		c.resolvePending(c.pendingEvals, script, evalResult{err: err})
		return nil, err
	}

	nonce := registry.NewNonce()
	op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), ipc.KindEval, nonce, c.ID())
	defer func() { op.End(err) }()

	waiter := c.reg.Register(nonce, 1, -1)
	env := ipc.Envelope{Kind: ipc.KindEval, Nonce: nonce, Payload: payload}
	if err = c.Send(op.Context(), env); err != nil {
		c.reg.Forget(nonce)
		c.resolvePending(c.pendingEvals, script, evalResult{err: err})
		return nil, err
	}

	go c.awaitAndDeliver(waiter, c.pendingEvals, script, timeout, ipc.ErrBroadcastEvalRequestTimedOut)

	result, err = awaitEval(ctx, ch, ipc.ErrBroadcastEvalRequestTimedOut, timeout)
	return result, err
}

// FetchClientValue asks the child to resolve a dotted property path,
// memoized by prop (spec.md §4.4 fetchClientValue).
func (c *Cluster) FetchClientValue(ctx context.Context, prop string, timeout time.Duration) (result any, err error) {
	ch, existing := c.joinPending(c.pendingFetches, prop)
	if existing {
		op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), ipc.KindFetchProp+".joined", "", c.ID())
		result, err = awaitEval(ctx, ch, ipc.ErrBroadcastEvalRequestTimedOut, timeout)
		op.End(err)
		return result, err
	}

	payload, err := json.Marshal(fetchPayload{Prop: prop})
	if err != nil {
		c.resolvePending(c.pendingFetches, prop, evalResult{err: err})
		return nil, err
	}

	nonce := registry.NewNonce()
	op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), ipc.KindFetchProp, nonce, c.ID())
	defer func() { op.End(err) }()

	waiter := c.reg.Register(nonce, 1, -1)
	env := ipc.Envelope{Kind: ipc.KindFetchProp, Nonce: nonce, Payload: payload}
	if err = c.Send(op.Context(), env); err != nil {
		c.reg.Forget(nonce)
		c.resolvePending(c.pendingFetches, prop, evalResult{err: err})
		return nil, err
	}

	go c.awaitAndDeliver(waiter, c.pendingFetches, prop, timeout, ipc.ErrBroadcastEvalRequestTimedOut)

	result, err = awaitEval(ctx, ch, ipc.ErrBroadcastEvalRequestTimedOut, timeout)
	return result, err
}

// Request sends message as a custom `_sRequest`/reply exchange. Unlike Eval
// and FetchClientValue, a failure is swallowed into the resolved value
// rather than propagated as an error, so broadcast fan-out never
// short-circuits on one cluster's failure (spec.md §4.4, §9).
func (c *Cluster) Request(ctx context.Context, env ipc.Envelope, timeout time.Duration) (reply ipc.Envelope, err error) {
	nonce := registry.NewNonce()
	env.Nonce = nonce
	env.SRequest = true

	op := telemetry.StartRequest(ctx, otel.Tracer("clusterkit"), env.Kind, nonce, c.ID())
	defer func() { op.End(err) }()

	waiter := c.reg.Register(nonce, 1, -1)

	if sendErr := c.Send(op.Context(), env); sendErr != nil {
		c.reg.Forget(nonce)
		return ipc.ErrorReply(env.Kind, nonce, sendErr), nil
	}

	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	results, waitErr := waiter.Wait(ctx, timeout)
	if waitErr != nil {
		c.reg.Forget(nonce)
		err = waitErr
		return ipc.ErrorReply(env.Kind, nonce, ipc.ErrEvalRequestTimedOut), nil
	}
	return results[0], nil
}

func (c *Cluster) joinPending(table map[string]chan evalResult, key string) (chan evalResult, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if ch, ok := table[key]; ok {
		return ch, true
	}
	ch := make(chan evalResult, 1)
	table[key] = ch
	return ch, false
}

func (c *Cluster) resolvePending(table map[string]chan evalResult, key string, res evalResult) {
	c.pendingMu.Lock()
	ch, ok := table[key]
	if ok {
		delete(table, key)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- res
		close(ch)
	}
}

func (c *Cluster) awaitAndDeliver(waiter *registry.Waiter, table map[string]chan evalResult, key string, timeout time.Duration, timeoutErr error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	envs, err := waiter.Wait(context.Background(), timeout)
	if err != nil {
		c.resolvePending(table, key, evalResult{err: timeoutErr})
		return
	}
	env := envs[0]
	if env.Error != nil {
		c.resolvePending(table, key, evalResult{err: env.Error})
		return
	}
	var rp resultPayload
	if err := env.Decode(&rp); err != nil {
		c.resolvePending(table, key, evalResult{err: err})
		return
	}
	c.resolvePending(table, key, evalResult{value: rp.Result})
}

func awaitEval(ctx context.Context, ch chan evalResult, timeoutErr error, timeout time.Duration) (any, error) {
	select {
	case res, ok := <-ch:
		if !ok {
			return nil, timeoutErr
		}
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
