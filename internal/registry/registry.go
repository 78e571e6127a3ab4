// Package registry implements the nonce-correlated request/reply waiter
// table shared by the manager and each cluster client (spec.md §3, §4.2).
// A single Registry instance is held by the ClusterManager and, separately,
// by each ClusterClient — never shared across that boundary, since they run
// in different processes.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"clusterkit/internal/ipc"
)

// NewNonce returns a fresh, globally unique request correlation id.
func NewNonce() string {
	return uuid.NewString()
}

// Waiter tracks one outstanding request. RequestCluster, when >= 0, records
// which cluster (by id) originated a cross-cluster eval request so the
// reply can be forwarded back to it instead of just resolved locally
// (spec.md §4.4, scenario 4).
type Waiter struct {
	nonce          string
	limit          int
	requestCluster int

	mu       sync.Mutex
	results  []ipc.Envelope
	done     chan struct{}
	resolved bool
}

func newWaiter(nonce string, limit, requestCluster int) *Waiter {
	if limit < 1 {
		limit = 1
	}
	return &Waiter{
		nonce:          nonce,
		limit:          limit,
		requestCluster: requestCluster,
		done:           make(chan struct{}),
	}
}

// RequestCluster returns the id of the cluster that originated this
// request, or -1 if it originated at the manager/client itself.
func (w *Waiter) RequestCluster() int { return w.requestCluster }

// Deliver records one reply directly against a waiter already removed from
// the registry via Pop, for callers that must inspect or forward the waiter
// (e.g. by RequestCluster) before completing it.
func (w *Waiter) Deliver(env ipc.Envelope) {
	w.insert(env)
}

// insert records one reply. Once the waiter has collected Limit replies it
// closes done, waking any Wait callers.
func (w *Waiter) insert(env ipc.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}
	w.results = append(w.results, env)
	if len(w.results) >= w.limit {
		w.resolved = true
		close(w.done)
	}
}

// Wait blocks until either Limit replies have arrived, ctx is cancelled, or
// timeout elapses (timeout <= 0 means no additional deadline beyond ctx).
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) ([]ipc.Envelope, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return append([]ipc.Envelope(nil), w.results...), nil
	case <-timeoutCh:
		return nil, ipc.ErrEvalRequestTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry is a mutex-guarded table of in-flight Waiters keyed by nonce.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{waiters: make(map[string]*Waiter)}
}

// Register creates and stores a Waiter expecting `limit` replies (every
// caller in this module passes 1). requestCluster should be -1
// unless this request was forwarded on behalf of a cluster child.
func (r *Registry) Register(nonce string, limit, requestCluster int) *Waiter {
	w := newWaiter(nonce, limit, requestCluster)
	r.mu.Lock()
	r.waiters[nonce] = w
	r.mu.Unlock()
	return w
}

// Resolve delivers env to the waiter registered under env.Nonce, if any. It
// reports whether a waiter was found — callers use this to decide whether
// an unmatched reply should be logged as stray.
func (r *Registry) Resolve(env ipc.Envelope) bool {
	r.mu.Lock()
	w, ok := r.waiters[env.Nonce]
	r.mu.Unlock()
	if !ok {
		return false
	}
	w.insert(env)
	return true
}

// Pop removes and returns the waiter for nonce without resolving it, used
// when forwarding a cross-cluster reply rather than completing it locally.
func (r *Registry) Pop(nonce string) (*Waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.waiters[nonce]
	if ok {
		delete(r.waiters, nonce)
	}
	return w, ok
}

// Forget removes the waiter for nonce, e.g. after it times out, so a late
// reply is treated as stray rather than re-resolving a finished request.
func (r *Registry) Forget(nonce string) {
	r.mu.Lock()
	delete(r.waiters, nonce)
	r.mu.Unlock()
}

// Len reports the number of in-flight waiters, for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
