package cluster_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clusterkit/internal/cluster"
	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
)

type fakeFacade struct{}

func (fakeFacade) ForwardToCluster(ctx context.Context, id int, env ipc.Envelope) error { return nil }
func (fakeFacade) FanOutFetch(ctx context.Context, prop string, clusterID *int, timeout time.Duration) (any, error) {
	return nil, nil
}
func (fakeFacade) FanOutEval(ctx context.Context, script string, clusterID *int, timeout time.Duration, evalCtx any) (any, error) {
	return nil, nil
}
func (fakeFacade) EvalOnManager(ctx context.Context, script string) (any, error) { return nil, nil }
func (fakeFacade) EvalOnClusterWithNonce(ctx context.Context, nonce, script string, target cluster.ClusterTarget, requestCluster int) error {
	return nil
}
func (fakeFacade) RespawnAll(ctx context.Context) error { return nil }
func (fakeFacade) AdvanceSpawnQueue() error              { return nil }

func echoEvalWorker(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
	for {
		select {
		case env, ok := <-inbound:
			if !ok {
				return nil
			}
			switch env.Kind {
			case ipc.KindEval:
				payload, _ := json.Marshal(struct {
					Result any `json:"result"`
				}{Result: float64(2)})
				outbound <- ipc.Envelope{Kind: ipc.KindSClusterEvalResponse, Nonce: env.Nonce, SReply: true, Payload: payload}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func newTestCluster(t *testing.T, worker func(context.Context, <-chan ipc.Envelope, chan<- ipc.Envelope) error) *cluster.Cluster {
	t.Helper()
	reg := registry.New()
	cfg := cluster.Config{
		ID:          0,
		ShardList:   []int{0},
		TotalShards: 1,
		NewTransport: func(cluster.Config) (ipc.Transport, error) {
			return ipc.NewWorkerTransport(worker), nil
		},
	}
	return cluster.New(cfg, fakeFacade{}, reg)
}

func TestSpawnWaitsForReady(t *testing.T) {
	c := newTestCluster(t, func(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
		outbound <- ipc.Envelope{Kind: ipc.KindReady}
		<-ctx.Done()
		return nil
	})

	if err := c.Spawn(context.Background(), time.Second); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !c.Ready() {
		t.Fatal("expected cluster to be ready")
	}
}

func TestSpawnRejectsOnDisconnectBeforeReady(t *testing.T) {
	c := newTestCluster(t, func(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
		outbound <- ipc.Envelope{Kind: ipc.KindDisconnect}
		<-ctx.Done()
		return nil
	})

	err := c.Spawn(context.Background(), time.Second)
	if err != ipc.ErrReadyDisconnected {
		t.Fatalf("err: got %v want ErrReadyDisconnected", err)
	}
}

func TestSpawnTimesOutWithoutReady(t *testing.T) {
	c := newTestCluster(t, func(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
		<-ctx.Done()
		return nil
	})

	err := c.Spawn(context.Background(), 20*time.Millisecond)
	if err != ipc.ErrReadyTimeout {
		t.Fatalf("err: got %v want ErrReadyTimeout", err)
	}
}
