package clustermanager_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clusterkit/internal/cluster"
	"clusterkit/internal/clustermanager"
	"clusterkit/internal/ipc"
)

func echoWorkerFactory(clusterID int, shardList []int) ipc.WorkerFunc {
	return func(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
		outbound <- ipc.Envelope{Kind: ipc.KindReady}
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
}

func newTestManager(t *testing.T, totalShards, totalClusters int) *clustermanager.Manager {
	t.Helper()
	cfg := clustermanager.Config{
		Mode:           ipc.ModeWorker,
		TotalShards:    totalShards,
		TotalClusters:  totalClusters,
		SpawnQueueMode: cluster.QueueAuto,
		SpawnDelay:     time.Millisecond,
		SpawnTimeout:   time.Second,
		WorkerFactory:  echoWorkerFactory,
	}
	m, err := clustermanager.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestSpawnStartsAllClusters(t *testing.T) {
	m := newTestManager(t, 4, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Spawn(ctx); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	for _, c := range m.Clusters() {
		if !c.Ready() {
			t.Fatalf("cluster %d not ready after spawn", c.ID())
		}
	}
}

func TestBroadcastEvalAggregatesAllClusters(t *testing.T) {
	m := newTestManager(t, 4, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Spawn(ctx); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	results, err := m.BroadcastEval(ctx, "1+1", nil, time.Second, nil)
	if err != nil {
		t.Fatalf("BroadcastEval: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d want 2", len(results))
	}
	for _, r := range results {
		if r != float64(2) {
			t.Fatalf("result: got %v want 2", r)
		}
	}
}
