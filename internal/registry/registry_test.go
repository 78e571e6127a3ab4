package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"clusterkit/internal/ipc"
	"clusterkit/internal/registry"
)

func TestResolveWakesWaiter(t *testing.T) {
	r := registry.New()
	nonce := registry.NewNonce()
	w := r.Register(nonce, 1, -1)

	go func() {
		r.Resolve(ipc.Envelope{Nonce: nonce, Kind: ipc.KindSEval, SReply: true})
	}()

	results, err := w.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results: got %d want 1", len(results))
	}
}

func TestWaitTimesOutWithoutReply(t *testing.T) {
	r := registry.New()
	nonce := registry.NewNonce()
	w := r.Register(nonce, 1, -1)

	_, err := w.Wait(context.Background(), 10*time.Millisecond)
	if err != ipc.ErrEvalRequestTimedOut {
		t.Fatalf("err: got %v want ErrEvalRequestTimedOut", err)
	}
}

func TestWaiterCollectsFanOutLimit(t *testing.T) {
	r := registry.New()
	nonce := registry.NewNonce()
	w := r.Register(nonce, 3, -1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(ipc.Envelope{Nonce: nonce, SReply: true})
		}()
	}
	wg.Wait()

	results, err := w.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d want 3", len(results))
	}
}

func TestPopRemovesWaiterForForwarding(t *testing.T) {
	r := registry.New()
	nonce := registry.NewNonce()
	r.Register(nonce, 1, 2)

	w, ok := r.Pop(nonce)
	if !ok {
		t.Fatal("expected waiter to be present")
	}
	if w.RequestCluster() != 2 {
		t.Fatalf("RequestCluster: got %d want 2", w.RequestCluster())
	}
	if r.Len() != 0 {
		t.Fatalf("Len after Pop: got %d want 0", r.Len())
	}
}

func TestResolveReportsUnmatchedNonce(t *testing.T) {
	r := registry.New()
	if r.Resolve(ipc.Envelope{Nonce: "unknown"}) {
		t.Fatal("expected Resolve to report false for unknown nonce")
	}
}
