package ipc_test

import (
	"context"
	"testing"
	"time"

	"clusterkit/internal/ipc"
)

var (
	_ ipc.Transport = (*ipc.ProcessTransport)(nil)
	_ ipc.Transport = (*ipc.WorkerTransport)(nil)
)

func echoWorker(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
	for {
		select {
		case env, ok := <-inbound:
			if !ok {
				return nil
			}
			reply := env
			reply.SReply = true
			outbound <- reply
		case <-ctx.Done():
			return nil
		}
	}
}

func TestWorkerTransportRoundTrip(t *testing.T) {
	tr := ipc.NewWorkerTransport(echoWorker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Spawn(ctx); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	req := ipc.Envelope{Kind: ipc.KindSEval, Nonce: "n1"}
	if err := tr.Send(ctx, req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-tr.Messages():
		if got.Nonce != "n1" || !got.SReply {
			t.Fatalf("unexpected reply: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWorkerTransportSpawnTwiceFails(t *testing.T) {
	tr := ipc.NewWorkerTransport(echoWorker)
	ctx := context.Background()
	if err := tr.Spawn(ctx); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := tr.Spawn(ctx); err != ipc.ErrProcessExists {
		t.Fatalf("second Spawn err: got %v want ErrProcessExists", err)
	}
}

func TestWorkerTransportKillFiresExit(t *testing.T) {
	tr := ipc.NewWorkerTransport(func(ctx context.Context, inbound <-chan ipc.Envelope, outbound chan<- ipc.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := tr.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := tr.Kill(ipc.KillOptions{}); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case info := <-tr.Exits():
		if info.Err == nil {
			t.Fatal("expected exit to carry the cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit")
	}
}
