package controlapi_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"clusterkit/internal/controlapi"
)

type fakeBackend struct {
	respawnedAll bool
	respawnedOne int
}

func (f *fakeBackend) Status(ctx context.Context) (any, error) {
	return map[string]any{"clusters": 2}, nil
}

func (f *fakeBackend) BroadcastEval(ctx context.Context, script string, clusterID *int, timeout time.Duration) (any, error) {
	return []any{float64(2), float64(2)}, nil
}

func (f *fakeBackend) RespawnAll(ctx context.Context) error {
	f.respawnedAll = true
	return nil
}

func (f *fakeBackend) RespawnOne(ctx context.Context, clusterID int) error {
	f.respawnedOne = clusterID
	return nil
}

func startTestServer(t *testing.T, backend controlapi.Backend) (string, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	srv := controlapi.NewServer(path, backend)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)

	return path, func() {
		cancel()
		<-done
	}
}

func TestStatusRoundTrip(t *testing.T) {
	path, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	client := controlapi.NewClient(path)
	resp, err := client.Call(context.Background(), controlapi.Request{Op: "status"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response, got %+v", resp)
	}
}

func TestRespawnAllInvokesBackend(t *testing.T) {
	backend := &fakeBackend{}
	path, stop := startTestServer(t, backend)
	defer stop()

	client := controlapi.NewClient(path)
	resp, err := client.Call(context.Background(), controlapi.Request{Op: "respawnAll"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || !backend.respawnedAll {
		t.Fatalf("expected respawnAll to be invoked, resp=%+v", resp)
	}
}

func TestUnknownOpReturnsError(t *testing.T) {
	path, stop := startTestServer(t, &fakeBackend{})
	defer stop()

	client := controlapi.NewClient(path)
	resp, err := client.Call(context.Background(), controlapi.Request{Op: "bogus"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected error response for unknown op, got %+v", resp)
	}
}
