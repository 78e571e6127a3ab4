package ipc_test

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"clusterkit/internal/ipc"
)

var _ ipc.Transport = (*ipc.StdioTransport)(nil)

func TestStdioTransportDecodesInboundLines(t *testing.T) {
	in := strings.NewReader(`{"kind":"_ready"}` + "\n")
	var out bytes.Buffer
	tr := ipc.NewStdioTransportWith(in, &out)

	ctx := context.Background()
	if err := tr.Spawn(ctx); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case env := <-tr.Messages():
		if env.Kind != ipc.KindReady {
			t.Fatalf("Kind: got %q want %q", env.Kind, ipc.KindReady)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded message")
	}
}

func TestStdioTransportSendWritesFramedLine(t *testing.T) {
	var out bytes.Buffer
	tr := ipc.NewStdioTransportWith(strings.NewReader(""), &out)

	env, err := ipc.New(ipc.KindKeepAlive, nil)
	if err != nil {
		t.Fatalf("New envelope: %v", err)
	}
	if err := tr.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatal("expected one written line")
	}
	if !strings.Contains(scanner.Text(), ipc.KindKeepAlive) {
		t.Fatalf("written line missing kind: %s", scanner.Text())
	}
}
