package scripthost_test

import (
	"context"
	"testing"

	"clusterkit/internal/ipc"
	"clusterkit/internal/scripthost"
)

func TestWhitelistHostDispatchesRegisteredOp(t *testing.T) {
	h := scripthost.NewWhitelistHost()
	h.Register("ping", func(ctx context.Context, context any) (any, error) {
		return "pong", nil
	})

	got, err := h.Eval(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != "pong" {
		t.Fatalf("got %v want pong", got)
	}
}

func TestWhitelistHostRejectsUnknownOp(t *testing.T) {
	h := scripthost.NewWhitelistHost()
	if _, err := h.Eval(context.Background(), "nope", nil); err != ipc.ErrInvalidScript {
		t.Fatalf("err: got %v want ErrInvalidScript", err)
	}
}

func TestWhitelistHostFetchPropDottedPath(t *testing.T) {
	h := scripthost.NewWhitelistHost()
	ctxValue := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": 42,
			},
		},
	}
	got, err := h.FetchProp(context.Background(), "a.b.c", ctxValue)
	if err != nil {
		t.Fatalf("FetchProp: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %v want 42", got)
	}
}

func TestExprHostEvaluatesArithmetic(t *testing.T) {
	h := scripthost.NewExprHost()
	got, err := h.Eval(context.Background(), "1+1", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != float64(2) {
		t.Fatalf("got %v want 2", got)
	}
}

func TestExprHostFetchPropDottedPath(t *testing.T) {
	h := scripthost.NewExprHost()
	ctxValue := map[string]any{"a": map[string]any{"b": map[string]any{"c": "found"}}}
	got, err := h.FetchProp(context.Background(), "a.b.c", ctxValue)
	if err != nil {
		t.Fatalf("FetchProp: %v", err)
	}
	if got != "found" {
		t.Fatalf("got %v want found", got)
	}
}
