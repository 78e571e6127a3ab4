// Package scripthost replaces the source's "serialize a JS closure and eval
// it in the child" mechanism with a pluggable, statically-typed dispatch
// table — Go has no safe equivalent of Function#toString, so eval/fetchProp
// requests instead name an operation a Host recognizes (spec.md §4.8).
package scripthost

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"clusterkit/internal/ipc"
)

// Host evaluates a script string against some context value and returns a
// JSON-marshalable result.
type Host interface {
	Eval(ctx context.Context, script string, context any) (any, error)
	FetchProp(ctx context.Context, path string, context any) (any, error)
}

// Func is a named operation a WhitelistHost can dispatch to.
type Func func(ctx context.Context, context any) (any, error)

// WhitelistHost dispatches eval requests to a fixed, registered set of named
// operations — the production Host, since arbitrary code execution across
// the IPC boundary is out of scope (spec.md §1 Non-goals).
type WhitelistHost struct {
	ops map[string]Func
}

// NewWhitelistHost returns a Host with no registered operations.
func NewWhitelistHost() *WhitelistHost {
	return &WhitelistHost{ops: make(map[string]Func)}
}

// Register adds a named operation. Registering the same name twice
// overwrites the previous one.
func (h *WhitelistHost) Register(name string, fn Func) {
	h.ops[name] = fn
}

func (h *WhitelistHost) Eval(ctx context.Context, script string, context any) (any, error) {
	fn, ok := h.ops[strings.TrimSpace(script)]
	if !ok {
		return nil, ipc.ErrInvalidScript
	}
	return fn(ctx, context)
}

// FetchProp looks up a dotted path ("a.b.c") in context, which must be a
// map[string]any at each level traversed.
func (h *WhitelistHost) FetchProp(ctx context.Context, path string, context any) (any, error) {
	return fetchDottedPath(path, context)
}

// fetchDottedPath walks path segment by segment. A missing segment returns
// (nil, nil) rather than an error — spec.md §8 round-trip property:
// "fetchClientValue returns the value at that dotted path, or undefined if
// any segment is missing."
func fetchDottedPath(path string, context any) (any, error) {
	if path == "" {
		return context, nil
	}
	cur := context
	for _, part := range strings.Split(path, ".") {
		if cur == nil {
			return nil, nil
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		v, ok := m[part]
		if !ok {
			return nil, nil
		}
		cur = v
	}
	return cur, nil
}

// ExprHost evaluates a tiny restricted arithmetic grammar ("1+1",
// "2*21") and dotted-path lookups, standing in for the source's
// arbitrary-expression eval in tests where WhitelistHost's closed
// operation set would be too rigid to exercise.
type ExprHost struct{}

// NewExprHost returns an ExprHost.
func NewExprHost() *ExprHost { return &ExprHost{} }

func (ExprHost) Eval(ctx context.Context, script string, context any) (any, error) {
	script = strings.TrimSpace(script)
	for _, op := range []string{"+", "-", "*", "/"} {
		if idx := strings.Index(script, op); idx > 0 {
			lhs, err := strconv.ParseFloat(strings.TrimSpace(script[:idx]), 64)
			if err != nil {
				continue
			}
			rhs, err := strconv.ParseFloat(strings.TrimSpace(script[idx+1:]), 64)
			if err != nil {
				continue
			}
			switch op {
			case "+":
				return lhs + rhs, nil
			case "-":
				return lhs - rhs, nil
			case "*":
				return lhs * rhs, nil
			case "/":
				if rhs == 0 {
					return nil, fmt.Errorf("eval %q: division by zero", script)
				}
				return lhs / rhs, nil
			}
		}
	}
	if v, err := strconv.ParseFloat(script, 64); err == nil {
		return v, nil
	}
	return nil, ipc.ErrInvalidScript
}

func (ExprHost) FetchProp(ctx context.Context, path string, context any) (any, error) {
	return fetchDottedPath(path, context)
}
