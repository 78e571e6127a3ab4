// Package controlapi exposes a small operator control surface over a Unix
// domain socket: status, broadcastEval, and respawn operations against a
// running ClusterManager. The source's embedding application would dial
// this the way ployzd's cmd/ployzd/dialstdio.go proxies stdio to a Unix
// socket; here the protocol itself is newline-delimited JSON rather than
// gRPC (see DESIGN.md for why grpc/protobuf, which the teacher used for
// its own daemon control plane, was not carried over).
package controlapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// Request is one control-plane call.
type Request struct {
	Op        string `json:"op"`
	ClusterID *int   `json:"clusterId,omitempty"`
	Script    string `json:"script,omitempty"`
	Prop      string `json:"prop,omitempty"`
	TimeoutMS int64  `json:"timeoutMs,omitempty"`
}

// Response is one control-plane reply.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Backend is the subset of ClusterManager the control API drives.
type Backend interface {
	Status(ctx context.Context) (any, error)
	BroadcastEval(ctx context.Context, script string, clusterID *int, timeout time.Duration) (any, error)
	RespawnAll(ctx context.Context) error
	RespawnOne(ctx context.Context, clusterID int) error
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/clusterkit/control.sock,
// falling back to /tmp when XDG_RUNTIME_DIR is unset.
func DefaultSocketPath() string {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	return base + "/clusterkit/control.sock"
}

// Server listens on a Unix socket and answers Requests against Backend.
type Server struct {
	path    string
	backend Backend
	ln      net.Listener
}

// NewServer constructs a Server bound to path (DefaultSocketPath when
// empty).
func NewServer(path string, backend Backend) *Server {
	if path == "" {
		path = DefaultSocketPath()
	}
	return &Server{path: path, backend: backend}
}

// ListenAndServe accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on control socket %q: %w", s.path, err)
	}
	s.ln = ln
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Error: fmt.Sprintf("decode request: %v", err)})
			continue
		}
		_ = enc.Encode(s.dispatch(ctx, req))
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "status":
		result, err := s.backend.Status(ctx)
		return toResponse(result, err)

	case "broadcastEval":
		timeout := time.Duration(req.TimeoutMS) * time.Millisecond
		result, err := s.backend.BroadcastEval(ctx, req.Script, req.ClusterID, timeout)
		return toResponse(result, err)

	case "respawnAll":
		err := s.backend.RespawnAll(ctx)
		return toResponse(nil, err)

	case "respawnOne":
		if req.ClusterID == nil {
			return Response{Error: "respawnOne requires clusterId"}
		}
		err := s.backend.RespawnOne(ctx, *req.ClusterID)
		return toResponse(nil, err)

	default:
		return Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func toResponse(result any, err error) Response {
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{OK: true, Result: result}
}
