package controlapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Client dials a control socket and issues one Request per call.
type Client struct {
	path string
}

// NewClient returns a Client bound to path (DefaultSocketPath when empty).
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocketPath()
	}
	return &Client{path: path}
}

// Call dials the socket, sends req, and returns the decoded Response.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, fmt.Errorf("dial control socket %q: %w", c.path, err)
	}
	defer conn.Close()

	raw, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("control socket closed without a response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
