package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"
)

// rpcRequest and rpcResponse mirror the wire shapes in internal/adapters/rpc,
// duplicated here rather than imported: the CLI is a separate process and
// only needs to speak the protocol, not own it.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      string      `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// DaemonClient dials the daemon's Unix socket once per call, per the
// transport's one-request-per-connection contract.
type DaemonClient struct {
	socketPath string
}

// NewDaemonClient builds a client for the daemon listening on socketPath.
// Unlike a long-lived gRPC connection, there is nothing to dial up front:
// each call opens its own connection.
func NewDaemonClient(socketPath string) (*DaemonClient, error) {
	return &DaemonClient{socketPath: socketPath}, nil
}

// Close is a no-op kept for symmetry with connection-oriented clients; every
// call already closes its own socket.
func (c *DaemonClient) Close() error { return nil }

// call opens a connection, sends one request, reads one response, and
// unmarshals its result into out (which may be nil).
func (c *DaemonClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: uuid.NewString()}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp rpcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
