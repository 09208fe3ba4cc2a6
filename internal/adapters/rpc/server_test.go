package rpc_test

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/adapters/rpc"
	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/test/helpers"
)

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  interface{}     `json:"params,omitempty"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newTestServer(t *testing.T) (*rpc.Server, string) {
	t.Helper()
	clock := shared.NewMockClock(time.Now())
	db := helpers.NewTestDB(t)
	repo := persistence.NewContainerRepository(db, clock)
	logs := persistence.NewGormContainerLogRepository(db, clock)
	assignRepo := persistence.NewShipAssignmentRepository(db, clock)
	assignments := container.NewShipAssignmentManager(assignRepo, clock)

	registry := container.NewExecutorRegistry()
	registry.Register(container.CommandNavigateShip, container.ExecutorFunc(
		func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
			<-ctx.Done()
			return 0, "stopped", nil
		}))

	mgr := containers.NewManager(repo, logs, assignments, assignRepo, registry, clock, 2*time.Second)

	socketPath := filepath.Join(t.TempDir(), "opdaemon.sock")
	server := rpc.NewServer(socketPath, 2*time.Second, mgr)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(server.Stop)

	return server, socketPath
}

func call(t *testing.T, socketPath, method string, params interface{}) rpcEnvelope {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	req := rpcEnvelope{JSONRPC: "2.0", Method: method, Params: params, ID: "1"}
	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp rpcEnvelope
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestServer_HealthCheck(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "health_check", nil)
	require.Nil(t, resp.Error)

	var result struct {
		Status           string `json:"status"`
		ActiveContainers int    `json:"active_containers"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 0, result.ActiveContainers)
}

func TestServer_UnknownMethod(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := call(t, socketPath, "no_such_method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestServer_CreateThenInspectThenStop(t *testing.T) {
	_, socketPath := newTestServer(t)

	createResp := call(t, socketPath, "container.create", map[string]interface{}{
		"player_id":      1,
		"container_type": "NavigateShip",
		"config":         map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.Nil(t, createResp.Error)

	var created struct {
		ContainerID string `json:"container_id"`
	}
	require.NoError(t, json.Unmarshal(createResp.Result, &created))
	require.NotEmpty(t, created.ContainerID)

	deadline := time.Now().Add(time.Second)
	var inspectResp rpcEnvelope
	for time.Now().Before(deadline) {
		inspectResp = call(t, socketPath, "inspect_container", map[string]interface{}{
			"container_id": created.ContainerID,
			"player_id":    1,
		})
		require.Nil(t, inspectResp.Error)
		var detail struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(inspectResp.Result, &detail))
		if detail.Status == "RUNNING" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopResp := call(t, socketPath, "stop_container", map[string]interface{}{
		"container_id": created.ContainerID,
		"player_id":    1,
	})
	require.Nil(t, stopResp.Error)

	var ok struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(stopResp.Result, &ok))
	assert.True(t, ok.OK)
}

func TestServer_CreateMissingRequiredParam(t *testing.T) {
	_, socketPath := newTestServer(t)

	resp := call(t, socketPath, "container.create", map[string]interface{}{
		"player_id": 1,
		// container_type omitted
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestServer_StopUnknownContainer(t *testing.T) {
	_, socketPath := newTestServer(t)

	resp := call(t, socketPath, "stop_container", map[string]interface{}{
		"container_id": "does-not-exist",
		"player_id":    1,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeHandlerError, resp.Error.Code)
}

func TestServer_ListContainers_EmptyInitially(t *testing.T) {
	_, socketPath := newTestServer(t)

	resp := call(t, socketPath, "list_containers", map[string]interface{}{})
	require.Nil(t, resp.Error)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	assert.Empty(t, rows)
}
