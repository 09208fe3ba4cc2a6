package containers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/test/helpers"
)

func newTestManager(t *testing.T, clock shared.Clock, register func(*container.ExecutorRegistry)) (*containers.Manager, container.Repository, *container.ShipAssignmentManager) {
	t.Helper()
	db := helpers.NewTestDB(t)
	repo := persistence.NewContainerRepository(db, clock)
	logs := persistence.NewGormContainerLogRepository(db, clock)
	assignRepo := persistence.NewShipAssignmentRepository(db, clock)
	assignments := container.NewShipAssignmentManager(assignRepo, clock)

	registry := container.NewExecutorRegistry()
	if register != nil {
		register(registry)
	}

	mgr := containers.NewManager(repo, logs, assignments, assignRepo, registry, clock, 2*time.Second)
	return mgr, repo, assignments
}

// blockingExecutor runs until its context is cancelled, then returns exit 0.
func blockingExecutor() container.ExecutorFunc {
	return func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		<-ctx.Done()
		return 0, "stopped", nil
	}
}

// immediateExecutor returns instantly with the given outcome.
func immediateExecutor(exitCode int, summary string, err error) container.ExecutorFunc {
	return func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		return exitCode, summary, err
	}
}

func waitForStatus(t *testing.T, mgr *containers.Manager, id string, playerID int, want container.Status) *container.Container {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := mgr.Get(context.Background(), id, playerID)
		require.NoError(t, err)
		if c != nil && c.Status() == want {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("container %s did not reach status %s in time", id, want)
	return nil
}

func TestManager_Create_RunsToCompletion(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, _ := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, immediateExecutor(0, "arrived", nil))
	})

	id, status, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1", "destination": "X1-GZ7-B1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, container.StatusStarting, status)

	c := waitForStatus(t, mgr, id, 1, container.StatusStopped)
	require.NotNil(t, c.ExitCode())
	assert.Equal(t, 0, *c.ExitCode())
}

func TestManager_Create_FailingExecutorKeepsShipLock(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, assignments := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, immediateExecutor(1, "nav failed", nil))
	})

	id, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err)

	c := waitForStatus(t, mgr, id, 1, container.StatusFailed)
	require.NotNil(t, c.ExitCode())
	assert.Equal(t, 1, *c.ExitCode())

	assert.Equal(t, 1, assignments.ActiveCount(), "a failed container keeps its ship lock so Restart can reassign it")
}

func TestManager_Create_UnknownCommandTypeRejected(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, _ := newTestManager(t, clock, nil)

	_, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	assert.Error(t, err)
}

func TestManager_Create_ShipAlreadyAssignedFailsContainerInsteadOfErroring(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, assignments := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, blockingExecutor())
	})

	_, err := assignments.Assign(context.Background(), "AGENT-1", 1, "other-container", "navigate")
	require.NoError(t, err)

	id, status, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err, "bind failure must surface as a FAILED container, not an RPC error")
	assert.Equal(t, container.StatusFailed, status)

	c, err := mgr.Get(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, container.StatusFailed, c.Status())
}

func TestManager_Stop_IsImmediateAndIdempotent(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, assignments := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, blockingExecutor())
	})

	id, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err)
	waitForStatus(t, mgr, id, 1, container.StatusRunning)

	start := time.Now()
	require.NoError(t, mgr.Stop(context.Background(), id, 1))
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "stop must return promptly, not wait for the executor")

	c, err := mgr.Get(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, container.StatusStopped, c.Status())
	assert.Equal(t, 0, assignments.ActiveCount(), "stop must release the ship lock")

	// Idempotent: stopping an already-terminal container is a no-op, not an error.
	assert.NoError(t, mgr.Stop(context.Background(), id, 1))
}

func TestManager_Remove_RequiresTerminalState(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, _ := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, blockingExecutor())
	})

	id, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err)
	waitForStatus(t, mgr, id, 1, container.StatusRunning)

	err = mgr.Remove(context.Background(), id, 1)
	assert.Error(t, err, "removing a non-terminal container must fail")

	require.NoError(t, mgr.Stop(context.Background(), id, 1))
	require.NoError(t, mgr.Remove(context.Background(), id, 1))

	c, err := mgr.Get(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestManager_Restart_ReassignsShipLockAcrossIdentity(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, assignments := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, immediateExecutor(1, "failed", nil))
	})

	id, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err)
	waitForStatus(t, mgr, id, 1, container.StatusFailed)

	newID, err := mgr.Restart(context.Background(), id, 1)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	a, ok := assignments.Get("AGENT-1")
	require.True(t, ok)
	assert.Equal(t, newID, a.ContainerID(), "restart must carry the lock to the new container id")
	assert.True(t, a.IsActive())
}

func TestManager_Shutdown_ReleasesAllShipsAndForcesStop(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	mgr, _, assignments := newTestManager(t, clock, func(r *container.ExecutorRegistry) {
		r.Register(container.CommandNavigateShip, blockingExecutor())
	})

	id, _, err := mgr.Create(context.Background(), containers.CreateRequest{
		PlayerID:    1,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	require.NoError(t, err)
	waitForStatus(t, mgr, id, 1, container.StatusRunning)

	mgr.Shutdown(context.Background(), 500*time.Millisecond)

	assert.Equal(t, 0, mgr.ActiveCount())
	assert.Equal(t, 0, assignments.ActiveCount())
}

func TestShipSymbols_ExtractsSingleAndBatch(t *testing.T) {
	single := containers.ShipSymbols(map[string]interface{}{"ship_symbol": "AGENT-1"})
	assert.Equal(t, []string{"AGENT-1"}, single)

	batch := containers.ShipSymbols(map[string]interface{}{
		"ship_symbols": []interface{}{"AGENT-1", "AGENT-2"},
	})
	assert.Equal(t, []string{"AGENT-1", "AGENT-2"}, batch)

	none := containers.ShipSymbols(map[string]interface{}{})
	assert.Empty(t, none)

	assert.Nil(t, containers.ShipSymbols(nil))
}
