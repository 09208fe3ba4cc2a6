// Package containers implements the Container Manager: creation,
// supervision, stop, remove, list, inspect and restart of background
// container tasks, tying together the container domain model, the
// executor registry, persistence and the ship assignment manager.
package containers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/pkg/utils"
)

// operationFor maps a command_type to the short verb used in container ids
// and ship assignment operation labels.
var operationFor = map[container.CommandType]string{
	container.CommandNavigateShip:          "navigate",
	container.CommandDockShip:               "dock",
	container.CommandOrbitShip:              "orbit",
	container.CommandRefuelShip:             "refuel",
	container.CommandScoutMarketsVRP:        "scout-markets",
	container.CommandScoutTour:              "scout-tour",
	container.CommandBatchContractWorkflow:  "contract-workflow",
	container.CommandPurchaseShip:           "purchase-ship",
	container.CommandBatchPurchaseShips:     "batch-purchase",
}

// CreateRequest is the input to Create, mirroring the container.create RPC
// params.
type CreateRequest struct {
	ContainerID   string
	PlayerID      int
	CommandType   container.CommandType
	Params        map[string]interface{}
	MaxIterations int
}

// task is the in-memory handle for a running container: its cancel func and
// a channel closed when the executor goroutine returns.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is C2: the container manager. It owns every container's
// in-memory task handle and is the only writer of container lifecycle
// transitions.
type Manager struct {
	repo        container.Repository
	logs        persistence.ContainerLogRepository
	assignments *container.ShipAssignmentManager
	assignRepo  container.ShipAssignmentRepository
	executors   *container.ExecutorRegistry
	clock       shared.Clock
	stopTimeout time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager creates a Manager. stopTimeout is stored (defaulting to 2s) but
// Stop does not consult it: Stop finalizes a persisted STOPPED immediately
// without waiting for the executor.
func NewManager(
	repo container.Repository,
	logs persistence.ContainerLogRepository,
	assignments *container.ShipAssignmentManager,
	assignRepo container.ShipAssignmentRepository,
	executors *container.ExecutorRegistry,
	clock shared.Clock,
	stopTimeout time.Duration,
) *Manager {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if stopTimeout <= 0 {
		stopTimeout = 2 * time.Second
	}
	return &Manager{
		repo:        repo,
		logs:        logs,
		assignments: assignments,
		assignRepo:  assignRepo,
		executors:   executors,
		clock:       clock,
		stopTimeout: stopTimeout,
		tasks:       make(map[string]*task),
	}
}

// ShipSymbols extracts the ship symbol(s) a command's params reference.
// Single-ship commands carry "ship_symbol"; batch commands carry
// "ship_symbols" (a list). Commands that bind no ship (e.g. a pure
// contract-workflow coordinator) return an empty slice.
func ShipSymbols(params map[string]interface{}) []string {
	if params == nil {
		return nil
	}
	if s, ok := params["ship_symbol"].(string); ok && s != "" {
		return []string{s}
	}
	if raw, ok := params["ship_symbols"].([]interface{}); ok {
		symbols := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				symbols = append(symbols, s)
			}
		}
		return symbols
	}
	return nil
}

// Create implements the container.create RPC: it persists a STARTING row,
// binds ship assignments, and spawns the executor in a background task,
// returning immediately without awaiting the task.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (id string, status container.Status, err error) {
	executor, ok := m.executors.Resolve(req.CommandType)
	if !ok {
		return "", "", shared.NewValidationError("command_type", fmt.Sprintf("unknown command_type %q", req.CommandType))
	}

	operation := operationFor[req.CommandType]
	if operation == "" {
		operation = "run"
	}

	id = req.ContainerID
	if id == "" {
		ships := ShipSymbols(req.Params)
		shipTail := "fleet"
		if len(ships) > 0 {
			shipTail = ships[0]
		}
		id = utils.GenerateContainerID(operation, shipTail)
	}

	c := container.NewContainer(id, req.CommandType, req.PlayerID, req.Params, req.MaxIterations, nil, m.clock)
	if err := c.Schedule(); err != nil {
		return "", "", err
	}
	if err := m.repo.Add(ctx, c); err != nil {
		return "", "", fmt.Errorf("persist container: %w", err)
	}

	bound, err := m.bindShips(ctx, c, operation)
	if err != nil {
		m.releaseShips(ctx, bound, "bind_failed")
		_ = c.Fail(err.Error(), err)
		_ = m.repo.Update(ctx, c)
		return id, c.Status(), nil
	}

	m.spawn(c, executor, bound)
	return id, c.Status(), nil
}

// bindShips assigns every ship referenced by the container's params,
// rolling back (releasing) any already-bound ship if a later one fails.
func (m *Manager) bindShips(ctx context.Context, c *container.Container, operation string) ([]string, error) {
	ships := ShipSymbols(c.Config())
	bound := make([]string, 0, len(ships))
	for _, ship := range ships {
		if _, err := m.assignments.Assign(ctx, ship, c.PlayerID(), c.ID(), operation); err != nil {
			return bound, err
		}
		bound = append(bound, ship)
	}
	return bound, nil
}

func (m *Manager) releaseShips(ctx context.Context, ships []string, reason string) {
	for _, ship := range ships {
		_ = m.assignments.Release(ctx, ship, reason)
	}
}

// spawn starts the executor in its own goroutine, flipping the container to
// RUNNING once it begins and persisting its terminal outcome when it ends.
func (m *Manager) spawn(c *container.Container, executor container.Executor, boundShips []string) {
	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{ctx: taskCtx, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[c.ID()] = t
	m.mu.Unlock()

	handle := &containerHandle{manager: m, container: c}

	go func() {
		defer close(t.done)
		defer m.clearTask(c.ID())

		if err := c.Begin(); err != nil {
			return
		}
		if err := m.repo.Update(context.Background(), c); err != nil {
			handle.Log("ERROR", fmt.Sprintf("persist running state: %v", err))
		}

		exitCode, summary, err := executor.Execute(taskCtx, handle, c.Config())

		m.finish(c, boundShips, exitCode, summary, err)
	}()
}

// finish applies an executor's outcome to the container, unless the
// container has already been finalized by Stop. A completed container
// releases the ships it held; a failed one keeps its ship locks so that
// Restart can reassign them to the replacement container.
func (m *Manager) finish(c *container.Container, boundShips []string, exitCode int, summary string, err error) {
	ctx := context.Background()

	m.mu.Lock()
	_, stillTracked := m.tasks[c.ID()]
	m.mu.Unlock()
	if !stillTracked {
		// Stop already finalized this container; don't clobber its state.
		return
	}

	if c.Status() != container.StatusRunning {
		return
	}

	if err != nil {
		_ = c.Fail(err.Error(), err)
	} else if exitCode != 0 {
		_ = c.Fail(summary, fmt.Errorf("%s", summary))
	} else {
		_ = c.Complete()
	}
	if logErr := m.repo.Update(ctx, c); logErr != nil {
		_ = m.logs.Append(ctx, c.ID(), "ERROR", fmt.Sprintf("persist terminal state: %v", logErr))
	}
	if c.Status() != container.StatusFailed {
		m.releaseShips(ctx, boundShips, terminalReleaseReason(c))
	}
}

func terminalReleaseReason(c *container.Container) string {
	if c.Status() == container.StatusFailed {
		return "container_failed"
	}
	return "container_completed"
}

func (m *Manager) clearTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

// Stop implements the ≤2s stop contract: it signals the task's
// cancellation, immediately finalizes persisted state to STOPPED, and does
// not wait for the executor goroutine to actually return.
func (m *Manager) Stop(ctx context.Context, id string, playerID int) error {
	c, err := m.repo.Get(ctx, id, playerID)
	if err != nil {
		return fmt.Errorf("get container: %w", err)
	}
	if c == nil {
		return shared.NewClientError(-32000, "container not found")
	}
	if c.IsImmutable() {
		return nil // idempotent
	}

	m.mu.Lock()
	t, ok := m.tasks[id]
	delete(m.tasks, id)
	m.mu.Unlock()
	if ok {
		t.cancel()
	}

	if c.Status() == container.StatusRunning {
		if err := c.RequestStop(); err != nil {
			return err
		}
	}
	if err := c.MarkStopped(); err != nil {
		return err
	}
	if err := m.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("persist stop: %w", err)
	}

	if m.assignRepo != nil {
		rows, err := m.assignRepo.FindByContainer(ctx, id, playerID)
		if err == nil {
			for _, a := range rows {
				if a.IsActive() {
					_ = m.assignments.Release(ctx, a.ShipSymbol(), "container_stopped")
				}
			}
		}
	}
	return nil
}

// Remove implements remove_container: terminal state required. It deletes
// the container row only; the container's logs are not deleted.
func (m *Manager) Remove(ctx context.Context, id string, playerID int) error {
	c, err := m.repo.Get(ctx, id, playerID)
	if err != nil {
		return fmt.Errorf("get container: %w", err)
	}
	if c == nil {
		return shared.NewClientError(-32000, "container not found")
	}
	if !c.IsImmutable() {
		return shared.NewClientError(-32000, "container must be stopped first")
	}
	return m.repo.Remove(ctx, id, playerID)
}

// Restart transitions a FAILED, restart-eligible container to a fresh
// container with a new id, reassigning (never releasing-then-reassigning)
// any ship locks so they are never dropped mid-restart.
func (m *Manager) Restart(ctx context.Context, id string, playerID int) (newID string, err error) {
	old, err := m.repo.Get(ctx, id, playerID)
	if err != nil {
		return "", fmt.Errorf("get container: %w", err)
	}
	if old == nil {
		return "", shared.NewClientError(-32000, "container not found")
	}

	executor, ok := m.executors.Resolve(old.CommandType())
	if !ok {
		return "", shared.NewValidationError("command_type", fmt.Sprintf("unknown command_type %q", old.CommandType()))
	}

	operation := operationFor[old.CommandType()]
	ships := ShipSymbols(old.Config())
	shipTail := "fleet"
	if len(ships) > 0 {
		shipTail = ships[0]
	}
	newID = utils.GenerateContainerID(operation, shipTail)

	next, err := old.Restart(newID)
	if err != nil {
		return "", err
	}
	if err := next.Schedule(); err != nil {
		return "", err
	}
	if err := m.repo.Add(ctx, next); err != nil {
		return "", fmt.Errorf("persist restarted container: %w", err)
	}

	for _, ship := range ships {
		if err := m.assignments.Reassign(ctx, ship, id, newID); err != nil {
			return "", fmt.Errorf("reassign ship %s: %w", ship, err)
		}
	}

	m.spawn(next, executor, ships)
	return newID, nil
}

// Resume re-spawns a container recovered from persistence in RUNNING or
// STARTING state, used only by startup recovery. The caller is responsible
// for ensuring the container's ship assignments are already active before
// calling this.
func (m *Manager) Resume(ctx context.Context, c *container.Container) error {
	executor, ok := m.executors.Resolve(c.CommandType())
	if !ok {
		return fmt.Errorf("resume %s: unknown command_type %q", c.ID(), c.CommandType())
	}
	ships := ShipSymbols(c.Config())
	c.ResumeForRecovery()
	if err := m.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("persist resumed %s: %w", c.ID(), err)
	}
	m.spawn(c, executor, ships)
	return nil
}

// Get returns a single container, scoped to its owning player.
func (m *Manager) Get(ctx context.Context, id string, playerID int) (*container.Container, error) {
	return m.repo.Get(ctx, id, playerID)
}

// List returns containers, optionally filtered by player.
func (m *Manager) List(ctx context.Context, playerID *int) ([]*container.Container, error) {
	return m.repo.List(ctx, playerID, nil)
}

// LogTail returns the most recent limit log lines for a container.
func (m *Manager) LogTail(ctx context.Context, id string, level *string, limit int) ([]persistence.ContainerLogEntry, error) {
	return m.logs.GetLogs(ctx, id, level, limit)
}

// ActiveCount returns the number of containers with an in-memory task
// handle, used by health_check's active_containers field.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown signals every in-flight task's cancellation, waits up to
// graceTimeout for graceful exit, then forces any still-running container to
// STOPPED and releases all ship assignments with reason "daemon_shutdown".
func (m *Manager) Shutdown(ctx context.Context, graceTimeout time.Duration) {
	m.mu.Lock()
	tasks := make(map[string]*task, len(m.tasks))
	for id, t := range m.tasks {
		tasks[id] = t
		t.cancel()
	}
	m.mu.Unlock()

	deadline := m.clock.Now().Add(graceTimeout)
	for _, t := range tasks {
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			break
		}
		select {
		case <-t.done:
		case <-time.After(remaining):
		}
	}

	m.mu.Lock()
	stuck := make(map[string]bool, len(m.tasks))
	for id := range m.tasks {
		stuck[id] = true
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	rows, _ := m.repo.ListByStatuses(ctx, []container.Status{container.StatusStarting, container.StatusRunning, container.StatusStopping})
	for _, c := range rows {
		if stuck[c.ID()] && c.MarkStopped() == nil {
			_ = m.repo.Update(ctx, c)
		}
	}

	_ = m.assignments.ReleaseAll(ctx, "daemon_shutdown")
}
