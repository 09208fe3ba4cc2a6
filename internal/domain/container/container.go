package container

import (
	"fmt"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// Status is the persisted lifecycle state of a Container. The six values
// below are the only persisted states; COMPLETED/STARTED are observable
// aliases a presentation layer MAY derive but never store.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
	StatusFailed   Status = "FAILED"
)

// CommandType discriminates the executor a container runs.
type CommandType string

const (
	CommandNavigateShip           CommandType = "NavigateShip"
	CommandDockShip               CommandType = "DockShip"
	CommandOrbitShip              CommandType = "OrbitShip"
	CommandRefuelShip             CommandType = "RefuelShip"
	CommandScoutMarketsVRP        CommandType = "ScoutMarketsVRP"
	CommandScoutTour              CommandType = "ScoutTour"
	CommandBatchContractWorkflow  CommandType = "BatchContractWorkflow"
	CommandPurchaseShip           CommandType = "PurchaseShip"
	CommandBatchPurchaseShips     CommandType = "BatchPurchaseShips"
)

// DefaultMaxRestarts is the restart budget applied to a container unless the
// caller overrides it.
const DefaultMaxRestarts = 3

// Container is the unit of background execution the daemon supervises. Each
// one runs in its own task and is started, stopped, observed, and possibly
// restarted independently.
type Container struct {
	id          string
	playerID    int
	commandType CommandType
	config      map[string]interface{}

	lifecycle *shared.LifecycleStateMachine

	exitCode   *int
	exitReason string

	currentIteration int
	maxIterations    int // -1 for infinite

	restartCount int
	maxRestarts  int

	metadata map[string]interface{}

	clock shared.Clock
}

// NewContainer creates a new container in PENDING state. If clock is nil,
// RealClock is used.
func NewContainer(
	id string,
	commandType CommandType,
	playerID int,
	config map[string]interface{},
	maxIterations int,
	metadata map[string]interface{},
	clock shared.Clock,
) *Container {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &Container{
		id:               id,
		playerID:         playerID,
		commandType:      commandType,
		config:           config,
		lifecycle:        shared.NewLifecycleStateMachine(clock),
		currentIteration: 0,
		maxIterations:    maxIterations,
		restartCount:     0,
		maxRestarts:      DefaultMaxRestarts,
		metadata:         metadata,
		clock:            clock,
	}
}

// RecoverContainer reconstructs a container from persisted fields, used by
// the repository and by startup recovery. It does not validate transitions;
// callers are trusted to supply a consistent persisted row.
func RecoverContainer(
	id string,
	commandType CommandType,
	playerID int,
	config map[string]interface{},
	status Status,
	createdAt, updatedAt time.Time,
	startedAt, stoppedAt *time.Time,
	exitCode *int,
	exitReason string,
	restartCount, maxRestarts int,
	currentIteration, maxIterations int,
	metadata map[string]interface{},
	lastError error,
	clock shared.Clock,
) *Container {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	if maxRestarts == 0 {
		maxRestarts = DefaultMaxRestarts
	}

	lifecycle := shared.NewLifecycleStateMachine(clock)
	lifecycle.RecoverFromPersistence(shared.LifecycleStatus(status), createdAt, updatedAt, startedAt, stoppedAt, lastError)

	return &Container{
		id:               id,
		playerID:         playerID,
		commandType:      commandType,
		config:           config,
		lifecycle:        lifecycle,
		exitCode:         exitCode,
		exitReason:       exitReason,
		currentIteration: currentIteration,
		maxIterations:    maxIterations,
		restartCount:     restartCount,
		maxRestarts:      maxRestarts,
		metadata:         metadata,
		clock:            clock,
	}
}

// Getters

func (c *Container) ID() string                       { return c.id }
func (c *Container) PlayerID() int                     { return c.playerID }
func (c *Container) CommandType() CommandType          { return c.commandType }
func (c *Container) Config() map[string]interface{}    { return c.config }
func (c *Container) Status() Status                    { return Status(c.lifecycle.Status()) }
func (c *Container) CurrentIteration() int             { return c.currentIteration }
func (c *Container) MaxIterations() int                { return c.maxIterations }
func (c *Container) RestartCount() int                  { return c.restartCount }
func (c *Container) MaxRestarts() int                   { return c.maxRestarts }
func (c *Container) Metadata() map[string]interface{}   { return c.metadata }
func (c *Container) ExitCode() *int                     { return c.exitCode }
func (c *Container) ExitReason() string                 { return c.exitReason }
func (c *Container) CreatedAt() time.Time               { return c.lifecycle.CreatedAt() }
func (c *Container) UpdatedAt() time.Time               { return c.lifecycle.UpdatedAt() }
func (c *Container) StartedAt() *time.Time              { return c.lifecycle.StartedAt() }
func (c *Container) StoppedAt() *time.Time              { return c.lifecycle.StoppedAt() }
func (c *Container) LastError() error                   { return c.lifecycle.LastError() }
func (c *Container) RuntimeDuration() time.Duration     { return c.lifecycle.RuntimeDuration() }

// Schedule transitions PENDING -> STARTING: the task has been handed to the
// scheduler.
func (c *Container) Schedule() error {
	return c.lifecycle.Schedule()
}

// Begin transitions STARTING -> RUNNING: the executor began work.
func (c *Container) Begin() error {
	return c.lifecycle.Run()
}

// RequestStop transitions RUNNING -> STOPPING: a stop was requested. The
// caller (C2) still must finalize with MarkStopped within the 2s stop
// contract; this method only records the in-flight request.
func (c *Container) RequestStop() error {
	if c.Status() != StatusRunning {
		return fmt.Errorf("cannot request stop in %s state", c.Status())
	}
	return c.lifecycle.BeginStop()
}

// MarkStopped finalizes any non-terminal container as STOPPED with exit_code
// 0. This covers the immediate-stop path from RUNNING/STOPPING as well as a
// stop requested in the PENDING/STARTING window before the executor ever
// began, mirroring the underlying lifecycle machine's own permissiveness
// (it rejects only the terminal states).
func (c *Container) MarkStopped() error {
	if c.IsImmutable() {
		return fmt.Errorf("cannot mark stopped in %s state", c.Status())
	}
	if err := c.lifecycle.Stop(); err != nil {
		return err
	}
	zero := 0
	c.exitCode = &zero
	return nil
}

// Complete finalizes a RUNNING container as STOPPED (natural completion),
// exit_code 0.
func (c *Container) Complete() error {
	if c.Status() != StatusRunning {
		return fmt.Errorf("cannot complete container in %s state", c.Status())
	}
	if err := c.lifecycle.Stop(); err != nil {
		return err
	}
	zero := 0
	c.exitCode = &zero
	return nil
}

// Fail transitions to FAILED with exit_code 1 and the given reason. Valid
// from any non-terminal state.
func (c *Container) Fail(reason string, err error) error {
	if err == nil {
		err = fmt.Errorf("%s", reason)
	}
	if ferr := c.lifecycle.Fail(err); ferr != nil {
		return ferr
	}
	one := 1
	c.exitCode = &one
	c.exitReason = reason
	return nil
}

// IsImmutable reports whether the container is in a terminal state where
// only removal is allowed.
func (c *Container) IsImmutable() bool {
	return c.lifecycle.IsTerminal()
}

// IncrementIteration advances the iteration counter. Valid only while
// RUNNING.
func (c *Container) IncrementIteration() error {
	if c.Status() != StatusRunning {
		return fmt.Errorf("cannot increment iteration in %s state", c.Status())
	}
	c.currentIteration++
	c.lifecycle.UpdateTimestamp()
	return nil
}

// ShouldContinue reports whether the container should keep iterating.
func (c *Container) ShouldContinue() bool {
	if c.maxIterations == -1 {
		return true
	}
	return c.currentIteration < c.maxIterations
}

// CanRestart reports whether this failed container is eligible for restart.
func (c *Container) CanRestart() bool {
	return c.Status() == StatusFailed && c.restartCount < c.maxRestarts
}

// Restart produces a fresh PENDING container with a new id that carries
// forward this container's command, config, metadata and restart budget.
// The failed container itself is left untouched (terminal, immutable); the
// caller is responsible for persisting the new row and for reassigning (not
// releasing and re-assigning) any ship lock from the old id to the new one
// in a single atomic step, so a restart never drops or duplicates a lock.
func (c *Container) Restart(newID string) (*Container, error) {
	if !c.CanRestart() {
		return nil, fmt.Errorf("container cannot be restarted (restarts: %d/%d)", c.restartCount, c.maxRestarts)
	}

	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}

	next := NewContainer(newID, c.commandType, c.playerID, c.config, c.maxIterations, metadata, c.clock)
	next.maxRestarts = c.maxRestarts
	next.restartCount = c.restartCount + 1
	return next, nil
}

// ResumeForRecovery forces the in-memory lifecycle status to STARTING ahead
// of re-spawning this container's executor during startup recovery: the
// task that was driving it is gone after a daemon restart, so it must pass
// through Begin() again to reach RUNNING. Only C6 calls this.
func (c *Container) ResumeForRecovery() {
	c.lifecycle.SetStatusForRecovery(shared.LifecycleStatusStarting)
}

// UpdateMetadata merges updates into the existing metadata map.
func (c *Container) UpdateMetadata(updates map[string]interface{}) {
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	for k, v := range updates {
		c.metadata[k] = v
	}
	c.lifecycle.UpdateTimestamp()
}

// GetMetadataValue retrieves a specific metadata value.
func (c *Container) GetMetadataValue(key string) (interface{}, bool) {
	if c.metadata == nil {
		return nil, false
	}
	v, ok := c.metadata[key]
	return v, ok
}

func (c *Container) IsRunning() bool {
	return c.Status() == StatusRunning
}

func (c *Container) String() string {
	return fmt.Sprintf("Container[%s, type=%s, status=%s, iteration=%d/%d, restarts=%d]",
		c.id, c.commandType, c.Status(), c.currentIteration, c.maxIterations, c.restartCount)
}
