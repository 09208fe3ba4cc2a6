package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/database"
)

type containerLifecycleContext struct {
	manager      *containers.Manager
	repo         container.Repository
	assignments  *container.ShipAssignmentManager
	containerID  string
	playerID     int
	stopErr      error
	secondStopErr error
	stopElapsed  time.Duration
}

func (c *containerLifecycleContext) reset() {
	c.manager = nil
	c.repo = nil
	c.assignments = nil
	c.containerID = ""
	c.playerID = 0
	c.stopErr = nil
	c.secondStopErr = nil
	c.stopElapsed = 0
}

// blockingLifecycleExecutor runs until its context is cancelled, mirroring a
// container whose executor is mid-sleep when a stop is requested.
func blockingLifecycleExecutor() container.ExecutorFunc {
	return func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		<-ctx.Done()
		return 0, "stopped", nil
	}
}

// InitializeContainerLifecycleScenario wires the stop-under-delay family of
// scenarios (spec §8 scenario 1, plus the adjoining idempotence and
// STARTING-window boundary cases).
func InitializeContainerLifecycleScenario(sc *godog.ScenarioContext) {
	lc := &containerLifecycleContext{}

	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		lc.reset()
		return ctx, nil
	})

	sc.Step(`^a container manager backed by a fresh database$`, lc.aContainerManagerBackedByFreshDatabase)
	sc.Step(`^a container whose executor blocks indefinitely until cancelled$`, lc.aContainerWhoseExecutorBlocksIndefinitely)
	sc.Step(`^I create the container for player (\d+)$`, lc.iCreateTheContainerForPlayer)
	sc.Step(`^I wait for the container to reach status "([^"]*)"$`, lc.iWaitForStatus)
	sc.Step(`^I call stop_container at time T$`, lc.iCallStopContainer)
	sc.Step(`^I call stop_container again$`, lc.iCallStopContainerAgain)
	sc.Step(`^I call stop_container immediately without waiting for RUNNING$`, lc.iCallStopContainer)
	sc.Step(`^by T plus 2 seconds the container status is "([^"]*)"$`, lc.statusShouldBe)
	sc.Step(`^the container's task is no longer tracked$`, lc.taskIsNoLongerTracked)
	sc.Step(`^the persisted container status is "([^"]*)"$`, lc.statusShouldBe)
	sc.Step(`^the second stop_container call also succeeds$`, lc.secondStopSucceeds)
	sc.Step(`^the stop_container call succeeds$`, lc.stopSucceeds)
}

// aContainerManagerBackedByFreshDatabase is a no-op placeholder: the manager
// itself is built once the executor registration is known, by the step that
// always follows ("a container whose executor blocks..."). Keeping this as
// its own step mirrors the feature file's Given/And narrative.
func (lc *containerLifecycleContext) aContainerManagerBackedByFreshDatabase() error {
	return nil
}

func (lc *containerLifecycleContext) aContainerWhoseExecutorBlocksIndefinitely() error {
	clock := shared.NewRealClock()
	db, err := database.NewTestConnection()
	if err != nil {
		return fmt.Errorf("fresh database: %w", err)
	}
	repo := persistence.NewContainerRepository(db, clock)
	logs := persistence.NewGormContainerLogRepository(db, clock)
	assignRepo := persistence.NewShipAssignmentRepository(db, clock)
	assignments := container.NewShipAssignmentManager(assignRepo, clock)
	registry := container.NewExecutorRegistry()
	registry.Register(container.CommandNavigateShip, blockingLifecycleExecutor())
	lc.manager = containers.NewManager(repo, logs, assignments, assignRepo, registry, clock, 2*time.Second)
	lc.repo = repo
	lc.assignments = assignments
	return nil
}

func (lc *containerLifecycleContext) iCreateTheContainerForPlayer(playerID int) error {
	lc.playerID = playerID
	id, _, err := lc.manager.Create(context.Background(), containers.CreateRequest{
		PlayerID:    playerID,
		CommandType: container.CommandNavigateShip,
		Params:      map[string]interface{}{"ship_symbol": "AGENT-1"},
	})
	if err != nil {
		return err
	}
	lc.containerID = id
	return nil
}

func (lc *containerLifecycleContext) iWaitForStatus(status string) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := lc.manager.Get(context.Background(), lc.containerID, lc.playerID)
		if err != nil {
			return err
		}
		if c != nil && string(c.Status()) == status {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("container %s never reached status %s", lc.containerID, status)
}

func (lc *containerLifecycleContext) iCallStopContainer() error {
	start := time.Now()
	lc.stopErr = lc.manager.Stop(context.Background(), lc.containerID, lc.playerID)
	lc.stopElapsed = time.Since(start)
	return nil
}

func (lc *containerLifecycleContext) iCallStopContainerAgain() error {
	lc.secondStopErr = lc.manager.Stop(context.Background(), lc.containerID, lc.playerID)
	return nil
}

func (lc *containerLifecycleContext) statusShouldBe(expected string) error {
	if lc.stopErr != nil {
		return fmt.Errorf("stop_container failed: %w", lc.stopErr)
	}
	if lc.stopElapsed > 2*time.Second {
		return fmt.Errorf("stop_container took %s, longer than the 2s contract", lc.stopElapsed)
	}
	c, err := lc.manager.Get(context.Background(), lc.containerID, lc.playerID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("container %s not found", lc.containerID)
	}
	if string(c.Status()) != expected {
		return fmt.Errorf("expected status %s, got %s", expected, c.Status())
	}
	return nil
}

// taskIsNoLongerTracked checks that the manager holds no task handle for the
// stopped container and that its ship lock was released.
func (lc *containerLifecycleContext) taskIsNoLongerTracked() error {
	if n := lc.manager.ActiveCount(); n != 0 {
		return fmt.Errorf("expected no tracked task, but %d remain", n)
	}
	if lc.assignments.ActiveCount() != 0 {
		return fmt.Errorf("expected the ship lock to be released, but %d remain active", lc.assignments.ActiveCount())
	}
	return nil
}

func (lc *containerLifecycleContext) secondStopSucceeds() error {
	if lc.secondStopErr != nil {
		return fmt.Errorf("second stop_container call failed: %w", lc.secondStopErr)
	}
	return nil
}

func (lc *containerLifecycleContext) stopSucceeds() error {
	if lc.stopErr != nil {
		return fmt.Errorf("stop_container call failed: %w", lc.stopErr)
	}
	return nil
}
