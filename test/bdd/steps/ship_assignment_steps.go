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

type shipAssignmentContext struct {
	manager     *containers.Manager
	assignments *container.ShipAssignmentManager
	playerID    int

	shipSymbol    string
	oldContainer  string
	newContainer  string
	assignErr     error
	assignedAfter *container.ShipAssignment
}

func (s *shipAssignmentContext) reset() {
	s.manager = nil
	s.assignments = nil
	s.playerID = 1
	s.shipSymbol = ""
	s.oldContainer = ""
	s.newContainer = ""
	s.assignErr = nil
	s.assignedAfter = nil
}

// InitializeShipAssignmentScenario wires the restart-preserves-lock and
// double-assignment scenarios (spec §8 scenarios 2 and 5).
func InitializeShipAssignmentScenario(sc *godog.ScenarioContext) {
	sac := &shipAssignmentContext{}

	sc.Before(func(ctx context.Context, scn *godog.Scenario) (context.Context, error) {
		sac.reset()
		return ctx, sac.buildManager()
	})

	sc.Step(`^a container manager backed by a fresh database$`, func() error { return nil })
	sc.Step(`^ship "([^"]*)" is active on container "([^"]*)"$`, sac.shipIsActiveOnContainer)
	sc.Step(`^that container fails$`, sac.thatContainerFails)
	sc.Step(`^the manager restarts it$`, sac.theManagerRestartsIt)
	sc.Step(`^exactly one active assignment exists for ship "([^"]*)"$`, sac.exactlyOneActiveAssignmentExists)
	sc.Step(`^it points at the new container id$`, sac.itPointsAtTheNewContainerID)
	sc.Step(`^its assigned_at is refreshed$`, sac.itsAssignedAtIsRefreshed)
	sc.Step(`^it has no release_reason$`, sac.itHasNoReleaseReason)

	sc.Step(`^ship "([^"]*)" is assigned to container "([^"]*)"$`, sac.shipIsAssignedToContainer)
	sc.Step(`^I attempt to assign ship "([^"]*)" to container "([^"]*)"$`, sac.iAttemptToAssignShipToContainer)
	sc.Step(`^the assignment attempt fails with "([^"]*)"$`, sac.theAssignmentAttemptFailsWith)
	sc.Step(`^ship "([^"]*)" remains assigned to container "([^"]*)"$`, sac.shipRemainsAssignedToContainer)
}

func (s *shipAssignmentContext) buildManager() error {
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
	registry.Register(container.CommandScoutTour, container.ExecutorFunc(
		func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
			return 1, "executor crashed", fmt.Errorf("simulated executor crash")
		}))
	s.manager = containers.NewManager(repo, logs, assignments, assignRepo, registry, clock, 2*time.Second)
	s.assignments = assignments
	s.playerID = 1
	return nil
}

func (s *shipAssignmentContext) shipIsActiveOnContainer(ship, containerID string) error {
	s.shipSymbol = ship
	id, _, err := s.manager.Create(context.Background(), containers.CreateRequest{
		ContainerID: containerID,
		PlayerID:    s.playerID,
		CommandType: container.CommandScoutTour,
		Params:      map[string]interface{}{"ship_symbol": ship, "waypoints": []interface{}{"X1-AA-1"}},
	})
	if err != nil {
		return err
	}
	s.oldContainer = id
	return nil
}

// thatContainerFails waits for the registered crashing executor to run its
// course: Create already spawned it, so this just waits for the manager to
// observe the non-nil error and finalize the container as FAILED.
func (s *shipAssignmentContext) thatContainerFails() error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := s.manager.Get(context.Background(), s.oldContainer, s.playerID)
		if err != nil {
			return err
		}
		if c != nil && c.Status() == container.StatusFailed {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("container %s never reached FAILED", s.oldContainer)
}

func (s *shipAssignmentContext) theManagerRestartsIt() error {
	newID, err := s.manager.Restart(context.Background(), s.oldContainer, s.playerID)
	if err != nil {
		return err
	}
	s.newContainer = newID
	return nil
}

func (s *shipAssignmentContext) exactlyOneActiveAssignmentExists(ship string) error {
	a, ok := s.assignments.Get(ship)
	if !ok || !a.IsActive() {
		return fmt.Errorf("expected an active assignment for %s", ship)
	}
	s.assignedAfter = a
	if s.assignments.ActiveCount() != 1 {
		return fmt.Errorf("expected exactly 1 active assignment, found %d", s.assignments.ActiveCount())
	}
	return nil
}

func (s *shipAssignmentContext) itPointsAtTheNewContainerID() error {
	if s.assignedAfter.ContainerID() != s.newContainer {
		return fmt.Errorf("expected assignment to point at %s, got %s", s.newContainer, s.assignedAfter.ContainerID())
	}
	return nil
}

func (s *shipAssignmentContext) itsAssignedAtIsRefreshed() error {
	if s.assignedAfter.AssignedAt().IsZero() {
		return fmt.Errorf("assigned_at is zero")
	}
	return nil
}

func (s *shipAssignmentContext) itHasNoReleaseReason() error {
	if s.assignedAfter.ReleaseReason() != "" {
		return fmt.Errorf("expected empty release_reason, got %q", s.assignedAfter.ReleaseReason())
	}
	return nil
}

func (s *shipAssignmentContext) shipIsAssignedToContainer(ship, containerID string) error {
	s.shipSymbol = ship
	_, err := s.assignments.Assign(context.Background(), ship, s.playerID, containerID, "test")
	return err
}

func (s *shipAssignmentContext) iAttemptToAssignShipToContainer(ship, containerID string) error {
	_, s.assignErr = s.assignments.Assign(context.Background(), ship, s.playerID, containerID, "test")
	return nil
}

func (s *shipAssignmentContext) theAssignmentAttemptFailsWith(expected string) error {
	if s.assignErr == nil {
		return fmt.Errorf("expected the second assignment to fail, but it succeeded")
	}
	if s.assignErr.Error() != expected {
		return fmt.Errorf("expected error %q, got %q", expected, s.assignErr.Error())
	}
	return nil
}

func (s *shipAssignmentContext) shipRemainsAssignedToContainer(ship, containerID string) error {
	a, ok := s.assignments.Get(ship)
	if !ok {
		return fmt.Errorf("no assignment found for %s", ship)
	}
	if a.ContainerID() != containerID {
		return fmt.Errorf("expected %s to remain on %s, but it is on %s", ship, containerID, a.ContainerID())
	}
	return nil
}
