package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/application/recovery"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/database"
)

type startupRecoveryContext struct {
	repo       container.Repository
	assignRepo container.ShipAssignmentRepository
	manager    *containers.Manager
	shipSymbol string
	containerID string
	result     recovery.Result
	runErr     error
}

func (s *startupRecoveryContext) reset() {
	s.repo = nil
	s.assignRepo = nil
	s.manager = nil
	s.shipSymbol = ""
	s.containerID = ""
	s.result = recovery.Result{}
	s.runErr = nil
}

// InitializeStartupRecoveryScenario wires the orphan-cleanup-on-boot
// scenario (spec §8 scenario 3).
func InitializeStartupRecoveryScenario(sc *godog.ScenarioContext) {
	rc := &startupRecoveryContext{}

	sc.Before(func(ctx context.Context, scn *godog.Scenario) (context.Context, error) {
		rc.reset()
		return ctx, rc.buildFreshDatabase()
	})

	sc.Step(`^a fresh database$`, func() error { return nil })
	sc.Step(`^an active ship assignment for "([^"]*)" bound to "([^"]*)"$`, rc.activeAssignmentBoundTo)
	sc.Step(`^no container "([^"]*)" exists$`, func(string) error { return nil })
	sc.Step(`^the daemon runs startup recovery$`, rc.runStartupRecovery)
	sc.Step(`^the assignment for "([^"]*)" is released with reason "([^"]*)"$`, rc.assignmentReleasedWithReason)
	sc.Step(`^recovery reports (\d+) zombie assignment released$`, rc.recoveryReportsZombiesReleased)
}

func (s *startupRecoveryContext) buildFreshDatabase() error {
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
	s.repo = repo
	s.assignRepo = assignRepo
	s.manager = containers.NewManager(repo, logs, assignments, assignRepo, registry, clock, 2*time.Second)
	return nil
}

func (s *startupRecoveryContext) activeAssignmentBoundTo(ship, containerID string) error {
	s.shipSymbol = ship
	s.containerID = containerID
	assignment := container.NewShipAssignment(ship, 1, containerID, "navigate", nil)
	return s.assignRepo.Assign(context.Background(), assignment)
}

func (s *startupRecoveryContext) runStartupRecovery() error {
	recoverer := recovery.NewRecoverer(s.repo, s.assignRepo, s.manager)
	s.result, s.runErr = recoverer.Run(context.Background())
	return s.runErr
}

func (s *startupRecoveryContext) assignmentReleasedWithReason(ship, reason string) error {
	// FindByShip returns active rows only, so the released row is looked up
	// through the container it was bound to.
	rows, err := s.assignRepo.FindByContainer(context.Background(), s.containerID, 1)
	if err != nil {
		return err
	}
	var a *container.ShipAssignment
	for _, row := range rows {
		if row.ShipSymbol() == ship {
			a = row
		}
	}
	if a == nil {
		return fmt.Errorf("no assignment record found for %s", ship)
	}
	if a.IsActive() {
		return fmt.Errorf("expected %s's assignment to be released, still active", ship)
	}
	if a.ReleaseReason() != reason {
		return fmt.Errorf("expected release reason %q, got %q", reason, a.ReleaseReason())
	}
	return nil
}

func (s *startupRecoveryContext) recoveryReportsZombiesReleased(count int) error {
	if s.result.ZombiesReleased != count {
		return fmt.Errorf("expected %d zombies released, got %d", count, s.result.ZombiesReleased)
	}
	return nil
}
