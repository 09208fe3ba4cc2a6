package daemon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/daemon"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// fakeAssignmentRepo satisfies container.ShipAssignmentRepository for tests
// that only need the manager's in-memory bookkeeping to work.
type fakeAssignmentRepo struct{}

func (fakeAssignmentRepo) Assign(ctx context.Context, a *container.ShipAssignment) error { return nil }
func (fakeAssignmentRepo) FindByShip(ctx context.Context, shipSymbol string, playerID int) (*container.ShipAssignment, error) {
	return nil, nil
}
func (fakeAssignmentRepo) FindByContainer(ctx context.Context, containerID string, playerID int) ([]*container.ShipAssignment, error) {
	return nil, nil
}
func (fakeAssignmentRepo) ListActive(ctx context.Context) ([]*container.ShipAssignment, error) {
	return nil, nil
}
func (fakeAssignmentRepo) Release(ctx context.Context, shipSymbol string, playerID int, reason string) error {
	return nil
}
func (fakeAssignmentRepo) ForceRelease(ctx context.Context, shipSymbol string, playerID int, reason string) error {
	return nil
}
func (fakeAssignmentRepo) Reassign(ctx context.Context, shipSymbol string, oldContainerID, newContainerID string) (bool, error) {
	return true, nil
}
func (fakeAssignmentRepo) ReleaseByContainer(ctx context.Context, containerID string, reason string) (int, error) {
	return 0, nil
}
func (fakeAssignmentRepo) ReleaseAllActive(ctx context.Context, reason string) (int, error) {
	return 0, nil
}
func (fakeAssignmentRepo) CleanOrphaned(ctx context.Context, existingContainerIDs map[string]bool) (int, error) {
	return 0, nil
}
func (fakeAssignmentRepo) CleanStale(ctx context.Context, timeout time.Duration) (int, error) {
	return 0, nil
}

type fakeShipStatusProvider struct {
	since     time.Time
	inTransit bool
	known     bool
}

func (f fakeShipStatusProvider) InTransitSince(ctx context.Context, shipSymbol string) (time.Time, bool, bool) {
	return f.since, f.inTransit, f.known
}

func noopLogf(format string, args ...interface{}) {}

func TestHealthMonitor_Tick_FirstTickAlwaysRuns(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	result, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestHealthMonitor_Tick_SkipsWithinCooldown(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	_, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	result, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	clock.Advance(31 * time.Second)
	result, err = hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestHealthMonitor_Tick_ReleasesOrphanedAssignments(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	_, err := assignments.Assign(context.Background(), "AGENT-1", 1, "cnt-gone", "navigate")
	require.NoError(t, err)

	result, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrphanedReleased)
	assert.Equal(t, 0, assignments.ActiveCount())
}

func TestHealthMonitor_Tick_ReleasesStaleAssignments(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	staleTimeout := 5 * time.Minute
	hm := daemon.NewHealthMonitor(time.Minute, staleTimeout, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	c := container.NewContainer("cnt-1", container.CommandNavigateShip, 1, nil, -1, nil, clock)
	_, err := assignments.Assign(context.Background(), "AGENT-1", 1, c.ID(), "navigate")
	require.NoError(t, err)

	clock.Advance(staleTimeout + time.Minute)

	result, err := hm.Tick(context.Background(), assignments, []*container.Container{c}, nil, noopLogf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StaleReleased)
}

func TestHealthMonitor_Tick_FlagsStuckShipsOverRecoveryTimeout(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	recoveryTimeout := 5 * time.Minute
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, recoveryTimeout, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	c := container.NewContainer("cnt-1", container.CommandNavigateShip, 1, nil, -1,
		map[string]interface{}{"ship_symbol": "AGENT-1"}, clock)

	stuckSince := clock.Now().Add(-(recoveryTimeout + time.Minute))
	ships := fakeShipStatusProvider{since: stuckSince, inTransit: true, known: true}

	result, err := hm.Tick(context.Background(), assignments, []*container.Container{c}, ships, noopLogf)
	require.NoError(t, err)
	assert.Contains(t, result.StuckShips, "AGENT-1")
}

func TestHealthMonitor_Tick_UnknownShipStatusIsNotStuck(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	c := container.NewContainer("cnt-1", container.CommandNavigateShip, 1, nil, -1,
		map[string]interface{}{"ship_symbol": "AGENT-1"}, clock)

	ships := fakeShipStatusProvider{known: false}

	result, err := hm.Tick(context.Background(), assignments, []*container.Container{c}, ships, noopLogf)
	require.NoError(t, err)
	assert.Empty(t, result.StuckShips, "unknown status must not be treated as stuck")
}

func TestHealthMonitor_Tick_FlagsSuspiciousLoopers(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, 5, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	c := container.NewContainer("cnt-looper", container.CommandScoutTour, 1, nil, -1, nil, clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())
	for i := 0; i < 1000; i++ {
		require.NoError(t, c.IncrementIteration())
	}
	// 1000 iterations in 1 second of runtime => far below the 5s/iteration threshold.
	clock.Advance(time.Second)

	result, err := hm.Tick(context.Background(), assignments, []*container.Container{c}, nil, noopLogf)
	require.NoError(t, err)
	assert.Contains(t, result.SuspiciousLoopers, "cnt-looper")
}

func TestHealthMonitor_Tick_BoundedAttemptsAbandonAfterMax(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	maxAttempts := 2
	hm := daemon.NewHealthMonitor(time.Minute, time.Hour, 5*time.Minute, maxAttempts, clock)
	assignments := container.NewShipAssignmentManager(fakeAssignmentRepo{}, clock)

	hm.AddToWatchList("AGENT-1")

	for i := 0; i < maxAttempts; i++ {
		clock.Advance(time.Minute)
		_, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
		require.NoError(t, err)
	}
	assert.Equal(t, maxAttempts, hm.RecoveryAttempts("AGENT-1"))

	clock.Advance(time.Minute)
	result, err := hm.Tick(context.Background(), assignments, nil, nil, noopLogf)
	require.NoError(t, err)
	assert.Contains(t, result.Abandoned, "AGENT-1")
	assert.Equal(t, 1, hm.Metrics().AbandonedShips)
}
