package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/test/helpers"
)

func TestShipAssignmentRepository_AssignAndFindByShip(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	a := container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)
	require.NoError(t, repo.Assign(context.Background(), a))

	found, err := repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "cnt-1", found.ContainerID())
	assert.True(t, found.IsActive())
}

func TestShipAssignmentRepository_Assign_UpsertsOnConflict(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	a := container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)
	require.NoError(t, repo.Assign(context.Background(), a))

	clock.Advance(time.Minute)
	b := container.NewShipAssignment("AGENT-1", 1, "cnt-2", "dock", clock)
	require.NoError(t, repo.Assign(context.Background(), b))

	found, err := repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "cnt-2", found.ContainerID(), "second assign must overwrite the row, not duplicate it")
}

func TestShipAssignmentRepository_FindByShip_MissingReturnsNilNoError(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	found, err := repo.FindByShip(context.Background(), "NOBODY", 1)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestShipAssignmentRepository_Release(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	a := container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)
	require.NoError(t, repo.Assign(context.Background(), a))

	require.NoError(t, repo.Release(context.Background(), "AGENT-1", 1, "done"))

	found, err := repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	assert.Nil(t, found, "FindByShip only returns active rows")
}

func TestShipAssignmentRepository_Reassign_OnlySucceedsOnMatchingOldContainer(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	a := container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)
	require.NoError(t, repo.Assign(context.Background(), a))

	ok, err := repo.Reassign(context.Background(), "AGENT-1", "cnt-wrong", "cnt-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Reassign(context.Background(), "AGENT-1", "cnt-1", "cnt-2")
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "cnt-2", found.ContainerID())
	assert.True(t, found.IsActive())
}

func TestShipAssignmentRepository_CleanOrphaned(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	require.NoError(t, repo.Assign(context.Background(), container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)))
	require.NoError(t, repo.Assign(context.Background(), container.NewShipAssignment("AGENT-2", 1, "cnt-2", "navigate", clock)))

	n, err := repo.CleanOrphaned(context.Background(), map[string]bool{"cnt-1": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := repo.FindByShip(context.Background(), "AGENT-2", 1)
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestShipAssignmentRepository_CleanStale(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	require.NoError(t, repo.Assign(context.Background(), container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)))

	clock.Advance(10 * time.Minute)
	n, err := repo.CleanStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := repo.FindByShip(context.Background(), "AGENT-1", 1)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestShipAssignmentRepository_ReleaseAllActive(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewShipAssignmentRepository(db, clock)

	require.NoError(t, repo.Assign(context.Background(), container.NewShipAssignment("AGENT-1", 1, "cnt-1", "navigate", clock)))
	require.NoError(t, repo.Assign(context.Background(), container.NewShipAssignment("AGENT-2", 1, "cnt-2", "navigate", clock)))

	n, err := repo.ReleaseAllActive(context.Background(), "daemon_shutdown")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}
