package container_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

func newTestContainer(clock shared.Clock) *container.Container {
	return container.NewContainer(
		"cnt-1",
		container.CommandNavigateShip,
		1,
		map[string]interface{}{"ship_symbol": "AGENT-1"},
		-1,
		nil,
		clock,
	)
}

func TestContainer_HappyPathLifecycle(t *testing.T) {
	// Arrange
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.Equal(t, container.StatusPending, c.Status())

	// Act / Assert - Schedule
	require.NoError(t, c.Schedule())
	assert.Equal(t, container.StatusStarting, c.Status())

	// Act / Assert - Begin
	require.NoError(t, c.Begin())
	assert.Equal(t, container.StatusRunning, c.Status())
	assert.NotNil(t, c.StartedAt())

	// Act / Assert - Complete
	require.NoError(t, c.Complete())
	assert.Equal(t, container.StatusStopped, c.Status())
	require.NotNil(t, c.ExitCode())
	assert.Equal(t, 0, *c.ExitCode())
	assert.True(t, c.IsImmutable())
}

func TestContainer_RequestStopThenMarkStopped(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())

	require.NoError(t, c.RequestStop())
	assert.Equal(t, container.StatusStopping, c.Status())

	require.NoError(t, c.MarkStopped())
	assert.Equal(t, container.StatusStopped, c.Status())
	require.NotNil(t, c.ExitCode())
	assert.Equal(t, 0, *c.ExitCode())
}

func TestContainer_RequestStop_RejectsFromNonRunning(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	err := c.RequestStop()
	assert.Error(t, err)
}

func TestContainer_Fail_SetsExitCodeAndReason(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())

	require.NoError(t, c.Fail("ship destroyed", nil))
	assert.Equal(t, container.StatusFailed, c.Status())
	require.NotNil(t, c.ExitCode())
	assert.Equal(t, 1, *c.ExitCode())
	assert.Equal(t, "ship destroyed", c.ExitReason())
	assert.True(t, c.IsImmutable())
}

func TestContainer_CanRestart_OnlyWhenFailedAndUnderBudget(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	assert.False(t, c.CanRestart(), "pending container is not restartable")

	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())
	require.NoError(t, c.Fail("boom", nil))
	assert.True(t, c.CanRestart())
}

func TestContainer_Restart_CarriesForwardConfigAndBudget(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())
	require.NoError(t, c.Fail("boom", nil))

	next, err := c.Restart("cnt-2")
	require.NoError(t, err)
	assert.Equal(t, "cnt-2", next.ID())
	assert.Equal(t, container.StatusPending, next.Status())
	assert.Equal(t, 1, next.RestartCount())
	assert.Equal(t, c.MaxRestarts(), next.MaxRestarts())
	assert.Equal(t, c.Config()["ship_symbol"], next.Config()["ship_symbol"])

	// old container is untouched and still terminal
	assert.Equal(t, container.StatusFailed, c.Status())
}

func TestContainer_Restart_ExhaustedBudgetRejected(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())
	require.NoError(t, c.Fail("boom", nil))

	cur := c
	var err error
	for i := 0; i < container.DefaultMaxRestarts; i++ {
		cur, err = cur.Restart("cnt-next")
		require.NoError(t, err)
		require.NoError(t, cur.Schedule())
		require.NoError(t, cur.Begin())
		require.NoError(t, cur.Fail("boom again", nil))
	}

	assert.False(t, cur.CanRestart())
	_, err = cur.Restart("cnt-over-budget")
	assert.Error(t, err)
}

func TestContainer_ResumeForRecovery_ForcesStarting(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := newTestContainer(clock)
	require.NoError(t, c.Schedule())
	require.NoError(t, c.Begin())
	// simulate a daemon crash leaving the row RUNNING with no live task
	c.ResumeForRecovery()
	assert.Equal(t, container.StatusStarting, c.Status())

	require.NoError(t, c.Begin())
	assert.Equal(t, container.StatusRunning, c.Status())
}

func TestContainer_ShouldContinue(t *testing.T) {
	clock := shared.NewMockClock(time.Now())

	unbounded := container.NewContainer("c1", container.CommandNavigateShip, 1, nil, -1, nil, clock)
	assert.True(t, unbounded.ShouldContinue())

	bounded := container.NewContainer("c2", container.CommandNavigateShip, 1, nil, 1, nil, clock)
	require.NoError(t, bounded.Schedule())
	require.NoError(t, bounded.Begin())
	assert.True(t, bounded.ShouldContinue())
	require.NoError(t, bounded.IncrementIteration())
	assert.False(t, bounded.ShouldContinue())
}

func TestContainer_UpdateMetadata_Merges(t *testing.T) {
	clock := shared.NewMockClock(time.Now())
	c := container.NewContainer("c1", container.CommandNavigateShip, 1, nil, -1, map[string]interface{}{"a": 1}, clock)

	c.UpdateMetadata(map[string]interface{}{"b": 2})
	v, ok := c.GetMetadataValue("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.GetMetadataValue("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
