package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/test/helpers"
)

func TestContainerLogRepository_Append_AssignsMonotonicSeq(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewGormContainerLogRepository(db, clock)

	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "starting"))
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "in transit"))
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "arrived"))

	logs, err := repo.GetLogs(context.Background(), "cnt-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(0), logs[0].Seq)
	assert.Equal(t, int64(1), logs[1].Seq)
	assert.Equal(t, int64(2), logs[2].Seq)
	assert.Equal(t, "starting", logs[0].Message)
	assert.Equal(t, "arrived", logs[2].Message)
}

func TestContainerLogRepository_Append_ScopedPerContainer(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewGormContainerLogRepository(db, clock)

	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "a"))
	require.NoError(t, repo.Append(context.Background(), "cnt-2", "INFO", "b"))

	logs1, err := repo.GetLogs(context.Background(), "cnt-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, logs1, 1)
	assert.Equal(t, "a", logs1[0].Message)

	logs2, err := repo.GetLogs(context.Background(), "cnt-2", nil, 0)
	require.NoError(t, err)
	require.Len(t, logs2, 1)
	assert.Equal(t, "b", logs2[0].Message)
}

func TestContainerLogRepository_nextSeq_HydratesFromPersistedMax(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())

	// Simulate a daemon restart: first repository instance writes seqs 0,1,
	// a second instance (fresh in-memory seqNext map) must continue at 2
	// rather than restarting at 0.
	first := persistence.NewGormContainerLogRepository(db, clock)
	require.NoError(t, first.Append(context.Background(), "cnt-1", "INFO", "a"))
	require.NoError(t, first.Append(context.Background(), "cnt-1", "INFO", "b"))

	second := persistence.NewGormContainerLogRepository(db, clock)
	require.NoError(t, second.Append(context.Background(), "cnt-1", "INFO", "c"))

	logs, err := second.GetLogs(context.Background(), "cnt-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(2), logs[2].Seq)
	assert.Equal(t, "c", logs[2].Message)
}

func TestContainerLogRepository_GetLogs_LimitKeepsMostRecentInOrder(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewGormContainerLogRepository(db, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "line"))
	}

	logs, err := repo.GetLogs(context.Background(), "cnt-1", nil, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(3), logs[0].Seq, "limit must keep the newest entries")
	assert.Equal(t, int64(4), logs[1].Seq)
	assert.Less(t, logs[0].Seq, logs[1].Seq, "result must still be oldest-first")
}

func TestContainerLogRepository_GetLogs_MinimumLevelFilter(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewGormContainerLogRepository(db, clock)

	require.NoError(t, repo.Append(context.Background(), "cnt-1", "DEBUG", "debug line"))
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", "info line"))
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "WARNING", "warn line"))
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "ERROR", "error line"))

	warning := "WARNING"
	logs, err := repo.GetLogs(context.Background(), "cnt-1", &warning, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "warn line", logs[0].Message)
	assert.Equal(t, "error line", logs[1].Message)
}

func TestContainerLogRepository_Append_SanitizesInvalidUTF8(t *testing.T) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Now())
	repo := persistence.NewGormContainerLogRepository(db, clock)

	invalid := "hello\xff\xfeworld"
	require.NoError(t, repo.Append(context.Background(), "cnt-1", "INFO", invalid))

	logs, err := repo.GetLogs(context.Background(), "cnt-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotEqual(t, invalid, logs[0].Message)
	assert.Contains(t, logs[0].Message, "hello")
	assert.Contains(t, logs[0].Message, "world")
}
