package repository

import (
	"context"
	"testing"

	"chatwiki/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOutcomeRepository_RecordAndGet(t *testing.T) {
	repo := NewOutcomeRepository(setupTestDB(t), DialectSQLite, zap.NewNop())
	ctx := context.Background()

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Record(ctx, &models.UnitOutcome{
		UnitID: "u1", SourceID: "1", ChatRef: "c", Status: models.OutcomeParked, Kind: "transient", Reason: "wiki down",
	}))
	require.NoError(t, repo.Record(ctx, &models.UnitOutcome{
		UnitID: "u1", SourceID: "1", ChatRef: "c", Status: models.OutcomePublished, TopicKey: "t", PageTitle: "T",
	}))
	require.NoError(t, repo.Record(ctx, &models.UnitOutcome{
		UnitID: "u2", SourceID: "2", ChatRef: "c", Status: models.OutcomeDiscarded, Kind: "content",
	}))

	got, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.OutcomePublished, got.Status)
	assert.Equal(t, "T", got.PageTitle)
	assert.True(t, got.Final())

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.OutcomeStatus]int{
		models.OutcomePublished: 1,
		models.OutcomeDiscarded: 1,
	}, counts)
}
