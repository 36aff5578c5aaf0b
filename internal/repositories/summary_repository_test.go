package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-console/internal/models"
)

func TestMemorySummaryRepo(t *testing.T) {
	repo := NewMemorySummaryRepo()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	_, err := repo.GetSummary(ctx, "42")
	assert.ErrorIs(t, err, ErrSummaryNotFound)

	require.NoError(t, repo.UpsertSummary(ctx, models.StudentSummary{StudentID: "42", Feedback: "second", UpdatedAt: t0.Add(time.Hour)}))
	require.NoError(t, repo.UpsertSummary(ctx, models.StudentSummary{StudentID: "42", Feedback: "stale", UpdatedAt: t0}))

	got, err := repo.GetSummary(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Feedback)
}
