package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
)

func TestMemoryClaimOldestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	newer, err := st.CreateSubmission(ctx, SubmissionInput{Type: "pole", SubmittedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	older, err := st.CreateSubmission(ctx, SubmissionInput{Type: "pole", SubmittedAt: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)

	claimed, err := st.ClaimPendingValidation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, older.ID, claimed[0].ID)
	assert.Equal(t, models.StatusAutoValidating, claimed[0].Status)
	assert.NotNil(t, claimed[0].Validation.StartedAt)

	// The claim is exclusive; a second call sees only the remainder.
	claimed, err = st.ClaimPendingValidation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, newer.ID, claimed[0].ID)
}

func TestMemoryApplyOutcomeAfterOverride(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	sub, err := st.CreateSubmission(ctx, SubmissionInput{Type: "pole"})
	require.NoError(t, err)
	_, err = st.ClaimPendingValidation(ctx, 10)
	require.NoError(t, err)

	// An operator rejects while the stage is still validating.
	_, err = st.ManualReject(ctx, ManualRejection{SubmissionID: sub.ID, RejectedBy: "reviewer-1", Reason: "withdrawn"})
	require.NoError(t, err)

	err = st.ApplyValidationOutcome(ctx, ValidationUpdate{
		SubmissionID:   sub.ID,
		SubmissionType: sub.Type,
		Status:         models.StatusApproved,
		Enqueue:        &QueueInsert{Priority: models.PriorityNormal},
	})
	assert.True(t, fault.IsKind(err, fault.FailedPrecondition))

	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status, "the manual rejection stands")
	assert.Empty(t, st.QueueEntriesFor(sub.ID))
}

func TestMemoryDequeuePriorityThenFIFO(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	enqueue := func(priority models.Priority, age time.Duration) models.Submission {
		sub, err := st.CreateSubmission(ctx, SubmissionInput{Type: "pole", SubmittedAt: time.Now().Add(-age)})
		require.NoError(t, err)
		_, err = st.ClaimPendingValidation(ctx, 100)
		require.NoError(t, err)
		require.NoError(t, st.ApplyValidationOutcome(ctx, ValidationUpdate{
			SubmissionID:   sub.ID,
			SubmissionType: sub.Type,
			Status:         models.StatusApproved,
			Enqueue:        &QueueInsert{Priority: priority},
		}))
		return sub
	}

	lowFirst := enqueue(models.PriorityLow, 4*time.Hour)
	normal := enqueue(models.PriorityNormal, 3*time.Hour)
	high := enqueue(models.PriorityHigh, 2*time.Hour)
	lowSecond := enqueue(models.PriorityLow, time.Hour)

	entries, err := st.DequeuePromotions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, high.ID, entries[0].SubmissionID)
	assert.Equal(t, normal.ID, entries[1].SubmissionID)
	assert.Equal(t, lowFirst.ID, entries[2].SubmissionID, "equal priorities drain in insertion order")
	assert.Equal(t, lowSecond.ID, entries[3].SubmissionID)
}

func TestMemoryArchiveGuardsOnStatus(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	sub, err := st.CreateSubmission(ctx, SubmissionInput{Type: "pole"})
	require.NoError(t, err)

	// Status changed since the caller listed the row; archive is a no-op.
	stale := sub
	stale.Status = models.StatusRejected
	require.NoError(t, st.ArchiveSubmission(ctx, stale))

	_, err = st.GetSubmission(ctx, sub.ID)
	assert.NoError(t, err)
	_, ok := st.Archived(sub.ID)
	assert.False(t, ok)
}
