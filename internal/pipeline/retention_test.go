package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/store"
)

type fakeArchiver struct {
	mu       sync.Mutex
	uploaded []models.Submission
	fail     bool
}

func (a *fakeArchiver) ArchiveSubmission(ctx context.Context, sub models.Submission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unreachable")
	}
	a.uploaded = append(a.uploaded, sub)
	return nil
}

// seedTerminal creates a submission and drives it into the given terminal
// status with the given submission age.
func seedTerminal(t *testing.T, st *store.MemoryStore, status models.Status, submittedAt time.Time) models.Submission {
	t.Helper()
	ctx := context.Background()
	sub, err := st.CreateSubmission(ctx, store.SubmissionInput{
		Type:        "pole",
		Payload:     []byte(`{}`),
		SubmittedAt: submittedAt,
	})
	require.NoError(t, err)

	switch status {
	case models.StatusRejected:
		_, err = st.ManualReject(ctx, store.ManualRejection{
			SubmissionID: sub.ID,
			RejectedBy:   "reviewer-1",
			Reason:       "invalid capture",
		})
		require.NoError(t, err)
	case models.StatusCompleted:
		_, err = st.ClaimPendingValidation(ctx, 100)
		require.NoError(t, err)
		require.NoError(t, st.ApplyValidationOutcome(ctx, store.ValidationUpdate{
			SubmissionID:   sub.ID,
			SubmissionType: sub.Type,
			Status:         models.StatusApproved,
			Enqueue:        &store.QueueInsert{Priority: models.PriorityNormal},
		}))
		entries := st.QueueEntriesFor(sub.ID)
		require.Len(t, entries, 1)
		require.NoError(t, st.CompletePromotion(ctx, store.PromotionComplete{
			EntryID:      entries[0].ID,
			SubmissionID: sub.ID,
			Production:   models.ProductionRecord{MovedAt: time.Now().UTC(), IDs: []string{"pp-1"}},
		}))
	default:
		t.Fatalf("seedTerminal: unsupported status %s", status)
	}
	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	return got
}

func TestRetentionArchivesExpiredTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	archiver := &fakeArchiver{}
	sweeper := NewRetentionSweeper(st, archiver, RetentionConfig{Retention: 30 * 24 * time.Hour})

	old := time.Now().Add(-31 * 24 * time.Hour)
	expired := seedTerminal(t, st, models.StatusCompleted, old)
	rejected := seedTerminal(t, st, models.StatusRejected, old)
	recent := seedTerminal(t, st, models.StatusCompleted, time.Now().Add(-24*time.Hour))

	require.NoError(t, sweeper.RunOnce(context.Background()))

	_, err := st.GetSubmission(context.Background(), expired.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSubmission(context.Background(), rejected.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetSubmission(context.Background(), recent.ID)
	assert.NoError(t, err, "submissions inside the retention window stay in staging")

	archived, ok := st.Archived(expired.ID)
	require.True(t, ok, "expired submission is copied to the archive before deletion")
	assert.Equal(t, models.StatusCompleted, archived.Submission.Status)
	assert.Len(t, archiver.uploaded, 2)
}

func TestRetentionSkipsNonTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	sweeper := NewRetentionSweeper(st, nil, RetentionConfig{Retention: 30 * 24 * time.Hour})

	sub, err := st.CreateSubmission(context.Background(), store.SubmissionInput{
		Type:        "pole",
		Payload:     []byte(`{}`),
		SubmittedAt: time.Now().Add(-90 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, sweeper.RunOnce(context.Background()))

	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err, "pending submissions are never retired regardless of age")
	assert.Equal(t, models.StatusPendingValidation, got.Status)
}

func TestRetentionUploadFailureLeavesRow(t *testing.T) {
	st := store.NewMemoryStore()
	archiver := &fakeArchiver{fail: true}
	sweeper := NewRetentionSweeper(st, archiver, RetentionConfig{Retention: 30 * 24 * time.Hour})

	expired := seedTerminal(t, st, models.StatusCompleted, time.Now().Add(-40*24*time.Hour))

	require.NoError(t, sweeper.RunOnce(context.Background()), "upload failures are per-item, not run-fatal")

	got, err := st.GetSubmission(context.Background(), expired.ID)
	require.NoError(t, err, "the staging row survives until the object copy is durable")
	assert.Equal(t, models.StatusCompleted, got.Status)
	_, ok := st.Archived(expired.ID)
	assert.False(t, ok)

	// Next sweep succeeds once the bucket is back.
	archiver.fail = false
	require.NoError(t, sweeper.RunOnce(context.Background()))
	_, err = st.GetSubmission(context.Background(), expired.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetentionPageBound(t *testing.T) {
	st := store.NewMemoryStore()
	sweeper := NewRetentionSweeper(st, nil, RetentionConfig{Retention: 30 * 24 * time.Hour, PageSize: 2})

	old := time.Now().Add(-60 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		seedTerminal(t, st, models.StatusRejected, old.Add(time.Duration(i)*time.Minute))
	}

	require.NoError(t, sweeper.RunOnce(context.Background()))
	remaining, err := st.ListRetirable(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "each sweep retires at most one page")
}
