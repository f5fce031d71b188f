package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/staging/internal/audit"
	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/notify"
	"github.com/fibreflow/staging/internal/registry"
	"github.com/fibreflow/staging/internal/store"
)

func newValidationFixture(t *testing.T) (*store.MemoryStore, *registry.Registry, *notify.MemoryNotifier, *audit.MemoryRecorder, *ValidationStage) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New()
	notifier := notify.NewMemoryNotifier()
	recorder := audit.NewMemoryRecorder()
	stage := NewValidationStage(st, reg, notifier, recorder, ValidationConfig{})
	return st, reg, notifier, recorder, stage
}

func submit(t *testing.T, st *store.MemoryStore, typ string, submittedAt time.Time) models.Submission {
	t.Helper()
	sub, err := st.CreateSubmission(context.Background(), store.SubmissionInput{
		Type:        typ,
		Payload:     []byte(`{"poleNumber":"ABC.P.A123"}`),
		SubmittedAt: submittedAt,
	})
	require.NoError(t, err)
	return sub
}

func staticValidator(outcome registry.Outcome, err error) registry.Validator {
	return registry.ValidatorFunc(func(ctx context.Context, sub *models.Submission) (registry.Outcome, error) {
		return outcome, err
	})
}

// checkInvariant asserts production metadata is present iff status is completed.
func checkInvariant(t *testing.T, st *store.MemoryStore, id uuid.UUID) {
	t.Helper()
	sub, err := st.GetSubmission(context.Background(), id)
	require.NoError(t, err)
	if sub.Status == models.StatusCompleted {
		assert.NotNil(t, sub.Production, "completed submission must carry production metadata")
	} else {
		assert.Nil(t, sub.Production, "non-completed submission must not carry production metadata")
	}
}

func TestValidationAutoApprove(t *testing.T) {
	st, reg, _, recorder, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{IsValid: true, AutoApprove: true, Score: 100}, nil), nil)

	s1 := submit(t, st, "pole", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()))

	got, err := st.GetSubmission(context.Background(), s1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.True(t, got.Validation.AutoApproved)
	assert.NotNil(t, got.Validation.CompletedAt)

	entries := st.QueueEntriesFor(s1.ID)
	require.Len(t, entries, 1, "exactly one promotion queue entry")
	assert.Equal(t, models.PriorityNormal, entries[0].Priority)

	audits := recorder.ByAction(audit.ActionValidationProcessed)
	require.Len(t, audits, 1)
	assert.Equal(t, "valid", audits[0].Result)
	assert.Equal(t, audit.ActorSystem, audits[0].Actor)
	checkInvariant(t, st, s1.ID)
}

func TestValidationRequiresReview(t *testing.T) {
	st, reg, notifier, _, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{
		IsValid:       true,
		AutoApprove:   false,
		ReviewReasons: []string{"gps mismatch"},
	}, nil), nil)

	s2 := submit(t, st, "pole", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()))

	got, err := st.GetSubmission(context.Background(), s2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequiresReview, got.Status)
	assert.Equal(t, []string{"gps mismatch"}, got.Validation.ReviewReasons)
	assert.Empty(t, st.QueueEntriesFor(s2.ID))

	batches := notifier.Batches()
	require.Len(t, batches, 1, "one notification batch per run")
	require.Len(t, batches[0], 1)
	assert.Equal(t, notify.EventManualReviewRequired, batches[0][0].Type)
	assert.Equal(t, s2.ID.String(), batches[0][0].SubmissionID)
}

func TestValidationSingleBatchNotification(t *testing.T) {
	st, reg, notifier, _, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{
		IsValid:       true,
		ReviewReasons: []string{"needs eyes"},
	}, nil), nil)

	for i := 0; i < 5; i++ {
		submit(t, st, "pole", time.Now().Add(-time.Duration(i+1)*time.Minute))
	}
	require.NoError(t, stage.RunOnce(context.Background()))

	batches := notifier.Batches()
	require.Len(t, batches, 1, "notifications are batched per run, not per item")
	assert.Len(t, batches[0], 5)
}

func TestValidationRejected(t *testing.T) {
	st, reg, notifier, recorder, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{
		IsValid: false,
		Errors:  []string{"invalid pole number format"},
	}, nil), nil)

	sub := submit(t, st, "pole", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()))

	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, []string{"invalid pole number format"}, got.Validation.RejectionReasons)
	assert.Empty(t, st.QueueEntriesFor(sub.ID))
	assert.Empty(t, notifier.Batches())

	audits := recorder.ByAction(audit.ActionValidationProcessed)
	require.Len(t, audits, 1)
	assert.Equal(t, "invalid", audits[0].Result)
}

func TestValidationValidatorError(t *testing.T) {
	st, reg, _, recorder, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{}, errors.New("downstream timeout")), nil)

	sub := submit(t, st, "pole", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()), "one validator failure must not abort the batch")

	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.Validation.Error, "downstream timeout")
	assert.NotNil(t, got.Validation.ErrorAt)
	assert.Empty(t, st.QueueEntriesFor(sub.ID))
	assert.Empty(t, recorder.Entries(), "failed validation runs are not audited")
}

func TestValidationUnknownType(t *testing.T) {
	st, _, _, _, stage := newValidationFixture(t)

	sub := submit(t, st, "fiber-splice", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()))

	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.Validation.Error, "unknown submission type")
}

func TestValidationFailureIsolation(t *testing.T) {
	st, reg, _, _, stage := newValidationFixture(t)
	reg.Register("pole", registry.ValidatorFunc(func(ctx context.Context, sub *models.Submission) (registry.Outcome, error) {
		var p struct {
			PoleNumber string `json:"poleNumber"`
		}
		_ = json.Unmarshal(sub.Payload, &p)
		if p.PoleNumber == "" {
			return registry.Outcome{}, errors.New("boom")
		}
		return registry.Outcome{IsValid: true, AutoApprove: true}, nil
	}), nil)

	bad, err := st.CreateSubmission(context.Background(), store.SubmissionInput{
		Type:        "pole",
		Payload:     []byte(`{}`),
		SubmittedAt: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	good := submit(t, st, "pole", time.Now().Add(-time.Hour))

	require.NoError(t, stage.RunOnce(context.Background()))

	gotBad, _ := st.GetSubmission(context.Background(), bad.ID)
	gotGood, _ := st.GetSubmission(context.Background(), good.ID)
	assert.Equal(t, models.StatusError, gotBad.Status)
	assert.Equal(t, models.StatusApproved, gotGood.Status, "failure of an earlier item must not affect later items")
}

func TestValidationOldestFirstBounded(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New()
	reg.Register("pole", staticValidator(registry.Outcome{IsValid: true, AutoApprove: true}, nil), nil)
	stage := NewValidationStage(st, reg, notify.NewMemoryNotifier(), audit.NewMemoryRecorder(), ValidationConfig{BatchSize: 2})

	oldest := submit(t, st, "pole", time.Now().Add(-3*time.Hour))
	middle := submit(t, st, "pole", time.Now().Add(-2*time.Hour))
	newest := submit(t, st, "pole", time.Now().Add(-time.Hour))

	require.NoError(t, stage.RunOnce(context.Background()))

	gotOldest, _ := st.GetSubmission(context.Background(), oldest.ID)
	gotMiddle, _ := st.GetSubmission(context.Background(), middle.ID)
	gotNewest, _ := st.GetSubmission(context.Background(), newest.ID)
	assert.Equal(t, models.StatusApproved, gotOldest.Status)
	assert.Equal(t, models.StatusApproved, gotMiddle.Status)
	assert.Equal(t, models.StatusPendingValidation, gotNewest.Status, "batch size bounds each invocation")
}

func TestValidationIdempotentWhenEmpty(t *testing.T) {
	st, reg, notifier, recorder, stage := newValidationFixture(t)
	reg.Register("pole", staticValidator(registry.Outcome{IsValid: true, AutoApprove: true}, nil), nil)

	sub := submit(t, st, "pole", time.Now().Add(-time.Hour))
	require.NoError(t, stage.RunOnce(context.Background()))
	before := len(recorder.Entries())

	// Re-running with no new pending submissions is a no-op.
	require.NoError(t, stage.RunOnce(context.Background()))
	assert.Equal(t, before, len(recorder.Entries()), "no audit entries on an empty run")
	assert.Len(t, st.QueueEntriesFor(sub.ID), 1, "no duplicate queue entries")
	assert.Len(t, notifier.Batches(), 0)
}

func TestValidationStaleReset(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New()
	reg.Register("pole", staticValidator(registry.Outcome{IsValid: true, AutoApprove: true}, nil), nil)
	stage := NewValidationStage(st, reg, notify.NewMemoryNotifier(), audit.NewMemoryRecorder(), ValidationConfig{StaleAfter: time.Nanosecond})

	sub := submit(t, st, "pole", time.Now().Add(-time.Hour))
	// Strand the submission mid-validation.
	_, err := st.ClaimPendingValidation(context.Background(), 10)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, stage.RunOnce(context.Background()))
	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status, "stale auto_validating submissions are reclaimed")
}
