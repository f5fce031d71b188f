package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/models"
)

// ErrNotFound is the underlying cause wrapped into fault.NotFound errors
// returned by store implementations.
var ErrNotFound = errors.New("not found")

// SubmissionInput creates a new staged submission in pending_validation.
type SubmissionInput struct {
	ID          uuid.UUID
	Type        string
	Payload     []byte
	SubmittedAt time.Time
}

// QueueInsert describes the promotion queue entry created together with an
// approval.
type QueueInsert struct {
	Priority   models.Priority
	ApprovedBy string
}

// ValidationUpdate commits one submission's validation outcome. The status
// update and the optional queue insert are applied as a single atomic unit,
// guarded on the submission still being in a validating state, so a
// concurrent manual override is never clobbered.
type ValidationUpdate struct {
	SubmissionID   uuid.UUID
	SubmissionType string
	Status         models.Status
	Validation     models.ValidationRecord
	Enqueue        *QueueInsert
}

// PromotionComplete marks a submission completed and removes its queue entry
// in one atomic unit.
type PromotionComplete struct {
	EntryID      uuid.UUID
	SubmissionID uuid.UUID
	Production   models.ProductionRecord
}

// ManualApproval is the gateway's approve operation.
type ManualApproval struct {
	SubmissionID uuid.UUID
	ApprovedBy   string
	Corrections  []byte
	Notes        string
}

// ManualRejection is the gateway's reject operation.
type ManualRejection struct {
	SubmissionID uuid.UUID
	RejectedBy   string
	Reason       string
	Details      string
}

// Store is the durable staging/queue persistence abstraction shared by the
// batch stages and the manual override gateway. All mutations of a single
// submission or queue entry are atomic multi-field writes; implementations
// must make concurrent stage and gateway calls safe.
type Store interface {
	CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error)

	// ClaimPendingValidation atomically moves up to limit pending_validation
	// submissions (oldest submitted first) into auto_validating and returns
	// them with validation.startedAt stamped.
	ClaimPendingValidation(ctx context.Context, limit int) ([]models.Submission, error)

	// ResetStaleValidating returns auto_validating submissions whose
	// validation started before olderThan to pending_validation. Used by the
	// optional staleness sweep; reports how many were reset.
	ResetStaleValidating(ctx context.Context, olderThan time.Time) (int, error)

	ApplyValidationOutcome(ctx context.Context, u ValidationUpdate) error

	// DequeuePromotions returns up to limit queue entries ordered by
	// priority tier descending, then created_at ascending.
	DequeuePromotions(ctx context.Context, limit int) ([]models.QueueEntry, error)
	DiscardQueueEntry(ctx context.Context, id uuid.UUID) error
	CompletePromotion(ctx context.Context, c PromotionComplete) error
	RecordPromotionFailure(ctx context.Context, entryID uuid.UUID, errorCount int, errMsg string) error

	// DeadLetter copies the entry (plus error detail) into the dead-letter
	// store and deletes it from the queue, atomically.
	DeadLetter(ctx context.Context, entry models.QueueEntry, errMsg string) error
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error)

	ManualApprove(ctx context.Context, a ManualApproval) (models.Submission, error)
	ManualReject(ctx context.Context, r ManualRejection) (models.Submission, error)

	// ListRetirable returns terminal-state submissions submitted before
	// cutoff, up to limit.
	ListRetirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Submission, error)
	// ArchiveSubmission copies the submission into archival storage and then
	// deletes it from staging; the copy commits before the delete.
	ArchiveSubmission(ctx context.Context, sub models.Submission) error

	Ping(ctx context.Context) error
}
