package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
)

// PGStore persists staging submissions, the promotion queue, the dead-letter
// store, and the archive into Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const submissionColumns = `id, type, payload, status, validation, production, submitted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (models.Submission, error) {
	var (
		sub        models.Submission
		payload    []byte
		validation []byte
		production []byte
	)
	if err := row.Scan(
		&sub.ID,
		&sub.Type,
		&payload,
		&sub.Status,
		&validation,
		&production,
		&sub.SubmittedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return models.Submission{}, err
	}
	sub.Payload = append(json.RawMessage(nil), payload...)
	if len(validation) > 0 {
		if err := json.Unmarshal(validation, &sub.Validation); err != nil {
			return models.Submission{}, fmt.Errorf("decode validation metadata: %w", err)
		}
	}
	if len(production) > 0 {
		var pr models.ProductionRecord
		if err := json.Unmarshal(production, &pr); err != nil {
			return models.Submission{}, fmt.Errorf("decode production metadata: %w", err)
		}
		sub.Production = &pr
	}
	return sub, nil
}

func scanQueueEntry(row rowScanner) (models.QueueEntry, error) {
	var (
		entry       models.QueueEntry
		approvedBy  sql.NullString
		lastError   sql.NullString
		lastErrorAt sql.NullTime
	)
	if err := row.Scan(
		&entry.ID,
		&entry.SubmissionID,
		&entry.Type,
		&entry.Priority,
		&approvedBy,
		&entry.ErrorCount,
		&lastError,
		&lastErrorAt,
		&entry.CreatedAt,
	); err != nil {
		return models.QueueEntry{}, err
	}
	entry.ApprovedBy = approvedBy.String
	entry.LastError = lastError.String
	if lastErrorAt.Valid {
		t := lastErrorAt.Time
		entry.LastErrorAt = &t
	}
	return entry, nil
}

func marshalValidation(v models.ValidationRecord) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal validation metadata: %w", err)
	}
	return b, nil
}

func ensureJSON(raw []byte, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return raw
}

func (s *PGStore) CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO staging_submissions (id, type, payload, status, validation, submitted_at)
		VALUES ($1, $2, $3, $4, '{}'::jsonb, $5)
		RETURNING ` + submissionColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.Type, ensureJSON(in.Payload, "{}"), models.StatusPendingValidation, in.SubmittedAt)
	return scanSubmission(row)
}

func (s *PGStore) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM staging_submissions WHERE id = $1`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", id)
	}
	if err != nil {
		return models.Submission{}, err
	}
	return sub, nil
}

// ClaimPendingValidation picks the oldest pending submissions and flips them
// to auto_validating in a single statement, so overlapping stage runs never
// claim the same rows.
func (s *PGStore) ClaimPendingValidation(ctx context.Context, limit int) ([]models.Submission, error) {
	now := time.Now().UTC()
	query := `
		WITH picked AS (
			SELECT id FROM staging_submissions
			WHERE status = $1
			ORDER BY submitted_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE staging_submissions s
		SET status = $3,
		    validation = jsonb_set(COALESCE(s.validation, '{}'::jsonb), '{startedAt}', to_jsonb($4::timestamptz), true),
		    updated_at = $4
		FROM picked
		WHERE s.id = picked.id
		RETURNING s.id, s.type, s.payload, s.status, s.validation, s.production, s.submitted_at, s.created_at, s.updated_at
	`
	rows, err := s.db.QueryContext(ctx, query, models.StatusPendingValidation, limit, models.StatusAutoValidating, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not guarantee order; restore submitted_at ordering.
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	return subs, nil
}

func (s *PGStore) ResetStaleValidating(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE staging_submissions
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`
	res, err := s.db.ExecContext(ctx, query, models.StatusPendingValidation, time.Now().UTC(), models.StatusAutoValidating, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ApplyValidationOutcome commits one submission's outcome. The status write
// is guarded on the submission still being in a validating state so a manual
// override that raced this batch wins; in that case the update is dropped
// and FailedPrecondition is returned.
func (s *PGStore) ApplyValidationOutcome(ctx context.Context, u ValidationUpdate) error {
	validation, err := marshalValidation(u.Validation)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE staging_submissions
		SET status = $2, validation = $3, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`, u.SubmissionID, u.Status, validation, time.Now().UTC(), models.StatusAutoValidating, models.StatusPendingValidation)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.FailedPrecondition, "submission %s no longer validating", u.SubmissionID)
	}

	if u.Enqueue != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO promotion_queue (id, submission_id, type, priority, approved_by, error_count)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), 0)
		`, uuid.New(), u.SubmissionID, u.SubmissionType, u.Enqueue.Priority, u.Enqueue.ApprovedBy)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const queueColumns = `id, submission_id, type, priority, approved_by, error_count, last_error, last_error_at, created_at`

// DequeuePromotions orders by explicit priority tier, then FIFO on
// created_at, so the tie-break stays testable rather than leaning on the
// column's natural ordering.
func (s *PGStore) DequeuePromotions(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM promotion_queue
		ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 WHEN 'low' THEN 0 ELSE -1 END DESC,
		         created_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PGStore) DiscardQueueEntry(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM promotion_queue WHERE id = $1`, id)
	return err
}

func (s *PGStore) CompletePromotion(ctx context.Context, c PromotionComplete) error {
	production, err := json.Marshal(c.Production)
	if err != nil {
		return fmt.Errorf("marshal production metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE staging_submissions
		SET status = $2, production = $3, updated_at = $4
		WHERE id = $1
	`, c.SubmissionID, models.StatusCompleted, production, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotion_queue WHERE id = $1`, c.EntryID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) RecordPromotionFailure(ctx context.Context, entryID uuid.UUID, errorCount int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE promotion_queue
		SET error_count = $2, last_error = $3, last_error_at = $4
		WHERE id = $1
	`, entryID, errorCount, errMsg, time.Now().UTC())
	return err
}

func (s *PGStore) DeadLetter(ctx context.Context, entry models.QueueEntry, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letter_queue (id, queue_entry_id, submission_id, type, priority, error_count, error, moved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), entry.ID, entry.SubmissionID, entry.Type, entry.Priority, entry.ErrorCount, errMsg, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotion_queue WHERE id = $1`, entry.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	query := `
		SELECT id, queue_entry_id, submission_id, type, priority, error_count, error, moved_at
		FROM dead_letter_queue
		ORDER BY moved_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DeadLetterEntry
	for rows.Next() {
		var e models.DeadLetterEntry
		if err := rows.Scan(&e.ID, &e.QueueEntryID, &e.SubmissionID, &e.Type, &e.Priority, &e.ErrorCount, &e.Error, &e.MovedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// mergePayload overlays corrections onto the original payload, shallow,
// top-level keys only.
func mergePayload(payload, corrections []byte) ([]byte, error) {
	if len(corrections) == 0 {
		return payload, nil
	}
	var base map[string]interface{}
	if err := json.Unmarshal(ensureJSON(payload, "{}"), &base); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var patch map[string]interface{}
	if err := json.Unmarshal(corrections, &patch); err != nil {
		return nil, fmt.Errorf("decode corrections: %w", err)
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}

func (s *PGStore) ManualApprove(ctx context.Context, a ManualApproval) (models.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Submission{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM staging_submissions WHERE id = $1 FOR UPDATE`, a.SubmissionID)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", a.SubmissionID)
	}
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Status != models.StatusRequiresReview {
		return models.Submission{}, fault.New(fault.FailedPrecondition, "submission is in %s status, not %s", sub.Status, models.StatusRequiresReview)
	}

	payload, err := mergePayload(sub.Payload, a.Corrections)
	if err != nil {
		return models.Submission{}, fault.Wrap(fault.InvalidArgument, err, "apply corrections")
	}

	now := time.Now().UTC()
	sub.Payload = payload
	sub.Status = models.StatusApproved
	sub.Validation.ManuallyApproved = true
	sub.Validation.ApprovedBy = a.ApprovedBy
	sub.Validation.ApprovedAt = &now
	sub.Validation.ApprovalNotes = a.Notes
	sub.Validation.Corrections = append(json.RawMessage(nil), a.Corrections...)
	sub.UpdatedAt = now

	validation, err := marshalValidation(sub.Validation)
	if err != nil {
		return models.Submission{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE staging_submissions
		SET status = $2, payload = $3, validation = $4, updated_at = $5
		WHERE id = $1
	`, sub.ID, sub.Status, payload, validation, now); err != nil {
		return models.Submission{}, err
	}

	// Manual approvals jump the queue.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO promotion_queue (id, submission_id, type, priority, approved_by, error_count)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, uuid.New(), sub.ID, sub.Type, models.PriorityHigh, a.ApprovedBy); err != nil {
		return models.Submission{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Submission{}, err
	}
	return sub, nil
}

func (s *PGStore) ManualReject(ctx context.Context, r ManualRejection) (models.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Submission{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM staging_submissions WHERE id = $1 FOR UPDATE`, r.SubmissionID)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", r.SubmissionID)
	}
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Status.Terminal() {
		return models.Submission{}, fault.New(fault.FailedPrecondition, "submission is already %s", sub.Status)
	}

	now := time.Now().UTC()
	sub.Status = models.StatusRejected
	sub.Validation.ManuallyRejected = true
	sub.Validation.RejectedBy = r.RejectedBy
	sub.Validation.RejectedAt = &now
	sub.Validation.RejectionReason = r.Reason
	sub.Validation.RejectionDetails = r.Details
	sub.UpdatedAt = now

	validation, err := marshalValidation(sub.Validation)
	if err != nil {
		return models.Submission{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE staging_submissions
		SET status = $2, validation = $3, updated_at = $4
		WHERE id = $1
	`, sub.ID, sub.Status, validation, now); err != nil {
		return models.Submission{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Submission{}, err
	}
	return sub, nil
}

func (s *PGStore) ListRetirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM staging_submissions
		WHERE status IN ($1, $2) AND submitted_at < $3
		ORDER BY submitted_at ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, models.StatusCompleted, models.StatusRejected, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ArchiveSubmission copies the row into staging_archive and then deletes it
// from staging. The insert executes before the delete inside one
// transaction, so a terminal-state record is never lost.
func (s *PGStore) ArchiveSubmission(ctx context.Context, sub models.Submission) error {
	validation, err := marshalValidation(sub.Validation)
	if err != nil {
		return err
	}
	var production []byte
	if sub.Production != nil {
		production, err = json.Marshal(sub.Production)
		if err != nil {
			return fmt.Errorf("marshal production metadata: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO staging_archive (id, type, payload, status, validation, production, submitted_at, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sub.ID, sub.Type, ensureJSON(sub.Payload, "{}"), sub.Status, validation, production, sub.SubmittedAt, sub.CreatedAt, sub.UpdatedAt, time.Now().UTC()); err != nil {
		return err
	}
	// Guard on status so a record revived since listing is left alone.
	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_submissions WHERE id = $1 AND status = $2`, sub.ID, sub.Status); err != nil {
		return err
	}
	return tx.Commit()
}
