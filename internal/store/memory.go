package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
)

// MemoryStore is an in-memory Store for tests. A single mutex covers every
// map, so each operation is atomic across the staging, queue, dead-letter,
// and archive state, matching the transactional guarantees of PGStore.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[uuid.UUID]models.Submission
	queue       map[uuid.UUID]models.QueueEntry
	deadLetters map[uuid.UUID]models.DeadLetterEntry
	archive     map[uuid.UUID]models.ArchivedSubmission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: map[uuid.UUID]models.Submission{},
		queue:       map[uuid.UUID]models.QueueEntry{},
		deadLetters: map[uuid.UUID]models.DeadLetterEntry{},
		archive:     map[uuid.UUID]models.ArchivedSubmission{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func copyRaw(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return append(json.RawMessage(nil), raw...)
}

func (m *MemoryStore) CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	sub := models.Submission{
		ID:          in.ID,
		Type:        in.Type,
		Payload:     copyRaw(in.Payload, "{}"),
		Status:      models.StatusPendingValidation,
		SubmittedAt: in.SubmittedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.ID] = sub
	return sub, nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", id)
	}
	return sub, nil
}

func (m *MemoryStore) ClaimPendingValidation(ctx context.Context, limit int) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []models.Submission
	for _, sub := range m.submissions {
		if sub.Status == models.StatusPendingValidation {
			pending = append(pending, sub)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SubmittedAt.Before(pending[j].SubmittedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	for i, sub := range pending {
		sub.Status = models.StatusAutoValidating
		sub.Validation.StartedAt = &now
		sub.UpdatedAt = now
		m.submissions[sub.ID] = sub
		pending[i] = sub
	}
	return pending, nil
}

func (m *MemoryStore) ResetStaleValidating(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, sub := range m.submissions {
		if sub.Status == models.StatusAutoValidating && sub.UpdatedAt.Before(olderThan) {
			sub.Status = models.StatusPendingValidation
			sub.UpdatedAt = time.Now().UTC()
			m.submissions[id] = sub
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ApplyValidationOutcome(ctx context.Context, u ValidationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.submissions[u.SubmissionID]
	if !ok {
		return fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", u.SubmissionID)
	}
	if sub.Status != models.StatusAutoValidating && sub.Status != models.StatusPendingValidation {
		return fault.New(fault.FailedPrecondition, "submission %s no longer validating", u.SubmissionID)
	}

	sub.Status = u.Status
	sub.Validation = u.Validation
	sub.UpdatedAt = time.Now().UTC()
	m.submissions[sub.ID] = sub

	if u.Enqueue != nil {
		entry := models.QueueEntry{
			ID:           uuid.New(),
			SubmissionID: sub.ID,
			Type:         sub.Type,
			Priority:     u.Enqueue.Priority,
			ApprovedBy:   u.Enqueue.ApprovedBy,
			CreatedAt:    time.Now().UTC(),
		}
		m.queue[entry.ID] = entry
	}
	return nil
}

func (m *MemoryStore) DequeuePromotions(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]models.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority.Rank() != entries[j].Priority.Rank() {
			return entries[i].Priority.Rank() > entries[j].Priority.Rank()
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) DiscardQueueEntry(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, id)
	return nil
}

func (m *MemoryStore) CompletePromotion(ctx context.Context, c PromotionComplete) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.submissions[c.SubmissionID]
	if !ok {
		return fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", c.SubmissionID)
	}
	production := c.Production
	sub.Status = models.StatusCompleted
	sub.Production = &production
	sub.UpdatedAt = time.Now().UTC()
	m.submissions[sub.ID] = sub
	delete(m.queue, c.EntryID)
	return nil
}

func (m *MemoryStore) RecordPromotionFailure(ctx context.Context, entryID uuid.UUID, errorCount int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.queue[entryID]
	if !ok {
		return fault.Wrap(fault.NotFound, ErrNotFound, "queue entry %s", entryID)
	}
	now := time.Now().UTC()
	entry.ErrorCount = errorCount
	entry.LastError = errMsg
	entry.LastErrorAt = &now
	m.queue[entryID] = entry
	return nil
}

func (m *MemoryStore) DeadLetter(ctx context.Context, entry models.QueueEntry, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dl := models.DeadLetterEntry{
		ID:           uuid.New(),
		QueueEntryID: entry.ID,
		SubmissionID: entry.SubmissionID,
		Type:         entry.Type,
		Priority:     entry.Priority,
		ErrorCount:   entry.ErrorCount,
		Error:        errMsg,
		MovedAt:      time.Now().UTC(),
	}
	m.deadLetters[dl.ID] = dl
	delete(m.queue, entry.ID)
	return nil
}

func (m *MemoryStore) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]models.DeadLetterEntry, 0, len(m.deadLetters))
	for _, e := range m.deadLetters {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MovedAt.After(entries[j].MovedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) ManualApprove(ctx context.Context, a ManualApproval) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.submissions[a.SubmissionID]
	if !ok {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", a.SubmissionID)
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
	sub.Validation.Corrections = copyRaw(a.Corrections, "null")
	sub.UpdatedAt = now
	m.submissions[sub.ID] = sub

	entry := models.QueueEntry{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Priority:     models.PriorityHigh,
		ApprovedBy:   a.ApprovedBy,
		CreatedAt:    now,
	}
	m.queue[entry.ID] = entry
	return sub, nil
}

func (m *MemoryStore) ManualReject(ctx context.Context, r ManualRejection) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.submissions[r.SubmissionID]
	if !ok {
		return models.Submission{}, fault.Wrap(fault.NotFound, ErrNotFound, "submission %s", r.SubmissionID)
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
	m.submissions[sub.ID] = sub
	return sub, nil
}

func (m *MemoryStore) ListRetirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []models.Submission
	for _, sub := range m.submissions {
		if sub.Status.Terminal() && sub.SubmittedAt.Before(cutoff) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (m *MemoryStore) ArchiveSubmission(ctx context.Context, sub models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.submissions[sub.ID]
	if !ok || current.Status != sub.Status {
		return nil
	}
	m.archive[sub.ID] = models.ArchivedSubmission{Submission: current, ArchivedAt: time.Now().UTC()}
	delete(m.submissions, sub.ID)
	return nil
}

// QueueEntriesFor returns queue entries referencing a submission. Test helper.
func (m *MemoryStore) QueueEntriesFor(id uuid.UUID) []models.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.QueueEntry
	for _, e := range m.queue {
		if e.SubmissionID == id {
			entries = append(entries, e)
		}
	}
	return entries
}

// DeadLettersFor returns dead-letter entries referencing a submission. Test helper.
func (m *MemoryStore) DeadLettersFor(id uuid.UUID) []models.DeadLetterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.DeadLetterEntry
	for _, e := range m.deadLetters {
		if e.SubmissionID == id {
			entries = append(entries, e)
		}
	}
	return entries
}

// Archived returns the archived copy of a submission, if present. Test helper.
func (m *MemoryStore) Archived(id uuid.UUID) (models.ArchivedSubmission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archive[id]
	return a, ok
}
