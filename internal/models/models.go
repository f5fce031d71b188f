// package models contains the canonical records handled by the staging pipeline.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a staged submission. A submission holds
// exactly one status at any time and transitions only along the pipeline
// state machine (see pipeline package).
type Status string

const (
	StatusPendingValidation Status = "pending_validation"
	StatusAutoValidating    Status = "auto_validating"
	StatusApproved          Status = "approved"
	StatusRequiresReview    Status = "requires_review"
	StatusRejected          Status = "rejected"
	StatusError             Status = "error"
	StatusCompleted         Status = "completed"
)

// Terminal reports whether the status is final and eligible for retention
// sweeping.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Priority orders promotion queue entries. Manual approvals are enqueued
// high so they jump ahead of the automatic backlog.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric tier used by the two-level queue comparator
// (priority tier first, then FIFO on CreatedAt). Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// ValidationRecord is the nested validation metadata of a submission. All
// fields are written by the validation stage or the manual override gateway.
type ValidationRecord struct {
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	Outcome          json.RawMessage `json:"outcome,omitempty"`
	ReviewReasons    []string        `json:"reviewReasons,omitempty"`
	RejectionReasons []string        `json:"rejectionReasons,omitempty"`
	AutoApproved     bool            `json:"autoApproved,omitempty"`
	ManuallyApproved bool            `json:"manuallyApproved,omitempty"`
	ApprovedBy       string          `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	ApprovalNotes    string          `json:"approvalNotes,omitempty"`
	Corrections      json.RawMessage `json:"corrections,omitempty"`
	ManuallyRejected bool            `json:"manuallyRejected,omitempty"`
	RejectedBy       string          `json:"rejectedBy,omitempty"`
	RejectedAt       *time.Time      `json:"rejectedAt,omitempty"`
	RejectionReason  string          `json:"rejectionReason,omitempty"`
	RejectionDetails string          `json:"rejectionDetails,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorAt          *time.Time      `json:"errorAt,omitempty"`
}

// ProductionRecord is written exactly once, when promotion succeeds.
// Invariant: non-nil iff the submission status is completed.
type ProductionRecord struct {
	MovedAt time.Time       `json:"movedAt"`
	IDs     []string        `json:"ids"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Submission is a staged, untrusted unit of field-captured work.
type Submission struct {
	ID          uuid.UUID         `json:"id"`
	Type        string            `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	Status      Status            `json:"status"`
	Validation  ValidationRecord  `json:"validation"`
	Production  *ProductionRecord `json:"production,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// QueueEntry points at an approved submission awaiting promotion. It is
// created in the same transaction that approves the submission and deleted
// when promotion succeeds or the entry is dead-lettered.
type QueueEntry struct {
	ID           uuid.UUID  `json:"id"`
	SubmissionID uuid.UUID  `json:"submissionId"`
	Type         string     `json:"type"`
	Priority     Priority   `json:"priority"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ErrorCount   int        `json:"errorCount"`
	LastError    string     `json:"lastError,omitempty"`
	LastErrorAt  *time.Time `json:"lastErrorAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// DeadLetterEntry is a quarantined copy of a queue entry whose promotion
// exceeded the retry budget. It is never processed automatically again.
type DeadLetterEntry struct {
	ID           uuid.UUID `json:"id"`
	QueueEntryID uuid.UUID `json:"queueEntryId"`
	SubmissionID uuid.UUID `json:"submissionId"`
	Type         string    `json:"type"`
	Priority     Priority  `json:"priority"`
	ErrorCount   int       `json:"errorCount"`
	Error        string    `json:"error"`
	MovedAt      time.Time `json:"movedAt"`
}

// ArchivedSubmission is a terminal-state submission copied out of the
// staging store by the retention sweeper.
type ArchivedSubmission struct {
	Submission
	ArchivedAt time.Time `json:"archivedAt"`
}
