// package audit is the append-only record of every pipeline state
// transition. Entries are immutable once written; the pipeline never updates
// or deletes them.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actions written by the pipeline.
const (
	ActionValidationProcessed = "validation_processed"
	ActionMovedToProduction   = "moved_to_production"
	ActionDeadLettered        = "promotion_dead_lettered"
	ActionManualApproval      = "manual_approval"
	ActionManualRejection     = "manual_rejection"
)

// ActorSystem identifies transitions made by the scheduled stages rather
// than a human reviewer.
const ActorSystem = "system"

// Entry is one audit record.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	SubmissionID uuid.UUID       `json:"submissionId"`
	Type         string          `json:"type"`
	Actor        string          `json:"actor"`
	Result       string          `json:"result,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Recorder appends audit entries. A failed write must not fail silently:
// callers log it as an operational alert, but never roll back the business
// transition it describes.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}
