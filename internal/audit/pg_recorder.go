package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PGRecorder appends audit entries into the audit_log table.
type PGRecorder struct {
	db *sql.DB
}

func NewPGRecorder(db *sql.DB) *PGRecorder {
	return &PGRecorder{db: db}
}

// EnsureSchema creates the audit_log table if it does not exist.
func (r *PGRecorder) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS audit_log (
  id uuid PRIMARY KEY,
  action text NOT NULL,
  submission_id uuid NOT NULL,
  type text NOT NULL,
  actor text NOT NULL,
  result text,
  details jsonb,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_log_submission_id ON audit_log (submission_id, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

func (r *PGRecorder) Record(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := `
		INSERT INTO audit_log (id, action, submission_id, type, actor, result, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.Action, e.SubmissionID, e.Type, e.Actor, e.Result, []byte(e.Details), e.CreatedAt)
	return err
}

// MemoryRecorder collects entries in memory for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// ByAction filters recorded entries by action.
func (r *MemoryRecorder) ByAction(action string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
