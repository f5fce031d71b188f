package store

import "context"

// EnsureSchema creates the staging tables if they do not exist. Called once
// at startup; safe to run concurrently with other instances.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS staging_submissions (
  id uuid PRIMARY KEY,
  type text NOT NULL,
  payload jsonb NOT NULL DEFAULT '{}'::jsonb,
  status text NOT NULL,
  validation jsonb NOT NULL DEFAULT '{}'::jsonb,
  production jsonb,
  submitted_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_staging_submissions_status_submitted_at
  ON staging_submissions (status, submitted_at ASC);

CREATE TABLE IF NOT EXISTS promotion_queue (
  id uuid PRIMARY KEY,
  submission_id uuid NOT NULL,
  type text NOT NULL,
  priority text NOT NULL,
  approved_by text,
  error_count int NOT NULL DEFAULT 0,
  last_error text,
  last_error_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_promotion_queue_created_at ON promotion_queue (created_at ASC);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
  id uuid PRIMARY KEY,
  queue_entry_id uuid NOT NULL,
  submission_id uuid NOT NULL,
  type text NOT NULL,
  priority text NOT NULL,
  error_count int NOT NULL,
  error text NOT NULL,
  moved_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dead_letter_queue_moved_at ON dead_letter_queue (moved_at DESC);

CREATE TABLE IF NOT EXISTS staging_archive (
  id uuid PRIMARY KEY,
  type text NOT NULL,
  payload jsonb NOT NULL,
  status text NOT NULL,
  validation jsonb NOT NULL,
  production jsonb,
  submitted_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  archived_at timestamptz NOT NULL DEFAULT now()
);
`
	_, err := s.db.ExecContext(ctx, q)
	return err
}
