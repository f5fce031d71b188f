package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/fibreflow/staging/internal/archive"
	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/store"
)

// timeNow is swapped in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

// RetentionConfig tunes the retention sweeper.
type RetentionConfig struct {
	// Retention is how long terminal submissions stay in staging.
	// Defaults to 30 days.
	Retention time.Duration

	// PageSize bounds submissions per invocation. Defaults to 500.
	PageSize int

	Logger *log.Logger
}

// RetentionSweeper archives terminal-state submissions past the retention
// window and deletes them from staging, copy first, delete second.
type RetentionSweeper struct {
	store    store.Store
	archiver archive.Archiver // optional; nil skips object storage
	cfg      RetentionConfig
	logger   *log.Logger
}

func NewRetentionSweeper(st store.Store, a archive.Archiver, cfg RetentionConfig) *RetentionSweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RetentionSweeper{store: st, archiver: a, cfg: cfg, logger: logger}
}

func (s *RetentionSweeper) Name() string { return "retention" }

func (s *RetentionSweeper) RunOnce(ctx context.Context) error {
	cutoff := timeNow().Add(-s.cfg.Retention)
	subs, err := s.store.ListRetirable(ctx, cutoff, s.cfg.PageSize)
	if err != nil {
		return fault.Wrap(fault.TransientInfrastructure, err, "list retirable submissions")
	}
	if len(subs) == 0 {
		return nil
	}

	archived := 0
	for _, sub := range subs {
		if s.archiver != nil {
			// The object copy must be durable before the staging row goes
			// away; on upload failure the row is left for the next sweep.
			if err := s.archiver.ArchiveSubmission(ctx, sub); err != nil {
				s.logger.Printf("[retention] archive %s to object storage: %v", sub.ID, err)
				continue
			}
		}
		if err := s.store.ArchiveSubmission(ctx, sub); err != nil {
			return fault.Wrap(fault.TransientInfrastructure, err, "archive submission %s", sub.ID)
		}
		archived++
	}
	s.logger.Printf("[retention] archived %d of %d eligible submissions (cutoff %s)", archived, len(subs), cutoff.Format(time.RFC3339))
	return nil
}
