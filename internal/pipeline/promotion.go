package pipeline

import (
	"context"
	"log"

	"github.com/fibreflow/staging/internal/audit"
	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/notify"
	"github.com/fibreflow/staging/internal/registry"
	"github.com/fibreflow/staging/internal/store"
	"github.com/google/uuid"
)

// maxPromotionAttempts bounds retries before an entry is dead-lettered.
// Promotion failures are often systemic; unbounded retry would starve the
// queue for unrelated, promotable entries.
const maxPromotionAttempts = 3

// PromotionConfig tunes the promotion stage.
type PromotionConfig struct {
	// BatchSize bounds queue entries per invocation. Defaults to 20.
	BatchSize int

	Logger *log.Logger
}

// PromotionStage drains the promotion queue in priority order and applies
// the type-specific promoter to each approved submission, with bounded
// retries and dead-letter escalation.
type PromotionStage struct {
	store    store.Store
	registry *registry.Registry
	notifier notify.Notifier
	recorder audit.Recorder
	cfg      PromotionConfig
	logger   *log.Logger
}

func NewPromotionStage(st store.Store, reg *registry.Registry, n notify.Notifier, rec audit.Recorder, cfg PromotionConfig) *PromotionStage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &PromotionStage{store: st, registry: reg, notifier: n, recorder: rec, cfg: cfg, logger: logger}
}

func (s *PromotionStage) Name() string { return "promotion" }

func (s *PromotionStage) RunOnce(ctx context.Context) error {
	entries, err := s.store.DequeuePromotions(ctx, s.cfg.BatchSize)
	if err != nil {
		return fault.Wrap(fault.TransientInfrastructure, err, "dequeue promotions")
	}
	if len(entries) == 0 {
		return nil
	}
	s.logger.Printf("[promotion] processing %d queue entries", len(entries))

	var alerts []notify.Event
	for _, entry := range entries {
		events, err := s.processEntry(ctx, entry)
		if err != nil {
			return err
		}
		alerts = append(alerts, events...)
	}

	if len(alerts) > 0 {
		if err := s.notifier.Notify(ctx, alerts); err != nil {
			s.logger.Printf("[promotion] notify operators: %v", err)
		}
	}
	return nil
}

func (s *PromotionStage) processEntry(ctx context.Context, entry models.QueueEntry) ([]notify.Event, error) {
	sub, err := s.store.GetSubmission(ctx, entry.SubmissionID)
	if fault.IsKind(err, fault.NotFound) {
		// Dangling pointer into staging; drop it and move on.
		s.logger.Printf("[promotion] submission %s not found, discarding queue entry %s", entry.SubmissionID, entry.ID)
		if err := s.store.DiscardQueueEntry(ctx, entry.ID); err != nil {
			return nil, fault.Wrap(fault.TransientInfrastructure, err, "discard queue entry %s", entry.ID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.TransientInfrastructure, err, "load submission %s", entry.SubmissionID)
	}

	result, perr := s.promote(ctx, &sub)
	if perr == nil {
		return nil, s.completeEntry(ctx, entry, sub, result)
	}
	return s.failEntry(ctx, entry, sub, perr)
}

func (s *PromotionStage) completeEntry(ctx context.Context, entry models.QueueEntry, sub models.Submission, result registry.ProductionResult) error {
	production := models.ProductionRecord{
		MovedAt: timeNow(),
		IDs:     result.IDs,
		Details: result.Details,
	}
	err := s.store.CompletePromotion(ctx, store.PromotionComplete{
		EntryID:      entry.ID,
		SubmissionID: sub.ID,
		Production:   production,
	})
	if err != nil {
		return fault.Wrap(fault.TransientInfrastructure, err, "complete promotion for %s", sub.ID)
	}

	s.recordAudit(ctx, &audit.Entry{
		Action:       audit.ActionMovedToProduction,
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Actor:        audit.ActorSystem,
		Result:       "success",
		Details:      marshalDetails(production),
	})
	s.logger.Printf("[promotion] moved %s to production (%d records)", sub.ID, len(result.IDs))
	return nil
}

func (s *PromotionStage) failEntry(ctx context.Context, entry models.QueueEntry, sub models.Submission, perr error) ([]notify.Event, error) {
	errMsg := perr.Error()
	entry.ErrorCount++
	s.logger.Printf("[promotion] submission %s attempt %d failed: %v", sub.ID, entry.ErrorCount, perr)

	if entry.ErrorCount < maxPromotionAttempts {
		// Leave the entry queued; retries are spaced by the scheduling
		// interval, which doubles as natural backoff.
		if err := s.store.RecordPromotionFailure(ctx, entry.ID, entry.ErrorCount, errMsg); err != nil {
			return nil, fault.Wrap(fault.TransientInfrastructure, err, "record promotion failure for %s", entry.ID)
		}
		return nil, nil
	}

	// Retry budget exhausted: quarantine the entry. The submission stays
	// approved; promotion, not validation, is what failed.
	if err := s.store.DeadLetter(ctx, entry, errMsg); err != nil {
		return nil, fault.Wrap(fault.TransientInfrastructure, err, "dead-letter entry %s", entry.ID)
	}
	s.recordAudit(ctx, &audit.Entry{
		Action:       audit.ActionDeadLettered,
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Actor:        audit.ActorSystem,
		Result:       "failure",
		Details:      marshalDetails(map[string]interface{}{"error": errMsg, "errorCount": entry.ErrorCount}),
	})
	return []notify.Event{{
		Type:         notify.EventProductionMoveFailed,
		SubmissionID: sub.ID.String(),
		Error:        errMsg,
	}}, nil
}

// promote resolves and runs the promoter, converting panics and missing
// registrations into per-item failures that count toward the retry budget.
func (s *PromotionStage) promote(ctx context.Context, sub *models.Submission) (result registry.ProductionResult, err error) {
	p, ok := s.registry.Promoter(sub.Type)
	if !ok {
		return registry.ProductionResult{}, fault.New(fault.PromotionFailure, "no promoter registered for type: %s", sub.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.PromotionFailure, "promoter panic: %v", r)
		}
	}()
	result, err = p.Promote(ctx, sub)
	if err != nil {
		err = fault.Wrap(fault.PromotionFailure, err, "promote %s", sub.Type)
	}
	return result, err
}

func (s *PromotionStage) recordAudit(ctx context.Context, e *audit.Entry) {
	if e.SubmissionID == uuid.Nil {
		return
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		s.logger.Printf("[audit] ALERT: failed to record %s for %s: %v", e.Action, e.SubmissionID, err)
	}
}
