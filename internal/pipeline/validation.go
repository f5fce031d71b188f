// package pipeline contains the scheduled batch stages: validation,
// promotion, and retention. Each stage is stateless between invocations and
// holds nothing beyond injected collaborator handles, so stages can be
// replicated or re-triggered freely; per-entity atomic writes in the store
// are what make overlapping runs safe.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/fibreflow/staging/internal/audit"
	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/notify"
	"github.com/fibreflow/staging/internal/registry"
	"github.com/fibreflow/staging/internal/store"
)

// ValidationConfig tunes the validation stage.
type ValidationConfig struct {
	// BatchSize bounds submissions per invocation. Defaults to 50.
	BatchSize int

	// StaleAfter, when > 0, resets auto_validating submissions older than
	// this back to pending_validation before claiming. Zero disables the
	// sweep and stuck items wait for operator intervention.
	StaleAfter time.Duration

	Logger *log.Logger
}

// ValidationStage pulls pending submissions, runs the registered validator
// for each, and commits every outcome independently: one submission's
// failure never aborts the batch.
type ValidationStage struct {
	store    store.Store
	registry *registry.Registry
	notifier notify.Notifier
	recorder audit.Recorder
	cfg      ValidationConfig
	logger   *log.Logger
}

func NewValidationStage(st store.Store, reg *registry.Registry, n notify.Notifier, rec audit.Recorder, cfg ValidationConfig) *ValidationStage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ValidationStage{store: st, registry: reg, notifier: n, recorder: rec, cfg: cfg, logger: logger}
}

func (s *ValidationStage) Name() string { return "validation" }

// RunOnce processes one batch. Store-level failures abort the whole
// invocation and are retried wholesale at the next schedule.
func (s *ValidationStage) RunOnce(ctx context.Context) error {
	if s.cfg.StaleAfter > 0 {
		reset, err := s.store.ResetStaleValidating(ctx, time.Now().UTC().Add(-s.cfg.StaleAfter))
		if err != nil {
			return fault.Wrap(fault.TransientInfrastructure, err, "reset stale validating")
		}
		if reset > 0 {
			s.logger.Printf("[validation] reset %d stale auto_validating submissions", reset)
		}
	}

	subs, err := s.store.ClaimPendingValidation(ctx, s.cfg.BatchSize)
	if err != nil {
		return fault.Wrap(fault.TransientInfrastructure, err, "claim pending submissions")
	}
	if len(subs) == 0 {
		return nil
	}
	s.logger.Printf("[validation] claimed %d pending submissions", len(subs))

	var notifications []notify.Event
	for i := range subs {
		events, err := s.processOne(ctx, &subs[i])
		if err != nil {
			return err
		}
		notifications = append(notifications, events...)
	}

	// One notification batch for the whole run, not one per item.
	if len(notifications) > 0 {
		if err := s.notifier.Notify(ctx, notifications); err != nil {
			s.logger.Printf("[validation] notify reviewers: %v", err)
		}
	}
	return nil
}

// processOne validates a single claimed submission and commits its outcome.
// Only store-level failures propagate; validator failures are recorded on
// the submission itself.
func (s *ValidationStage) processOne(ctx context.Context, sub *models.Submission) ([]notify.Event, error) {
	outcome, verr := s.validate(ctx, sub)

	now := time.Now().UTC()
	rec := sub.Validation
	rec.CompletedAt = &now

	update := store.ValidationUpdate{
		SubmissionID:   sub.ID,
		SubmissionType: sub.Type,
	}
	var events []notify.Event
	auditResult := ""

	switch {
	case verr != nil:
		rec.CompletedAt = nil
		rec.Error = verr.Error()
		rec.ErrorAt = &now
		update.Status = models.StatusError

	case outcome.IsValid && outcome.AutoApprove:
		rec.Outcome = registry.MarshalOutcome(outcome)
		rec.AutoApproved = true
		update.Status = models.StatusApproved
		priority := outcome.Priority
		if priority == "" {
			priority = models.PriorityNormal
		}
		update.Enqueue = &store.QueueInsert{Priority: priority}
		auditResult = "valid"

	case outcome.IsValid:
		rec.Outcome = registry.MarshalOutcome(outcome)
		rec.ReviewReasons = outcome.ReviewReasons
		update.Status = models.StatusRequiresReview
		events = append(events, notify.Event{
			Type:         notify.EventManualReviewRequired,
			SubmissionID: sub.ID.String(),
			Reasons:      outcome.ReviewReasons,
		})
		auditResult = "valid"

	default:
		rec.Outcome = registry.MarshalOutcome(outcome)
		rec.RejectionReasons = outcome.Errors
		update.Status = models.StatusRejected
		auditResult = "invalid"
	}
	update.Validation = rec

	if err := s.store.ApplyValidationOutcome(ctx, update); err != nil {
		if fault.IsKind(err, fault.FailedPrecondition) {
			// A manual override won the race; its outcome stands.
			s.logger.Printf("[validation] submission %s: %v", sub.ID, err)
			return nil, nil
		}
		return nil, fault.Wrap(fault.TransientInfrastructure, err, "commit outcome for %s", sub.ID)
	}

	if verr != nil {
		s.logger.Printf("[validation] submission %s failed validation run: %v", sub.ID, verr)
		return nil, nil
	}

	s.recordAudit(ctx, &audit.Entry{
		Action:       audit.ActionValidationProcessed,
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Actor:        audit.ActorSystem,
		Result:       auditResult,
		Details:      registry.MarshalOutcome(outcome),
	})
	return events, nil
}

// validate resolves and runs the validator, converting panics and missing
// registrations into per-item failures.
func (s *ValidationStage) validate(ctx context.Context, sub *models.Submission) (outcome registry.Outcome, err error) {
	v, ok := s.registry.Validator(sub.Type)
	if !ok {
		return registry.Outcome{}, fault.New(fault.ValidatorFailure, "unknown submission type: %s", sub.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.ValidatorFailure, "validator panic: %v", r)
		}
	}()
	outcome, err = v.Validate(ctx, sub)
	if err != nil {
		err = fault.Wrap(fault.ValidatorFailure, err, "validate %s", sub.Type)
	}
	return outcome, err
}

func (s *ValidationStage) recordAudit(ctx context.Context, e *audit.Entry) {
	if err := s.recorder.Record(ctx, e); err != nil {
		// Audit is best-effort observability: alert, don't roll back.
		s.logger.Printf("[audit] ALERT: failed to record %s for %s: %v", e.Action, e.SubmissionID, err)
	}
}

func marshalDetails(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return b
}
