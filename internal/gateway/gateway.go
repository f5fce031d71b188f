// package gateway implements the synchronous manual override operations. It
// produces state identical in shape to what the automatic stages produce, so
// manual and scheduled transitions interleave safely.
package gateway

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/audit"
	"github.com/fibreflow/staging/internal/auth"
	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/store"
)

type Gateway struct {
	store    store.Store
	recorder audit.Recorder
	logger   *log.Logger
}

func New(st store.Store, rec audit.Recorder, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{store: st, recorder: rec, logger: logger}
}

// ApproveRequest is a reviewer's manual approval. Corrections, when present,
// are merged into the submission payload before approval.
type ApproveRequest struct {
	SubmissionID uuid.UUID
	Corrections  json.RawMessage
	Notes        string
}

// Approve moves a requires_review submission to approved and enqueues it for
// promotion at high priority. Approving from any other status fails with
// FailedPrecondition: the automatic stage owns those transitions.
func (g *Gateway) Approve(ctx context.Context, caller auth.Identity, req ApproveRequest) (models.Submission, error) {
	if !caller.HasRole(auth.RoleAdmin) {
		return models.Submission{}, fault.New(fault.PermissionDenied, "only admins can approve submissions")
	}
	if req.SubmissionID == uuid.Nil {
		return models.Submission{}, fault.New(fault.InvalidArgument, "submission ID is required")
	}

	sub, err := g.store.ManualApprove(ctx, store.ManualApproval{
		SubmissionID: req.SubmissionID,
		ApprovedBy:   caller.Subject,
		Corrections:  req.Corrections,
		Notes:        req.Notes,
	})
	if err != nil {
		return models.Submission{}, err
	}

	g.recordAudit(ctx, &audit.Entry{
		Action:       audit.ActionManualApproval,
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Actor:        caller.Subject,
		Result:       "approved",
		Details: marshal(map[string]interface{}{
			"corrections": nullable(req.Corrections),
			"notes":       req.Notes,
		}),
	})
	g.logger.Printf("[gateway] %s approved submission %s", caller.Subject, sub.ID)
	return sub, nil
}

// RejectRequest is a reviewer's manual rejection.
type RejectRequest struct {
	SubmissionID uuid.UUID
	Reason       string
	Details      string
}

// Reject moves a submission to rejected from any non-terminal state.
func (g *Gateway) Reject(ctx context.Context, caller auth.Identity, req RejectRequest) (models.Submission, error) {
	if !caller.HasRole(auth.RoleAdmin) {
		return models.Submission{}, fault.New(fault.PermissionDenied, "only admins can reject submissions")
	}
	if req.SubmissionID == uuid.Nil || req.Reason == "" {
		return models.Submission{}, fault.New(fault.InvalidArgument, "submission ID and reason are required")
	}

	sub, err := g.store.ManualReject(ctx, store.ManualRejection{
		SubmissionID: req.SubmissionID,
		RejectedBy:   caller.Subject,
		Reason:       req.Reason,
		Details:      req.Details,
	})
	if err != nil {
		return models.Submission{}, err
	}

	g.recordAudit(ctx, &audit.Entry{
		Action:       audit.ActionManualRejection,
		SubmissionID: sub.ID,
		Type:         sub.Type,
		Actor:        caller.Subject,
		Result:       "rejected",
		Details: marshal(map[string]interface{}{
			"reason":  req.Reason,
			"details": req.Details,
		}),
	})
	g.logger.Printf("[gateway] %s rejected submission %s: %s", caller.Subject, sub.ID, req.Reason)
	return sub, nil
}

// SubmitRequest creates a new staged submission in pending_validation.
type SubmitRequest struct {
	Type    string
	Payload json.RawMessage
}

// Submit is the intake path for field-captured records.
func (g *Gateway) Submit(ctx context.Context, caller auth.Identity, req SubmitRequest) (models.Submission, error) {
	if req.Type == "" || len(req.Payload) == 0 {
		return models.Submission{}, fault.New(fault.InvalidArgument, "type and payload are required")
	}
	return g.store.CreateSubmission(ctx, store.SubmissionInput{
		Type:    req.Type,
		Payload: req.Payload,
	})
}

// DeadLetters lists quarantined promotion entries for operator triage.
func (g *Gateway) DeadLetters(ctx context.Context, caller auth.Identity, limit int) ([]models.DeadLetterEntry, error) {
	if !caller.HasRole(auth.RoleAdmin) {
		return nil, fault.New(fault.PermissionDenied, "only admins can inspect dead letters")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return g.store.ListDeadLetters(ctx, limit)
}

func (g *Gateway) recordAudit(ctx context.Context, e *audit.Entry) {
	if err := g.recorder.Record(ctx, e); err != nil {
		g.logger.Printf("[audit] ALERT: failed to record %s for %s: %v", e.Action, e.SubmissionID, err)
	}
}

func marshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func nullable(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
