package validators

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/registry"
)

// totalTolerance is the accepted relative difference between the declared
// and the computed scope-of-work total before a reviewer must confirm.
const totalTolerance = 0.01

// SOWPayload is the expected payload of a "sow" (scope-of-work) submission.
type SOWPayload struct {
	ProjectID     string  `json:"projectId"`
	ContractorID  string  `json:"contractorId,omitempty"`
	DeclaredTotal float64 `json:"declaredTotal,omitempty"`
	Items         []struct {
		Description string  `json:"description"`
		Quantity    float64 `json:"quantity"`
		Rate        float64 `json:"rate"`
	} `json:"items"`
}

// SOWValidator checks scope-of-work entries for structural soundness and
// total consistency.
type SOWValidator struct{}

func (v *SOWValidator) Validate(ctx context.Context, sub *models.Submission) (registry.Outcome, error) {
	var payload SOWPayload
	if err := json.Unmarshal(sub.Payload, &payload); err != nil {
		return registry.Outcome{}, fmt.Errorf("decode sow payload: %w", err)
	}

	out := registry.Outcome{
		IsValid:     true,
		AutoApprove: true,
		Score:       100,
		Checks:      map[string]registry.Check{},
	}

	if payload.ProjectID == "" {
		out.Checks["projectRef"] = registry.Check{Passed: false, Message: "project reference missing", Severity: "error"}
		out.IsValid = false
		out.Errors = append(out.Errors, "project reference missing")
		out.Score -= 40
	} else {
		out.Checks["projectRef"] = registry.Check{Passed: true, Message: "project reference present", Severity: "info"}
	}

	if len(payload.Items) == 0 {
		out.Checks["items"] = registry.Check{Passed: false, Message: "no line items", Severity: "error"}
		out.IsValid = false
		out.Errors = append(out.Errors, "no line items")
		out.Score -= 40
		return out, nil
	}

	computed := 0.0
	for i, item := range payload.Items {
		if item.Quantity < 0 || item.Rate < 0 {
			out.Checks["items"] = registry.Check{
				Passed:   false,
				Message:  fmt.Sprintf("line item %d has a negative quantity or rate", i),
				Severity: "error",
			}
			out.IsValid = false
			out.Errors = append(out.Errors, "negative quantity or rate")
			out.Score -= 30
			return out, nil
		}
		computed += item.Quantity * item.Rate
	}
	out.Checks["items"] = registry.Check{Passed: true, Message: fmt.Sprintf("%d line items", len(payload.Items)), Severity: "info"}

	if payload.DeclaredTotal > 0 {
		diff := math.Abs(payload.DeclaredTotal - computed)
		if diff > payload.DeclaredTotal*totalTolerance {
			out.Checks["declaredTotal"] = registry.Check{
				Passed:   true,
				Message:  fmt.Sprintf("declared total %.2f differs from computed %.2f", payload.DeclaredTotal, computed),
				Severity: "warning",
			}
			out.AutoApprove = false
			out.ReviewReasons = append(out.ReviewReasons, "declared total differs from computed total")
			out.Score -= 15
		} else {
			out.Checks["declaredTotal"] = registry.Check{Passed: true, Message: "declared total matches line items", Severity: "info"}
		}
	}
	return out, nil
}
