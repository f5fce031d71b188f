// package validators holds the reference validation strategies for the
// built-in submission types. They are ordinary registry.Validator
// implementations; new types plug in through the registry without touching
// the pipeline.
package validators

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/registry"
)

var poleNumberPattern = regexp.MustCompile(`^[A-Z]{3}\.P\.[A-Z]\d{3}$`)

// requiredPolePhotos is the photo set every pole installation must include.
var requiredPolePhotos = []string{"before", "front", "side", "depth", "concrete", "compaction"}

// maxGPSAccuracy is the worst acceptable reported GPS accuracy in meters
// before a human has to look at the capture.
const maxGPSAccuracy = 15.0

// autoApproveFloor is the minimum score for auto-approval.
const autoApproveFloor = 60

// PolePayload is the expected payload of a "pole" submission.
type PolePayload struct {
	PoleNumber   string `json:"poleNumber"`
	ProjectID    string `json:"projectId"`
	ContractorID string `json:"contractorId,omitempty"`
	Notes        string `json:"notes,omitempty"`
	GPS          *struct {
		Latitude  float64  `json:"latitude"`
		Longitude float64  `json:"longitude"`
		Accuracy  *float64 `json:"accuracy,omitempty"`
	} `json:"gps"`
	Photos []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"photos"`
}

// DuplicateResult reports whether a pole number is already in production.
type DuplicateResult struct {
	Exists      bool
	SameProject bool
}

// DuplicateChecker looks up a pole number in the production store.
type DuplicateChecker interface {
	CheckPole(ctx context.Context, poleNumber, projectID string) (DuplicateResult, error)
}

// SQLDuplicateChecker checks production_poles directly.
type SQLDuplicateChecker struct {
	DB *sql.DB
}

func (c *SQLDuplicateChecker) CheckPole(ctx context.Context, poleNumber, projectID string) (DuplicateResult, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT project_id FROM production_poles WHERE pole_number = $1`, poleNumber)
	if err != nil {
		return DuplicateResult{}, err
	}
	defer rows.Close()

	var res DuplicateResult
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return DuplicateResult{}, err
		}
		res.Exists = true
		if project == projectID {
			res.SameProject = true
		}
	}
	return res, rows.Err()
}

// PoleValidator scores a pole installation submission. Duplicate lookups
// that fail are skipped with a warning rather than failing the submission.
type PoleValidator struct {
	Duplicates DuplicateChecker
}

func (v *PoleValidator) Validate(ctx context.Context, sub *models.Submission) (registry.Outcome, error) {
	var payload PolePayload
	if err := json.Unmarshal(sub.Payload, &payload); err != nil {
		return registry.Outcome{}, fmt.Errorf("decode pole payload: %w", err)
	}

	out := registry.Outcome{
		IsValid:     true,
		AutoApprove: true,
		Score:       100,
		Checks:      map[string]registry.Check{},
	}

	v.checkPoleNumber(&out, payload)
	v.checkDuplicate(ctx, &out, payload)
	v.checkGPS(&out, payload)
	v.checkPhotos(&out, payload)

	if out.Score < autoApproveFloor && out.AutoApprove {
		out.AutoApprove = false
		out.ReviewReasons = append(out.ReviewReasons, fmt.Sprintf("validation score %d below auto-approve floor", out.Score))
	}
	return out, nil
}

func (v *PoleValidator) checkPoleNumber(out *registry.Outcome, p PolePayload) {
	if !poleNumberPattern.MatchString(p.PoleNumber) {
		out.Checks["poleNumberFormat"] = registry.Check{
			Passed:   false,
			Message:  fmt.Sprintf("invalid pole number format: %s", p.PoleNumber),
			Severity: "error",
		}
		out.IsValid = false
		out.Errors = append(out.Errors, "invalid pole number format")
		out.Score -= 30
		return
	}
	out.Checks["poleNumberFormat"] = registry.Check{Passed: true, Message: "pole number format is valid", Severity: "info"}
}

func (v *PoleValidator) checkDuplicate(ctx context.Context, out *registry.Outcome, p PolePayload) {
	if v.Duplicates == nil {
		return
	}
	res, err := v.Duplicates.CheckPole(ctx, p.PoleNumber, p.ProjectID)
	if err != nil {
		out.Checks["duplicatePole"] = registry.Check{Passed: true, Message: "duplicate check skipped due to error", Severity: "warning"}
		out.Warnings = append(out.Warnings, "duplicate check unavailable")
		return
	}
	switch {
	case res.Exists && res.SameProject:
		out.Checks["duplicatePole"] = registry.Check{
			Passed:   false,
			Message:  fmt.Sprintf("pole %s already exists in this project", p.PoleNumber),
			Severity: "error",
		}
		out.IsValid = false
		out.Errors = append(out.Errors, "duplicate pole number in same project")
		out.Score -= 40
	case res.Exists:
		out.Checks["duplicatePole"] = registry.Check{
			Passed:   true,
			Message:  "pole number exists in different project, manual review required",
			Severity: "warning",
		}
		out.AutoApprove = false
		out.ReviewReasons = append(out.ReviewReasons, "pole number exists in another project")
		out.Warnings = append(out.Warnings, "pole number used in different project")
		out.Score -= 10
	default:
		out.Checks["duplicatePole"] = registry.Check{Passed: true, Message: "no duplicate pole number found", Severity: "info"}
	}
}

func (v *PoleValidator) checkGPS(out *registry.Outcome, p PolePayload) {
	gps := p.GPS
	if gps == nil || (gps.Latitude == 0 && gps.Longitude == 0) {
		out.Checks["gpsLocation"] = registry.Check{Passed: false, Message: "GPS coordinates missing", Severity: "error"}
		out.IsValid = false
		out.Errors = append(out.Errors, "GPS coordinates missing")
		out.Score -= 25
		return
	}
	if gps.Latitude < -90 || gps.Latitude > 90 || gps.Longitude < -180 || gps.Longitude > 180 {
		out.Checks["gpsLocation"] = registry.Check{Passed: false, Message: "GPS coordinates out of range", Severity: "error"}
		out.IsValid = false
		out.Errors = append(out.Errors, "GPS coordinates out of range")
		out.Score -= 25
		return
	}
	if gps.Accuracy != nil && *gps.Accuracy > maxGPSAccuracy {
		out.Checks["gpsLocation"] = registry.Check{
			Passed:   true,
			Message:  fmt.Sprintf("GPS accuracy %.1fm exceeds %.0fm threshold", *gps.Accuracy, maxGPSAccuracy),
			Severity: "warning",
		}
		out.AutoApprove = false
		out.ReviewReasons = append(out.ReviewReasons, "GPS accuracy exceeds threshold")
		out.Score -= 10
		return
	}
	out.Checks["gpsLocation"] = registry.Check{Passed: true, Message: "GPS coordinates are valid", Severity: "info"}
}

func (v *PoleValidator) checkPhotos(out *registry.Outcome, p PolePayload) {
	if len(p.Photos) == 0 {
		out.Checks["photos"] = registry.Check{Passed: false, Message: "no photos attached", Severity: "error"}
		out.IsValid = false
		out.Errors = append(out.Errors, "no photos attached")
		out.Score -= 30
		return
	}
	have := map[string]bool{}
	for _, photo := range p.Photos {
		have[photo.Type] = true
	}
	var missing []string
	for _, required := range requiredPolePhotos {
		if !have[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		out.Checks["photos"] = registry.Check{
			Passed:   true,
			Message:  fmt.Sprintf("missing photo types: %v", missing),
			Severity: "warning",
		}
		out.AutoApprove = false
		out.ReviewReasons = append(out.ReviewReasons, fmt.Sprintf("missing %d required photo types", len(missing)))
		out.Score -= 5 * len(missing)
		return
	}
	out.Checks["photos"] = registry.Check{Passed: true, Message: "all required photos present", Severity: "info"}
}
