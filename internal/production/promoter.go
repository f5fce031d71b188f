// package production holds the reference promoters that transform approved
// submissions into production rows. Each promotion is one transaction:
// either fully applied or not applied at all.
package production

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/models"
	"github.com/fibreflow/staging/internal/registry"
	"github.com/fibreflow/staging/internal/validators"
)

// PolePromoter copies an approved pole installation into production_poles.
type PolePromoter struct {
	DB *sql.DB
}

func (p *PolePromoter) Promote(ctx context.Context, sub *models.Submission) (registry.ProductionResult, error) {
	var payload validators.PolePayload
	if err := json.Unmarshal(sub.Payload, &payload); err != nil {
		return registry.ProductionResult{}, fmt.Errorf("decode pole payload: %w", err)
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return registry.ProductionResult{}, err
	}
	defer tx.Rollback()

	id := uuid.New()
	var lat, lon float64
	var accuracy *float64
	if payload.GPS != nil {
		lat, lon = payload.GPS.Latitude, payload.GPS.Longitude
		accuracy = payload.GPS.Accuracy
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO production_poles (id, submission_id, pole_number, project_id, contractor_id, latitude, longitude, gps_accuracy, notes, payload, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`, id, sub.ID, payload.PoleNumber, payload.ProjectID, payload.ContractorID, lat, lon, accuracy, payload.Notes, []byte(sub.Payload), time.Now().UTC()); err != nil {
		return registry.ProductionResult{}, err
	}

	for _, photo := range payload.Photos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_pole_photos (id, pole_id, photo_type, url)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), id, photo.Type, photo.URL); err != nil {
			return registry.ProductionResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return registry.ProductionResult{}, err
	}
	return registry.ProductionResult{IDs: []string{id.String()}}, nil
}

// SOWPromoter copies approved scope-of-work line items into
// production_sow_items.
type SOWPromoter struct {
	DB *sql.DB
}

func (p *SOWPromoter) Promote(ctx context.Context, sub *models.Submission) (registry.ProductionResult, error) {
	var payload validators.SOWPayload
	if err := json.Unmarshal(sub.Payload, &payload); err != nil {
		return registry.ProductionResult{}, fmt.Errorf("decode sow payload: %w", err)
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return registry.ProductionResult{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		id := uuid.New()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_sow_items (id, submission_id, project_id, contractor_id, description, quantity, rate, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		`, id, sub.ID, payload.ProjectID, payload.ContractorID, item.Description, item.Quantity, item.Rate, now); err != nil {
			return registry.ProductionResult{}, err
		}
		ids = append(ids, id.String())
	}

	if err := tx.Commit(); err != nil {
		return registry.ProductionResult{}, err
	}
	return registry.ProductionResult{IDs: ids}, nil
}
