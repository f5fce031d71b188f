// package registry maps a submission type tag to the validator/promoter
// strategy pair that handles it. Strategies are registered at startup; the
// pipeline never switches on type itself.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fibreflow/staging/internal/models"
)

// Check is a single named validation check with its outcome.
type Check struct {
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error | warning | info
}

// Outcome is the result of validating one submission.
type Outcome struct {
	IsValid       bool             `json:"isValid"`
	AutoApprove   bool             `json:"autoApprove"`
	Priority      models.Priority  `json:"priority,omitempty"`
	Score         int              `json:"score"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	ReviewReasons []string         `json:"reviewReasons,omitempty"`
}

// MarshalOutcome serializes an outcome for storage in the submission's
// validation metadata.
func MarshalOutcome(o Outcome) json.RawMessage {
	b, err := json.Marshal(o)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// ProductionResult identifies the production records created by a promotion.
type ProductionResult struct {
	IDs     []string        `json:"ids"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Validator checks one submission. It must be free of side effects on the
// staging store; it may read external systems and may fail.
type Validator interface {
	Validate(ctx context.Context, sub *models.Submission) (Outcome, error)
}

// Promoter transforms an approved submission into production records as a
// single unit of work: either fully applied or not applied at all.
type Promoter interface {
	Promote(ctx context.Context, sub *models.Submission) (ProductionResult, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, sub *models.Submission) (Outcome, error)

func (f ValidatorFunc) Validate(ctx context.Context, sub *models.Submission) (Outcome, error) {
	return f(ctx, sub)
}

// PromoterFunc adapts a function to the Promoter interface.
type PromoterFunc func(ctx context.Context, sub *models.Submission) (ProductionResult, error)

func (f PromoterFunc) Promote(ctx context.Context, sub *models.Submission) (ProductionResult, error) {
	return f(ctx, sub)
}

// Registry resolves submission types to their strategy pair.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	promoters  map[string]Promoter
}

func New() *Registry {
	return &Registry{
		validators: map[string]Validator{},
		promoters:  map[string]Promoter{},
	}
}

// Register installs the strategy pair for a type tag. Later registrations
// replace earlier ones.
func (r *Registry) Register(typ string, v Validator, p Promoter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v != nil {
		r.validators[typ] = v
	}
	if p != nil {
		r.promoters[typ] = p
	}
}

// Validator returns the validator for a type tag.
func (r *Registry) Validator(typ string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[typ]
	return v, ok
}

// Promoter returns the promoter for a type tag.
func (r *Registry) Promoter(typ string) (Promoter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.promoters[typ]
	return p, ok
}

// Types lists registered validator types, for startup logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.validators))
	for t := range r.validators {
		out = append(out, t)
	}
	return out
}
