package batch

import (
	"context"
	"time"
)

// Adjudicator executes one claim. The engine treats the result as opaque
// except for the monetary fields the results aggregator sums.
type Adjudicator interface {
	Process(ctx context.Context, claimID string, opts ProcessOptions) (*Result, error)
}

// ProcessOptions carries per-call hints to the adjudicator
type ProcessOptions struct {
	WorkflowType   string         `json:"workflow_type"`
	Priority       Priority       `json:"priority"`
	ProcessingMode ProcessingMode `json:"processing_mode"`
}

// Result is the adjudicator's outcome for one claim
type Result struct {
	ApprovedAmount        float64 `json:"approved_amount"`
	DeniedAmount          float64 `json:"denied_amount"`
	MemberResponsibility  float64 `json:"member_responsibility"`
	InsurerResponsibility float64 `json:"insurer_responsibility"`
}

// ClaimStore resolves claim ids and filters against the claims data store.
// Get returns errors.ErrNotFound (wrapped) when the id does not exist.
type ClaimStore interface {
	Get(ctx context.Context, id string) (*Claim, error)
	Query(ctx context.Context, f ClaimFilter) ([]*Claim, error)
}

// Claim is the subset of a stored claim the engine needs for validation and
// priority assignment
type Claim struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	FraudRisk     string    `json:"fraud_risk"` // "none", "low", "medium", "high", "confirmed"
	Status        string    `json:"status"`
	MemberID      string    `json:"member_id,omitempty"`
	InstitutionID string    `json:"institution_id,omitempty"`
	ServiceDate   time.Time `json:"service_date"`
}

// ClaimFilter selects claims for filter-based job creation. Nil fields are
// ignored.
type ClaimFilter struct {
	Status        string     `json:"status,omitempty"`
	MinAmount     *float64   `json:"min_amount,omitempty"`
	MaxAmount     *float64   `json:"max_amount,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	MemberID      string     `json:"member_id,omitempty"`
	InstitutionID string     `json:"institution_id,omitempty"`
}
