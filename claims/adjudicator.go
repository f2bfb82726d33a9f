package claims

import (
	"context"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/errors"
	"github.com/meridianbenefits/claimbatch/logger"
)

// Benefit split applied by the baseline adjudicator
const (
	memberShare  = 0.20
	insurerShare = 0.80
)

// Claim status values written back after adjudication
const (
	StatusAdjudicated = "adjudicated"
	StatusDenied      = "denied"
)

// Adjudicator is the baseline adjudicator wired by the claimbatch binary: a
// flat member/insurer benefit split with a fraud gate. Real deployments
// replace it with their own batch.Adjudicator; the engine only sees the
// interface.
type Adjudicator struct {
	store *Store
}

// NewAdjudicator creates the baseline adjudicator over a claim store
func NewAdjudicator(store *Store) *Adjudicator {
	return &Adjudicator{store: store}
}

// Process adjudicates one claim and records the outcome as a claim status
// transition. Satisfies batch.Adjudicator.
func (a *Adjudicator) Process(ctx context.Context, claimID string, opts batch.ProcessOptions) (*batch.Result, error) {
	claim, err := a.store.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}

	if claim.FraudRisk == "confirmed" {
		if err := a.store.SetStatus(ctx, claimID, StatusDenied); err != nil {
			return nil, err
		}
		logger.Infow("Claim denied",
			"claim_id", claimID,
			"reason", "confirmed fraud",
			"workflow", opts.WorkflowType)
		return nil, errors.Newf("claim %s denied: confirmed fraud", claimID)
	}

	if claim.Amount <= 0 {
		return nil, errors.Newf("claim %s has non-positive amount %.2f", claimID, claim.Amount)
	}

	if err := a.store.SetStatus(ctx, claimID, StatusAdjudicated); err != nil {
		return nil, err
	}

	return &batch.Result{
		ApprovedAmount:        claim.Amount,
		MemberResponsibility:  claim.Amount * memberShare,
		InsurerResponsibility: claim.Amount * insurerShare,
	}, nil
}
