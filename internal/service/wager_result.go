package service

import (
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
)

// CommitReceipt is what a player needs to place the deposit.
type CommitReceipt struct {
	CommitmentID   string         `json:"commitment_id"`
	CommitmentHash string         `json:"commitment_hash"`
	Choice         domain.Outcome `json:"choice"`
	DepositAddress string         `json:"deposit_address"`
	DepositAmount  int64          `json:"deposit_amount"`
	FeeAmount      int64          `json:"fee_amount"`
	Payout         int64          `json:"potential_payout"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// ResolveResult is one of Resolved, Deferred or VerificationFailed.
type ResolveResult interface {
	Kind() string
}

// Resolved is a completed wager. PayoutPending is set when a win was
// authorized but the transfer did not go through.
type Resolved struct {
	CommitmentID  string              `json:"commitment_id"`
	Result        domain.Outcome      `json:"result"`
	Won           bool                `json:"won"`
	Payout        int64               `json:"payout"`
	PayoutProofID string              `json:"payout_proof_id,omitempty"`
	PayoutStatus  domain.PayoutStatus `json:"payout_status"`
	PayoutPending bool                `json:"payout_pending"`
	Bundle        fairness.Bundle     `json:"verification"`
}

func (Resolved) Kind() string { return "resolved" }

// Deferred is a win held back by payout policy. It stays owed until settled.
type Deferred struct {
	Resolved
	Reason string `json:"reason"`
}

func (Deferred) Kind() string { return "deferred" }

// VerificationFailed means the deposit could not be confirmed yet. Nothing
// was written; the caller may retry with the same or another proof.
type VerificationFailed struct {
	CommitmentID   string `json:"commitment_id"`
	DepositProofID string `json:"deposit_proof_id"`
	Reason         string `json:"reason"`
}

func (VerificationFailed) Kind() string { return "verification_failed" }

// resultFor builds the response for a resolved commitment.
func resultFor(c domain.Commitment, reason string) ResolveResult {
	r := Resolved{
		CommitmentID:  c.ID,
		Payout:        c.Payout,
		PayoutStatus:  c.PayoutStatus,
		PayoutPending: c.PayoutStatus.Owed(),
		Bundle:        fairness.NewBundle(c),
	}
	if c.Result != nil {
		r.Result = *c.Result
	}
	if c.Won != nil {
		r.Won = *c.Won
	}
	if c.PayoutProof != nil {
		r.PayoutProofID = *c.PayoutProof
	}
	if c.PayoutStatus == domain.PayoutDeferred {
		return Deferred{Resolved: r, Reason: reason}
	}
	return r
}

// WagerView is the public status of a commitment. The secret is filled in
// only once the commitment is resolved.
type WagerView struct {
	domain.Commitment
	Secret string `json:"secret,omitempty"`
}

func viewOf(c domain.Commitment) WagerView {
	return WagerView{Commitment: c, Secret: fairness.NewBundle(c).Secret}
}
