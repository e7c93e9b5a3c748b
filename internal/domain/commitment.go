package domain

import (
	"crypto/subtle"
	"time"
)

// Outcome is one side of the binary wager.
type Outcome string

const (
	OutcomeHeads Outcome = "heads"
	OutcomeTails Outcome = "tails"
)

// Valid reports whether o is one of the two wager outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeHeads || o == OutcomeTails
}

// CommitmentStatus tracks the commitment lifecycle. Transitions only move
// forward: pending -> deposited -> resolved, or pending -> expired.
type CommitmentStatus string

const (
	CommitmentPending   CommitmentStatus = "pending"
	CommitmentDeposited CommitmentStatus = "deposited"
	CommitmentResolved  CommitmentStatus = "resolved"
	CommitmentExpired   CommitmentStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s CommitmentStatus) Terminal() bool {
	return s == CommitmentResolved || s == CommitmentExpired
}

// PayoutStatus tracks settlement of a resolved commitment.
type PayoutStatus string

const (
	PayoutNone       PayoutStatus = "none"       // lost, nothing owed
	PayoutProcessing PayoutStatus = "processing" // authorized, transfer in flight
	PayoutPaid       PayoutStatus = "paid"
	PayoutDeferred   PayoutStatus = "deferred" // held back by risk policy
	PayoutFailed     PayoutStatus = "failed"   // transfer attempted and failed
)

// Owed reports whether the payout still has to be settled.
func (s PayoutStatus) Owed() bool {
	return s == PayoutProcessing || s == PayoutDeferred || s == PayoutFailed
}

// CanSettleTo reports whether a payout may move from s to next. Retries claim
// a deferred or failed payout by moving it back to processing first.
func (s PayoutStatus) CanSettleTo(next PayoutStatus) bool {
	switch next {
	case PayoutProcessing:
		return s == PayoutDeferred || s == PayoutFailed
	case PayoutPaid:
		return s.Owed()
	case PayoutFailed, PayoutDeferred:
		return s == PayoutProcessing
	}
	return false
}

// Commitment is one wager attempt.
type Commitment struct {
	ID           string           `json:"id"`
	Wallet       string           `json:"wallet"`
	Stake        int64            `json:"stake"`
	Choice       Outcome          `json:"choice"`
	Secret       []byte           `json:"-"`
	Hash         string           `json:"commitment_hash"`
	Status       CommitmentStatus `json:"status"`
	FeeAmount    int64            `json:"fee_amount"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	DepositProof *string          `json:"deposit_proof_id,omitempty"`
	DepositedAt  *time.Time       `json:"deposited_at,omitempty"`
	Result       *Outcome         `json:"result,omitempty"`
	Won          *bool            `json:"won,omitempty"`
	Payout       int64            `json:"payout"`
	PayoutStatus PayoutStatus     `json:"payout_status,omitempty"`
	PayoutProof  *string          `json:"payout_proof_id,omitempty"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
}

// ExpiredAt reports whether a still-pending commitment has passed its expiry.
func (c Commitment) ExpiredAt(now time.Time) bool {
	return c.Status == CommitmentPending && !now.Before(c.ExpiresAt)
}

// RevealedSecret returns the server secret once the commitment is resolved
// and nil before that.
func (c Commitment) RevealedSecret() []byte {
	if c.Status != CommitmentResolved {
		return nil
	}
	out := make([]byte, len(c.Secret))
	copy(out, c.Secret)
	return out
}

// SameProof reports whether the commitment was deposited with proof.
func (c Commitment) SameProof(proof string) bool {
	if c.DepositProof == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*c.DepositProof), []byte(proof)) == 1
}

// Resolution carries the fields written when a deposited commitment resolves.
type Resolution struct {
	Result       Outcome
	Won          bool
	Payout       int64
	PayoutStatus PayoutStatus
	ResolvedAt   time.Time
}
