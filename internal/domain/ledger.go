package domain

import "context"

// TransferVerification is the deposit verifier's answer for one proof.
type TransferVerification struct {
	Valid  bool
	Amount int64
	Reason string
}

// DepositVerifier confirms value movements on the distributed ledger.
type DepositVerifier interface {
	// Canonical returns the one spelling of proofID under which it is
	// consumed and stored, so two spellings of the same transaction cannot
	// both pass the replay guard. Malformed ids yield ErrInvalidProof.
	Canonical(proofID string) (string, error)
	// VerifyTransfer confirms at least minAmount moved from -> to in the
	// transaction. The protocol fee travels with the stake, so minAmount
	// covers both.
	VerifyTransfer(ctx context.Context, proofID, from string, minAmount int64, to string) (TransferVerification, error)
}

// Ledger executes value movements from custody wallets.
type Ledger interface {
	Transfer(ctx context.Context, from WalletRef, to string, amount int64) (string, error)
	// Destroy permanently removes amount from the named wallet only.
	Destroy(ctx context.Context, from WalletRef, amount int64) (string, error)
	Balance(ctx context.Context, address string) (int64, error)
}
