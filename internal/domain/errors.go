package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	// Validation.
	ErrInvalidStake  = errors.New("stake out of bounds")
	ErrInvalidChoice = errors.New("invalid choice")
	ErrInvalidWallet = errors.New("invalid wallet address")
	ErrInvalidProof  = errors.New("invalid deposit proof identifier")

	// Conflicts.
	ErrDuplicatePending = errors.New("wallet already has a pending commitment")
	ErrAlreadyResolved  = errors.New("commitment already resolved")
	ErrExpired          = errors.New("commitment expired")
	ErrNotCancellable   = errors.New("commitment is no longer pending")
	ErrReplayDetected   = errors.New("deposit proof already used")
	ErrAlreadyConsumed  = errors.New("proof already consumed")
	ErrCooldown         = errors.New("wallet is cooling down")
	ErrInvalidState     = errors.New("invalid status transition")

	// Verification and risk.
	ErrDepositUnverified = errors.New("deposit not verified")
	ErrDepositOrphaned   = errors.New("deposit confirmed after the commitment closed; needs manual refund")
	ErrRiskDenied        = errors.New("wager denied by risk policy")

	// Treasury.
	ErrInsufficientReserve = errors.New("insufficient cold reserve")
	ErrExceedsMaxTransfer  = errors.New("amount exceeds maximum single transfer")
	ErrForbiddenFlow       = errors.New("transfer direction not allowed")
	ErrWalletNotConfigured = errors.New("wallet role not configured")
)
