package domain

import "time"

// WalletRole names one of the three custody tiers.
type WalletRole string

const (
	WalletCold WalletRole = "cold"
	WalletHot  WalletRole = "hot"
	WalletBurn WalletRole = "burn"
)

// WalletRoles lists every custody role in flow order.
var WalletRoles = []WalletRole{WalletCold, WalletHot, WalletBurn}

// Valid reports whether r is a known custody role.
func (r WalletRole) Valid() bool {
	switch r {
	case WalletCold, WalletHot, WalletBurn:
		return true
	}
	return false
}

// Wallet is the record for one custody role. KeyRef points at encrypted key
// material (an encrypted key file); the key itself is never stored.
type Wallet struct {
	Role      WalletRole `json:"role"`
	Address   string     `json:"address"`
	KeyRef    string     `json:"-"`
	Balance   int64      `json:"balance"`
	BalanceAt time.Time  `json:"balance_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Ref returns the signing reference handed to the ledger collaborator.
func (w Wallet) Ref() WalletRef {
	return WalletRef{Role: w.Role, Address: w.Address, KeyRef: w.KeyRef}
}

// WalletRef identifies a custody wallet to the ledger collaborator.
type WalletRef struct {
	Role    WalletRole
	Address string
	KeyRef  string
}

// TransferResult describes a value movement executed by the treasury.
type TransferResult struct {
	From      WalletRole `json:"from"`
	To        string     `json:"to"`
	Amount    int64      `json:"amount"`
	ProofID   string     `json:"proof_id,omitempty"`
	DestroyID string     `json:"destroy_id,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// TopUpCheck reports whether the hot wallet needs refilling from cold.
type TopUpCheck struct {
	Needed  bool  `json:"needed"`
	Current int64 `json:"current"`
	Target  int64 `json:"target"`
	Amount  int64 `json:"amount"`
}

// FeeSweep records one hot -> burn -> destroy cycle.
type FeeSweep struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Through   time.Time `json:"through"`
	ProofID   string    `json:"proof_id"`
	DestroyID string    `json:"destroy_id"`
	CreatedAt time.Time `json:"created_at"`
}
