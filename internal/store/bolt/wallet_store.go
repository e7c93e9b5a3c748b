package bolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// walletRecord keeps the key reference, which the domain type hides from JSON.
type walletRecord struct {
	domain.Wallet
	Key string `json:"key_ref"`
}

func (r walletRecord) wallet() domain.Wallet {
	w := r.Wallet
	w.KeyRef = r.Key
	return w
}

// WalletStore implements domain.WalletStore.
type WalletStore struct {
	db *bbolt.DB
}

// NewWalletStore creates a WalletStore.
func NewWalletStore(db *bbolt.DB) *WalletStore {
	return &WalletStore{db: db}
}

var _ domain.WalletStore = (*WalletStore)(nil)

func (s *WalletStore) Create(ctx context.Context, w domain.Wallet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(walletsBucket))
		if b.Get([]byte(w.Role)) != nil {
			return domain.ErrAlreadyExists
		}
		return putJSON(b, []byte(w.Role), walletRecord{Wallet: w, Key: w.KeyRef})
	})
	if err != nil {
		return fmt.Errorf("bolt: create %s wallet: %w", w.Role, err)
	}
	return nil
}

func (s *WalletStore) Get(ctx context.Context, role domain.WalletRole) (domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return domain.Wallet{}, err
	}
	var rec walletRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket([]byte(walletsBucket)), []byte(role), &rec)
	})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("bolt: get %s wallet: %w", role, err)
	}
	return rec.wallet(), nil
}

func (s *WalletStore) List(ctx context.Context) ([]domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Wallet
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(walletsBucket))
		for _, role := range domain.WalletRoles {
			var rec walletRecord
			if err := getJSON(b, []byte(role), &rec); err != nil {
				continue
			}
			out = append(out, rec.wallet())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list wallets: %w", err)
	}
	return out, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, role domain.WalletRole, balance int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(walletsBucket))
		var rec walletRecord
		if err := getJSON(b, []byte(role), &rec); err != nil {
			return err
		}
		rec.Balance = balance
		rec.BalanceAt = at.UTC()
		return putJSON(b, []byte(role), rec)
	})
	if err != nil {
		return fmt.Errorf("bolt: update %s balance: %w", role, err)
	}
	return nil
}
