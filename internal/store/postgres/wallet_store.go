package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

var _ domain.WalletStore = (*WalletStore)(nil)

const walletCols = `role, address, key_ref, balance, balance_at, created_at`

func scanWalletFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Wallet, error) {
	var w domain.Wallet
	var role string
	var balanceAt *time.Time
	if err := scanner.Scan(&role, &w.Address, &w.KeyRef, &w.Balance, &balanceAt, &w.CreatedAt); err != nil {
		return domain.Wallet{}, err
	}
	w.Role = domain.WalletRole(role)
	if balanceAt != nil {
		w.BalanceAt = *balanceAt
	}
	return w, nil
}

func (s *WalletStore) Create(ctx context.Context, w domain.Wallet) error {
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (role, address, key_ref, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role) DO NOTHING`,
		string(w.Role), w.Address, w.KeyRef, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create %s wallet: %w", w.Role, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create %s wallet: %w", w.Role, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *WalletStore) Get(ctx context.Context, role domain.WalletRole) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE role = $1`, string(role))
	w, err := scanWalletFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, fmt.Errorf("postgres: get %s wallet: %w", role, domain.ErrNotFound)
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get %s wallet: %w", role, err)
	}
	return w, nil
}

func (s *WalletStore) List(ctx context.Context) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+walletCols+` FROM wallets
		ORDER BY CASE role WHEN 'cold' THEN 0 WHEN 'hot' THEN 1 ELSE 2 END`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets: %w", err)
	}
	defer rows.Close()

	var out []domain.Wallet
	for rows.Next() {
		w, err := scanWalletFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wallets rows: %w", err)
	}
	return out, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, role domain.WalletRole, balance int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET balance = $2, balance_at = $3 WHERE role = $1`,
		string(role), balance, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update %s balance: %w", role, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update %s balance: %w", role, domain.ErrNotFound)
	}
	return nil
}
