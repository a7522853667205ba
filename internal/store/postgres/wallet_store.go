package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Create inserts a new wallet. An account has at most one wallet, so a
// second create for the same account fails with ErrAlreadyExists.
func (s *WalletStore) Create(ctx context.Context, w domain.Wallet) error {
	const query = `
		INSERT INTO wallets (account_id, public_key, encrypted_key, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, w.AccountID, w.PublicKey, w.EncryptedKey, w.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create wallet for %s: %w", w.AccountID, err)
	}
	return nil
}

// Get returns the wallet for the given account.
func (s *WalletStore) Get(ctx context.Context, accountID string) (domain.Wallet, error) {
	const query = `
		SELECT account_id, public_key, encrypted_key, created_at
		FROM wallets WHERE account_id = $1`

	var w domain.Wallet
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&w.AccountID, &w.PublicKey, &w.EncryptedKey, &w.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet for %s: %w", accountID, err)
	}
	return w, nil
}

// Delete removes an account's wallet.
func (s *WalletStore) Delete(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("postgres: delete wallet for %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
