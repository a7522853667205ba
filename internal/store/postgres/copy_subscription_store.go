package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// CopySubscriptionStore implements domain.CopySubscriptionStore using PostgreSQL.
type CopySubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewCopySubscriptionStore creates a new CopySubscriptionStore backed by the given pool.
func NewCopySubscriptionStore(pool *pgxpool.Pool) *CopySubscriptionStore {
	return &CopySubscriptionStore{pool: pool}
}

// Subscribe records that an account mirrors trades from a tracked wallet.
// Subscribing twice is a no-op.
func (s *CopySubscriptionStore) Subscribe(ctx context.Context, accountID, sourceWallet string) error {
	const query = `
		INSERT INTO copy_subscriptions (account_id, source_wallet)
		VALUES ($1, $2)
		ON CONFLICT (account_id, source_wallet) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, accountID, sourceWallet)
	if err != nil {
		return fmt.Errorf("postgres: subscribe %s to %s: %w", accountID, sourceWallet, err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (s *CopySubscriptionStore) Unsubscribe(ctx context.Context, accountID, sourceWallet string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM copy_subscriptions WHERE account_id = $1 AND source_wallet = $2`,
		accountID, sourceWallet,
	)
	if err != nil {
		return fmt.Errorf("postgres: unsubscribe %s from %s: %w", accountID, sourceWallet, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByWallet returns the accounts subscribed to a tracked wallet.
func (s *CopySubscriptionStore) ListByWallet(ctx context.Context, sourceWallet string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id FROM copy_subscriptions WHERE source_wallet = $1 ORDER BY created_at`,
		sourceWallet,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscribers of %s: %w", sourceWallet, err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListByAccount returns the wallets an account is mirroring.
func (s *CopySubscriptionStore) ListByAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_wallet FROM copy_subscriptions WHERE account_id = $1 ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions for %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ domain.CopySubscriptionStore = (*CopySubscriptionStore)(nil)
