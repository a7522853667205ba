package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// SettingsStore implements domain.SettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the settings for the given account.
func (s *SettingsStore) Get(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	const query = `
		SELECT account_id, buy_amount_sol, slippage_bps,
			take_profit_pct, stop_loss_pct, limit_orders,
			repeat_count, auto_sell, use_relay, tip_lamports, updated_at
		FROM account_settings WHERE account_id = $1`

	var as domain.AccountSettings
	var tipLamports int64
	var limitJSON []byte

	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&as.AccountID, &as.BuyAmountSOL, &as.SlippageBps,
		&as.TakeProfitPct, &as.StopLossPct, &limitJSON,
		&as.RepeatCount, &as.AutoSell, &as.UseRelay, &tipLamports, &as.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountSettings{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AccountSettings{}, fmt.Errorf("postgres: get settings for %s: %w", accountID, err)
	}

	as.TipLamports = uint64(tipLamports)
	if err := json.Unmarshal(limitJSON, &as.LimitOrders); err != nil {
		return domain.AccountSettings{}, fmt.Errorf("postgres: unmarshal limit orders: %w", err)
	}
	return as, nil
}

// Upsert inserts or replaces the settings row for an account.
func (s *SettingsStore) Upsert(ctx context.Context, as domain.AccountSettings) error {
	limitJSON, err := json.Marshal(as.LimitOrders)
	if err != nil {
		return fmt.Errorf("postgres: marshal limit orders: %w", err)
	}

	const query = `
		INSERT INTO account_settings (
			account_id, buy_amount_sol, slippage_bps,
			take_profit_pct, stop_loss_pct, limit_orders,
			repeat_count, auto_sell, use_relay, tip_lamports, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			buy_amount_sol  = EXCLUDED.buy_amount_sol,
			slippage_bps    = EXCLUDED.slippage_bps,
			take_profit_pct = EXCLUDED.take_profit_pct,
			stop_loss_pct   = EXCLUDED.stop_loss_pct,
			limit_orders    = EXCLUDED.limit_orders,
			repeat_count    = EXCLUDED.repeat_count,
			auto_sell       = EXCLUDED.auto_sell,
			use_relay       = EXCLUDED.use_relay,
			tip_lamports    = EXCLUDED.tip_lamports,
			updated_at      = NOW()`

	_, err = s.pool.Exec(ctx, query,
		as.AccountID, as.BuyAmountSOL, as.SlippageBps,
		as.TakeProfitPct, as.StopLossPct, limitJSON,
		as.RepeatCount, as.AutoSell, as.UseRelay, int64(as.TipLamports),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert settings for %s: %w", as.AccountID, err)
	}
	return nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
