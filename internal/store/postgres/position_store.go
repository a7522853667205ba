package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// sell schedule and fill history travel as JSONB columns so an upsert
// replaces the whole position in one statement.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `account_id, asset, symbol, entry_price,
	total_size, sold_size, sold_percentage,
	sell_schedule, history, source, opened_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var totalSize, soldSize int64
	var source string
	var scheduleJSON, historyJSON []byte

	err := row.Scan(
		&p.AccountID, &p.Asset, &p.Symbol, &p.EntryPrice,
		&totalSize, &soldSize, &p.SoldPercentage,
		&scheduleJSON, &historyJSON, &source,
		&p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.TotalSize = uint64(totalSize)
	p.SoldSize = uint64(soldSize)
	p.Source = domain.PositionSource(source)

	if err := json.Unmarshal(scheduleJSON, &p.SellSchedule); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal sell schedule: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &p.History); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal fill history: %w", err)
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts the position or replaces the existing row for the same
// (account, asset) pair.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	scheduleJSON, err := json.Marshal(pos.SellSchedule)
	if err != nil {
		return fmt.Errorf("postgres: marshal sell schedule: %w", err)
	}
	historyJSON, err := json.Marshal(pos.History)
	if err != nil {
		return fmt.Errorf("postgres: marshal fill history: %w", err)
	}

	const query = `
		INSERT INTO positions (
			account_id, asset, symbol, entry_price,
			total_size, sold_size, sold_percentage,
			sell_schedule, history, source, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, NOW()
		)
		ON CONFLICT (account_id, asset) DO UPDATE SET
			symbol          = EXCLUDED.symbol,
			entry_price     = EXCLUDED.entry_price,
			total_size      = EXCLUDED.total_size,
			sold_size       = EXCLUDED.sold_size,
			sold_percentage = EXCLUDED.sold_percentage,
			sell_schedule   = EXCLUDED.sell_schedule,
			history         = EXCLUDED.history,
			source          = EXCLUDED.source,
			updated_at      = NOW()`

	_, err = s.pool.Exec(ctx, query,
		pos.AccountID, pos.Asset, pos.Symbol, pos.EntryPrice,
		int64(pos.TotalSize), int64(pos.SoldSize), pos.SoldPercentage,
		scheduleJSON, historyJSON, string(pos.Source), pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Key(), err)
	}
	return nil
}

// Get returns the position for the given account and asset.
func (s *PositionStore) Get(ctx context.Context, accountID, asset string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE account_id = $1 AND asset = $2`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, accountID, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s:%s: %w", accountID, asset, err)
	}
	return p, nil
}

// ListOpen returns every position with anything left to sell.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE sold_size < total_size AND sold_percentage < 100
		ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return positions, nil
}

// ListByAccount returns all positions held by an account.
func (s *PositionStore) ListByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE account_id = $1
		ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", accountID, err)
	}
	return positions, nil
}

// ListFillsBefore flattens every fill executed strictly before the
// cutoff out of the JSONB history of all positions. Used by the S3
// archiver.
func (s *PositionStore) ListFillsBefore(ctx context.Context, before time.Time) ([]domain.ArchivedFill, error) {
	const query = `
		SELECT p.account_id, p.asset, p.symbol, f
		FROM positions p, jsonb_array_elements(p.history) f
		WHERE (f->>'FilledAt')::timestamptz < $1
		ORDER BY (f->>'FilledAt')::timestamptz`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var fills []domain.ArchivedFill
	for rows.Next() {
		var af domain.ArchivedFill
		var fillJSON []byte

		if err := rows.Scan(&af.AccountID, &af.Asset, &af.Symbol, &fillJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}

		var fill domain.SoldStep
		if err := json.Unmarshal(fillJSON, &fill); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal fill: %w", err)
		}
		af.Price = fill.Price
		af.PercentageSold = fill.PercentageSold
		af.QuantitySold = fill.QuantitySold
		af.TxID = fill.TxID
		af.FilledAt = fill.FilledAt

		fills = append(fills, af)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return fills, nil
}

// Delete removes a position.
func (s *PositionStore) Delete(ctx context.Context, accountID, asset string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND asset = $2`,
		accountID, asset,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s:%s: %w", accountID, asset, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
