package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Upsert replaces the full row,
// including the sell schedule and fill history, in one write.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, accountID, asset string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByAccount(ctx context.Context, accountID string) ([]Position, error)
	Delete(ctx context.Context, accountID, asset string) error
}

// WalletStore persists account wallets.
type WalletStore interface {
	Create(ctx context.Context, w Wallet) error
	Get(ctx context.Context, accountID string) (Wallet, error)
	Delete(ctx context.Context, accountID string) error
}

// CopySubscriptionStore persists which accounts mirror which tracked
// wallets.
type CopySubscriptionStore interface {
	Subscribe(ctx context.Context, accountID, sourceWallet string) error
	Unsubscribe(ctx context.Context, accountID, sourceWallet string) error
	ListByWallet(ctx context.Context, sourceWallet string) ([]string, error)
	ListByAccount(ctx context.Context, accountID string) ([]string, error)
}

// SettingsStore persists per-account trading preferences.
type SettingsStore interface {
	Get(ctx context.Context, accountID string) (AccountSettings, error)
	Upsert(ctx context.Context, s AccountSettings) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	AccountID string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, accountID, event string, detail map[string]any) error
	List(ctx context.Context, accountID string, opts ListOpts) ([]AuditEntry, error)
}
