package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// transferFeeLamports is the base fee for a single-signature transfer; the
// sender must hold it on top of the amount being moved.
const transferFeeLamports = 5_000

// KeyResolver resolves and creates account signing keys.
type KeyResolver interface {
	SigningKey(ctx context.Context, accountID string) (solana.PrivateKey, error)
	CreateWallet(ctx context.Context, accountID string) (string, error)
}

// ChainClient is the ledger surface the wallet service needs: native
// transfers plus confirmation and balance reads.
type ChainClient interface {
	TransferSOL(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (domain.TxStatus, error)
	Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
}

// WalletService creates account wallets and withdraws SOL from them. Swaps
// never go through here; this is the plain transfer path for funding and
// withdrawals.
type WalletService struct {
	keys     KeyResolver
	chain    ChainClient
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
	cfg      WalletParams
}

// WalletParams holds the confirmation tuning for transfers.
type WalletParams struct {
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// NewWalletService wires the wallet service. notifier and audit may be nil.
func NewWalletService(keys KeyResolver, chain ChainClient, audit domain.AuditStore, notifier Notifier, cfg WalletParams, logger *slog.Logger) *WalletService {
	return &WalletService{
		keys:     keys,
		chain:    chain,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "wallet_service")),
	}
}

// Create generates a wallet for the account and returns its public key.
func (s *WalletService) Create(ctx context.Context, accountID string) (string, error) {
	pubkey, err := s.keys.CreateWallet(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("wallet_service: creating wallet for %s: %w", accountID, err)
	}

	s.auditLog(ctx, accountID, "wallet_created", map[string]any{
		"pubkey": pubkey,
	})
	s.logger.Info("wallet created",
		slog.String("account", accountID),
		slog.String("pubkey", pubkey),
	)
	return pubkey, nil
}

// Transfer moves lamports from the account's wallet to the recipient and
// waits for the transaction to confirm. The sender must cover the amount
// plus the base fee; a transfer still pending when the confirmation window
// closes returns ErrUnconfirmed with the signature already populated.
func (s *WalletService) Transfer(ctx context.Context, accountID, recipient string, lamports uint64) (string, error) {
	if lamports == 0 {
		return "", fmt.Errorf("wallet_service: %w: zero amount", domain.ErrInvalidIntent)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("wallet_service: %w: bad recipient %q", domain.ErrInvalidIntent, recipient)
	}

	key, err := s.keys.SigningKey(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("wallet_service: resolving key for %s: %w", accountID, err)
	}

	balance, err := s.chain.Balance(ctx, key.PublicKey())
	if err != nil {
		return "", fmt.Errorf("wallet_service: reading balance for %s: %w", accountID, err)
	}
	if balance < lamports+transferFeeLamports {
		return "", fmt.Errorf("wallet_service: %w: have %d, need %d", domain.ErrInsufficientBal, balance, lamports+transferFeeLamports)
	}

	sig, err := s.chain.TransferSOL(ctx, key, to, lamports)
	if err != nil {
		s.auditLog(ctx, accountID, "transfer_failed", map[string]any{
			"to":       recipient,
			"lamports": lamports,
			"error":    err.Error(),
		})
		return "", fmt.Errorf("wallet_service: transfer for %s: %w", accountID, err)
	}

	status, err := s.confirm(ctx, sig)
	if err != nil {
		return sig.String(), err
	}
	switch status.State {
	case domain.TxStateConfirmed:
	case domain.TxStateFailed:
		s.auditLog(ctx, accountID, "transfer_failed", map[string]any{
			"to":     recipient,
			"tx":     sig.String(),
			"reason": status.Reason,
		})
		return sig.String(), fmt.Errorf("wallet_service: transfer %s failed on chain: %s", sig, status.Reason)
	default:
		return sig.String(), fmt.Errorf("wallet_service: transfer %s: %w", sig, domain.ErrUnconfirmed)
	}

	s.auditLog(ctx, accountID, "transfer_sent", map[string]any{
		"to":       recipient,
		"lamports": lamports,
		"tx":       sig.String(),
	})
	s.notify(ctx, accountID, "transfer_sent", "Transfer sent",
		fmt.Sprintf("Sent %.6f SOL to %s (tx %s)", float64(lamports)/lamportsPerSOL, recipient, sig))

	s.logger.Info("transfer confirmed",
		slog.String("account", accountID),
		slog.String("to", recipient),
		slog.Uint64("lamports", lamports),
		slog.String("tx", sig.String()),
	)
	return sig.String(), nil
}

// confirm polls the ledger until the transfer reaches a terminal state or
// the confirmation window closes. A pending result at the deadline is
// returned as-is.
func (s *WalletService) confirm(ctx context.Context, sig solana.Signature) (domain.TxStatus, error) {
	deadline := time.NewTimer(s.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.ConfirmPoll)
	defer ticker.Stop()

	var last domain.TxStatus
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, nil
		case <-ticker.C:
			status, err := s.chain.SignatureStatus(ctx, sig)
			if err != nil {
				// Transient RPC errors during polling are not outcomes;
				// keep polling until the deadline.
				continue
			}
			last = status
			if status.State != domain.TxStatePending {
				return status, nil
			}
		}
	}
}

func (s *WalletService) auditLog(ctx context.Context, accountID, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, accountID, event, detail); err != nil {
		s.logger.Warn("audit write failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *WalletService) notify(ctx context.Context, accountID, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, event, title, message); err != nil {
		s.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
