// Package executor turns swap intents into confirmed on-chain transactions.
// It quotes a route, assembles and signs the transaction, delivers it either
// straight to an RPC node or as a tipped relay bundle, and polls for
// confirmation. An attempt that does not confirm is retried exactly once on
// a fresh blockhash.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/metrics"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/jito"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/jupiter"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/solanarpc"
)

// Router quotes swap routes and assembles unsigned transactions.
type Router interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (jupiter.Quote, error)
	BuildSwap(ctx context.Context, quote jupiter.Quote, user solana.PublicKey) (jupiter.SwapPlan, error)
}

// Ledger is the RPC surface the executor needs for submission and
// confirmation.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (domain.TxStatus, error)
}

// Relay broadcasts a bundle of serialized transactions to block-engine
// endpoints.
type Relay interface {
	SubmitBundle(ctx context.Context, txs [][]byte) error
}

// Keys resolves signing keys for accounts.
type Keys interface {
	SigningKey(ctx context.Context, accountID string) (solana.PrivateKey, error)
}

// Config holds executor tuning parameters.
type Config struct {
	TipLamports    uint64
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// Executor executes swap intents end to end.
type Executor struct {
	router  Router
	ledger  Ledger
	relay   Relay
	keys    Keys
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Executor. relay may be nil when only direct delivery is
// configured.
func New(router Router, ledger Ledger, relay Relay, keys Keys, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = time.Second
	}
	return &Executor{
		router:  router,
		ledger:  ledger,
		relay:   relay,
		keys:    keys,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Execute runs the intent to completion. The first attempt that fails to
// confirm, whether by timeout or by a terminal ledger error, is retried
// exactly once on a freshly fetched blockhash; after a second miss the
// result is returned with domain.ErrUnconfirmed.
func (e *Executor) Execute(ctx context.Context, intent domain.SwapIntent) (domain.SwapResult, error) {
	if err := validateIntent(intent); err != nil {
		return domain.SwapResult{}, err
	}
	if intent.Delivery == domain.DeliveryRelay && e.relay == nil {
		return domain.SwapResult{}, fmt.Errorf("executor: relay delivery requested but no relay configured: %w", domain.ErrInvalidIntent)
	}

	key, err := e.keys.SigningKey(ctx, intent.AccountID)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("executor: resolving key: %w", err)
	}

	quote, err := e.router.GetQuote(ctx, jupiter.QuoteRequest{
		InputMint:   intent.InputMint,
		OutputMint:  intent.OutputMint,
		Amount:      intent.Amount,
		SlippageBps: intent.SlippageBps,
	})
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("executor: quoting route: %w", err)
	}

	plan, err := e.router.BuildSwap(ctx, quote, key.PublicKey())
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("executor: building swap: %w", err)
	}

	log := e.logger.With(
		slog.String("account", intent.AccountID),
		slog.String("side", string(intent.Side)),
		slog.String("input", intent.InputMint),
		slog.String("output", intent.OutputMint),
		slog.Uint64("amount", intent.Amount),
		slog.String("delivery", string(intent.Delivery)),
	)

	res, err := e.attempt(ctx, plan, key, intent.Delivery)
	if err == nil && res.Confirmed {
		res.ExpectedOut = plan.ExpectedOut
		e.observe(intent, res)
		log.Info("swap confirmed", slog.String("tx", res.TxID))
		return res, nil
	}

	log.Warn("swap attempt missed, retrying on fresh blockhash", errAttr(err, res))

	res, err = e.attempt(ctx, plan, key, intent.Delivery)
	res.Retried = true
	if err == nil && res.Confirmed {
		res.ExpectedOut = plan.ExpectedOut
		e.observe(intent, res)
		log.Info("swap confirmed on retry", slog.String("tx", res.TxID))
		return res, nil
	}

	e.observe(intent, res)
	if err != nil {
		return res, fmt.Errorf("executor: retry failed: %w", err)
	}
	return res, fmt.Errorf("executor: %w after retry", domain.ErrUnconfirmed)
}

// attempt stamps a fresh blockhash onto the planned transaction, signs it,
// delivers it, and polls for confirmation.
func (e *Executor) attempt(ctx context.Context, plan jupiter.SwapPlan, key solana.PrivateKey, delivery domain.DeliveryMode) (domain.SwapResult, error) {
	blockhash, err := e.ledger.LatestBlockhash(ctx)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("fetching blockhash: %w", err)
	}

	plan.Tx.Message.RecentBlockhash = blockhash
	// Drop any signatures from a previous attempt before re-signing.
	plan.Tx.Signatures = nil
	if _, err := plan.Tx.Sign(signerFor(key)); err != nil {
		return domain.SwapResult{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	var sig solana.Signature
	switch delivery {
	case domain.DeliveryRelay:
		sig, err = e.deliverRelay(ctx, plan.Tx, key, blockhash)
	default:
		sig, err = e.ledger.SubmitTransaction(ctx, plan.Tx)
	}
	if err != nil {
		return domain.SwapResult{}, err
	}

	res := domain.SwapResult{TxID: sig.String(), SubmittedAt: time.Now()}
	status, err := e.confirm(ctx, sig)
	if err != nil {
		return res, err
	}
	if status.State == domain.TxStateFailed {
		return res, fmt.Errorf("transaction failed on chain: %s", status.Reason)
	}
	res.Confirmed = status.State == domain.TxStateConfirmed
	if res.Confirmed {
		res.ConfirmedAt = time.Now()
	}
	return res, nil
}

// deliverRelay pairs the swap with a validator tip transfer on the same
// blockhash and races the two-transaction bundle across the relays. The
// returned signature is the swap's, which is what confirmation polls on.
func (e *Executor) deliverRelay(ctx context.Context, tx *solana.Transaction, key solana.PrivateKey, blockhash solana.Hash) (solana.Signature, error) {
	tipTx, err := solanarpc.BuildTransfer(key, jito.RandomTipAccount(), e.cfg.TipLamports, blockhash)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("building tip: %w", err)
	}
	rawTip, err := tipTx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serializing tip: %w", err)
	}
	rawSwap, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serializing swap: %w", err)
	}

	if err := e.relay.SubmitBundle(ctx, [][]byte{rawTip, rawSwap}); err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

// confirm polls the ledger until the transaction reaches a terminal state
// or the confirmation window closes. A pending result at the deadline is
// returned as-is; the caller decides whether to retry.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature) (domain.TxStatus, error) {
	deadline := time.NewTimer(e.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.ConfirmPoll)
	defer ticker.Stop()

	var last domain.TxStatus
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, nil
		case <-ticker.C:
			status, err := e.ledger.SignatureStatus(ctx, sig)
			if err != nil {
				// Transient RPC errors during polling are not attempt
				// failures; keep polling until the deadline.
				continue
			}
			last = status
			if status.State != domain.TxStatePending {
				return status, nil
			}
		}
	}
}

func (e *Executor) observe(intent domain.SwapIntent, res domain.SwapResult) {
	if e.metrics == nil {
		return
	}
	outcome := "failed"
	if res.Confirmed {
		outcome = "confirmed"
	}
	e.metrics.SwapsTotal.WithLabelValues(string(intent.Side), string(intent.Delivery), outcome).Inc()
	if res.Confirmed && !res.SubmittedAt.IsZero() {
		e.metrics.ConfirmLatency.Observe(res.ConfirmedAt.Sub(res.SubmittedAt).Seconds())
	}
}

func validateIntent(intent domain.SwapIntent) error {
	switch {
	case intent.AccountID == "":
		return fmt.Errorf("executor: missing account: %w", domain.ErrInvalidIntent)
	case intent.InputMint == "" || intent.OutputMint == "":
		return fmt.Errorf("executor: missing mint: %w", domain.ErrInvalidIntent)
	case intent.InputMint == intent.OutputMint:
		return fmt.Errorf("executor: input and output mints are equal: %w", domain.ErrInvalidIntent)
	case intent.Amount == 0:
		return fmt.Errorf("executor: zero amount: %w", domain.ErrInvalidIntent)
	case intent.SlippageBps <= 0 || intent.SlippageBps > 10_000:
		return fmt.Errorf("executor: slippage %d bps out of range: %w", intent.SlippageBps, domain.ErrInvalidIntent)
	}
	return nil
}

func signerFor(key solana.PrivateKey) func(solana.PublicKey) *solana.PrivateKey {
	pub := key.PublicKey()
	return func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &key
		}
		return nil
	}
}

func errAttr(err error, res domain.SwapResult) slog.Attr {
	if err != nil {
		return slog.String("error", err.Error())
	}
	return slog.String("tx", res.TxID)
}
