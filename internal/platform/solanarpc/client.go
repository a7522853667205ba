// Package solanarpc wraps the Solana JSON-RPC client with the small surface
// the executor needs: blockhash fetch, submission, status polling, and
// native transfers.
package solanarpc

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// Client is a thin wrapper over the Solana RPC client pinned to one
// commitment level.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// New creates a client for the given RPC endpoint. commitment is one of
// "processed", "confirmed", or "finalized"; anything else falls back to
// confirmed.
func New(endpoint, commitment string) *Client {
	c := rpc.CommitmentConfirmed
	switch commitment {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: c,
	}
}

// LatestBlockhash fetches a fresh recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("solanarpc: get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SubmitTransaction sends a signed transaction. Preflight is skipped so
// submission latency stays flat; failures surface through status polling.
func (c *Client) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	maxRetries := uint(0)
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		MaxRetries:          &maxRetries,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("solanarpc: send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus reports the current confirmation state of a submitted
// transaction. A missing status entry means the cluster has not seen the
// transaction yet and the caller should keep polling.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (domain.TxStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return domain.TxStatus{}, fmt.Errorf("solanarpc: get signature statuses: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return domain.TxStatus{State: domain.TxStatePending}, nil
	}

	st := out.Value[0]
	if st.Err != nil {
		return domain.TxStatus{
			State:  domain.TxStateFailed,
			Slot:   st.Slot,
			Reason: fmt.Sprintf("%v", st.Err),
		}, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return domain.TxStatus{State: domain.TxStateConfirmed, Slot: st.Slot}, nil
	}
	return domain.TxStatus{State: domain.TxStatePending, Slot: st.Slot}, nil
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("solanarpc: get balance: %w", err)
	}
	return out.Value, nil
}

// BuildTransfer assembles and signs a native SOL transfer.
func BuildTransfer(from solana.PrivateKey, to solana.PublicKey, lamports uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	payer := from.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, to).Build(),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("solanarpc: build transfer: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &from
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("solanarpc: sign transfer: %w", err)
	}
	return tx, nil
}

// TransferSOL sends lamports from one account to another and returns the
// submission signature. Confirmation is the caller's concern.
func (c *Client) TransferSOL(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	blockhash, err := c.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := BuildTransfer(from, to, lamports, blockhash)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.SubmitTransaction(ctx, tx)
}
