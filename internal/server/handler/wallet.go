package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// WalletOps defines the wallet operations the handler exposes.
type WalletOps interface {
	Create(ctx context.Context, accountID string) (string, error)
	Transfer(ctx context.Context, accountID, recipient string, lamports uint64) (string, error)
}

// WalletHandler serves wallet creation and SOL withdrawal over HTTP.
type WalletHandler struct {
	wallets WalletOps
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler with the given service and logger.
func NewWalletHandler(wallets WalletOps, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

type createWalletRequest struct {
	Account string `json:"account"`
}

type createWalletResponse struct {
	Pubkey string `json:"pubkey"`
}

// CreateWallet generates a wallet for the account.
// POST /api/wallets {"account":"123456"}
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeError(w, http.StatusBadRequest, "account required")
		return
	}

	pubkey, err := h.wallets.Create(r.Context(), req.Account)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "wallet already exists")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create wallet failed",
			slog.String("account", req.Account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create wallet")
		return
	}

	writeJSON(w, http.StatusCreated, createWalletResponse{Pubkey: pubkey})
}

type transferRequest struct {
	Account   string `json:"account"`
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
}

type transferResponse struct {
	Tx string `json:"tx"`
}

// Transfer withdraws SOL from the account's wallet.
// POST /api/transfer {"account":"123456","recipient":"<base58>","lamports":1000000}
func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeError(w, http.StatusBadRequest, "account required")
		return
	}

	tx, err := h.wallets.Transfer(r.Context(), req.Account, req.Recipient, req.Lamports)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIntent):
			writeError(w, http.StatusBadRequest, "invalid transfer request")
		case errors.Is(err, domain.ErrInsufficientBal):
			writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "wallet not found")
		case errors.Is(err, domain.ErrUnconfirmed):
			// The transfer was submitted; report the signature so the
			// caller can track it.
			writeJSON(w, http.StatusAccepted, transferResponse{Tx: tx})
		default:
			h.logger.ErrorContext(r.Context(), "handler: transfer failed",
				slog.String("account", req.Account),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "transfer failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{Tx: tx})
}
