package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// AuditLister defines the query the audit handler requires.
type AuditLister interface {
	List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log over HTTP.
type AuditHandler struct {
	audit  AuditLister
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given store and logger.
func NewAuditHandler(audit AuditLister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// listAuditResponse wraps the list audit response.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns an account's audit entries, newest first.
// GET /api/audit?account=123456&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	entries, err := h.audit.List(r.Context(), account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}
