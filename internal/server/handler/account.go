package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// BalanceReader reads a committed custody balance.
type BalanceReader interface {
	Balance(ctx context.Context, account domain.Identity) (uint64, error)
}

// AccountHandler serves custody balances and, on development backends,
// deposits.
type AccountHandler struct {
	balances BalanceReader
	funder   domain.Funder
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler. funder may be nil.
func NewAccountHandler(balances BalanceReader, funder domain.Funder, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{balances: balances, funder: funder, logger: logger.With(slog.String("handler", "account"))}
}

// CanDeposit reports whether the deposit route should be mounted.
func (h *AccountHandler) CanDeposit() bool { return h.funder != nil }

type balanceResponse struct {
	Account domain.Identity `json:"account"`
	Balance uint64          `json:"balance"`
}

// Balance returns an account's balance.
// GET /api/accounts/{id}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdentityParam(w, pathParam(r, "id"))
	if !ok {
		return
	}
	bal, err := h.balances.Balance(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: id, Balance: bal})
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// Deposit credits an account from outside the ledger.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	if h.funder == nil {
		writeMessage(w, http.StatusNotFound, "deposits are disabled", "NotFound")
		return
	}
	id, ok := parseIdentityParam(w, pathParam(r, "id"))
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error(), "InvalidBody")
		return
	}
	if req.Amount == 0 {
		writeMessage(w, http.StatusBadRequest, domain.ErrInvalidBetAmount.Message, domain.ErrInvalidBetAmount.Code)
		return
	}
	bal, err := h.funder.Deposit(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: deposit",
		slog.String("account", id.String()),
		slog.Uint64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, balanceResponse{Account: id, Balance: bal})
}
