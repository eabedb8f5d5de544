package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/engine"
)

// Engine is the write side: the eight ledger operations plus View.
type Engine interface {
	CreateMarket(ctx context.Context, creator domain.Identity, p engine.CreateMarketParams) (domain.Market, error)
	PlaceBet(ctx context.Context, user domain.Identity, marketID string, side bool, amount uint64) (domain.Bet, error)
	ResolveMarket(ctx context.Context, caller domain.Identity, marketID string, outcome bool) (domain.Market, error)
	ClaimWinnings(ctx context.Context, caller domain.Identity, marketID string, owner domain.Identity) (engine.ClaimResult, error)
	RefundBet(ctx context.Context, caller domain.Identity, marketID string, owner domain.Identity) (domain.Bet, error)
	CancelMarket(ctx context.Context, caller domain.Identity, marketID string) (domain.Market, error)
	CloseEscrow(ctx context.Context, caller domain.Identity, marketID string) (engine.CloseResult, error)
	SetAuthorizedResolver(ctx context.Context, caller domain.Identity, marketID string, resolver *domain.Identity) (domain.Market, error)
	View(m domain.Market) engine.MarketView
}

// OperationsHandler serves the ledger write endpoints. Every route sits
// behind the signature middleware; the signer is the caller.
type OperationsHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewOperationsHandler creates an OperationsHandler.
func NewOperationsHandler(eng Engine, logger *slog.Logger) *OperationsHandler {
	return &OperationsHandler{engine: eng, logger: logger.With(slog.String("handler", "operations"))}
}

// begin resolves the caller and decodes the optional body.
func (h *OperationsHandler) begin(w http.ResponseWriter, r *http.Request, body any) (domain.Identity, bool) {
	id, ok := caller(w, r)
	if !ok {
		return "", false
	}
	if body != nil {
		if err := decodeBody(r, body); err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error(), "InvalidBody")
			return "", false
		}
	}
	return id, true
}

// CreateMarket registers a market owned by the caller.
// POST /api/markets
func (h *OperationsHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateMarketParams
	creator, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), creator, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.engine.View(m))
}

type placeBetRequest struct {
	Side   bool   `json:"side"`
	Amount uint64 `json:"amount"`
}

// PlaceBet stakes amount on side for the caller.
// POST /api/markets/{id}/bets
func (h *OperationsHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	user, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	b, err := h.engine.PlaceBet(r.Context(), user, pathParam(r, "id"), req.Side, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type resolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// Resolve records the outcome.
// POST /api/markets/{id}/resolve
func (h *OperationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	id, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	if req.Outcome == nil {
		writeMessage(w, http.StatusBadRequest, "outcome is required", "InvalidBody")
		return
	}
	m, err := h.engine.ResolveMarket(r.Context(), id, pathParam(r, "id"), *req.Outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.View(m))
}

// ownerRequest names whose bet to settle; empty means the caller's own.
type ownerRequest struct {
	Owner string `json:"owner"`
}

func (h *OperationsHandler) owner(w http.ResponseWriter, req ownerRequest) (domain.Identity, bool) {
	if req.Owner == "" {
		return "", true
	}
	id, err := crypto.ParseIdentity(req.Owner)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, domain.ErrInvalidIdentity.Message, domain.ErrInvalidIdentity.Code)
		return "", false
	}
	return id, true
}

// Claim settles the caller's bet in a resolved market.
// POST /api/markets/{id}/claim
func (h *OperationsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	id, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	owner, ok := h.owner(w, req)
	if !ok {
		return
	}
	res, err := h.engine.ClaimWinnings(r.Context(), id, pathParam(r, "id"), owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refund returns the caller's stake in a cancelled market.
// POST /api/markets/{id}/refund
func (h *OperationsHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	id, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	owner, ok := h.owner(w, req)
	if !ok {
		return
	}
	b, err := h.engine.RefundBet(r.Context(), id, pathParam(r, "id"), owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Cancel cancels an unfunded market.
// POST /api/markets/{id}/cancel
func (h *OperationsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.begin(w, r, nil)
	if !ok {
		return
	}
	m, err := h.engine.CancelMarket(r.Context(), id, pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.View(m))
}

// CloseEscrow releases a drained escrow and returns its deposit.
// POST /api/markets/{id}/close-escrow
func (h *OperationsHandler) CloseEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.begin(w, r, nil)
	if !ok {
		return
	}
	res, err := h.engine.CloseEscrow(r.Context(), id, pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resolverRequest struct {
	Resolver *string `json:"resolver"`
}

// SetResolver sets or clears the delegated resolver. A null or empty
// resolver clears it.
// PUT /api/markets/{id}/resolver
func (h *OperationsHandler) SetResolver(w http.ResponseWriter, r *http.Request) {
	var req resolverRequest
	id, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	var resolver *domain.Identity
	if req.Resolver != nil {
		var err error
		if resolver, err = crypto.ParseOptionalIdentity(*req.Resolver); err != nil {
			writeMessage(w, http.StatusBadRequest, domain.ErrInvalidIdentity.Message, domain.ErrInvalidIdentity.Code)
			return
		}
	}
	m, err := h.engine.SetAuthorizedResolver(r.Context(), id, pathParam(r, "id"), resolver)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.View(m))
}
