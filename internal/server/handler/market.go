package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/engine"
	"github.com/alanyoungcy/escrowmarket/internal/service"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// MarketReader is the read side the market handler needs. It is declared
// locally so the handler package does not depend on the concrete service.
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (engine.MarketView, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) (service.MarketPage, error)
	GetBet(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error)
	ListBets(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error)
	ListEvents(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error)
	ListArchivedEvents(ctx context.Context, marketID string, day time.Time) ([]domain.Event, error)
	Quote(ctx context.Context, marketID string, side bool, amount uint64) (settlement.Quote, error)
}

// MarketHandler serves the market read endpoints.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "market"))}
}

type listMarketsResponse struct {
	Markets []engine.MarketView `json:"markets"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	page, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page.Markets,
		Total:   page.Total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market with its phase.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListBets returns a market's bets in placement order.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.markets.ListBets(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// GetBet returns one user's bet.
// GET /api/markets/{id}/bets/{user}
func (h *MarketHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	user, ok := parseIdentityParam(w, pathParam(r, "user"))
	if !ok {
		return
	}
	b, err := h.markets.GetBet(r.Context(), pathParam(r, "id"), user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListEvents returns a market's events in commit order. With archived=DAY
// it reads the events archived on that UTC day instead.
// GET /api/markets/{id}/events
// GET /api/markets/{id}/events?archived=2026-01-31
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if raw := r.URL.Query().Get("archived"); raw != "" {
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "archived must be a date (YYYY-MM-DD)", "InvalidQuery")
			return
		}
		events, err := h.markets.ListArchivedEvents(r.Context(), marketID, day)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events, "archived": raw})
		return
	}

	events, err := h.markets.ListEvents(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Quote previews the payout of a winning stake.
// GET /api/markets/{id}/quote?side=yes&amount=100
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, ok := parseSide(q.Get("side"))
	if !ok {
		writeMessage(w, http.StatusBadRequest, "side must be yes or no", "InvalidSide")
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, domain.ErrInvalidBetAmount.Message, domain.ErrInvalidBetAmount.Code)
		return
	}
	quote, err := h.markets.Quote(r.Context(), pathParam(r, "id"), side, amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// parseSide accepts yes/no and true/false.
func parseSide(s string) (bool, bool) {
	switch s {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	}
	return false, false
}
