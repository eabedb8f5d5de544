package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrQuestionEmpty, http.StatusBadRequest},
		{domain.ErrNotYourBet, http.StatusForbidden},
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.ErrDuplicateBet), http.StatusConflict},
		{domain.ErrOverflow, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusInternalServerError},
		{domain.ErrInvalidEscrowAuthority, http.StatusInternalServerError},
		{fmt.Errorf("store: %w", domain.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)

	rec := httptest.NewRecorder()
	writeError(rec, req, logger, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"Internal"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	writeError(rec, req, logger, domain.ErrCannotCancelWithBets)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Cannot cancel market with existing bets.","code":"CannotCancelWithBets"}`, rec.Body.String())
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=9999&offset=-3&since=2026-01-01T00:00:00Z&until=bad", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	if assert.NotNil(t, opts.Since) {
		assert.Equal(t, 2026, opts.Since.Year())
	}
	assert.Nil(t, opts.Until)
}

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHealthHandler(map[string]Check{"postgres": func(context.Context) error { return nil }}, logger)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Check{"redis": func(context.Context) error { return errors.New("dial tcp: refused") }}, logger)
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
