package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("place_bet", "ok", 3*time.Millisecond)
	m.ObserveOperation("place_bet", "ok", time.Millisecond)
	m.ObserveOperation("place_bet", "DuplicateBet", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("place_bet", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("place_bet", "DuplicateBet")))
}

func TestObservePayout(t *testing.T) {
	m := New()
	m.ObservePayout(settlement.Payout{Gross: 333, FeeTotal: 3, CreatorFee: 1, TreasuryFee: 1, Net: 330})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeesTotal.WithLabelValues("creator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeesTotal.WithLabelValues("treasury")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PayoutNet))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "GET /api/markets", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `escrow_http_requests_total{method="GET",route="GET /api/markets",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
