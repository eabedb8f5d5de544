package settlement

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func TestPhase(t *testing.T) {
	m := domain.Market{EndTime: 1_000, ResolutionDeadline: 1_600}

	assert.Equal(t, domain.PhaseOpen, Phase(m, 999))
	assert.Equal(t, domain.PhaseAwaitingResolution, Phase(m, 1_000))
	assert.Equal(t, domain.PhaseAwaitingResolution, Phase(m, 1_599))
	assert.Equal(t, domain.PhaseResolvable, Phase(m, 1_600))

	resolved := m
	resolved.Resolved = true
	assert.Equal(t, domain.PhaseResolved, Phase(resolved, 0))

	cancelled := m
	cancelled.Cancelled = true
	assert.Equal(t, domain.PhaseCancelled, Phase(cancelled, 2_000))
}

func TestPhaseZeroGrace(t *testing.T) {
	m := domain.Market{EndTime: 1_000, ResolutionDeadline: 1_000}
	assert.Equal(t, domain.PhaseOpen, Phase(m, 999))
	assert.Equal(t, domain.PhaseResolvable, Phase(m, 1_000))
}

func TestResolutionDeadline(t *testing.T) {
	d, err := ResolutionDeadline(1_000, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(4_600), d)

	d, err = ResolutionDeadline(1_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), d)

	_, err = ResolutionDeadline(math.MaxInt64-10, 1)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestQuoteBet(t *testing.T) {
	m := domain.Market{TotalYes: 200, TotalNo: 700}

	q, err := QuoteBet(m, true, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(333), q.Payout.Gross)
	assert.Equal(t, uint64(330), q.Payout.Net)
	assert.True(t, q.ImpliedProbability.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, q.Multiplier.Equal(decimal.RequireFromString("3.3")))
}

func TestQuoteBetEmptyMarket(t *testing.T) {
	q, err := QuoteBet(domain.Market{}, false, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), q.Payout.Gross)
	assert.True(t, q.ImpliedProbability.Equal(decimal.NewFromInt(1)))
}

func TestQuoteBetRejectsZero(t *testing.T) {
	_, err := QuoteBet(domain.Market{}, true, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBetAmount)
}
