package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func TestComputePayoutExample(t *testing.T) {
	p, err := ComputePayout(100, 300, 700, true)
	require.NoError(t, err)

	assert.Equal(t, uint64(333), p.Gross)
	assert.Equal(t, uint64(3), p.FeeTotal)
	assert.Equal(t, uint64(1), p.CreatorFee)
	assert.Equal(t, uint64(1), p.TreasuryFee)
	assert.Equal(t, uint64(330), p.Net)
}

func TestComputePayoutNoSideWins(t *testing.T) {
	p, err := ComputePayout(700, 300, 700, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p.Gross)
	assert.Equal(t, uint64(10), p.FeeTotal)
	assert.Equal(t, uint64(5), p.CreatorFee)
	assert.Equal(t, uint64(5), p.TreasuryFee)
	assert.Equal(t, uint64(990), p.Net)
}

func TestComputePayoutSplitsFeeEvenly(t *testing.T) {
	p, err := ComputePayout(1_000_000, 1_000_000, 1_000_000, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), p.Gross)
	assert.Equal(t, uint64(20_000), p.FeeTotal)
	assert.Equal(t, p.FeeTotal, p.CreatorFee+p.TreasuryFee)
	assert.Equal(t, p.Gross-p.FeeTotal, p.Net)
}

func TestComputePayoutSmallGrossHasNoFee(t *testing.T) {
	p, err := ComputePayout(1, 50, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Gross)
	assert.Zero(t, p.FeeTotal)
	assert.Zero(t, p.CreatorFee)
	assert.Equal(t, uint64(1), p.Net)
}

func TestComputePayoutNoWinners(t *testing.T) {
	_, err := ComputePayout(10, 0, 500, true)
	assert.ErrorIs(t, err, domain.ErrNoWinners)
}

func TestComputePayoutPoolOverflow(t *testing.T) {
	_, err := ComputePayout(5, math.MaxUint64-1, 5, true)
	assert.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, domain.KindArithmetic, domain.KindOf(err))
}

func TestComputePayoutGrossDoesNotFitUint64(t *testing.T) {
	// amount*pool fits the wide word but the quotient does not narrow back.
	_, err := ComputePayout(math.MaxUint64, 1, 1_000, true)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestComputePayoutLargeConsistentTotals(t *testing.T) {
	yes := uint64(math.MaxUint64 / 2)
	no := uint64(math.MaxUint64 / 2)
	p, err := ComputePayout(yes, yes, no, true)
	require.NoError(t, err)
	assert.Equal(t, yes+no, p.Gross)
	assert.Equal(t, p.Gross-p.FeeTotal, p.Net)
}

func TestPayoutDisbursed(t *testing.T) {
	p := Payout{Net: 330, CreatorFee: 1, TreasuryFee: 1}
	total, err := p.Disbursed()
	require.NoError(t, err)
	assert.Equal(t, uint64(332), total)

	_, err = Payout{Net: math.MaxUint64, CreatorFee: 1}.Disbursed()
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestAddToSide(t *testing.T) {
	yes, no, err := AddToSide(10, 20, 5, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), yes)
	assert.Equal(t, uint64(20), no)

	yes, no, err = AddToSide(10, 20, 5, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), yes)
	assert.Equal(t, uint64(25), no)

	_, _, err = AddToSide(0, math.MaxUint64, 1, false)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestSubFromSide(t *testing.T) {
	yes, no, err := SubFromSide(10, 20, 10, true)
	require.NoError(t, err)
	assert.Zero(t, yes)
	assert.Equal(t, uint64(20), no)

	yes, no, err = SubFromSide(10, 20, 5, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), yes)
	assert.Equal(t, uint64(15), no)

	_, _, err = SubFromSide(10, 20, 11, true)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}
