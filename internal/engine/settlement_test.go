package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// seedExample places the worked example: 300 on yes split 100/200 between
// alice and carol, 700 on no from bob.
func seedExample(f *fixture) domain.Market {
	m := f.create(0)
	f.bet(alice, m.ID, true, 100)
	f.bet(carol, m.ID, true, 200)
	f.bet(bob, m.ID, false, 700)
	return m
}

func TestClaimWinningsPayout(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	f.resolve(m, true)

	res, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Won)
	assert.Equal(t, settlement.Payout{Gross: 333, FeeTotal: 3, CreatorFee: 1, TreasuryFee: 1, Net: 330}, res.Payout)
	assert.True(t, res.Bet.Claimed)
	assert.Equal(t, uint64(330), res.Bet.Payout)

	assert.Equal(t, uint64(330), f.balance(alice))
	assert.Equal(t, uint64(1), f.balance(creator))
	assert.Equal(t, uint64(1), f.balance(treasury))
	assert.Equal(t, uint64(1000-332), f.balance(m.EscrowAddress))

	evs := f.events(m.ID)
	var p domain.Claimed
	require.NoError(t, evs[len(evs)-1].Decode(&p))
	assert.Equal(t, domain.Claimed{
		Market: m.ID, User: alice, Amount: 330, CreatorFee: 1, TreasuryFee: 1,
		Timestamp: m.ResolutionDeadline,
	}, p)

	// The loser's claim settles the bet with nothing paid.
	res, err = f.eng.ClaimWinnings(f.ctx, bob, m.ID, "")
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Zero(t, res.Payout)
	assert.True(t, res.Bet.Claimed)
	assert.Zero(t, f.balance(bob))
	evs = f.events(m.ID)
	require.NoError(t, evs[len(evs)-1].Decode(&p))
	assert.Equal(t, domain.Claimed{Market: m.ID, User: bob, Timestamp: m.ResolutionDeadline}, p)

	res, err = f.eng.ClaimWinnings(f.ctx, carol, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, settlement.Payout{Gross: 666, FeeTotal: 6, CreatorFee: 3, TreasuryFee: 3, Net: 660}, res.Payout)

	// Floor dust stays behind.
	assert.Equal(t, uint64(2), f.balance(m.EscrowAddress))
	assert.Equal(t, uint64(4), f.balance(creator))
	assert.Equal(t, uint64(4), f.balance(treasury))
}

func TestClaimConservesValue(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	ids := []domain.Identity{alice, bob, carol, creator, treasury, m.EscrowAddress}
	total := func() uint64 {
		var sum uint64
		for _, id := range ids {
			sum += f.balance(id)
		}
		return sum
	}
	before := total()
	require.Equal(t, uint64(1000), before)

	f.resolve(m, false)
	for _, u := range []domain.Identity{alice, bob, carol} {
		_, err := f.eng.ClaimWinnings(f.ctx, u, m.ID, "")
		require.NoError(t, err)
		assert.Equal(t, before, total())
	}
	// Bob takes the whole pool less one percent.
	assert.Equal(t, uint64(990), f.balance(bob))
}

func TestClaimOnce(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	f.resolve(m, true)

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	require.NoError(t, err)
	_, err = f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, uint64(330), f.balance(alice))

	_, err = f.eng.ClaimWinnings(f.ctx, bob, m.ID, "")
	require.NoError(t, err)
	_, err = f.eng.ClaimWinnings(f.ctx, bob, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimChecks(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrMarketStillOpen)

	f.resolve(m, true)
	_, err = f.eng.ClaimWinnings(f.ctx, stranger, m.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotYourBet)
	_, err = f.eng.ClaimWinnings(f.ctx, stranger, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
	_, err = f.eng.ClaimWinnings(f.ctx, "", m.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
	_, err = f.eng.ClaimWinnings(f.ctx, alice, "missing", "")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	b, err := f.ledger.Bets().Get(f.ctx, m.ID, alice)
	require.NoError(t, err)
	assert.False(t, b.Claimed)
}

func TestClaimIgnoresMarketFee(t *testing.T) {
	f := newFixture(t)
	payouts := make([]settlement.Payout, 0, 2)
	for _, fee := range []uint16{0, domain.MaxFeeBps} {
		m, err := f.eng.CreateMarket(f.ctx, creator, CreateMarketParams{
			Question: "Fee?",
			EndTime:  startUnix + 60,
			FeeBps:   uint64(fee),
		})
		require.NoError(t, err)
		f.bet(alice, m.ID, true, 300)
		f.bet(bob, m.ID, false, 700)
		f.clock.Set(m.ResolutionDeadline)
		_, err = f.eng.ResolveMarket(f.ctx, creator, m.ID, true)
		require.NoError(t, err)
		res, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
		require.NoError(t, err)
		payouts = append(payouts, res.Payout)
		f.clock.Set(startUnix)
	}
	assert.Equal(t, payouts[0], payouts[1])
	assert.Equal(t, uint64(10), payouts[0].FeeTotal)
}

func TestClaimOverflowGuard(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	f.resolve(m, true)
	f.mutate(m.ID, func(m *domain.Market) { m.TotalYes = math.MaxUint64 - 1 })
	before := len(f.events(m.ID))

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	require.ErrorIs(t, err, domain.ErrOverflow)

	b, err := f.ledger.Bets().Get(f.ctx, m.ID, alice)
	require.NoError(t, err)
	assert.False(t, b.Claimed)
	assert.Zero(t, f.balance(alice))
	assert.Equal(t, uint64(1000), f.balance(m.EscrowAddress))
	assert.Len(t, f.events(m.ID), before)
}

func TestClaimNoWinners(t *testing.T) {
	f := newFixture(t)
	m := f.create(0)
	f.bet(alice, m.ID, true, 100)
	f.resolve(m, true)
	f.mutate(m.ID, func(m *domain.Market) { m.TotalYes = 0 })

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrNoWinners)
	assert.Equal(t, uint64(100), f.balance(m.EscrowAddress))
}

func TestClaimInsufficientEscrow(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.eng.WithNotifier(notifier)
	m := seedExample(f)
	f.resolve(m, true)
	drainEscrow(f, m, 800)

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	require.ErrorIs(t, err, domain.ErrInsufficientEscrowBalance)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))
	assert.Equal(t, []string{"market_resolved", "integrity_failure"}, notifier.events)

	b, err := f.ledger.Bets().Get(f.ctx, m.ID, alice)
	require.NoError(t, err)
	assert.False(t, b.Claimed)
	assert.Equal(t, uint64(200), f.balance(m.EscrowAddress))
}

func TestClaimRejectsForgedEscrow(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	f.resolve(m, true)
	f.mutate(m.ID, func(m *domain.Market) { m.EscrowAuthorityTag = "forged" })

	_, err := f.eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidEscrowAuthority)
	assert.Equal(t, uint64(1000), f.balance(m.EscrowAddress))
}

// reentrantLedger hands out transactions whose first custody transfer
// attempts a second claim of the same bet on the same transaction.
type reentrantLedger struct {
	domain.Ledger
	eng      *Engine
	user     domain.Identity
	fired    bool
	innerErr error
}

func (r *reentrantLedger) Update(ctx context.Context, marketID string, fn func(ctx context.Context, tx domain.Tx) error) ([]domain.Event, error) {
	return r.Ledger.Update(ctx, marketID, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, &reentrantTx{Tx: tx, l: r})
	})
}

type reentrantTx struct {
	domain.Tx
	l *reentrantLedger
}

func (tx *reentrantTx) Custody() domain.Custody {
	return &reentrantCustody{Custody: tx.Tx.Custody(), tx: tx}
}

type reentrantCustody struct {
	domain.Custody
	tx *reentrantTx
}

func (c *reentrantCustody) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	if r := c.tx.l; !r.fired {
		r.fired = true
		_, r.innerErr = r.eng.claim(ctx, c.tx.Tx, r.user, r.user)
	}
	return c.Custody.Transfer(ctx, from, to, amount)
}

func TestClaimReentrySeesClaimedBet(t *testing.T) {
	f := newFixture(t)
	m := seedExample(f)
	f.resolve(m, true)

	rl := &reentrantLedger{Ledger: f.ledger, user: alice}
	eng, err := New(f.eng.Program(), rl, f.d, f.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	rl.eng = eng

	res, err := eng.ClaimWinnings(f.ctx, alice, m.ID, "")
	require.NoError(t, err)
	assert.True(t, rl.fired)
	assert.ErrorIs(t, rl.innerErr, domain.ErrAlreadyClaimed)
	assert.Equal(t, uint64(330), res.Payout.Net)
	assert.Equal(t, uint64(330), f.balance(alice))
}

func TestResolveMarket(t *testing.T) {
	f := newFixture(t)
	m := f.create(5)
	require.Equal(t, m.EndTime+300, m.ResolutionDeadline)

	f.clock.Set(m.EndTime)
	_, err := f.eng.ResolveMarket(f.ctx, creator, m.ID, false)
	assert.ErrorIs(t, err, domain.ErrMarketStillInGracePeriod)
	f.clock.Set(m.ResolutionDeadline - 1)
	_, err = f.eng.ResolveMarket(f.ctx, creator, m.ID, false)
	assert.ErrorIs(t, err, domain.ErrMarketStillInGracePeriod)

	f.clock.Set(m.ResolutionDeadline)
	out, err := f.eng.ResolveMarket(f.ctx, creator, m.ID, false)
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	require.NotNil(t, out.Outcome)
	assert.False(t, *out.Outcome)

	evs := f.events(m.ID)
	var p domain.MarketResolved
	require.NoError(t, evs[len(evs)-1].Decode(&p))
	assert.Equal(t, domain.MarketResolved{Market: m.ID, Outcome: false, Resolver: creator, ResolvedAt: m.ResolutionDeadline}, p)

	_, err = f.eng.ResolveMarket(f.ctx, creator, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
	assert.False(t, *f.market(m.ID).Outcome)
}

func TestResolveAuthorization(t *testing.T) {
	f := newFixture(t)

	m := f.create(0)
	f.clock.Set(m.ResolutionDeadline)
	_, err := f.eng.ResolveMarket(f.ctx, stranger, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedResolver)
	_, err = f.eng.ResolveMarket(f.ctx, resolver, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedResolver)

	_, err = f.eng.SetAuthorizedResolver(f.ctx, creator, m.ID, domain.IdentityPtr(resolver))
	require.NoError(t, err)
	_, err = f.eng.ResolveMarket(f.ctx, stranger, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedResolver)
	out, err := f.eng.ResolveMarket(f.ctx, resolver, m.ID, true)
	require.NoError(t, err)
	assert.True(t, out.Resolved)

	// A cleared resolver loses the right to resolve.
	f.clock.Set(startUnix)
	m2 := f.create(0)
	_, err = f.eng.SetAuthorizedResolver(f.ctx, creator, m2.ID, domain.IdentityPtr(resolver))
	require.NoError(t, err)
	_, err = f.eng.SetAuthorizedResolver(f.ctx, creator, m2.ID, nil)
	require.NoError(t, err)
	f.clock.Set(m2.ResolutionDeadline)
	_, err = f.eng.ResolveMarket(f.ctx, resolver, m2.ID, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedResolver)
}

func TestResolveCancelledMarket(t *testing.T) {
	f := newFixture(t)
	m := f.create(0)
	_, err := f.eng.CancelMarket(f.ctx, creator, m.ID)
	require.NoError(t, err)

	f.clock.Set(m.ResolutionDeadline)
	_, err = f.eng.ResolveMarket(f.ctx, creator, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrMarketCancelled)
}

func TestViewPhases(t *testing.T) {
	f := newFixture(t)
	m := f.create(10)

	assert.Equal(t, domain.PhaseOpen, f.eng.View(m).Phase)
	f.clock.Set(m.EndTime)
	assert.Equal(t, domain.PhaseAwaitingResolution, f.eng.View(m).Phase)
	f.clock.Set(m.ResolutionDeadline)
	assert.Equal(t, domain.PhaseResolvable, f.eng.View(m).Phase)

	out := f.resolve(m, true)
	v := f.eng.View(out)
	assert.Equal(t, domain.PhaseResolved, v.Phase)
	assert.Equal(t, m.ID, v.ID)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	m := f.create(0)
	f.bet(alice, m.ID, true, 200)
	f.bet(bob, m.ID, false, 700)
	m = f.market(m.ID)

	q, err := f.eng.Quote(m, true, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(330), q.Payout.Net)
	assert.Equal(t, "0.3", q.ImpliedProbability.String())

	_, err = f.eng.Quote(m, true, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBetAmount)

	f.clock.Set(m.EndTime)
	_, err = f.eng.Quote(m, true, 100)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	resolved := f.resolve(m, true)
	_, err = f.eng.Quote(resolved, true, 100)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	// Quoting reads nothing from the ledger.
	assert.Equal(t, uint64(900), f.balance(m.EscrowAddress))
}
