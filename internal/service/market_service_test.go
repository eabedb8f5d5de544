package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/engine"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

const (
	creator = domain.Identity("0x1111111111111111111111111111111111111111")
	alice   = domain.Identity("0x2222222222222222222222222222222222222222")
	bob     = domain.Identity("0x3333333333333333333333333333333333333333")
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type mapCache struct {
	items map[string]domain.Market
	gets  int
	sets  int
	fail  error
}

func (c *mapCache) Set(ctx context.Context, m domain.Market) error {
	c.sets++
	c.items[m.ID] = m
	return nil
}

func (c *mapCache) Get(ctx context.Context, id string) (domain.Market, error) {
	c.gets++
	if c.fail != nil {
		return domain.Market{}, c.fail
	}
	m, ok := c.items[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(ctx context.Context, id string) error {
	delete(c.items, id)
	return nil
}

type fixture struct {
	ctx    context.Context
	ledger *memory.Ledger
	eng    *engine.Engine
	cache  *mapCache
	svc    *MarketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := crypto.NewDeriver("escrow-test", []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := memory.NewLedger()
	clock := fixedClock(time.Unix(1_700_000_000, 0).UTC())

	eng, err := engine.New(engine.ProgramConfig{ProgramID: "escrow-test", Treasury: "0x9999999999999999999999999999999999999999"}, l, d, clock, logger)
	require.NoError(t, err)
	cache := &mapCache{items: map[string]domain.Market{}}
	eng.WithCache(cache)

	return &fixture{
		ctx:    context.Background(),
		ledger: l,
		eng:    eng,
		cache:  cache,
		svc:    NewMarketService(eng, l.Markets(), l.Bets(), l.Events(), l, cache, logger),
	}
}

func (f *fixture) create(t *testing.T) domain.Market {
	t.Helper()
	m, err := f.eng.CreateMarket(f.ctx, creator, engine.CreateMarketParams{
		Question: "Will it rain tomorrow?",
		EndTime:  1_700_003_600,
	})
	require.NoError(t, err)
	return m
}

func TestGetMarketCacheFirst(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)

	v, err := f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, v.ID)
	assert.Equal(t, domain.PhaseOpen, v.Phase)
	assert.Equal(t, 1, f.cache.sets)

	_, err = f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.sets, "second read served from cache")

	// A committed bet invalidates the entry.
	_, err = f.ledger.Deposit(f.ctx, alice, 100)
	require.NoError(t, err)
	_, err = f.eng.PlaceBet(f.ctx, alice, m.ID, true, 40)
	require.NoError(t, err)
	v, err = f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), v.TotalYes)
}

func TestGetMarketCacheErrorFallsBack(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.cache.fail = errors.New("redis down")

	v, err := f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, v.ID)
}

func TestNotFoundCodes(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)

	_, err := f.svc.GetMarket(f.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	_, err = f.svc.GetBet(f.ctx, m.ID, bob)
	assert.ErrorIs(t, err, domain.ErrBetNotFound)

	_, err = f.svc.ListBets(f.ctx, "missing", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	bal, err := f.svc.Balance(f.ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestListMarketsAndBets(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.create(t)

	_, err := f.ledger.Deposit(f.ctx, alice, 100)
	require.NoError(t, err)
	_, err = f.ledger.Deposit(f.ctx, bob, 100)
	require.NoError(t, err)
	_, err = f.eng.PlaceBet(f.ctx, alice, m.ID, true, 30)
	require.NoError(t, err)
	_, err = f.eng.PlaceBet(f.ctx, bob, m.ID, false, 70)
	require.NoError(t, err)

	page, err := f.svc.ListMarkets(f.ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Markets, 1)
	assert.Equal(t, int64(2), page.Total)

	bets, err := f.svc.ListBets(f.ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.Equal(t, alice, bets[0].User)

	b, err := f.svc.GetBet(f.ctx, m.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), b.Amount)

	evs, err := f.svc.ListEvents(f.ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, domain.EventMarketCreated, evs[0].Type)

	bal, err := f.svc.Balance(f.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), bal)

	q, err := f.svc.Quote(f.ctx, m.ID, true, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), q.Amount)
	assert.True(t, q.Payout.Net > 0)
}
