package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/engine"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// MarketService is the read side over committed ledger state. Writes go
// through the engine; this serves the HTTP reads and the payout preview.
type MarketService struct {
	engine   *engine.Engine
	markets  domain.MarketStore
	bets     domain.BetStore
	events   domain.EventStore
	balances domain.BalanceReader
	cache    domain.MarketCache
	archive  domain.ArchiveReader
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	eng *engine.Engine,
	markets domain.MarketStore,
	bets domain.BetStore,
	events domain.EventStore,
	balances domain.BalanceReader,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine:   eng,
		markets:  markets,
		bets:     bets,
		events:   events,
		balances: balances,
		cache:    cache,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// WithArchive enables reads of events already moved to cold storage.
func (s *MarketService) WithArchive(a domain.ArchiveReader) *MarketService {
	s.archive = a
	return s
}

// GetMarket returns a market with its phase, checking the cache first and
// back-filling it from the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (engine.MarketView, error) {
	m, err := s.market(ctx, id)
	if err != nil {
		return engine.MarketView{}, err
	}
	return s.engine.View(m), nil
}

func (s *MarketService) market(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		m, err := s.cache.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: cache get failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// MarketPage is one page of markets plus the total count.
type MarketPage struct {
	Markets []engine.MarketView `json:"markets"`
	Total   int64               `json:"total"`
}

// ListMarkets returns markets newest first, straight from the store.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) (MarketPage, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return MarketPage{}, fmt.Errorf("market_service: list markets: %w", err)
	}
	total, err := s.markets.Count(ctx)
	if err != nil {
		return MarketPage{}, fmt.Errorf("market_service: count markets: %w", err)
	}
	page := MarketPage{Markets: make([]engine.MarketView, 0, len(markets)), Total: total}
	for _, m := range markets {
		page.Markets = append(page.Markets, s.engine.View(m))
	}
	return page, nil
}

// GetBet returns user's bet on a market.
func (s *MarketService) GetBet(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error) {
	b, err := s.bets.Get(ctx, marketID, user)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bet{}, domain.ErrBetNotFound
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("market_service: get bet: %w", err)
	}
	return b, nil
}

// ListBets returns a market's bets in placement order.
func (s *MarketService) ListBets(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	if _, err := s.market(ctx, marketID); err != nil {
		return nil, err
	}
	bets, err := s.bets.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets: %w", err)
	}
	return bets, nil
}

// ListEvents returns a market's committed events in commit order. Events
// already archived to cold storage are not included.
func (s *MarketService) ListEvents(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.events.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events: %w", err)
	}
	return events, nil
}

// ListArchivedEvents returns a market's events archived on the given UTC day.
func (s *MarketService) ListArchivedEvents(ctx context.Context, marketID string, day time.Time) ([]domain.Event, error) {
	if s.archive == nil {
		return nil, domain.ErrArchiveDisabled
	}
	if _, err := s.market(ctx, marketID); err != nil {
		return nil, err
	}
	events, err := s.archive.ReadArchived(ctx, day, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: list archived events: %w", err)
	}
	return events, nil
}

// Balance returns an account's committed custody balance. Unknown accounts
// have a zero balance.
func (s *MarketService) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	bal, err := s.balances.BalanceOf(ctx, account)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("market_service: balance: %w", err)
	}
	return bal, nil
}

// Quote previews the payout of a winning stake of amount on side.
func (s *MarketService) Quote(ctx context.Context, marketID string, side bool, amount uint64) (settlement.Quote, error) {
	m, err := s.market(ctx, marketID)
	if err != nil {
		return settlement.Quote{}, err
	}
	return s.engine.Quote(m, side, amount)
}
