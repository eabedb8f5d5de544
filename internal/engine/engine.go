// Package engine implements the market lifecycle, bet ledger and settlement
// operations. Every operation runs as one ledger transaction: checks, state
// writes and custody transfers either all commit or none do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// ProgramConfig is the process-wide program identity. It is fixed for the
// lifetime of an Engine.
type ProgramConfig struct {
	ProgramID string
	// Treasury receives the treasury share of every claim fee.
	Treasury domain.Identity
	// EscrowDeposit is charged to the creator when a market's escrow
	// sub-account is opened and returned by CloseEscrow.
	EscrowDeposit uint64
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Observer records operation outcomes.
type Observer interface {
	ObserveOperation(op, code string, elapsed time.Duration)
	ObservePayout(p settlement.Payout)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}
func (nopObserver) ObservePayout(settlement.Payout)                {}

// Engine is the entry point for all eight ledger operations.
type Engine struct {
	cfg     ProgramConfig
	ledger  domain.Ledger
	deriver *crypto.Deriver
	clock   domain.Clock
	logger  *slog.Logger

	publisher domain.EventPublisher
	cache     domain.MarketCache
	audit     domain.AuditStore
	locks     domain.LockManager
	lockTTL   time.Duration
	notifier  Notifier
	observer  Observer
}

// New creates an Engine with its required dependencies. Optional
// collaborators are attached with the With* methods before first use.
func New(
	cfg ProgramConfig,
	ledger domain.Ledger,
	deriver *crypto.Deriver,
	clock domain.Clock,
	logger *slog.Logger,
) (*Engine, error) {
	if cfg.Treasury.IsZero() {
		return nil, errors.New("engine: treasury identity must be set")
	}
	if ledger == nil || deriver == nil {
		return nil, errors.New("engine: ledger and deriver are required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Engine{
		cfg:      cfg,
		ledger:   ledger,
		deriver:  deriver,
		clock:    clock,
		logger:   logger.With(slog.String("component", "engine")),
		observer: nopObserver{},
	}, nil
}

// WithPublisher fans committed events out after each commit.
func (e *Engine) WithPublisher(p domain.EventPublisher) *Engine {
	e.publisher = p
	return e
}

// WithCache invalidates cached markets after each commit.
func (e *Engine) WithCache(c domain.MarketCache) *Engine {
	e.cache = c
	return e
}

// WithAudit records one audit entry per committed operation.
func (e *Engine) WithAudit(a domain.AuditStore) *Engine {
	e.audit = a
	return e
}

// WithLocks serializes operations on a market across replicas.
func (e *Engine) WithLocks(l domain.LockManager, ttl time.Duration) *Engine {
	e.locks = l
	e.lockTTL = ttl
	return e
}

// WithNotifier sends operator alerts for resolutions, cancellations and
// integrity failures.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithObserver records operation metrics.
func (e *Engine) WithObserver(o Observer) *Engine {
	if o != nil {
		e.observer = o
	}
	return e
}

// Program returns the program configuration.
func (e *Engine) Program() ProgramConfig { return e.cfg }

// run executes fn as the transaction of operation op on marketID and
// performs the post-commit side effects. None of those side effects can
// fail the operation once the ledger has committed.
func (e *Engine) run(ctx context.Context, op, marketID string, actor domain.Identity, fn func(ctx context.Context, tx domain.Tx) error) error {
	start := time.Now()

	unlock, err := e.acquire(ctx, marketID)
	if err != nil {
		e.observer.ObserveOperation(op, "lock", time.Since(start))
		return err
	}
	defer unlock()

	events, err := e.ledger.Update(ctx, marketID, fn)
	e.observer.ObserveOperation(op, outcomeCode(err), time.Since(start))
	if err != nil {
		e.onFailure(ctx, op, marketID, actor, err)
		return err
	}

	e.afterCommit(ctx, op, marketID, actor, events)
	return nil
}

const (
	lockAttempts = 40
	lockBackoff  = 25 * time.Millisecond
)

func (e *Engine) acquire(ctx context.Context, marketID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	key := "market:" + marketID
	for attempt := 0; ; attempt++ {
		unlock, err := e.locks.Acquire(ctx, key, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt+1 >= lockAttempts {
			return nil, fmt.Errorf("engine: lock market %s: %w", marketID, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("engine: lock market %s: %w", marketID, ctx.Err())
		case <-time.After(lockBackoff):
		}
	}
}

func outcomeCode(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := domain.AsError(err); ok {
		return e.Code
	}
	return "internal"
}

func (e *Engine) onFailure(ctx context.Context, op, marketID string, actor domain.Identity, err error) {
	switch domain.KindOf(err) {
	case domain.KindIntegrity:
		e.logger.ErrorContext(ctx, "engine: integrity failure",
			slog.String("op", op),
			slog.String("market_id", marketID),
			slog.String("actor", actor.String()),
			slog.String("error", err.Error()),
		)
		e.notify(ctx, "integrity_failure", "Integrity failure",
			fmt.Sprintf("%s on market %s by %s: %v", op, marketID, actor, err))
	case "":
		e.logger.ErrorContext(ctx, "engine: operation failed",
			slog.String("op", op),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	default:
		e.logger.DebugContext(ctx, "engine: operation rejected",
			slog.String("op", op),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) afterCommit(ctx context.Context, op, marketID string, actor domain.Identity, events []domain.Event) {
	e.logger.InfoContext(ctx, "engine: committed",
		slog.String("op", op),
		slog.String("market_id", marketID),
		slog.String("actor", actor.String()),
		slog.Int("events", len(events)),
	)

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, marketID); err != nil {
			e.logger.WarnContext(ctx, "engine: cache invalidate failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.publisher != nil && len(events) > 0 {
		// Unpublished events stay in the outbox for the relay.
		if err := e.publisher.Publish(ctx, events); err != nil {
			e.logger.WarnContext(ctx, "engine: publish events failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.audit != nil {
		detail := map[string]any{
			"market_id": marketID,
			"actor":     actor.String(),
		}
		if len(events) > 0 {
			detail["event_id"] = events[0].ID
			detail["event_type"] = string(events[0].Type)
		}
		if err := e.audit.Log(ctx, "engine."+op, detail); err != nil {
			e.logger.WarnContext(ctx, "engine: audit log failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case domain.EventMarketResolved:
			var p domain.MarketResolved
			if err := ev.Decode(&p); err == nil {
				e.notify(ctx, "market_resolved", "Market resolved",
					fmt.Sprintf("market %s resolved %s by %s", p.Market, domain.SideName(p.Outcome), p.Resolver))
			}
		case domain.EventMarketCancelled:
			var p domain.MarketCancelled
			if err := ev.Decode(&p); err == nil {
				e.notify(ctx, "market_cancelled", "Market cancelled",
					fmt.Sprintf("market %s cancelled by %s", p.Market, p.CancelledBy))
			}
		}
	}
}

func (e *Engine) notify(ctx context.Context, event, title, msg string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "engine: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// loadMarket reads the transaction's market, mapping a missing record to
// domain.ErrMarketNotFound.
func loadMarket(ctx context.Context, tx domain.Tx) (domain.Market, error) {
	m, err := tx.Market(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: load market: %w", err)
	}
	return m, nil
}

func loadBet(ctx context.Context, tx domain.Tx, marketID string, owner domain.Identity) (domain.Bet, error) {
	b, err := tx.Bet(ctx, marketID, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bet{}, domain.ErrBetNotFound
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: load bet: %w", err)
	}
	return b, nil
}

func emit(ctx context.Context, tx domain.Tx, typ domain.EventType, m domain.Market, actor domain.Identity, payload any, at time.Time) error {
	ev, err := domain.NewEvent(typ, m.ID, actor, payload, at)
	if err != nil {
		return err
	}
	if err := tx.Emit(ctx, ev); err != nil {
		return fmt.Errorf("engine: emit %s: %w", typ, err)
	}
	return nil
}

// escrowTransfer moves amount out of the market's escrow. Any shortfall is
// an accounting integrity failure.
func escrowTransfer(ctx context.Context, c domain.Custody, m domain.Market, to domain.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := c.Transfer(ctx, m.EscrowAddress, to, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return domain.ErrInsufficientEscrowBalance
		}
		return fmt.Errorf("engine: escrow transfer to %s: %w", to, err)
	}
	return nil
}
