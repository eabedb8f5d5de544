package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// ResolveMarket fixes the outcome once the grace period has elapsed. The
// creator or the authorized resolver may resolve.
func (e *Engine) ResolveMarket(ctx context.Context, caller domain.Identity, marketID string, outcome bool) (domain.Market, error) {
	var out domain.Market
	err := e.run(ctx, "resolve_market", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		m, err := loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		now := e.clock.Now()

		if m.Resolved {
			return domain.ErrMarketAlreadyResolved
		}
		if m.Cancelled {
			return domain.ErrMarketCancelled
		}
		if now.Unix() < m.ResolutionDeadline {
			return domain.ErrMarketStillInGracePeriod
		}
		if err := authorizeResolve(m, caller); err != nil {
			return err
		}

		m.Resolved = true
		m.Outcome = &outcome
		m.UpdatedAt = now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: update market: %w", err)
		}
		out = m
		return emit(ctx, tx, domain.EventMarketResolved, m, caller, domain.MarketResolved{
			Market:     m.ID,
			Outcome:    outcome,
			Resolver:   caller,
			ResolvedAt: now.Unix(),
		}, now)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

// ClaimResult is the outcome of a claim. Payout is zero for a losing bet.
type ClaimResult struct {
	Bet    domain.Bet        `json:"bet"`
	Won    bool              `json:"won"`
	Payout settlement.Payout `json:"payout"`
}

// ClaimWinnings settles owner's bet in a resolved market. The caller must
// be the bet owner; a zero owner means the caller's own bet.
func (e *Engine) ClaimWinnings(ctx context.Context, caller domain.Identity, marketID string, owner domain.Identity) (ClaimResult, error) {
	if owner.IsZero() {
		owner = caller
	}
	if err := requireIdentity(caller); err != nil {
		return ClaimResult{}, err
	}

	var out ClaimResult
	err := e.run(ctx, "claim_winnings", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = e.claim(ctx, tx, caller, owner)
		return err
	})
	if err != nil {
		return ClaimResult{}, err
	}
	if out.Won {
		e.observer.ObservePayout(out.Payout)
	}
	return out, nil
}

func (e *Engine) claim(ctx context.Context, tx domain.Tx, caller, owner domain.Identity) (ClaimResult, error) {
	m, err := loadMarket(ctx, tx)
	if err != nil {
		return ClaimResult{}, err
	}
	if !m.Resolved || m.Outcome == nil {
		return ClaimResult{}, domain.ErrMarketStillOpen
	}
	b, err := loadBet(ctx, tx, m.ID, owner)
	if err != nil {
		return ClaimResult{}, err
	}
	if b.Claimed {
		return ClaimResult{}, domain.ErrAlreadyClaimed
	}
	if err := authorizeBet(m, b, caller); err != nil {
		return ClaimResult{}, err
	}
	outcome := *m.Outcome
	now := e.clock.Now()

	b.Claimed = true
	b.ClaimedAt = &now

	if b.Side != outcome {
		if err := tx.UpdateBet(ctx, b); err != nil {
			return ClaimResult{}, fmt.Errorf("engine: update bet: %w", err)
		}
		res := ClaimResult{Bet: b}
		return res, emit(ctx, tx, domain.EventClaimed, m, caller, domain.Claimed{
			Market:    m.ID,
			User:      b.User,
			Timestamp: now.Unix(),
		}, now)
	}

	p, err := settlement.ComputePayout(b.Amount, m.TotalYes, m.TotalNo, outcome)
	if err != nil {
		return ClaimResult{}, err
	}
	b.Payout = p.Net

	// The claimed flag is written before any value leaves escrow, so a
	// re-entry on this transaction sees the bet as claimed.
	if err := tx.UpdateBet(ctx, b); err != nil {
		return ClaimResult{}, fmt.Errorf("engine: update bet: %w", err)
	}

	custody := tx.Custody()
	bal, err := custody.Balance(ctx, m.EscrowAddress)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: escrow balance: %w", err)
	}
	if bal < p.Net {
		return ClaimResult{}, domain.ErrInsufficientEscrowBalance
	}
	if err := e.deriver.VerifyEscrow(m.ID, m.EscrowAddress, m.EscrowAuthorityTag); err != nil {
		return ClaimResult{}, err
	}

	if err := escrowTransfer(ctx, custody, m, b.User, p.Net); err != nil {
		return ClaimResult{}, err
	}
	if err := escrowTransfer(ctx, custody, m, m.Creator, p.CreatorFee); err != nil {
		return ClaimResult{}, err
	}
	if err := escrowTransfer(ctx, custody, m, e.cfg.Treasury, p.TreasuryFee); err != nil {
		return ClaimResult{}, err
	}

	res := ClaimResult{Bet: b, Won: true, Payout: p}
	return res, emit(ctx, tx, domain.EventClaimed, m, caller, domain.Claimed{
		Market:      m.ID,
		User:        b.User,
		Amount:      p.Net,
		CreatorFee:  p.CreatorFee,
		TreasuryFee: p.TreasuryFee,
		Timestamp:   now.Unix(),
	}, now)
}

// MarketView is a market together with its derived lifecycle phase.
type MarketView struct {
	domain.Market
	Phase domain.MarketPhase `json:"phase"`
}

// View attaches the current phase to m.
func (e *Engine) View(m domain.Market) MarketView {
	return MarketView{Market: m, Phase: settlement.Phase(m, e.clock.Now().Unix())}
}

// Quote previews the payout of a new winning stake on m. It reads no
// ledger state beyond m and has no side effects.
func (e *Engine) Quote(m domain.Market, side bool, amount uint64) (settlement.Quote, error) {
	switch settlement.Phase(m, e.clock.Now().Unix()) {
	case domain.PhaseResolved:
		return settlement.Quote{}, domain.ErrMarketAlreadyResolved
	case domain.PhaseCancelled:
		return settlement.Quote{}, domain.ErrMarketCancelled
	case domain.PhaseOpen:
	default:
		return settlement.Quote{}, domain.ErrMarketClosed
	}
	return settlement.QuoteBet(m, side, amount)
}
