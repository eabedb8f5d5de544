package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// PlaceBet stakes amount on side for user. A user holds at most one bet per
// market.
func (e *Engine) PlaceBet(ctx context.Context, user domain.Identity, marketID string, side bool, amount uint64) (domain.Bet, error) {
	if err := requireIdentity(user); err != nil {
		return domain.Bet{}, err
	}

	var out domain.Bet
	err := e.run(ctx, "place_bet", marketID, user, func(ctx context.Context, tx domain.Tx) error {
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
		if now.Unix() >= m.EndTime {
			return domain.ErrMarketClosed
		}
		if amount == 0 {
			return domain.ErrInvalidBetAmount
		}
		if existing, err := tx.Bet(ctx, m.ID, user); err == nil && existing.Initialized {
			return domain.ErrDuplicateBet
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: load bet: %w", err)
		}

		if err := tx.Custody().Transfer(ctx, user, m.EscrowAddress, amount); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return domain.ErrInsufficientFunds
			}
			return fmt.Errorf("engine: stake transfer: %w", err)
		}

		b := domain.Bet{
			Key:         crypto.BetKey(m.ID, user),
			Market:      m.ID,
			User:        user,
			Side:        side,
			Amount:      amount,
			Initialized: true,
			CreatedAt:   now,
		}
		if err := tx.CreateBet(ctx, b); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrDuplicateBet
			}
			return fmt.Errorf("engine: create bet: %w", err)
		}

		m.TotalYes, m.TotalNo, err = settlement.AddToSide(m.TotalYes, m.TotalNo, amount, side)
		if err != nil {
			return err
		}
		m.UpdatedAt = now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: update market: %w", err)
		}
		out = b
		return emit(ctx, tx, domain.EventBetPlaced, m, user, domain.BetPlaced{
			Market:    m.ID,
			User:      user,
			Side:      side,
			Amount:    amount,
			Timestamp: now.Unix(),
		}, now)
	})
	if err != nil {
		return domain.Bet{}, err
	}
	return out, nil
}

// RefundBet returns the full stake of owner's bet in a cancelled market.
// The caller must be the bet owner; a zero owner means the caller's own bet.
func (e *Engine) RefundBet(ctx context.Context, caller domain.Identity, marketID string, owner domain.Identity) (domain.Bet, error) {
	if owner.IsZero() {
		owner = caller
	}
	if err := requireIdentity(caller); err != nil {
		return domain.Bet{}, err
	}

	var out domain.Bet
	err := e.run(ctx, "refund_bet", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = e.refund(ctx, tx, caller, owner)
		return err
	})
	if err != nil {
		return domain.Bet{}, err
	}
	return out, nil
}

func (e *Engine) refund(ctx context.Context, tx domain.Tx, caller, owner domain.Identity) (domain.Bet, error) {
	m, err := loadMarket(ctx, tx)
	if err != nil {
		return domain.Bet{}, err
	}
	if !m.Cancelled {
		return domain.Bet{}, domain.ErrMarketNotCancelled
	}
	b, err := loadBet(ctx, tx, m.ID, owner)
	if err != nil {
		return domain.Bet{}, err
	}
	if b.Claimed {
		return domain.Bet{}, domain.ErrAlreadyClaimed
	}
	if err := authorizeBet(m, b, caller); err != nil {
		return domain.Bet{}, err
	}

	// The claimed flag is written before any value leaves escrow.
	now := e.clock.Now()
	b.Claimed = true
	b.Payout = b.Amount
	b.ClaimedAt = &now
	if err := tx.UpdateBet(ctx, b); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: update bet: %w", err)
	}

	// Side totals track un-refunded stakes only.
	m.TotalYes, m.TotalNo, err = settlement.SubFromSide(m.TotalYes, m.TotalNo, b.Amount, b.Side)
	if err != nil {
		return domain.Bet{}, err
	}
	m.UpdatedAt = now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: update market: %w", err)
	}

	custody := tx.Custody()
	bal, err := custody.Balance(ctx, m.EscrowAddress)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: escrow balance: %w", err)
	}
	if bal < b.Amount {
		return domain.Bet{}, domain.ErrInsufficientEscrowBalance
	}
	if err := e.deriver.VerifyEscrow(m.ID, m.EscrowAddress, m.EscrowAuthorityTag); err != nil {
		return domain.Bet{}, err
	}
	if err := escrowTransfer(ctx, custody, m, b.User, b.Amount); err != nil {
		return domain.Bet{}, err
	}

	if err := emit(ctx, tx, domain.EventBetRefunded, m, caller, domain.BetRefunded{
		Market:    m.ID,
		User:      b.User,
		Amount:    b.Amount,
		Timestamp: now.Unix(),
	}, now); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}
