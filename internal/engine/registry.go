package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// CreateMarketParams are the caller-chosen fields of a new market. FeeBps
// and GracePeriodMinutes are wider than the stored fields so out-of-range
// input reaches validateCreate and gets its own error code.
type CreateMarketParams struct {
	Question           string `json:"question"`
	EndTime            int64  `json:"end_time"`
	FeeBps             uint64 `json:"fee_bps"`
	GracePeriodMinutes uint64 `json:"grace_period_minutes"`
}

func validateCreate(p CreateMarketParams, now int64) error {
	if len(p.Question) > domain.MaxQuestionLen {
		return domain.ErrQuestionTooLong
	}
	if len(p.Question) == 0 {
		return domain.ErrQuestionEmpty
	}
	if p.EndTime <= now {
		return domain.ErrInvalidEndTime
	}
	if p.FeeBps > domain.MaxFeeBps {
		return domain.ErrFeeTooHigh
	}
	if p.GracePeriodMinutes > domain.MaxGracePeriodMinutes {
		return domain.ErrGracePeriodTooLong
	}
	return nil
}

// CreateMarket registers a new market owned by creator and opens its escrow
// sub-account.
func (e *Engine) CreateMarket(ctx context.Context, creator domain.Identity, p CreateMarketParams) (domain.Market, error) {
	if err := requireIdentity(creator); err != nil {
		return domain.Market{}, err
	}
	id := uuid.NewString()

	var out domain.Market
	err := e.run(ctx, "create_market", id, creator, func(ctx context.Context, tx domain.Tx) error {
		now := e.clock.Now()
		if err := validateCreate(p, now.Unix()); err != nil {
			return err
		}
		grace := uint8(p.GracePeriodMinutes) // bounded by validateCreate
		deadline, err := settlement.ResolutionDeadline(p.EndTime, grace)
		if err != nil {
			return err
		}

		escrow := e.deriver.EscrowAddress(id)
		m := domain.Market{
			ID:                 id,
			Creator:            creator,
			Question:           p.Question,
			EndTime:            p.EndTime,
			ResolutionDeadline: deadline,
			GracePeriodMinutes: grace,
			EscrowAddress:      escrow,
			EscrowAuthorityTag: e.deriver.AuthorityTag(id, escrow),
			FeeBps:             uint16(p.FeeBps),
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		if err := tx.Custody().Open(ctx, escrow, creator, e.cfg.EscrowDeposit); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return domain.ErrInsufficientFunds
			}
			return fmt.Errorf("engine: open escrow: %w", err)
		}
		if err := tx.InsertMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: insert market: %w", err)
		}
		out = m
		return emit(ctx, tx, domain.EventMarketCreated, m, creator, domain.MarketCreated{
			Market:             m.ID,
			Creator:            m.Creator,
			Question:           m.Question,
			EndTime:            m.EndTime,
			ResolutionDeadline: m.ResolutionDeadline,
			FeeBps:             m.FeeBps,
			GracePeriodMinutes: m.GracePeriodMinutes,
		}, now)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

// CancelMarket cancels an open market that has no bets. Only the creator
// may cancel, and only before end_time.
func (e *Engine) CancelMarket(ctx context.Context, caller domain.Identity, marketID string) (domain.Market, error) {
	var out domain.Market
	err := e.run(ctx, "cancel_market", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		m, err := loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		now := e.clock.Now()

		if m.Resolved {
			return domain.ErrMarketAlreadyResolved
		}
		if m.Cancelled {
			return domain.ErrMarketAlreadyCancelled
		}
		if now.Unix() >= m.EndTime {
			return domain.ErrMarketClosed
		}
		if err := authorizeCancel(m, caller); err != nil {
			return err
		}
		if m.HasBets() {
			return domain.ErrCannotCancelWithBets
		}

		m.Cancelled = true
		m.UpdatedAt = now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: update market: %w", err)
		}
		out = m
		return emit(ctx, tx, domain.EventMarketCancelled, m, caller, domain.MarketCancelled{
			Market:      m.ID,
			CancelledBy: caller,
			Timestamp:   now.Unix(),
		}, now)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

// SetAuthorizedResolver replaces the optional secondary resolver. A nil
// resolver clears it.
func (e *Engine) SetAuthorizedResolver(ctx context.Context, caller domain.Identity, marketID string, resolver *domain.Identity) (domain.Market, error) {
	if resolver != nil {
		if err := requireIdentity(*resolver); err != nil {
			return domain.Market{}, err
		}
	}

	var out domain.Market
	err := e.run(ctx, "set_authorized_resolver", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		m, err := loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		if err := authorizeSetResolver(m, caller); err != nil {
			return err
		}
		if m.Resolved {
			return domain.ErrMarketAlreadyResolved
		}

		now := e.clock.Now()
		old := m.AuthorizedResolver
		m.AuthorizedResolver = nil
		if resolver != nil {
			m.AuthorizedResolver = domain.IdentityPtr(*resolver)
		}
		m.UpdatedAt = now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: update market: %w", err)
		}
		out = m
		return emit(ctx, tx, domain.EventAuthorizedResolverSet, m, caller, domain.AuthorizedResolverSet{
			Market:      m.ID,
			OldResolver: old,
			NewResolver: m.AuthorizedResolver,
			SetBy:       caller,
			Timestamp:   now.Unix(),
		}, now)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

// CloseResult reports a closed escrow.
type CloseResult struct {
	Market        domain.Market `json:"market"`
	RentReclaimed uint64        `json:"rent_reclaimed"`
}

// CloseEscrow releases a resolved market's drained escrow sub-account and
// returns its deposit to the creator.
func (e *Engine) CloseEscrow(ctx context.Context, caller domain.Identity, marketID string) (CloseResult, error) {
	var out CloseResult
	err := e.run(ctx, "close_escrow", marketID, caller, func(ctx context.Context, tx domain.Tx) error {
		m, err := loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return domain.ErrMarketStillOpen
		}
		if m.EscrowClosed {
			return domain.ErrEscrowAlreadyClosed
		}

		custody := tx.Custody()
		bal, err := custody.Balance(ctx, m.EscrowAddress)
		if err != nil {
			return fmt.Errorf("engine: escrow balance: %w", err)
		}
		if bal != 0 {
			return domain.ErrEscrowNotEmpty
		}
		if err := authorizeClose(m, caller); err != nil {
			return err
		}
		if err := e.deriver.VerifyEscrow(m.ID, m.EscrowAddress, m.EscrowAuthorityTag); err != nil {
			return err
		}

		now := e.clock.Now()
		m.EscrowClosed = true
		m.UpdatedAt = now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return fmt.Errorf("engine: update market: %w", err)
		}
		reclaimed, err := custody.Close(ctx, m.EscrowAddress, m.Creator)
		if err != nil {
			return fmt.Errorf("engine: close escrow: %w", err)
		}
		out = CloseResult{Market: m, RentReclaimed: reclaimed}
		return emit(ctx, tx, domain.EventEscrowClosed, m, caller, domain.EscrowClosed{
			Market:        m.ID,
			ClosedBy:      caller,
			RentReclaimed: reclaimed,
			Timestamp:     now.Unix(),
		}, now)
	})
	if err != nil {
		return CloseResult{}, err
	}
	return out, nil
}
