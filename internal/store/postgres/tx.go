package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// pgTx implements domain.Tx on one database transaction.
type pgTx struct {
	q        querier
	marketID string
	custody  *pgCustody
	events   []domain.Event
}

func (tx *pgTx) Market(ctx context.Context) (domain.Market, error) {
	return getMarket(ctx, tx.q, tx.marketID)
}

func (tx *pgTx) InsertMarket(ctx context.Context, m domain.Market) error {
	if m.ID != tx.marketID {
		return fmt.Errorf("postgres: insert market %s in tx for %s", m.ID, tx.marketID)
	}
	const query = `
		INSERT INTO markets (
			id, creator, question, end_time, resolution_deadline, grace_period_minutes,
			resolved, outcome, cancelled, escrow_address, escrow_authority_tag, escrow_closed,
			total_yes, total_no, fee_bps, authorized_resolver, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13::numeric, $14::numeric, $15, $16, $17, $18
		)`
	_, err := tx.q.Exec(ctx, query,
		m.ID, m.Creator.String(), m.Question, m.EndTime, m.ResolutionDeadline, int16(m.GracePeriodMinutes),
		m.Resolved, m.Outcome, m.Cancelled, m.EscrowAddress.String(), m.EscrowAuthorityTag, m.EscrowClosed,
		u64Text(m.TotalYes), u64Text(m.TotalNo), int32(m.FeeBps), optionalText(m.AuthorizedResolver), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, translate(err))
	}
	return nil
}

// UpdateMarket writes the mutable columns. The creation fields are never
// rewritten.
func (tx *pgTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if m.ID != tx.marketID {
		return fmt.Errorf("postgres: update market %s in tx for %s", m.ID, tx.marketID)
	}
	const query = `
		UPDATE markets SET
			resolved            = $2,
			outcome             = $3,
			cancelled           = $4,
			escrow_closed       = $5,
			total_yes           = $6::numeric,
			total_no            = $7::numeric,
			authorized_resolver = $8,
			escrow_authority_tag = $9,
			updated_at          = $10
		WHERE id = $1`
	tag, err := tx.q.Exec(ctx, query,
		m.ID, m.Resolved, m.Outcome, m.Cancelled, m.EscrowClosed,
		u64Text(m.TotalYes), u64Text(m.TotalNo), optionalText(m.AuthorizedResolver),
		m.EscrowAuthorityTag, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (tx *pgTx) Bet(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error) {
	return getBet(ctx, tx.q, marketID, user)
}

// CreateBet inserts b unless any bet already holds its key or pair.
func (tx *pgTx) CreateBet(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (market_id, user_id, bet_key, side, amount, claimed, payout, created_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9)
		ON CONFLICT DO NOTHING`
	tag, err := tx.q.Exec(ctx, query,
		b.Market, b.User.String(), b.Key, b.Side, u64Text(b.Amount),
		b.Claimed, u64Text(b.Payout), b.CreatedAt, b.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bet %s: %w", b.Key, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create bet %s: %w", b.Key, domain.ErrAlreadyExists)
	}
	return nil
}

func (tx *pgTx) UpdateBet(ctx context.Context, b domain.Bet) error {
	const query = `
		UPDATE bets SET claimed = $3, payout = $4::numeric, claimed_at = $5
		WHERE market_id = $1 AND user_id = $2`
	tag, err := tx.q.Exec(ctx, query, b.Market, b.User.String(), b.Claimed, u64Text(b.Payout), b.ClaimedAt)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.Key, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bet %s: %w", b.Key, domain.ErrNotFound)
	}
	return nil
}

func (tx *pgTx) Custody() domain.Custody { return tx.custody }

// Emit writes ev to the outbox in the same transaction as the state change.
func (tx *pgTx) Emit(ctx context.Context, ev domain.Event) error {
	if ev.MarketID == "" {
		return errors.New("postgres: emit event without market")
	}
	const query = `
		INSERT INTO market_events (id, type, market_id, actor, payload, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		RETURNING seq`
	err := tx.q.QueryRow(ctx, query,
		ev.ID, string(ev.Type), ev.MarketID, ev.Actor.String(), []byte(ev.Payload), ev.Timestamp,
	).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("postgres: emit %s: %w", ev.Type, translate(err))
	}
	tx.events = append(tx.events, ev)
	return nil
}
