package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const betColumns = `
	bet_key, market_id, user_id, side, amount::text, claimed, payout::text, created_at, claimed_at`

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b      domain.Bet
		user   string
		amount string
		payout string
	)
	if err := row.Scan(&b.Key, &b.Market, &user, &b.Side, &amount, &b.Claimed, &payout, &b.CreatedAt, &b.ClaimedAt); err != nil {
		return domain.Bet{}, translate(err)
	}
	var err error
	b.User = domain.Identity(user)
	b.Initialized = true
	if b.Amount, err = parseU64(amount); err != nil {
		return domain.Bet{}, err
	}
	if b.Payout, err = parseU64(payout); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

func getBet(ctx context.Context, q querier, marketID string, user domain.Identity) (domain.Bet, error) {
	b, err := scanBet(q.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 AND user_id = $2`,
		marketID, user.String(),
	))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Bet{}, err
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s/%s: %w", marketID, user, err)
	}
	return b, nil
}

// Get returns user's bet in marketID.
func (s *BetStore) Get(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error) {
	return getBet(ctx, s.pool, marketID, user)
}

// ListByMarket returns a market's bets in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betColumns + ` FROM bets WHERE market_id = $1`
	query, args := appendWindow(query, "created_at", opts, []any{marketID})
	query += " ORDER BY created_at, user_id"
	query, args = appendPage(query, opts, args)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}
