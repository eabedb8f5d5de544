package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const marketColumns = `
	id, creator, question, end_time, resolution_deadline, grace_period_minutes,
	resolved, outcome, cancelled, escrow_address, escrow_authority_tag, escrow_closed,
	total_yes::text, total_no::text, fee_bps, authorized_resolver, created_at, updated_at`

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		creator   string
		escrow    string
		grace     int16
		feeBps    int32
		totalYes  string
		totalNo   string
		resolverS *string
	)
	err := row.Scan(
		&m.ID, &creator, &m.Question, &m.EndTime, &m.ResolutionDeadline, &grace,
		&m.Resolved, &m.Outcome, &m.Cancelled, &escrow, &m.EscrowAuthorityTag, &m.EscrowClosed,
		&totalYes, &totalNo, &feeBps, &resolverS, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, translate(err)
	}
	m.Creator = domain.Identity(creator)
	m.EscrowAddress = domain.Identity(escrow)
	m.GracePeriodMinutes = uint8(grace)
	m.FeeBps = uint16(feeBps)
	m.AuthorizedResolver = optionalIdentity(resolverS)
	if m.TotalYes, err = parseU64(totalYes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNo, err = parseU64(totalNo); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func getMarket(ctx context.Context, q querier, id string) (domain.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, err
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByID retrieves a market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, s.pool, id)
}

// List returns markets newest first with pagination and optional time
// filtering on created_at.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	query, args := appendWindow(query, "created_at", opts, nil)
	query += " ORDER BY created_at DESC, id"
	query, args = appendPage(query, opts, args)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// appendWindow adds Since/Until bounds on col.
func appendWindow(query, col string, opts domain.ListOpts, args []any) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	return query, args
}

func appendPage(query string, opts domain.ListOpts, args []any) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
