package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const eventColumns = `id::text, seq, type, market_id, actor, payload, created_at, published`

// EventStore implements domain.EventStore over the market_events outbox.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev    domain.Event
		typ   string
		actor string
	)
	if err := row.Scan(&ev.ID, &ev.Seq, &typ, &ev.MarketID, &actor, &ev.Payload, &ev.Timestamp, &ev.Published); err != nil {
		return domain.Event{}, translate(err)
	}
	ev.Type = domain.EventType(typ)
	ev.Actor = domain.Identity(actor)
	ev.Timestamp = ev.Timestamp.UTC()
	return ev, nil
}

func (s *EventStore) query(ctx context.Context, what, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return events, nil
}

// ListByMarket returns a market's events in commit order.
func (s *EventStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events WHERE market_id = $1`
	query, args := appendWindow(query, "created_at", opts, []any{marketID})
	query += " ORDER BY seq"
	query, args = appendPage(query, opts, args)
	return s.query(ctx, "list events for "+marketID, query, args...)
}

// ListUnpublished returns the oldest outbox entries not yet relayed.
func (s *EventStore) ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events WHERE NOT published ORDER BY seq`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.query(ctx, "list unpublished events", query, args...)
}

// MarkPublished flags ids as relayed.
func (s *EventStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
		UPDATE market_events SET published = TRUE, published_at = NOW()
		WHERE id = ANY($1::uuid[]) AND NOT published`
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: mark %d events published: %w", len(ids), err)
	}
	return nil
}

// ListBefore returns events created before the cutoff ordered by
// (created_at, seq). Commit order can differ from timestamp order across
// markets.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events WHERE created_at < $1 ORDER BY created_at, seq`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, "list events before cutoff", query, args...)
}

// DeleteArchived removes the given relayed events. Unpublished ids are kept.
func (s *EventStore) DeleteArchived(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_events WHERE id = ANY($1::uuid[]) AND published`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d archived events: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}
