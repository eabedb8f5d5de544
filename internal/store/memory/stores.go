package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// MarketStore implements domain.MarketStore over a Ledger.
type MarketStore struct{ l *Ledger }

// BetStore implements domain.BetStore over a Ledger.
type BetStore struct{ l *Ledger }

// EventStore implements domain.EventStore over a Ledger.
type EventStore struct{ l *Ledger }

// AuditStore implements domain.AuditStore over a Ledger.
type AuditStore struct{ l *Ledger }

func (l *Ledger) Markets() *MarketStore { return &MarketStore{l: l} }
func (l *Ledger) Bets() *BetStore       { return &BetStore{l: l} }
func (l *Ledger) Events() *EventStore   { return &EventStore{l: l} }
func (l *Ledger) Audit() *AuditStore    { return &AuditStore{l: l} }

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	m, ok := s.l.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	var out []domain.Market
	for i := len(s.l.order) - 1; i >= 0; i-- {
		m := s.l.markets[s.l.order[i]]
		if !within(m.CreatedAt, opts) {
			continue
		}
		out = append(out, m)
	}
	return page(out, opts), nil
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	return int64(len(s.l.markets)), nil
}

func (s *BetStore) Get(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	b, ok := s.l.bets[betPair{market: marketID, user: user}]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

// ListByMarket returns bets in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	var out []domain.Bet
	for _, u := range s.l.betOrder[marketID] {
		b := s.l.bets[betPair{market: marketID, user: u}]
		if within(b.CreatedAt, opts) {
			out = append(out, b)
		}
	}
	return page(out, opts), nil
}

func (s *EventStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	var out []domain.Event
	for _, ev := range s.l.events {
		if ev.MarketID == marketID && within(ev.Timestamp, opts) {
			out = append(out, ev)
		}
	}
	return page(out, opts), nil
}

func (s *EventStore) ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	var out []domain.Event
	for _, ev := range s.l.events {
		if ev.Published {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *EventStore) MarkPublished(ctx context.Context, ids []string) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	for i := range s.l.events {
		if _, ok := want[s.l.events[i].ID]; ok {
			s.l.events[i].Published = true
		}
	}
	return nil
}

// ListBefore returns events older than before ordered by (timestamp, seq).
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	s.l.mu.RLock()
	var out []domain.Event
	for _, ev := range s.l.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	s.l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteArchived drops the given events if they have been relayed.
func (s *EventStore) DeleteArchived(ctx context.Context, ids []string) (int64, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	kept := s.l.events[:0]
	var n int64
	for _, ev := range s.l.events {
		if _, ok := drop[ev.ID]; ok && ev.Published {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.l.events = kept
	return n, nil
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.auditSeq++
	s.l.audit = append(s.l.audit, domain.AuditEntry{
		ID:        s.l.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: s.l.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.l.audit {
		if within(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, opts), nil
}

func within(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.Ledger        = (*Ledger)(nil)
	_ domain.BalanceReader = (*Ledger)(nil)
	_ domain.Funder        = (*Ledger)(nil)
	_ domain.MarketStore   = (*MarketStore)(nil)
	_ domain.BetStore      = (*BetStore)(nil)
	_ domain.EventStore    = (*EventStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)
