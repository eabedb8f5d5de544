package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// memTx stages every write of one Update call.
type memTx struct {
	l        *Ledger
	marketID string

	market      *domain.Market
	newBets     []domain.Bet
	updatedBets map[betPair]domain.Bet
	events      []domain.Event
	custody     *memCustody
}

func newTx(l *Ledger, marketID string) *memTx {
	tx := &memTx{
		l:           l,
		marketID:    marketID,
		updatedBets: make(map[betPair]domain.Bet),
	}
	tx.custody = &memCustody{
		l:       l,
		credits: make(map[domain.Identity]uint64),
		debits:  make(map[domain.Identity]uint64),
		opens:   make(map[domain.Identity]uint64),
		closes:  make(map[domain.Identity]struct{}),
	}
	return tx
}

func (tx *memTx) Market(ctx context.Context) (domain.Market, error) {
	if tx.market != nil {
		return *tx.market, nil
	}
	tx.l.mu.RLock()
	m, ok := tx.l.markets[tx.marketID]
	tx.l.mu.RUnlock()
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (tx *memTx) InsertMarket(ctx context.Context, m domain.Market) error {
	if m.ID != tx.marketID {
		return fmt.Errorf("memory: insert market %s in tx for %s", m.ID, tx.marketID)
	}
	if _, err := tx.Market(ctx); err == nil {
		return fmt.Errorf("memory: insert market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	tx.market = &m
	return nil
}

func (tx *memTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if m.ID != tx.marketID {
		return fmt.Errorf("memory: update market %s in tx for %s", m.ID, tx.marketID)
	}
	if _, err := tx.Market(ctx); err != nil {
		return fmt.Errorf("memory: update market %s: %w", m.ID, err)
	}
	tx.market = &m
	return nil
}

func (tx *memTx) Bet(ctx context.Context, marketID string, user domain.Identity) (domain.Bet, error) {
	p := betPair{market: marketID, user: user}
	if b, ok := tx.updatedBets[p]; ok {
		return b, nil
	}
	for _, b := range tx.newBets {
		if b.Market == marketID && b.User == user {
			return b, nil
		}
	}
	tx.l.mu.RLock()
	b, ok := tx.l.bets[p]
	tx.l.mu.RUnlock()
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (tx *memTx) CreateBet(ctx context.Context, b domain.Bet) error {
	if _, err := tx.Bet(ctx, b.Market, b.User); err == nil {
		return fmt.Errorf("memory: create bet %s: %w", b.Key, domain.ErrAlreadyExists)
	}
	tx.newBets = append(tx.newBets, b)
	return nil
}

func (tx *memTx) UpdateBet(ctx context.Context, b domain.Bet) error {
	for i := range tx.newBets {
		if tx.newBets[i].Market == b.Market && tx.newBets[i].User == b.User {
			tx.newBets[i] = b
			return nil
		}
	}
	if _, err := tx.Bet(ctx, b.Market, b.User); err != nil {
		return fmt.Errorf("memory: update bet %s: %w", b.Key, err)
	}
	tx.updatedBets[betPair{market: b.Market, user: b.User}] = b
	return nil
}

func (tx *memTx) Custody() domain.Custody { return tx.custody }

func (tx *memTx) Emit(ctx context.Context, ev domain.Event) error {
	tx.events = append(tx.events, ev)
	return nil
}

// memCustody tracks staged credits and debits per account. Balances seen
// inside the transaction are the committed balance plus staged changes.
type memCustody struct {
	l       *Ledger
	credits map[domain.Identity]uint64
	debits  map[domain.Identity]uint64
	opens   map[domain.Identity]uint64
	closes  map[domain.Identity]struct{}
}

func (c *memCustody) touched() map[domain.Identity]struct{} {
	out := make(map[domain.Identity]struct{}, len(c.credits)+len(c.debits))
	for id := range c.credits {
		out[id] = struct{}{}
	}
	for id := range c.debits {
		out[id] = struct{}{}
	}
	return out
}

func (c *memCustody) committed(id domain.Identity) account {
	c.l.mu.RLock()
	defer c.l.mu.RUnlock()
	if a, ok := c.l.accounts[id]; ok {
		return *a
	}
	return account{}
}

func (c *memCustody) isOpen(id domain.Identity) (reserve uint64, open bool, closed bool) {
	a := c.committed(id)
	if _, ok := c.closes[id]; ok {
		return 0, true, true
	}
	if r, ok := c.opens[id]; ok {
		return r, true, false
	}
	return a.reserve, a.opened, a.closed
}

func (c *memCustody) Balance(ctx context.Context, id domain.Identity) (uint64, error) {
	a := c.committed(id)
	sum := a.balance + c.credits[id]
	if sum < a.balance {
		return 0, domain.ErrOverflow
	}
	debit := c.debits[id]
	if sum < debit {
		return 0, nil
	}
	return sum - debit, nil
}

func (c *memCustody) debit(ctx context.Context, id domain.Identity, amount uint64) error {
	bal, err := c.Balance(ctx, id)
	if err != nil {
		return err
	}
	if bal < amount {
		return domain.ErrInsufficientFunds
	}
	c.debits[id] += amount
	return nil
}

func (c *memCustody) credit(ctx context.Context, id domain.Identity, amount uint64) error {
	if _, _, closed := c.isOpen(id); closed {
		return domain.ErrAccountClosed
	}
	bal, err := c.Balance(ctx, id)
	if err != nil {
		return err
	}
	if bal+amount < bal || c.credits[id]+amount < c.credits[id] {
		return domain.ErrOverflow
	}
	c.credits[id] += amount
	return nil
}

func (c *memCustody) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if _, _, closed := c.isOpen(to); closed {
		return fmt.Errorf("memory: transfer to %s: %w", to, domain.ErrAccountClosed)
	}
	if err := c.debit(ctx, from, amount); err != nil {
		return fmt.Errorf("memory: transfer %d from %s: %w", amount, from, err)
	}
	if err := c.credit(ctx, to, amount); err != nil {
		c.debits[from] -= amount
		return fmt.Errorf("memory: transfer %d to %s: %w", amount, to, err)
	}
	return nil
}

func (c *memCustody) Open(ctx context.Context, id, payer domain.Identity, deposit uint64) error {
	if _, open, _ := c.isOpen(id); open {
		return fmt.Errorf("memory: open %s: %w", id, domain.ErrAlreadyExists)
	}
	if deposit > 0 {
		if err := c.debit(ctx, payer, deposit); err != nil {
			return fmt.Errorf("memory: open %s deposit from %s: %w", id, payer, err)
		}
	}
	c.opens[id] = deposit
	return nil
}

func (c *memCustody) Close(ctx context.Context, id, beneficiary domain.Identity) (uint64, error) {
	reserve, open, closed := c.isOpen(id)
	if !open {
		return 0, fmt.Errorf("memory: close %s: %w", id, domain.ErrNotFound)
	}
	if closed {
		return 0, fmt.Errorf("memory: close %s: %w", id, domain.ErrAccountClosed)
	}
	bal, err := c.Balance(ctx, id)
	if err != nil {
		return 0, err
	}
	if bal != 0 {
		return 0, fmt.Errorf("memory: close %s: %w", id, domain.ErrEscrowNotEmpty)
	}
	if reserve > 0 {
		if err := c.credit(ctx, beneficiary, reserve); err != nil {
			return 0, fmt.Errorf("memory: close %s refund reserve: %w", id, err)
		}
	}
	delete(c.opens, id)
	c.closes[id] = struct{}{}
	return reserve, nil
}
