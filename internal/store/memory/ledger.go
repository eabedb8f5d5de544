// Package memory implements the ledger and read stores in process memory.
// It backs development mode and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

type betPair struct {
	market string
	user   domain.Identity
}

type account struct {
	balance uint64
	reserve uint64
	opened  bool
	closed  bool
}

// Ledger is an in-memory domain.Ledger. Transactions on one market run one
// at a time under that market's mutex; writes are staged and applied under
// the store mutex on commit, where every touched balance is re-checked.
type Ledger struct {
	mu       sync.RWMutex
	markets  map[string]domain.Market
	order    []string
	bets     map[betPair]domain.Bet
	betOrder map[string][]domain.Identity
	accounts map[domain.Identity]*account
	events   []domain.Event
	seq      int64
	audit    []domain.AuditEntry
	auditSeq int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		markets:  make(map[string]domain.Market),
		bets:     make(map[betPair]domain.Bet),
		betOrder: make(map[string][]domain.Identity),
		accounts: make(map[domain.Identity]*account),
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) marketLock(id string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	mu, ok := l.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[id] = mu
	}
	return mu
}

// Update implements domain.Ledger.
func (l *Ledger) Update(ctx context.Context, marketID string, fn func(ctx context.Context, tx domain.Tx) error) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: begin: %w", err)
	}
	mu := l.marketLock(marketID)
	mu.Lock()
	defer mu.Unlock()

	tx := newTx(l, marketID)
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	return l.commit(tx)
}

func (l *Ledger) commit(tx *memTx) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Final assertion: every staged balance change must still be
	// satisfiable against the live balances.
	next := make(map[domain.Identity]uint64, len(tx.custody.credits)+len(tx.custody.debits))
	for id := range tx.custody.touched() {
		cur := l.balanceLocked(id)
		credit := tx.custody.credits[id]
		debit := tx.custody.debits[id]
		sum := cur + credit
		if sum < cur {
			return nil, domain.ErrOverflow
		}
		if sum < debit {
			return nil, domain.ErrInsufficientFunds
		}
		next[id] = sum - debit
	}
	for _, b := range tx.newBets {
		if _, ok := l.bets[betPair{market: b.Market, user: b.User}]; ok {
			return nil, fmt.Errorf("memory: create bet %s: %w", b.Key, domain.ErrAlreadyExists)
		}
	}
	for id := range tx.custody.opens {
		if a, ok := l.accounts[id]; ok && a.opened {
			return nil, fmt.Errorf("memory: open account %s: %w", id, domain.ErrAlreadyExists)
		}
	}

	for id, bal := range next {
		l.accountLocked(id).balance = bal
	}
	for id, reserve := range tx.custody.opens {
		a := l.accountLocked(id)
		a.opened = true
		a.reserve = reserve
	}
	for id := range tx.custody.closes {
		a := l.accountLocked(id)
		a.opened = true
		a.closed = true
		a.reserve = 0
	}

	now := l.now()
	if tx.market != nil {
		if _, ok := l.markets[tx.marketID]; !ok {
			l.order = append(l.order, tx.marketID)
		}
		l.markets[tx.marketID] = *tx.market
	}
	for _, b := range tx.newBets {
		p := betPair{market: b.Market, user: b.User}
		l.bets[p] = b
		l.betOrder[b.Market] = append(l.betOrder[b.Market], b.User)
	}
	for p, b := range tx.updatedBets {
		l.bets[p] = b
	}

	committed := make([]domain.Event, 0, len(tx.events))
	for _, ev := range tx.events {
		l.seq++
		ev.Seq = l.seq
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		l.events = append(l.events, ev)
		committed = append(committed, ev)
	}
	return committed, nil
}

func (l *Ledger) balanceLocked(id domain.Identity) uint64 {
	if a, ok := l.accounts[id]; ok {
		return a.balance
	}
	return 0
}

func (l *Ledger) accountLocked(id domain.Identity) *account {
	a, ok := l.accounts[id]
	if !ok {
		a = &account{}
		l.accounts[id] = a
	}
	return a
}

// Deposit credits amount to account from outside the ledger and returns the
// new balance.
func (l *Ledger) Deposit(ctx context.Context, id domain.Identity, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrInvalidBetAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.accountLocked(id)
	if a.closed {
		return 0, domain.ErrAccountClosed
	}
	sum := a.balance + amount
	if sum < a.balance {
		return 0, domain.ErrOverflow
	}
	a.balance = sum
	return sum, nil
}

// BalanceOf returns the committed balance of id.
func (l *Ledger) BalanceOf(ctx context.Context, id domain.Identity) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(id), nil
}

// Reserve returns the storage reserve held by an open sub-account.
func (l *Ledger) Reserve(id domain.Identity) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.accounts[id]; ok {
		return a.reserve
	}
	return 0
}
