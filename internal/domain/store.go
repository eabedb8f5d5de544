package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Custody is the value-transfer primitive bound to one ledger transaction.
// Every call is all-or-nothing and checks the live balance at call time.
type Custody interface {
	Balance(ctx context.Context, account Identity) (uint64, error)
	// Transfer moves amount from one account to another. It fails with
	// ErrInsufficientFunds when from holds less than amount.
	Transfer(ctx context.Context, from, to Identity, amount uint64) error
	// Open allocates a sub-account, charging deposit from payer as its
	// storage reserve.
	Open(ctx context.Context, account, payer Identity, deposit uint64) error
	// Close releases a drained sub-account and credits its reserve to
	// beneficiary, returning the amount reclaimed.
	Close(ctx context.Context, account, beneficiary Identity) (uint64, error)
}

// Tx is the view of the ledger inside one atomic unit. Nothing written
// through it is visible outside until the unit commits.
type Tx interface {
	Market(ctx context.Context) (Market, error)
	InsertMarket(ctx context.Context, m Market) error
	UpdateMarket(ctx context.Context, m Market) error
	// Bet returns ErrNotFound when the pair has no record.
	Bet(ctx context.Context, marketID string, user Identity) (Bet, error)
	// CreateBet is compare-and-create on the bet key; ErrAlreadyExists when
	// a record already holds the key.
	CreateBet(ctx context.Context, b Bet) error
	UpdateBet(ctx context.Context, b Bet) error
	Custody() Custody
	Emit(ctx context.Context, ev Event) error
}

// Ledger runs fn as a single transaction scoped to one market. Operations
// on the same market are serialized. The committed events are returned;
// when fn fails every write, transfer and staged event is discarded.
type Ledger interface {
	Update(ctx context.Context, marketID string, fn func(ctx context.Context, tx Tx) error) ([]Event, error)
}

// MarketStore reads committed markets.
type MarketStore interface {
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore reads committed bets.
type BetStore interface {
	Get(ctx context.Context, marketID string, user Identity) (Bet, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Bet, error)
}

// EventStore reads and maintains the event outbox.
type EventStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Event, error)
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Event, error)
	DeleteArchived(ctx context.Context, ids []string) (int64, error)
}

// BalanceReader reads committed custody balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, account Identity) (uint64, error)
}

// Funder credits an account from outside the ledger. Only development
// backends implement it.
type Funder interface {
	Deposit(ctx context.Context, account Identity, amount uint64) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
