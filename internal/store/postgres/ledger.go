package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL. Each Update is one
// database transaction holding a transaction-scoped advisory lock on the
// market ID, so operations on a market serialize across every replica.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Update implements domain.Ledger.
func (l *Ledger) Update(ctx context.Context, marketID string, fn func(ctx context.Context, tx domain.Tx) error) ([]domain.Event, error) {
	dbTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = dbTx.Rollback(ctx) }()

	if _, err := dbTx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, marketID); err != nil {
		return nil, fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}

	tx := &pgTx{q: dbTx, marketID: marketID}
	tx.custody = &pgCustody{q: dbTx}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit market %s: %w", marketID, err)
	}
	return tx.events, nil
}

// Deposit credits amount to account outside any market transaction.
func (l *Ledger) Deposit(ctx context.Context, account domain.Identity, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrInvalidBetAmount
	}
	c := &pgCustody{q: l.pool}
	if err := c.credit(ctx, account, amount); err != nil {
		return 0, err
	}
	return c.Balance(ctx, account)
}

// BalanceOf returns the committed balance of account.
func (l *Ledger) BalanceOf(ctx context.Context, account domain.Identity) (uint64, error) {
	return (&pgCustody{q: l.pool}).Balance(ctx, account)
}

// pgCustody runs custody moves as conditional row updates, so a debit
// never takes a balance below zero even under concurrent transactions.
type pgCustody struct {
	q querier
}

func (c *pgCustody) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	var s string
	err := c.q.QueryRow(ctx, `SELECT balance::text FROM custody_accounts WHERE id = $1`, account.String()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return parseU64(s)
}

func (c *pgCustody) debit(ctx context.Context, account domain.Identity, amount uint64) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE custody_accounts SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE id = $1 AND balance >= $2::numeric`,
		account.String(), u64Text(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (c *pgCustody) credit(ctx context.Context, account domain.Identity, amount uint64) error {
	tag, err := c.q.Exec(ctx, `
		INSERT INTO custody_accounts (id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (id) DO UPDATE SET
			balance    = custody_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
		WHERE NOT custody_accounts.closed`,
		account.String(), u64Text(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountClosed
	}
	return nil
}

func (c *pgCustody) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := c.debit(ctx, from, amount); err != nil {
		return fmt.Errorf("postgres: transfer %d from %s: %w", amount, from, err)
	}
	if err := c.credit(ctx, to, amount); err != nil {
		return fmt.Errorf("postgres: transfer %d to %s: %w", amount, to, err)
	}
	return nil
}

func (c *pgCustody) Open(ctx context.Context, account, payer domain.Identity, deposit uint64) error {
	if deposit > 0 {
		if err := c.debit(ctx, payer, deposit); err != nil {
			return fmt.Errorf("postgres: open %s deposit from %s: %w", account, payer, err)
		}
	}
	tag, err := c.q.Exec(ctx, `
		INSERT INTO custody_accounts (id, reserve, opened) VALUES ($1, $2::numeric, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			reserve    = EXCLUDED.reserve,
			opened     = TRUE,
			updated_at = NOW()
		WHERE NOT custody_accounts.opened`,
		account.String(), u64Text(deposit),
	)
	if err != nil {
		return fmt.Errorf("postgres: open %s: %w", account, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: open %s: %w", account, domain.ErrAlreadyExists)
	}
	return nil
}

func (c *pgCustody) Close(ctx context.Context, account, beneficiary domain.Identity) (uint64, error) {
	var (
		balance, reserve string
		opened, closed   bool
	)
	err := c.q.QueryRow(ctx, `
		SELECT balance::text, reserve::text, opened, closed
		FROM custody_accounts WHERE id = $1 FOR UPDATE`,
		account.String(),
	).Scan(&balance, &reserve, &opened, &closed)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !opened) {
		return 0, fmt.Errorf("postgres: close %s: %w", account, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: close %s: %w", account, err)
	}
	if closed {
		return 0, fmt.Errorf("postgres: close %s: %w", account, domain.ErrAccountClosed)
	}
	if balance != "0" {
		return 0, fmt.Errorf("postgres: close %s: %w", account, domain.ErrEscrowNotEmpty)
	}
	r, err := parseU64(reserve)
	if err != nil {
		return 0, err
	}

	if _, err := c.q.Exec(ctx, `
		UPDATE custody_accounts SET closed = TRUE, reserve = 0, updated_at = NOW()
		WHERE id = $1`, account.String()); err != nil {
		return 0, fmt.Errorf("postgres: close %s: %w", account, err)
	}
	if r > 0 {
		if err := c.credit(ctx, beneficiary, r); err != nil {
			return 0, fmt.Errorf("postgres: close %s refund reserve: %w", account, err)
		}
	}
	return r, nil
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
