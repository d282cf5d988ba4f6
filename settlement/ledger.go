package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"escrowflow/db"
)

// Ledger implements Transferer on top of the accounts and transfers tables.
// Debits require an existing account with sufficient balance; credits create
// the destination account on first use.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Transfer debits the source, credits the destination, and appends an
// immutable transfers row. All three writes ride the caller's transaction.
func (l *Ledger) Transfer(ctx context.Context, q db.Querier, params TransferParams) error {
	if params.Amount == nil || params.Amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if params.From == "" || params.To == "" {
		return fmt.Errorf("settlement: source and destination required")
	}

	amount := db.NumericFromBig(params.Amount)

	tag, err := q.Exec(ctx, `
        UPDATE accounts SET balance = balance - $1, updated_at = NOW()
        WHERE id = $2 AND balance >= $1
    `, amount, params.From)
	if err != nil {
		return fmt.Errorf("settlement: debit %s: %w", params.From, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, params.From).Scan(&exists); err != nil {
			return fmt.Errorf("settlement: check account %s: %w", params.From, err)
		}
		if !exists {
			return ErrUnknownAccount
		}
		return ErrInsufficientFunds
	}

	if _, err := q.Exec(ctx, `
        INSERT INTO accounts (id, balance) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = NOW()
    `, params.To, amount); err != nil {
		return fmt.Errorf("settlement: credit %s: %w", params.To, err)
	}

	if _, err := q.Exec(ctx, `
        INSERT INTO transfers (escrow_id, src, dst, amount, kind)
        VALUES ($1, $2, $3, $4, $5)
    `, params.EscrowID, params.From, params.To, amount, string(params.Kind)); err != nil {
		return fmt.Errorf("settlement: record transfer: %w", err)
	}

	return nil
}

// Deposit credits an account outside any escrow transaction. Used to fund
// trader accounts; the movement is still auditable via the transfers table.
func (l *Ledger) Deposit(ctx context.Context, q db.Querier, account string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if account == "" {
		return fmt.Errorf("settlement: account required")
	}
	num := db.NumericFromBig(amount)
	if _, err := q.Exec(ctx, `
        INSERT INTO accounts (id, balance) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = NOW()
    `, account, num); err != nil {
		return fmt.Errorf("settlement: deposit %s: %w", account, err)
	}
	if _, err := q.Exec(ctx, `
        INSERT INTO transfers (escrow_id, src, dst, amount, kind)
        VALUES (NULL, 'external', $1, $2, 'deposit')
    `, account, num); err != nil {
		return fmt.Errorf("settlement: record deposit: %w", err)
	}
	return nil
}

// Balance reads the current balance for an account; unknown accounts report
// zero rather than an error.
func Balance(ctx context.Context, q db.Querier, account string) (*big.Int, error) {
	var n pgtype.Numeric
	err := q.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, account).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: balance %s: %w", account, err)
	}
	return db.BigFromNumeric(n)
}
