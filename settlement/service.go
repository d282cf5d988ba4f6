package settlement

import (
	"context"
	"fmt"
	"math/big"

	"escrowflow/db"
)

// Service exposes wallet operations outside any escrow transition: external
// funding and balance reads.
type Service struct {
	pool   db.Pool
	ledger *Ledger
}

func NewWalletService(pool db.Pool, ledger *Ledger) *Service {
	if ledger == nil {
		ledger = NewLedger()
	}
	return &Service{pool: pool, ledger: ledger}
}

// Deposit funds an account in its own transaction.
func (s *Service) Deposit(ctx context.Context, account string, amount *big.Int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("settlement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.Deposit(ctx, tx, account, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("settlement: commit: %w", err)
	}
	return nil
}

// Balance reads the current balance for an account.
func (s *Service) Balance(ctx context.Context, account string) (*big.Int, error) {
	return Balance(ctx, s.pool, account)
}
