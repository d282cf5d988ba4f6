package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestLedger_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies debit/credit/audit behavior against the actual schema.
func TestLedger_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'accounts')`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
	}

	ledger := NewLedger()
	src := fmt.Sprintf("itest-src-%d", time.Now().UnixNano())
	dst := fmt.Sprintf("itest-dst-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM transfers WHERE src IN ($1, $2, 'external') AND (dst = $1 OR dst = $2)`, src, dst)
		_, _ = pool.Exec(ctx2, `DELETE FROM accounts WHERE id IN ($1, $2)`, src, dst)
	})

	if err := ledger.Deposit(ctx, pool, src, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := ledger.Transfer(ctx, tx, TransferParams{
		EscrowID: 0, From: src, To: dst, Amount: big.NewInt(600), Kind: KindPrincipal,
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Overdraft inside the same tx: the remaining 400 cannot cover 600.
	err = ledger.Transfer(ctx, tx, TransferParams{
		EscrowID: 0, From: src, To: dst, Amount: big.NewInt(600), Kind: KindPrincipal,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	err = ledger.Transfer(ctx, tx, TransferParams{
		EscrowID: 0, From: "no-such-account", To: dst, Amount: big.NewInt(1), Kind: KindFee,
	})
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	srcBal, err := Balance(ctx, pool, src)
	if err != nil {
		t.Fatalf("balance src: %v", err)
	}
	dstBal, err := Balance(ctx, pool, dst)
	if err != nil {
		t.Fatalf("balance dst: %v", err)
	}
	if srcBal.Int64() != 400 || dstBal.Int64() != 600 {
		t.Fatalf("expected 400/600 split, got %s/%s", srcBal, dstBal)
	}

	unknown, err := Balance(ctx, pool, "never-seen")
	if err != nil {
		t.Fatalf("balance unknown: %v", err)
	}
	if unknown.Sign() != 0 {
		t.Fatalf("expected zero balance for unknown account, got %s", unknown)
	}
}
