package escrow

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies id issuance, the record roundtrip, and erase-on-terminal
// against the actual schema.
func TestRepository_Integration(t *testing.T) {
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
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'escrow_transactions')`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
	}

	repo := NewRepository()

	first, err := repo.NextID(ctx, pool)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	second, err := repo.NextID(ctx, pool)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if second <= first {
		t.Fatalf("expected ids to advance, got %d then %d", first, second)
	}

	// Roundtrip with an amount outside int64 range to exercise NUMERIC.
	amount, _ := new(big.Int).SetString("79228162514264337593543950335", 10) // 2^96-1
	txn := Transaction{
		ID:              second,
		Buyer:           "3f2c9a44-1d6e-4b7a-8c2f-5e9d0a1b2c3d",
		Seller:          "a1b2c3d4-e5f6-4a8b-9c0d-1e2f3a4b5c6d",
		Amount:          amount,
		DisputeStake:    new(big.Int),
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
		DeliveryTimeout: DefaultDeliveryTimeout,
		DisputeWindow:   DefaultDisputeWindow,
		State:           StateAwaitingDelivery,
	}
	if err := repo.Insert(ctx, pool, txn); err != nil {
		t.Fatalf("insert: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM escrow_transactions WHERE id = $1`, second)
	})

	got, err := repo.Get(ctx, pool, second, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount.Cmp(amount) != 0 {
		t.Errorf("expected amount %s, got %s", amount, got.Amount)
	}
	if got.State != StateAwaitingDelivery || !got.DeliveredAt.IsZero() {
		t.Errorf("unexpected record %+v", got)
	}
	if got.DeliveryTimeout != DefaultDeliveryTimeout {
		t.Errorf("expected default delivery timeout, got %v", got.DeliveryTimeout)
	}

	deliveredAt := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.MarkDelivered(ctx, pool, second, deliveredAt); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	got, err = repo.Get(ctx, pool, second, false)
	if err != nil {
		t.Fatalf("get after deliver: %v", err)
	}
	if got.State != StateDelivered || got.DeliveredAt.IsZero() {
		t.Errorf("expected delivered record, got %+v", got)
	}

	if err := repo.Delete(ctx, pool, second); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, pool, second, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, pool, second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}
