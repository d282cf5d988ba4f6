package actors

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// Env carries everything an actor needs. Svc runs on the real clock; Late is
// a second service instance over the same database whose clock sits past the
// arbitrator timeout, so timeout-gated paths fire while disputes are fresh.
type Env struct {
	Pool       *pgxpool.Pool
	Svc        *escrow.Service
	Late       *escrow.Service
	Buyer      string
	Seller     string
	Arbitrator string
	Stake      *big.Int
}

// Lifecycler drives escrows through create -> deliver and then forks the
// outcome: confirmation, a late claim, or a dispute with evidence. Domain
// rejections are expected under contention and ignored; only context
// cancellation stops the loop.
func Lifecycler(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		value := big.NewInt(int64(1000 + rand.Intn(1_000_000)))
		txn, err := env.Svc.Create(ctx, env.Buyer, escrow.CreateParams{
			Seller: env.Seller,
			Value:  value,
		})
		if err != nil {
			sleepJitter(20)
			continue
		}

		_ = env.Svc.MarkDelivered(ctx, env.Seller, txn.ID)

		switch rand.Intn(3) {
		case 0:
			_ = env.Svc.ConfirmDelivery(ctx, env.Buyer, txn.ID)
		case 1:
			// The late clock is past the dispute window, so the seller can claim.
			_ = env.Late.ClaimPaymentAfterDisputeWindow(ctx, env.Seller, txn.ID)
		default:
			err := env.Svc.RaiseDispute(ctx, env.Buyer, txn.ID, escrow.DisputeParams{
				Stake:      env.Stake,
				ReasonHash: "sha256:stress",
			})
			if err == nil && rand.Intn(2) == 0 {
				_ = env.Svc.SubmitEvidence(ctx, env.Seller, txn.ID, "sha256:seller-evidence")
			}
		}

		sleepJitter(30)
	}
}

// Arbiter scans for disputed escrows and rules on them with random outcomes.
// It races InactionResolver over the same rows; exactly one side may pay out.
func Arbiter(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		for _, id := range disputedIDs(ctx, env.Pool) {
			_ = env.Svc.ResolveDispute(ctx, env.Arbitrator, id, rand.Intn(2) == 0)
		}
		sleepJitter(50)
	}
}

// InactionResolver plays the buyer reclaiming disputes the arbitrator has
// "abandoned": its service clock is past the arbitrator timeout for every
// live transaction.
func InactionResolver(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		for _, id := range disputedIDs(ctx, env.Pool) {
			_ = env.Late.ResolveDisputeDueToInaction(ctx, env.Buyer, id)
		}
		sleepJitter(50)
	}
}

// LateCanceller exercises the delivery-timeout refund against escrows the
// seller never delivers.
func LateCanceller(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		txn, err := env.Svc.Create(ctx, env.Buyer, escrow.CreateParams{
			Seller: env.Seller,
			Value:  big.NewInt(int64(1000 + rand.Intn(10_000))),
		})
		if err == nil {
			_ = env.Late.CancelAndRefund(ctx, env.Buyer, txn.ID)
		}
		sleepJitter(80)
	}
}

// Reader hammers the read path, including ids that were just erased.
func Reader(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var maxID int64
		_ = env.Pool.QueryRow(ctx, `SELECT last_value FROM escrow_txn_id`).Scan(&maxID)
		if maxID > 0 {
			_, _ = env.Svc.GetState(ctx, rand.Int63n(maxID+1))
		}
		sleepJitter(10)
	}
}

// OutboxDrainer consumes pending outbox rows the way the relay does, with
// SKIP LOCKED claims and occasional simulated publish failures.
func OutboxDrainer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			sleepJitter(50)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			sleepJitter(50)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

func disputedIDs(ctx context.Context, pool *pgxpool.Pool) []int64 {
	rows, err := pool.Query(ctx, `SELECT id FROM escrow_transactions WHERE state='disputed' LIMIT 20`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	ids := make([]int64, 0, 20)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func sleepJitter(base int) {
	time.Sleep(time.Duration(base+rand.Intn(base+1)) * time.Millisecond)
}
