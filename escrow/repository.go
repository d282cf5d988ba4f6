package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"escrowflow/db"
)

// Repository defines the keyed storage the state machine operates on.
// Implementations must honor erase-on-terminal: Delete removes the row so
// later lookups observe ErrNotFound, and ids are never recycled because
// NextID draws from a sequence that only moves forward.
type Repository interface {
	NextID(ctx context.Context, q db.Querier) (int64, error)
	Insert(ctx context.Context, q db.Querier, txn Transaction) error
	Get(ctx context.Context, q db.Querier, id int64, forUpdate bool) (Transaction, error)
	MarkDelivered(ctx context.Context, q db.Querier, id int64, deliveredAt time.Time) error
	MarkDisputed(ctx context.Context, q db.Querier, id int64, stake *big.Int, reasonHash string) error
	SetEvidence(ctx context.Context, q db.Querier, id int64, evidenceHash string) error
	Delete(ctx context.Context, q db.Querier, id int64) error
}

// PGRepository implements Repository over the escrow_transactions table.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// NextID draws the next transaction id. The sequence starts at zero and is
// advanced unconditionally, including by creations that later abort, so ids
// are dense-but-gappy and never reused.
func (r *PGRepository) NextID(ctx context.Context, q db.Querier) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, `SELECT nextval('escrow_txn_id')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("escrow: next id: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, txn Transaction) error {
	_, err := q.Exec(ctx, `
        INSERT INTO escrow_transactions
            (id, buyer_id, seller_id, amount, dispute_stake, dispute_reason_hash, evidence_hash,
             created_at, delivery_timeout_secs, dispute_window_secs, state)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `,
		txn.ID, txn.Buyer, txn.Seller,
		db.NumericFromBig(txn.Amount), db.NumericFromBig(txn.DisputeStake),
		txn.DisputeReasonHash, txn.EvidenceHash,
		txn.CreatedAt,
		int64(txn.DeliveryTimeout/time.Second), int64(txn.DisputeWindow/time.Second),
		string(txn.State),
	)
	if err != nil {
		return fmt.Errorf("escrow: insert: %w", err)
	}
	return nil
}

// Get loads a record; forUpdate takes the row lock that serializes every
// mutating operation on the same id.
func (r *PGRepository) Get(ctx context.Context, q db.Querier, id int64, forUpdate bool) (Transaction, error) {
	query := `
        SELECT id, buyer_id, seller_id, amount, dispute_stake, dispute_reason_hash, evidence_hash,
               created_at, delivered_at, dispute_resolved_at, delivery_timeout_secs, dispute_window_secs, state
        FROM escrow_transactions
        WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		txn                     Transaction
		amount, stake           pgtype.Numeric
		deliveredAt, resolvedAt *time.Time
		timeoutSecs, windowSecs int64
		state                   string
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&txn.ID, &txn.Buyer, &txn.Seller, &amount, &stake,
		&txn.DisputeReasonHash, &txn.EvidenceHash,
		&txn.CreatedAt, &deliveredAt, &resolvedAt,
		&timeoutSecs, &windowSecs, &state,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: get %d: %w", id, err)
	}

	if txn.Amount, err = db.BigFromNumeric(amount); err != nil {
		return Transaction{}, fmt.Errorf("escrow: get %d amount: %w", id, err)
	}
	if txn.DisputeStake, err = db.BigFromNumeric(stake); err != nil {
		return Transaction{}, fmt.Errorf("escrow: get %d stake: %w", id, err)
	}
	if deliveredAt != nil {
		txn.DeliveredAt = *deliveredAt
	}
	if resolvedAt != nil {
		txn.DisputeResolvedAt = *resolvedAt
	}
	txn.DeliveryTimeout = time.Duration(timeoutSecs) * time.Second
	txn.DisputeWindow = time.Duration(windowSecs) * time.Second
	txn.State = State(state)
	return txn, nil
}

func (r *PGRepository) MarkDelivered(ctx context.Context, q db.Querier, id int64, deliveredAt time.Time) error {
	return r.exec(ctx, q, id, `
        UPDATE escrow_transactions
        SET state = 'delivered', delivered_at = $2
        WHERE id = $1 AND delivered_at IS NULL
    `, deliveredAt)
}

func (r *PGRepository) MarkDisputed(ctx context.Context, q db.Querier, id int64, stake *big.Int, reasonHash string) error {
	return r.exec(ctx, q, id, `
        UPDATE escrow_transactions
        SET state = 'disputed', dispute_stake = $2, dispute_reason_hash = $3
        WHERE id = $1 AND dispute_reason_hash = ''
    `, db.NumericFromBig(stake), reasonHash)
}

// SetEvidence overwrites unconditionally: last writer wins, no history.
func (r *PGRepository) SetEvidence(ctx context.Context, q db.Querier, id int64, evidenceHash string) error {
	return r.exec(ctx, q, id, `
        UPDATE escrow_transactions SET evidence_hash = $2 WHERE id = $1
    `, evidenceHash)
}

func (r *PGRepository) Delete(ctx context.Context, q db.Querier, id int64) error {
	tag, err := q.Exec(ctx, `DELETE FROM escrow_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("escrow: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) exec(ctx context.Context, q db.Querier, id int64, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("escrow: update %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
