package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"escrowflow/db"
)

// ErrNotInitialized signals the registry row has not been seeded yet.
var ErrNotInitialized = errors.New("registry: not initialized")

// Repository defines the data access required by the registry service and the
// escrow ledger's fresh-read contract.
type Repository interface {
	Init(ctx context.Context, q db.Querier, params InitParams) (Settings, error)
	Get(ctx context.Context, q db.Querier, forUpdate bool) (Settings, error)
	SetArbitrator(ctx context.Context, q db.Querier, arbitrator string) error
	SetPlatformFee(ctx context.Context, q db.Querier, bps int32) error
	SetDisputeStake(ctx context.Context, q db.Querier, amount *big.Int) error
}

// PGRepository implements Repository backed by the single-row registry table.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// Init inserts the registry row if absent and returns the row that ended up
// in place, so repeated bootstraps are harmless.
func (r *PGRepository) Init(ctx context.Context, q db.Querier, params InitParams) (Settings, error) {
	if _, err := q.Exec(ctx, `
        INSERT INTO registry (id, owner_id, arbitrator_id, platform_fee_bps, dispute_stake)
        VALUES (1, $1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `, params.Owner, params.Arbitrator, params.PlatformFeeBps, db.NumericFromBig(params.DisputeStake)); err != nil {
		return Settings{}, fmt.Errorf("registry: init: %w", err)
	}
	return r.Get(ctx, q, false)
}

// Get reads the registry row. Callers inside an escrow transaction pass their
// tx so the read reflects committed state at operation time, never a cache.
func (r *PGRepository) Get(ctx context.Context, q db.Querier, forUpdate bool) (Settings, error) {
	query := `SELECT owner_id, arbitrator_id, platform_fee_bps, dispute_stake, updated_at FROM registry WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		set   Settings
		stake pgtype.Numeric
	)
	err := q.QueryRow(ctx, query).Scan(&set.Owner, &set.Arbitrator, &set.PlatformFeeBps, &stake, &set.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrNotInitialized
	}
	if err != nil {
		return Settings{}, fmt.Errorf("registry: get: %w", err)
	}
	if set.DisputeStake, err = db.BigFromNumeric(stake); err != nil {
		return Settings{}, fmt.Errorf("registry: get stake: %w", err)
	}
	return set, nil
}

func (r *PGRepository) SetArbitrator(ctx context.Context, q db.Querier, arbitrator string) error {
	return r.update(ctx, q, `UPDATE registry SET arbitrator_id = $1, updated_at = NOW() WHERE id = 1`, arbitrator)
}

func (r *PGRepository) SetPlatformFee(ctx context.Context, q db.Querier, bps int32) error {
	return r.update(ctx, q, `UPDATE registry SET platform_fee_bps = $1, updated_at = NOW() WHERE id = 1`, bps)
}

func (r *PGRepository) SetDisputeStake(ctx context.Context, q db.Querier, amount *big.Int) error {
	return r.update(ctx, q, `UPDATE registry SET dispute_stake = $1, updated_at = NOW() WHERE id = 1`, db.NumericFromBig(amount))
}

func (r *PGRepository) update(ctx context.Context, q db.Querier, sql string, arg any) error {
	tag, err := q.Exec(ctx, sql, arg)
	if err != nil {
		return fmt.Errorf("registry: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInitialized
	}
	return nil
}
