package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/db"
)

var (
	// ErrNotOwner signals the caller is not the registry owner.
	ErrNotOwner = errors.New("registry: caller is not the owner")
	// ErrArbitratorRequired signals an empty or malformed arbitrator identity.
	ErrArbitratorRequired = errors.New("registry: arbitrator identity required")
	// ErrFeeTooHigh signals a platform fee at or above 100%.
	ErrFeeTooHigh = errors.New("registry: platform fee must be below 10000 bps")
	// ErrStakeRequired signals a nil or negative dispute stake.
	ErrStakeRequired = errors.New("registry: dispute stake must not be negative")
)

// OutboxWriter enqueues change notifications within the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, q db.Querier, topic string, payload map[string]any) error
}

// Service exposes owner-gated mutations over the administrative registry.
type Service struct {
	pool   db.Pool
	repo   Repository
	outbox OutboxWriter
}

func NewService(pool db.Pool, repo Repository, outbox OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, outbox: outbox}
}

// Init seeds the registry once at system start. Re-running against an already
// initialized registry returns the existing settings unchanged.
func (s *Service) Init(ctx context.Context, params InitParams) (Settings, error) {
	if params.Owner == "" {
		return Settings{}, fmt.Errorf("registry: owner identity required")
	}
	if params.PlatformFeeBps < 0 || params.PlatformFeeBps >= MaxFeeBps {
		return Settings{}, ErrFeeTooHigh
	}
	if params.DisputeStake == nil {
		params.DisputeStake = new(big.Int)
	}
	if params.DisputeStake.Sign() < 0 {
		return Settings{}, ErrStakeRequired
	}
	return s.repo.Init(ctx, s.pool, params)
}

// Get reads current settings outside any transaction.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	return s.repo.Get(ctx, s.pool, false)
}

// SetArbitrator replaces the arbitrator identity. Owner-only; the previous
// and new values travel in the change notification.
func (s *Service) SetArbitrator(ctx context.Context, caller, arbitrator string) (Settings, error) {
	if arbitrator == "" {
		return Settings{}, ErrArbitratorRequired
	}
	if _, err := uuid.Parse(arbitrator); err != nil {
		return Settings{}, fmt.Errorf("%w: %q", ErrArbitratorRequired, arbitrator)
	}
	return s.mutate(ctx, caller, "registry.arbitrator_changed",
		func(old Settings) map[string]any {
			return map[string]any{"old": old.Arbitrator, "new": arbitrator}
		},
		func(tx pgx.Tx) error {
			return s.repo.SetArbitrator(ctx, tx, arbitrator)
		})
}

// SetPlatformFee replaces the fee rate in basis points. Owner-only; rejects
// bps at or above 100%.
func (s *Service) SetPlatformFee(ctx context.Context, caller string, bps int32) (Settings, error) {
	if bps < 0 || bps >= MaxFeeBps {
		return Settings{}, ErrFeeTooHigh
	}
	return s.mutate(ctx, caller, "registry.fee_changed",
		func(old Settings) map[string]any {
			return map[string]any{"old": old.PlatformFeeBps, "new": bps}
		},
		func(tx pgx.Tx) error {
			return s.repo.SetPlatformFee(ctx, tx, bps)
		})
}

// SetDisputeStake replaces the stake required to open a dispute. Owner-only,
// unbounded; already-open transactions keep the stake they escrowed.
func (s *Service) SetDisputeStake(ctx context.Context, caller string, amount *big.Int) (Settings, error) {
	if amount == nil || amount.Sign() < 0 {
		return Settings{}, ErrStakeRequired
	}
	return s.mutate(ctx, caller, "registry.stake_changed",
		func(old Settings) map[string]any {
			return map[string]any{"old": old.DisputeStake.String(), "new": amount.String()}
		},
		func(tx pgx.Tx) error {
			return s.repo.SetDisputeStake(ctx, tx, amount)
		})
}

func (s *Service) mutate(ctx context.Context, caller, topic string, payload func(Settings) map[string]any, apply func(pgx.Tx) error) (Settings, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	old, err := s.repo.Get(ctx, tx, true)
	if err != nil {
		return Settings{}, err
	}
	if caller == "" || caller != old.Owner {
		return Settings{}, ErrNotOwner
	}

	if err := apply(tx); err != nil {
		return Settings{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, topic, payload(old)); err != nil {
			return Settings{}, err
		}
	}

	updated, err := s.repo.Get(ctx, tx, false)
	if err != nil {
		return Settings{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Settings{}, fmt.Errorf("registry: commit: %w", err)
	}
	return updated, nil
}
