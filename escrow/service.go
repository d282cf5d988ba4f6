package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/db"
	"escrowflow/registry"
	"escrowflow/settlement"
)

// SettingsReader reads the administrative registry within the caller's
// transaction. The ledger never caches registry values; every operation
// reads them fresh at the moment it runs.
type SettingsReader interface {
	Get(ctx context.Context, q db.Querier, forUpdate bool) (registry.Settings, error)
}

// Service is the escrow ledger: it owns the transaction keyspace and applies
// every state transition as one atomic unit — row lock, validation, value
// movement, mutation, and notifications all inside a single database
// transaction. A failed transfer rolls the whole operation back.
type Service struct {
	pool     db.Pool
	repo     Repository
	timeline TimelineWriter
	outbox   OutboxWriter
	settle   settlement.Transferer
	settings SettingsReader
	guard    *opGuard
	now      func() time.Time
}

func NewService(pool db.Pool, repo Repository, timeline TimelineWriter, outbox OutboxWriter, settle settlement.Transferer, settings SettingsReader) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if timeline == nil {
		timeline = NewTimeline()
	}
	if settings == nil {
		settings = registry.NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		timeline: timeline,
		outbox:   outbox,
		settle:   settle,
		settings: settings,
		guard:    newOpGuard(),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests and by operators that
// need a deterministic clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens an escrow: the platform fee is transferred to the operator and
// the remainder taken into custody, all-or-nothing. The new id comes from a
// sequence that advances even when creation aborts, so ids are never reused.
func (s *Service) Create(ctx context.Context, caller string, params CreateParams) (Transaction, error) {
	if err := authorize(OpCreate, caller, Transaction{}, ""); err != nil {
		return Transaction{}, err
	}
	if params.Value == nil || params.Value.Sign() <= 0 {
		return Transaction{}, ErrValueRequired
	}
	if params.Value.BitLen() > maxAmountBits {
		return Transaction{}, ErrValueTooLarge
	}
	if params.Seller == "" {
		return Transaction{}, ErrSellerRequired
	}
	if _, err := uuid.Parse(params.Seller); err != nil {
		return Transaction{}, fmt.Errorf("%w: %q", ErrSellerRequired, params.Seller)
	}
	if params.Seller == caller {
		return Transaction{}, ErrSelfDeal
	}
	if params.DeliveryTimeout < 0 || params.DisputeWindow < 0 {
		return Transaction{}, ErrInvalidWindow
	}
	deliveryTimeout := params.DeliveryTimeout
	if deliveryTimeout == 0 {
		deliveryTimeout = DefaultDeliveryTimeout
	}
	disputeWindow := params.DisputeWindow
	if disputeWindow == 0 {
		disputeWindow = DefaultDisputeWindow
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	set, err := s.settings.Get(ctx, tx, false)
	if err != nil {
		return Transaction{}, err
	}

	id, err := s.repo.NextID(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.guard.enter(id); err != nil {
		return Transaction{}, err
	}
	defer s.guard.exit(id)

	fee := new(big.Int).Mul(params.Value, big.NewInt(int64(set.PlatformFeeBps)))
	fee.Div(fee, big.NewInt(registry.MaxFeeBps))
	escrowAmount := new(big.Int).Sub(params.Value, fee)

	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: id, From: caller, To: set.Owner, Amount: fee, Kind: settlement.KindFee,
	}); err != nil {
		return Transaction{}, err
	}
	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: id, From: caller, To: settlement.AccountEscrow, Amount: escrowAmount, Kind: settlement.KindPrincipal,
	}); err != nil {
		return Transaction{}, err
	}

	txn := Transaction{
		ID:              id,
		Buyer:           caller,
		Seller:          params.Seller,
		Amount:          escrowAmount,
		DisputeStake:    new(big.Int),
		CreatedAt:       s.now().UTC(),
		DeliveryTimeout: deliveryTimeout,
		DisputeWindow:   disputeWindow,
		State:           StateAwaitingDelivery,
	}
	if err := s.repo.Insert(ctx, tx, txn); err != nil {
		return Transaction{}, err
	}

	payload := map[string]any{
		"buyer":  txn.Buyer,
		"seller": txn.Seller,
		"amount": escrowAmount.String(),
		"fee":    fee.String(),
	}
	if err := s.notify(ctx, tx, id, EventCreated, caller, TopicCreated, payload); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit: %w", err)
	}
	return txn, nil
}

// CancelAndRefund returns the principal to the buyer when the seller let the
// delivery timeout lapse. Terminal: the record is erased.
func (s *Service) CancelAndRefund(ctx context.Context, caller string, id int64) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateAwaitingDelivery {
		return ErrInvalidState
	}
	if err := authorize(OpCancelAndRefund, caller, txn, ""); err != nil {
		return err
	}
	if !s.now().After(txn.CancelDeadline()) {
		return ErrDeliveryNotTimedOut
	}

	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: id, From: settlement.AccountEscrow, To: txn.Buyer, Amount: txn.Amount, Kind: settlement.KindPrincipal,
	}); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}

	payload := map[string]any{
		"buyer":    txn.Buyer,
		"seller":   txn.Seller,
		"refunded": txn.Amount.String(),
		"state":    string(StateCancelled),
	}
	if err := s.notify(ctx, tx, id, EventCancelled, caller, TopicCancelled, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// MarkDelivered records delivery and opens the dispute window. Seller-only;
// no value moves.
func (s *Service) MarkDelivered(ctx context.Context, caller string, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateAwaitingDelivery {
		return ErrInvalidState
	}
	if err := authorize(OpMarkDelivered, caller, txn, ""); err != nil {
		return err
	}

	deliveredAt := s.now().UTC()
	if err := s.repo.MarkDelivered(ctx, tx, id, deliveredAt); err != nil {
		return err
	}

	payload := map[string]any{
		"seller":       txn.Seller,
		"delivered_at": deliveredAt,
	}
	if err := s.notify(ctx, tx, id, EventDelivered, caller, TopicDelivered, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// ConfirmDelivery releases the principal to the seller on the buyer's
// say-so. Terminal: the record is erased.
func (s *Service) ConfirmDelivery(ctx context.Context, caller string, id int64) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDelivered {
		return ErrInvalidState
	}
	if err := authorize(OpConfirmDelivery, caller, txn, ""); err != nil {
		return err
	}

	if err := s.releaseToSeller(ctx, tx, txn, caller, "confirmed", EventConfirmed); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// ClaimPaymentAfterDisputeWindow releases the principal to the seller once
// the buyer's dispute window has lapsed unused. Terminal.
func (s *Service) ClaimPaymentAfterDisputeWindow(ctx context.Context, caller string, id int64) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDelivered {
		return ErrInvalidState
	}
	if err := authorize(OpClaimPayment, caller, txn, ""); err != nil {
		return err
	}
	if !s.now().After(txn.DisputeDeadline()) {
		return ErrDisputeWindowOpen
	}

	if err := s.releaseToSeller(ctx, tx, txn, caller, "claimed", EventClaimed); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// RaiseDispute escrows the buyer's stake and freezes the transaction for
// arbitration. The required stake is read from the registry at this moment,
// never cached; the window check is inclusive of its boundary instant.
func (s *Service) RaiseDispute(ctx context.Context, caller string, id int64, params DisputeParams) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	if params.ReasonHash == "" {
		return ErrReasonRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDelivered {
		return ErrInvalidState
	}
	if err := authorize(OpRaiseDispute, caller, txn, ""); err != nil {
		return err
	}
	if s.now().After(txn.DisputeDeadline()) {
		return ErrDisputeWindowClosed
	}

	set, err := s.settings.Get(ctx, tx, false)
	if err != nil {
		return err
	}
	required := set.DisputeStake
	if required == nil {
		required = new(big.Int)
	}
	stake := params.Stake
	if stake == nil {
		stake = new(big.Int)
	}
	if stake.Cmp(required) != 0 {
		return ErrWrongStake
	}

	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: id, From: caller, To: settlement.AccountEscrow, Amount: stake, Kind: settlement.KindStake,
	}); err != nil {
		return err
	}
	if err := s.repo.MarkDisputed(ctx, tx, id, stake, params.ReasonHash); err != nil {
		return err
	}

	payload := map[string]any{
		"buyer":       txn.Buyer,
		"stake":       stake.String(),
		"reason_hash": params.ReasonHash,
	}
	if err := s.notify(ctx, tx, id, EventDisputed, caller, TopicDisputed, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// SubmitEvidence records a party's evidence digest. Overwrites any previous
// digest: last writer wins, no history.
func (s *Service) SubmitEvidence(ctx context.Context, caller string, id int64, evidenceHash string) error {
	if evidenceHash == "" {
		return ErrEvidenceRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDisputed {
		return ErrInvalidState
	}
	if err := authorize(OpSubmitEvidence, caller, txn, ""); err != nil {
		return err
	}

	if err := s.repo.SetEvidence(ctx, tx, id, evidenceHash); err != nil {
		return err
	}

	payload := map[string]any{
		"actor":         caller,
		"evidence_hash": evidenceHash,
	}
	if err := s.notify(ctx, tx, id, EventEvidenceSubmitted, caller, TopicEvidence, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// ResolveDispute is the arbitrator's ruling. For the buyer: principal and
// stake both return to the buyer. Against the buyer: principal goes to the
// seller and the stake is slashed to the seller — two movements, kept
// separate for audit. Terminal either way.
func (s *Service) ResolveDispute(ctx context.Context, caller string, id int64, refundBuyer bool) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDisputed {
		return ErrInvalidState
	}
	set, err := s.settings.Get(ctx, tx, false)
	if err != nil {
		return err
	}
	if err := authorize(OpResolveDispute, caller, txn, set.Arbitrator); err != nil {
		return err
	}
	if !txn.DisputeResolvedAt.IsZero() {
		return ErrDisputeResolved
	}

	recipient := txn.Buyer
	outcome := "refunded_buyer"
	if !refundBuyer {
		recipient = txn.Seller
		outcome = "slashed_to_seller"
	}
	if err := s.payOut(ctx, tx, txn, recipient); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}

	payload := map[string]any{
		"arbitrator":  caller,
		"outcome":     outcome,
		"recipient":   recipient,
		"amount":      txn.Amount.String(),
		"stake":       txn.DisputeStake.String(),
		"resolved_at": s.now().UTC(),
		"state":       string(StateResolved),
	}
	if err := s.notify(ctx, tx, id, EventResolved, caller, TopicResolved, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// ResolveDisputeDueToInaction is the buyer's fallback once the global
// arbitrator timeout has lapsed with the dispute untouched: principal and
// stake both return to the buyer. The dispute-resolved guard plus
// erase-on-terminal guarantee this and ResolveDispute can never both pay
// out: whichever runs second observes an empty record. Terminal.
func (s *Service) ResolveDisputeDueToInaction(ctx context.Context, caller string, id int64) error {
	if err := s.guard.enter(id); err != nil {
		return err
	}
	defer s.guard.exit(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.locked(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.State != StateDisputed {
		return ErrInvalidState
	}
	if err := authorize(OpResolveInaction, caller, txn, ""); err != nil {
		return err
	}
	if !txn.DisputeResolvedAt.IsZero() {
		return ErrDisputeResolved
	}
	if !s.now().After(txn.ArbitrationDeadline()) {
		return ErrArbitrationPending
	}

	if err := s.payOut(ctx, tx, txn, txn.Buyer); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}

	payload := map[string]any{
		"outcome":     "inaction_fallback",
		"recipient":   txn.Buyer,
		"amount":      txn.Amount.String(),
		"stake":       txn.DisputeStake.String(),
		"resolved_at": s.now().UTC(),
		"state":       string(StateResolved),
	}
	if err := s.notify(ctx, tx, id, EventResolvedByTimeout, caller, TopicResolved, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit: %w", err)
	}
	return nil
}

// GetState reports the current state; unknown and erased ids are empty, not
// errors.
func (s *Service) GetState(ctx context.Context, id int64) (State, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return StateEmpty, err
	}
	return txn.State, nil
}

// GetTransaction returns the record, or an empty-state record for unknown
// and erased ids.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	txn, err := s.repo.Get(ctx, s.pool, id, false)
	if errors.Is(err, ErrNotFound) {
		return Transaction{ID: id, State: StateEmpty, Amount: new(big.Int), DisputeStake: new(big.Int)}, nil
	}
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// locked loads the record under the row lock; a missing row comes back as an
// empty-state record so state preconditions fail uniformly.
func (s *Service) locked(ctx context.Context, tx pgx.Tx, id int64) (Transaction, error) {
	txn, err := s.repo.Get(ctx, tx, id, true)
	if errors.Is(err, ErrNotFound) {
		return Transaction{ID: id, State: StateEmpty}, nil
	}
	return txn, err
}

// releaseToSeller pays the principal to the seller and erases the record.
func (s *Service) releaseToSeller(ctx context.Context, tx pgx.Tx, txn Transaction, caller, outcome, eventType string) error {
	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: txn.ID, From: settlement.AccountEscrow, To: txn.Seller, Amount: txn.Amount, Kind: settlement.KindPrincipal,
	}); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tx, txn.ID); err != nil {
		return err
	}
	payload := map[string]any{
		"outcome":   outcome,
		"recipient": txn.Seller,
		"amount":    txn.Amount.String(),
		"state":     string(StateResolved),
	}
	return s.notify(ctx, tx, txn.ID, eventType, caller, TopicResolved, payload)
}

// payOut sends principal and stake to one recipient as two separate
// movements; principal and stake accounting stay distinct even when the
// destination is the same.
func (s *Service) payOut(ctx context.Context, tx pgx.Tx, txn Transaction, recipient string) error {
	if err := s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: txn.ID, From: settlement.AccountEscrow, To: recipient, Amount: txn.Amount, Kind: settlement.KindPrincipal,
	}); err != nil {
		return err
	}
	return s.settle.Transfer(ctx, tx, settlement.TransferParams{
		EscrowID: txn.ID, From: settlement.AccountEscrow, To: recipient, Amount: txn.DisputeStake, Kind: settlement.KindStake,
	})
}

func (s *Service) notify(ctx context.Context, tx pgx.Tx, id int64, eventType, actor, topic string, payload map[string]any) error {
	payload["escrow_id"] = id
	if err := s.timeline.Append(ctx, tx, id, eventType, actor, payload); err != nil {
		return err
	}
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, topic, payload)
}
