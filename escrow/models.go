package escrow

import (
	"math/big"
	"time"
)

// State enumerates the escrow transaction lifecycle. Cancelled and resolved
// are absorbing: the record is erased in the same operation that reaches
// them, so they are only ever observed in notifications, never in storage.
type State string

const (
	StateEmpty            State = "empty"
	StateAwaitingDelivery State = "awaiting_delivery"
	StateDelivered        State = "delivered"
	StateDisputed         State = "disputed"
	StateCancelled        State = "cancelled"
	StateResolved         State = "resolved"
)

const (
	// DefaultDeliveryTimeout applies when creation passes a zero timeout.
	DefaultDeliveryTimeout = 7 * 24 * time.Hour
	// DefaultDisputeWindow applies when creation passes a zero window.
	DefaultDisputeWindow = 3 * 24 * time.Hour
	// ArbitratorTimeout is global and fixed, measured from creation. It is
	// deliberately not per-transaction, unlike the two durations above.
	ArbitratorTimeout = 14 * 24 * time.Hour

	// maxAmountBits bounds the principal to a 96-bit unsigned range.
	maxAmountBits = 96
)

// Transaction is the escrow ledger record. Zero timestamps mean the
// corresponding step has not happened yet. Amount is the principal net of
// the platform fee, fixed at creation.
type Transaction struct {
	ID                int64
	Buyer             string
	Seller            string
	Amount            *big.Int
	DisputeStake      *big.Int
	DisputeReasonHash string
	EvidenceHash      string
	CreatedAt         time.Time
	DeliveredAt       time.Time
	DisputeResolvedAt time.Time
	DeliveryTimeout   time.Duration
	DisputeWindow     time.Duration
	State             State
}

// CancelDeadline is the instant after which the buyer may reclaim an
// undelivered escrow.
func (t Transaction) CancelDeadline() time.Time {
	return t.CreatedAt.Add(t.DeliveryTimeout)
}

// DisputeDeadline is the last instant (inclusive) at which the buyer may
// raise a dispute after delivery.
func (t Transaction) DisputeDeadline() time.Time {
	return t.DeliveredAt.Add(t.DisputeWindow)
}

// ArbitrationDeadline is the instant after which the buyer may resolve a
// dispute the arbitrator has left untouched.
func (t Transaction) ArbitrationDeadline() time.Time {
	return t.CreatedAt.Add(ArbitratorTimeout)
}

// CreateParams captures caller input for opening an escrow. Value is the
// gross payment; the platform fee is deducted before custody.
type CreateParams struct {
	Seller          string
	Value           *big.Int
	DeliveryTimeout time.Duration
	DisputeWindow   time.Duration
}

// DisputeParams captures the stake and reason digest for raiseDispute.
type DisputeParams struct {
	Stake      *big.Int
	ReasonHash string
}

// Timeline event types, one per transition plus evidence submission.
const (
	EventCreated           = "ESCROW_CREATED"
	EventCancelled         = "ESCROW_CANCELLED"
	EventDelivered         = "DELIVERY_MARKED"
	EventConfirmed         = "DELIVERY_CONFIRMED"
	EventClaimed           = "PAYMENT_CLAIMED"
	EventDisputed          = "DISPUTE_RAISED"
	EventEvidenceSubmitted = "EVIDENCE_SUBMITTED"
	EventResolved          = "DISPUTE_RESOLVED"
	EventResolvedByTimeout = "DISPUTE_RESOLVED_BY_TIMEOUT"
)

// Outbox topics consumed by external indexers.
const (
	TopicCreated   = "escrow.created"
	TopicCancelled = "escrow.cancelled"
	TopicDelivered = "escrow.delivered"
	TopicDisputed  = "escrow.disputed"
	TopicEvidence  = "escrow.evidence_submitted"
	TopicResolved  = "escrow.resolved"
)
