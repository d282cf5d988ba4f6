package escrow

import "errors"

// Every validation failure is a total rejection: no state mutates, no value
// moves, no notification is emitted.
var (
	// ErrNotFound signals no record exists for the id (never created, or
	// erased by a terminal transition).
	ErrNotFound = errors.New("escrow: transaction not found")
	// ErrInvalidState signals the operation's state precondition failed.
	// Operations on erased ids land here: an empty record matches no state.
	ErrInvalidState = errors.New("escrow: operation not allowed in current state")
	// ErrUnauthorized signals the caller is not the party this operation
	// is reserved for.
	ErrUnauthorized = errors.New("escrow: caller not permitted")

	ErrValueRequired  = errors.New("escrow: value must be positive")
	ErrValueTooLarge  = errors.New("escrow: value exceeds the 96-bit bound")
	ErrSellerRequired = errors.New("escrow: valid seller identity required")
	ErrSelfDeal       = errors.New("escrow: buyer and seller must differ")
	ErrInvalidWindow  = errors.New("escrow: timeout durations must not be negative")

	// ErrDeliveryNotTimedOut rejects cancelAndRefund before the delivery
	// timeout has elapsed.
	ErrDeliveryNotTimedOut = errors.New("escrow: delivery timeout has not elapsed")
	// ErrDisputeWindowClosed rejects raiseDispute strictly after the
	// dispute deadline.
	ErrDisputeWindowClosed = errors.New("escrow: dispute window has closed")
	// ErrDisputeWindowOpen rejects claimPaymentAfterDisputeWindow while the
	// buyer can still dispute.
	ErrDisputeWindowOpen = errors.New("escrow: dispute window still open")
	// ErrArbitrationPending rejects the inaction fallback before the global
	// arbitrator timeout has elapsed.
	ErrArbitrationPending = errors.New("escrow: arbitrator timeout has not elapsed")

	ErrWrongStake       = errors.New("escrow: stake does not match the required amount")
	ErrReasonRequired   = errors.New("escrow: dispute reason digest required")
	ErrEvidenceRequired = errors.New("escrow: evidence digest required")
	// ErrDisputeResolved guards against a second resolution path firing on
	// a dispute already resolved within the same operation batch.
	ErrDisputeResolved = errors.New("escrow: dispute already resolved")

	// ErrReentrantCall rejects a settlement callback re-entering a guarded
	// operation before the current one finishes.
	ErrReentrantCall = errors.New("escrow: reentrant operation rejected")
)
