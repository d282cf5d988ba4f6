package settlement

import (
	"context"
	"errors"
	"math/big"

	"escrowflow/db"
)

// Kind labels a value movement for audit purposes. Principal and stake are
// recorded as separate transfers even when they share a recipient.
type Kind string

const (
	KindFee       Kind = "fee"
	KindPrincipal Kind = "principal"
	KindStake     Kind = "stake"
)

// AccountEscrow is the system account holding custody between creation and a
// terminal transition.
const AccountEscrow = "escrow"

var (
	// ErrUnknownAccount signals the source account does not exist.
	ErrUnknownAccount = errors.New("settlement: unknown account")
	// ErrInsufficientFunds signals the source account cannot cover the amount.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
	// ErrInvalidAmount signals a nil or negative transfer amount.
	ErrInvalidAmount = errors.New("settlement: invalid amount")
)

// TransferParams describes a single value movement tied to an escrow
// transaction.
type TransferParams struct {
	EscrowID int64
	From     string
	To       string
	Amount   *big.Int
	Kind     Kind
}

// Transferer moves value between accounts. Implementations must make the
// movement part of the caller's transaction so a failed transfer aborts the
// whole enclosing operation.
type Transferer interface {
	Transfer(ctx context.Context, q db.Querier, params TransferParams) error
}
