package escrow

// Op names a caller-visible operation for authorization purposes.
type Op string

const (
	OpCreate          Op = "create"
	OpCancelAndRefund Op = "cancel_and_refund"
	OpMarkDelivered   Op = "mark_delivered"
	OpConfirmDelivery Op = "confirm_delivery"
	OpClaimPayment    Op = "claim_payment"
	OpRaiseDispute    Op = "raise_dispute"
	OpSubmitEvidence  Op = "submit_evidence"
	OpResolveDispute  Op = "resolve_dispute"
	OpResolveInaction Op = "resolve_inaction"
)

// authorize is the single capability policy: it compares the authenticated
// caller against the parties recorded on the transaction (or the registry
// arbitrator) and allows or denies. State and window preconditions are
// checked separately by the transition handlers.
func authorize(op Op, caller string, txn Transaction, arbitrator string) error {
	if caller == "" {
		return ErrUnauthorized
	}
	switch op {
	case OpCreate:
		return nil
	case OpCancelAndRefund, OpConfirmDelivery, OpRaiseDispute, OpResolveInaction:
		if caller != txn.Buyer {
			return ErrUnauthorized
		}
	case OpMarkDelivered, OpClaimPayment:
		if caller != txn.Seller {
			return ErrUnauthorized
		}
	case OpSubmitEvidence:
		if caller != txn.Buyer && caller != txn.Seller {
			return ErrUnauthorized
		}
	case OpResolveDispute:
		if arbitrator == "" || caller != arbitrator {
			return ErrUnauthorized
		}
	default:
		return ErrUnauthorized
	}
	return nil
}
