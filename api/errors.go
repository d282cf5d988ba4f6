package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/registry"
	"escrowflow/settlement"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses. Validation failures
// are 400, authorization failures 403, state and timing preconditions 409.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, registry.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrDeliveryNotTimedOut),
		errors.Is(err, escrow.ErrDisputeWindowClosed),
		errors.Is(err, escrow.ErrDisputeWindowOpen),
		errors.Is(err, escrow.ErrArbitrationPending),
		errors.Is(err, escrow.ErrDisputeResolved),
		errors.Is(err, escrow.ErrReentrantCall),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, escrow.ErrValueRequired),
		errors.Is(err, escrow.ErrValueTooLarge),
		errors.Is(err, escrow.ErrSellerRequired),
		errors.Is(err, escrow.ErrSelfDeal),
		errors.Is(err, escrow.ErrInvalidWindow),
		errors.Is(err, escrow.ErrWrongStake),
		errors.Is(err, escrow.ErrReasonRequired),
		errors.Is(err, escrow.ErrEvidenceRequired),
		errors.Is(err, registry.ErrArbitratorRequired),
		errors.Is(err, registry.ErrFeeTooHigh),
		errors.Is(err, registry.ErrStakeRequired),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, settlement.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrUnknownAccount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
