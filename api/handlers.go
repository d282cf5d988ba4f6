package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowflow/auth"
	"escrowflow/escrow"
)

type contextKey string

const callerKey contextKey = "caller"

// requireAuth extracts and verifies the bearer token, placing the caller's
// user id in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, _, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, userID)))
	})
}

func callerFrom(r *http.Request) string {
	caller, _ := r.Context().Value(callerKey).(string)
	return caller
}

func escrowID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id >= 0
}

// parseAmount parses a non-negative decimal string into a big.Int.
func parseAmount(raw string) (*big.Int, bool) {
	if raw == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(raw, 10)
	return n, ok
}

type registerResponse struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": registerResponse{
			ID: result.User.ID, Email: result.User.Email, FullName: result.User.FullName, Role: result.User.Role,
		},
	})
}

type settingsResponse struct {
	Owner          string `json:"owner"`
	Arbitrator     string `json:"arbitrator"`
	PlatformFeeBps int32  `json:"platform_fee_bps"`
	DisputeStake   string `json:"dispute_stake"`
}

func (s *Server) handleRegistryGet(w http.ResponseWriter, r *http.Request) {
	set, err := s.registry.Get(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Owner: set.Owner, Arbitrator: set.Arbitrator,
		PlatformFeeBps: set.PlatformFeeBps, DisputeStake: set.DisputeStake.String(),
	})
}

func (s *Server) handleSetArbitrator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Arbitrator string `json:"arbitrator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	set, err := s.registry.SetArbitrator(r.Context(), callerFrom(r), req.Arbitrator)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Owner: set.Owner, Arbitrator: set.Arbitrator,
		PlatformFeeBps: set.PlatformFeeBps, DisputeStake: set.DisputeStake.String(),
	})
}

func (s *Server) handleSetPlatformFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bps int32 `json:"bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	set, err := s.registry.SetPlatformFee(r.Context(), callerFrom(r), req.Bps)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Owner: set.Owner, Arbitrator: set.Arbitrator,
		PlatformFeeBps: set.PlatformFeeBps, DisputeStake: set.DisputeStake.String(),
	})
}

func (s *Server) handleSetDisputeStake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	set, err := s.registry.SetDisputeStake(r.Context(), callerFrom(r), amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Owner: set.Owner, Arbitrator: set.Arbitrator,
		PlatformFeeBps: set.PlatformFeeBps, DisputeStake: set.DisputeStake.String(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if err := s.wallet.Deposit(r.Context(), callerFrom(r), amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallet.Balance(r.Context(), callerFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type createEscrowRequest struct {
	Seller              string `json:"seller"`
	Value               string `json:"value"`
	DeliveryTimeoutSecs int64  `json:"delivery_timeout_secs"`
	DisputeWindowSecs   int64  `json:"dispute_window_secs"`
}

type transactionResponse struct {
	ID                int64  `json:"id"`
	Buyer             string `json:"buyer"`
	Seller            string `json:"seller"`
	Amount            string `json:"amount"`
	DisputeStake      string `json:"dispute_stake"`
	DisputeReasonHash string `json:"dispute_reason_hash,omitempty"`
	EvidenceHash      string `json:"evidence_hash,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	DeliveredAt       string `json:"delivered_at,omitempty"`
	State             string `json:"state"`
}

func toTransactionResponse(txn escrow.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                txn.ID,
		Buyer:             txn.Buyer,
		Seller:            txn.Seller,
		Amount:            txn.Amount.String(),
		DisputeStake:      txn.DisputeStake.String(),
		DisputeReasonHash: txn.DisputeReasonHash,
		EvidenceHash:      txn.EvidenceHash,
		State:             string(txn.State),
	}
	if !txn.CreatedAt.IsZero() {
		resp.CreatedAt = txn.CreatedAt.Format(time.RFC3339)
	}
	if !txn.DeliveredAt.IsZero() {
		resp.DeliveredAt = txn.DeliveredAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	value, ok := parseAmount(req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid value")
		return
	}
	txn, err := s.escrows.Create(r.Context(), callerFrom(r), escrow.CreateParams{
		Seller:          req.Seller,
		Value:           value,
		DeliveryTimeout: time.Duration(req.DeliveryTimeoutSecs) * time.Second,
		DisputeWindow:   time.Duration(req.DisputeWindowSecs) * time.Second,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	txn, err := s.escrows.GetTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.escrows.CancelAndRefund)
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.escrows.MarkDelivered)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.escrows.ConfirmDelivery)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.escrows.ClaimPaymentAfterDisputeWindow)
}

func (s *Server) handleResolveInaction(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.escrows.ResolveDisputeDueToInaction)
}

// transition runs the body-less transitions that differ only in the service
// method they call.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int64) error) {
	id, ok := escrowID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	if err := op(r.Context(), callerFrom(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req struct {
		Stake      string `json:"stake"`
		ReasonHash string `json:"reason_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	stake := new(big.Int)
	if req.Stake != "" {
		parsed, ok := parseAmount(req.Stake)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid stake")
			return
		}
		stake = parsed
	}
	err := s.escrows.RaiseDispute(r.Context(), callerFrom(r), id, escrow.DisputeParams{
		Stake:      stake,
		ReasonHash: req.ReasonHash,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req struct {
		EvidenceHash string `json:"evidence_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.escrows.SubmitEvidence(r.Context(), callerFrom(r), id, req.EvidenceHash); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req struct {
		RefundBuyer bool `json:"refund_buyer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.escrows.ResolveDispute(r.Context(), callerFrom(r), id, req.RefundBuyer); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
