package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/registry"
)

const (
	buyerID  = "3f2c9a44-1d6e-4b7a-8c2f-5e9d0a1b2c3d"
	sellerID = "a1b2c3d4-e5f6-4a8b-9c0d-1e2f3a4b5c6d"
)

func newTestServer(t *testing.T) (*Server, *stubEscrows, *stubWallet) {
	t.Helper()
	escrows := &stubEscrows{}
	wallet := &stubWallet{balance: big.NewInt(0)}
	srv := NewServer(escrows, &stubRegistry{}, &stubAuth{}, wallet, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, escrows, wallet
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/escrows", "", `{"seller":"x","value":"100"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/escrows", "bad-token", `{"seller":"x","value":"100"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", rec.Code)
	}
}

func TestCreateEscrow(t *testing.T) {
	srv, escrows, _ := newTestServer(t)
	escrows.created = escrow.Transaction{
		ID: 7, Buyer: buyerID, Seller: sellerID,
		Amount: big.NewInt(975_000), DisputeStake: new(big.Int),
		State: escrow.StateAwaitingDelivery,
	}

	body := `{"seller":"` + sellerID + `","value":"1000000","delivery_timeout_secs":3600}`
	rec := doRequest(t, srv, http.MethodPost, "/api/escrows", "token:"+buyerID, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.Amount != "975000" || resp.State != "awaiting_delivery" {
		t.Errorf("unexpected response %+v", resp)
	}
	if escrows.lastCaller != buyerID {
		t.Errorf("expected caller %q, got %q", buyerID, escrows.lastCaller)
	}
	if escrows.lastCreate.Value.String() != "1000000" {
		t.Errorf("expected value 1000000, got %s", escrows.lastCreate.Value)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/escrows", "token:"+buyerID, `{"seller":"x","value":"not-a-number"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad value, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid state", escrow.ErrInvalidState, http.StatusConflict},
		{"window open", escrow.ErrDisputeWindowOpen, http.StatusConflict},
		{"unauthorized", escrow.ErrUnauthorized, http.StatusForbidden},
		{"wrong stake", escrow.ErrWrongStake, http.StatusBadRequest},
		{"reentrant", escrow.ErrReentrantCall, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, escrows, _ := newTestServer(t)
			escrows.err = tc.err
			rec := doRequest(t, srv, http.MethodPost, "/api/escrows/3/confirm", "token:"+buyerID, "")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestDispute(t *testing.T) {
	srv, escrows, _ := newTestServer(t)

	body := `{"stake":"500","reason_hash":"sha256:broken"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/escrows/3/dispute", "token:"+buyerID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if escrows.lastDispute.Stake.Int64() != 500 || escrows.lastDispute.ReasonHash != "sha256:broken" {
		t.Errorf("unexpected dispute params %+v", escrows.lastDispute)
	}
	if escrows.lastID != 3 {
		t.Errorf("expected id 3, got %d", escrows.lastID)
	}
}

func TestResolve(t *testing.T) {
	srv, escrows, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/escrows/5/resolve", "token:"+buyerID, `{"refund_buyer":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !escrows.lastRefundBuyer || escrows.lastID != 5 {
		t.Errorf("expected refund_buyer for id 5, got %+v", escrows)
	}
}

func TestWallet(t *testing.T) {
	srv, _, wallet := newTestServer(t)
	wallet.balance = big.NewInt(4200)

	rec := doRequest(t, srv, http.MethodPost, "/api/wallet/deposit", "token:"+buyerID, `{"amount":"1000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if wallet.lastDeposit.Int64() != 1000 || wallet.lastAccount != buyerID {
		t.Errorf("unexpected deposit %s for %q", wallet.lastDeposit, wallet.lastAccount)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/wallet/balance", "token:"+buyerID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "4200") {
		t.Errorf("expected balance in body, got %s", rec.Body.String())
	}
}

func TestInvalidEscrowID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/escrows/not-a-number/confirm", "token:"+buyerID, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- stubs -----------------------------------------------------------------

type stubEscrows struct {
	created         escrow.Transaction
	err             error
	lastCaller      string
	lastID          int64
	lastCreate      escrow.CreateParams
	lastDispute     escrow.DisputeParams
	lastRefundBuyer bool
}

func (s *stubEscrows) Create(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Transaction, error) {
	s.lastCaller, s.lastCreate = caller, params
	return s.created, s.err
}

func (s *stubEscrows) op(caller string, id int64) error {
	s.lastCaller, s.lastID = caller, id
	return s.err
}

func (s *stubEscrows) CancelAndRefund(ctx context.Context, caller string, id int64) error {
	return s.op(caller, id)
}

func (s *stubEscrows) MarkDelivered(ctx context.Context, caller string, id int64) error {
	return s.op(caller, id)
}

func (s *stubEscrows) ConfirmDelivery(ctx context.Context, caller string, id int64) error {
	return s.op(caller, id)
}

func (s *stubEscrows) ClaimPaymentAfterDisputeWindow(ctx context.Context, caller string, id int64) error {
	return s.op(caller, id)
}

func (s *stubEscrows) RaiseDispute(ctx context.Context, caller string, id int64, params escrow.DisputeParams) error {
	s.lastDispute = params
	return s.op(caller, id)
}

func (s *stubEscrows) SubmitEvidence(ctx context.Context, caller string, id int64, evidenceHash string) error {
	return s.op(caller, id)
}

func (s *stubEscrows) ResolveDispute(ctx context.Context, caller string, id int64, refundBuyer bool) error {
	s.lastRefundBuyer = refundBuyer
	return s.op(caller, id)
}

func (s *stubEscrows) ResolveDisputeDueToInaction(ctx context.Context, caller string, id int64) error {
	return s.op(caller, id)
}

func (s *stubEscrows) GetTransaction(ctx context.Context, id int64) (escrow.Transaction, error) {
	s.lastID = id
	if s.err != nil {
		return escrow.Transaction{}, s.err
	}
	return s.created, nil
}

type stubRegistry struct{}

func (s *stubRegistry) Get(ctx context.Context) (registry.Settings, error) {
	return registry.Settings{DisputeStake: new(big.Int)}, nil
}

func (s *stubRegistry) SetArbitrator(ctx context.Context, caller, arbitrator string) (registry.Settings, error) {
	return registry.Settings{Arbitrator: arbitrator, DisputeStake: new(big.Int)}, nil
}

func (s *stubRegistry) SetPlatformFee(ctx context.Context, caller string, bps int32) (registry.Settings, error) {
	return registry.Settings{PlatformFeeBps: bps, DisputeStake: new(big.Int)}, nil
}

func (s *stubRegistry) SetDisputeStake(ctx context.Context, caller string, amount *big.Int) (registry.Settings, error) {
	return registry.Settings{DisputeStake: amount}, nil
}

// stubAuth accepts tokens of the form "token:<user-id>".
type stubAuth struct{}

func (s *stubAuth) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: buyerID, Email: req.Email, FullName: req.FullName, Role: auth.RoleTrader}, nil
}

func (s *stubAuth) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{Token: "token:" + buyerID, User: auth.User{ID: buyerID}}, nil
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	userID, ok := strings.CutPrefix(token, "token:")
	if !ok {
		return "", "", auth.ErrInvalidCredentials
	}
	return userID, auth.RoleTrader, nil
}

type stubWallet struct {
	balance     *big.Int
	lastAccount string
	lastDeposit *big.Int
}

func (s *stubWallet) Deposit(ctx context.Context, account string, amount *big.Int) error {
	s.lastAccount, s.lastDeposit = account, amount
	return nil
}

func (s *stubWallet) Balance(ctx context.Context, account string) (*big.Int, error) {
	return s.balance, nil
}
