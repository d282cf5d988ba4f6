package api

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/registry"
)

// EscrowService is the escrow state machine surface the HTTP layer calls.
type EscrowService interface {
	Create(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Transaction, error)
	CancelAndRefund(ctx context.Context, caller string, id int64) error
	MarkDelivered(ctx context.Context, caller string, id int64) error
	ConfirmDelivery(ctx context.Context, caller string, id int64) error
	ClaimPaymentAfterDisputeWindow(ctx context.Context, caller string, id int64) error
	RaiseDispute(ctx context.Context, caller string, id int64, params escrow.DisputeParams) error
	SubmitEvidence(ctx context.Context, caller string, id int64, evidenceHash string) error
	ResolveDispute(ctx context.Context, caller string, id int64, refundBuyer bool) error
	ResolveDisputeDueToInaction(ctx context.Context, caller string, id int64) error
	GetTransaction(ctx context.Context, id int64) (escrow.Transaction, error)
}

// RegistryService is the owner-gated settings surface.
type RegistryService interface {
	Get(ctx context.Context) (registry.Settings, error)
	SetArbitrator(ctx context.Context, caller, arbitrator string) (registry.Settings, error)
	SetPlatformFee(ctx context.Context, caller string, bps int32) (registry.Settings, error)
	SetDisputeStake(ctx context.Context, caller string, amount *big.Int) (registry.Settings, error)
}

// AuthService issues and verifies participant identity.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// WalletService funds accounts and reads balances.
type WalletService interface {
	Deposit(ctx context.Context, account string, amount *big.Int) error
	Balance(ctx context.Context, account string) (*big.Int, error)
}

// Server ties the services to the chi router.
type Server struct {
	escrows  EscrowService
	registry RegistryService
	auth     AuthService
	wallet   WalletService
	log      *slog.Logger
	router   chi.Router
}

func NewServer(escrows EscrowService, reg RegistryService, authSvc AuthService, wallet WalletService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		escrows:  escrows,
		registry: reg,
		auth:     authSvc,
		wallet:   wallet,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/registry", s.handleRegistryGet)
			r.Put("/registry/arbitrator", s.handleSetArbitrator)
			r.Put("/registry/fee", s.handleSetPlatformFee)
			r.Put("/registry/stake", s.handleSetDisputeStake)

			r.Post("/wallet/deposit", s.handleDeposit)
			r.Get("/wallet/balance", s.handleBalance)

			r.Post("/escrows", s.handleCreate)
			r.Route("/escrows/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Post("/cancel", s.handleCancel)
				r.Post("/deliver", s.handleDeliver)
				r.Post("/confirm", s.handleConfirm)
				r.Post("/claim", s.handleClaim)
				r.Post("/dispute", s.handleDispute)
				r.Post("/evidence", s.handleEvidence)
				r.Post("/resolve", s.handleResolve)
				r.Post("/resolve-inaction", s.handleResolveInaction)
			})
		})
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
