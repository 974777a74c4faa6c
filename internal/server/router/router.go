package router

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"github.com/adwave/pointpay/internal/server/handlers"
	"github.com/adwave/pointpay/internal/settlement"
	"github.com/adwave/pointpay/internal/storage"
)

type Options struct {
	log    *slog.Logger
	secret []byte
}

func NewRouter(settler *settlement.Service, store storage.Storage, opts ...Option) chi.Router {
	r := chi.NewRouter()

	rOpts := Options{
		log:    slog.New(&slog.JSONHandler{}),
		secret: []byte(""),
	}

	for _, opt := range opts {
		opt(&rOpts)
	}

	tokenAuth := jwtauth.New("HS256", rOpts.secret, nil)

	r.Use(
		middleware.Recoverer,
		middleware.StripSlashes,
		middleware.Logger,
	)

	h := handlers.NewHandlers(settler, store,
		handlers.WithLogger(rOpts.log),
	)

	r.Get("/ping", h.Ping)

	r.Group(func(r chi.Router) {
		r.Post("/api/withdrawal/request", h.SubmitWithdrawal)
		r.Post("/api/withdrawal/calculate", h.CalculateWithdrawal)
		r.Post("/api/points/earn", h.EarnPoints)
		r.Get("/api/users/{userID}/balance", h.GetUserBalance)
		r.Get("/api/users/{userID}/ledger", h.GetUserLedger)
	})

	// Admin operations require a verified token; issuance is out of band.
	r.Group(func(r chi.Router) {
		r.Use(
			jwtauth.Verifier(tokenAuth),
			jwtauth.Authenticator(tokenAuth),
		)

		r.Post("/api/withdrawal/process/{withdrawalID}", h.ProcessWithdrawal)
		r.Post("/api/withdrawal/reject/{withdrawalID}", h.RejectWithdrawal)
		r.Get("/api/withdrawal/requests", h.ListWithdrawals)
	})

	return r
}

type Option func(r *Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.log = logger
	}
}

func WithSecret(secret []byte) Option {
	return func(o *Options) {
		o.secret = secret
	}
}
