package router

import (
	"time"

	"ledger-auditor/internal/handlers"
	"ledger-auditor/internal/middleware"
	"ledger-auditor/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Handlers struct {
	Reconciliation *handlers.ReconciliationHandler
	Balance        *handlers.BalanceHandler
	Health         *handlers.HealthHandler
}

// SetupRouter mounts the ops API. The reconciliation routes are admin only and
// are not mounted at all without a jwtSecret.
func SetupRouter(h Handlers, jwtSecret string, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(rate.Limit(10), 20)

	r.Use(middleware.ErrorHandling(logger))
	r.Use(middleware.PerformanceMonitoring(time.Second, logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(rateLimiter.Middleware())

	r.HandleFunc("/health", h.Health.Health).Methods("GET")

	if jwtSecret == "" {
		logger.Error().Msg("JWT_SECRET not set, reconciliation API disabled")
		return r
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	recon := api.PathPrefix("/reconciliation").Subrouter()
	recon.Use(middleware.Authentication(jwtSecret, logger))
	recon.Use(middleware.RequireRole(string(models.RoleAdmin)))
	recon.Use(middleware.RequestValidation())

	recon.HandleFunc("/runs", h.Reconciliation.ListRuns).Methods("GET")
	recon.HandleFunc("/runs", h.Reconciliation.TriggerRun).Methods("POST")
	recon.HandleFunc("/runs/{id}", h.Reconciliation.GetRun).Methods("GET")
	recon.HandleFunc("/wallets/{userId}", h.Balance.CheckWallet).Methods("GET")

	return r
}
