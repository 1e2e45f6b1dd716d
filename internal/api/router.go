package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/clydra/backend/internal/api/handlers"
	"github.com/clydra/backend/internal/auth"
	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/config"
	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/middleware"
	"github.com/clydra/backend/internal/ratelimit"
	"github.com/clydra/backend/internal/repository"
)

// NewRouter creates and configures the main router
func NewRouter(cfg *config.Config, db *database.DB, cacheAdapter *cache.Adapter) *chi.Mux {
	r := chi.NewRouter()

	// Initialize repositories
	allowanceRepo := repository.NewAllowanceRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	packageRepo := repository.NewPackageRepository(db)

	// Initialize auth (needed before the rate limiter so authenticated
	// requests are keyed by user)
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	authMiddleware := auth.NewMiddleware(jwtService)

	rateLimiter := ratelimit.NewRateLimiterWithLimits(cfg.RateLimits())

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))
	r.Use(authMiddleware.OptionalAuth)
	r.Use(rateLimiter.Middleware)

	// Initialize metering services
	allowanceManager := metering.NewAllowanceManager(allowanceRepo, cacheAdapter, cfg.DailyLimits())
	ledger := metering.NewLedger(creditRepo, packageRepo)
	meter := metering.NewMeter(allowanceManager, ledger)

	// Initialize handlers
	healthHandler := handlers.NewHealthChecker(db, cacheAdapter)
	meterHandler := handlers.NewMeterHandler(meter, metering.HeuristicEstimator{})
	creditsHandler := handlers.NewCreditsHandler(ledger)

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", handlers.LivenessProbe)
	r.Get("/health/ready", healthHandler.ReadinessProbe)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public package catalog
		r.Get("/packages", creditsHandler.Packages)

		// Protected endpoints (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/meter/authorize", meterHandler.Authorize)
			r.Get("/user/usage", meterHandler.Usage)

			r.Post("/credits/purchase", creditsHandler.Purchase)
			r.Get("/credits/transactions", creditsHandler.Transactions)
		})
	})

	return r
}
