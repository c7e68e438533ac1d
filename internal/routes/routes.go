package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/funding"
	"github.com/agentpay/agentpay/internal/middleware"
	"github.com/agentpay/agentpay/internal/negotiation"
	"github.com/agentpay/agentpay/internal/payments"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

// Handlers groups the HTTP handlers of every component.
type Handlers struct {
	Wallets      *wallet.Handler
	Budgets      *budget.Handler
	Escrows      *escrow.Handler
	Negotiations *negotiation.Handler
	Payments     *payments.Handler
	Funding      *funding.Handler
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Store    store.Store
	Cache    *redis.Client
	Logger   *slog.Logger
	Handlers Handlers
	// AccessLog enables the plain text access log on stdout.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "UTC",
		}))
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1",
		middleware.APIKey(d.Cfg.APIKeyHash),
		middleware.Audit(d.Logger),
		middleware.Idempotency(d.Cache, middleware.IdempotencyConfig{TTL: d.Cfg.IdempotencyTTL}, d.Logger),
	)

	h := d.Handlers
	RegisterWalletRoutes(api, h.Wallets)
	RegisterFundingRoutes(api, h.Funding)
	RegisterBudgetRoutes(api, h.Budgets)
	RegisterEscrowRoutes(api, h.Escrows)
	RegisterNegotiationRoutes(api, h.Negotiations, middleware.ProposalRateLimit(d.Cache, d.Cfg.ProposalRateLimit))
	RegisterPaymentRoutes(api, h.Payments)
}
