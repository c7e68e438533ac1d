package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
	r.Post("/wallets/:walletId/status", h.SetStatus)
}

// RegisterBudgetRoutes wires the budget envelope endpoints.
func RegisterBudgetRoutes(r fiber.Router, h *budget.Handler) {
	r.Get("/budgets/:agentId", h.Get)
	r.Patch("/budgets/:agentId", h.Patch)
}

// RegisterEscrowRoutes wires escrow lookups. Escrows move only through
// negotiation verdicts, so there is no mutating route.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Get("/escrows/:id", h.Get)
}
