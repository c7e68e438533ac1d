package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/funding"
)

// RegisterFundingRoutes wires card funding, withdrawal and the acquirer's
// settlement callbacks.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/wallets/:walletId/fund/card", h.CardIn)
	r.Post("/wallets/:walletId/withdraw/card", h.CardOut)
	r.Post("/transactions/:txId/settle", h.Settle)
	r.Post("/transactions/:txId/fail", h.Fail)
}
