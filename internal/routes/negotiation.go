package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/negotiation"
)

// RegisterNegotiationRoutes wires the negotiation lifecycle. limit guards
// proposal creation only.
func RegisterNegotiationRoutes(r fiber.Router, h *negotiation.Handler, limit fiber.Handler) {
	r.Post("/negotiations", limit, h.Propose)
	r.Get("/negotiations/:id", h.Get)
	r.Post("/negotiations/:id/respond", h.Respond)
	r.Post("/negotiations/:id/cancel", h.Cancel)
	r.Post("/negotiations/:id/deliver", h.Deliver)
	r.Post("/agreements/:id/verify", h.Verify)
	r.Get("/agreements/:id", h.GetAgreement)
}
