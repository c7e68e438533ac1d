package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/payments"
)

// RegisterPaymentRoutes wires direct execution payments.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payments/execution", h.Execute)
}
