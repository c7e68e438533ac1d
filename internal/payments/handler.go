package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type executeRequest struct {
	PayerAgentID  string          `json:"payer_agent_id"`
	PayeeAgentID  string          `json:"payee_agent_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	InitiatorType string          `json:"initiator_type"`
}

type paymentResponse struct {
	Reference    string                 `json:"reference"`
	Debit        wallet.TransactionView `json:"debit"`
	Credit       wallet.TransactionView `json:"credit"`
	PayerBalance decimal.Decimal        `json:"payer_balance"`
	PayeeBalance decimal.Decimal        `json:"payee_balance"`
	CompletedAt  time.Time              `json:"completed_at"`
	Replayed     bool                   `json:"replayed"`
}

// Execute pays an execution fee from one agent to another. A replayed
// reference answers 200 with the original payment.
func (h *Handler) Execute(c *fiber.Ctx) error {
	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	p, err := h.service.Execute(c.UserContext(), ExecuteInput{
		PayerAgentID:  req.PayerAgentID,
		PayeeAgentID:  req.PayeeAgentID,
		Amount:        req.Amount,
		Reference:     req.Reference,
		InitiatorType: req.InitiatorType,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if p.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(paymentResponse{
		Reference:    p.Reference,
		Debit:        wallet.TransactionResponse(p.Debit),
		Credit:       wallet.TransactionResponse(p.Credit),
		PayerBalance: p.Payer.Balance,
		PayeeBalance: p.Payee.Balance,
		CompletedAt:  p.CompletedAt,
		Replayed:     p.Replayed,
	})
}
