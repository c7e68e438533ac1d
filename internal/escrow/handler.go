package escrow

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/model"
)

// Handler exposes escrow lookups. Escrows only change through negotiation.
type Handler struct {
	service *Service
}

// NewHandler constructs an escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Response is the wire form of an escrow.
type Response struct {
	ID                  string          `json:"id"`
	SourceWalletID      string          `json:"source_wallet_id"`
	DestinationWalletID string          `json:"destination_wallet_id"`
	TransactionID       string          `json:"transaction_id"`
	Amount              decimal.Decimal `json:"amount"`
	Status              string          `json:"status"`
	ReleaseCondition    string          `json:"release_condition,omitempty"`
	FeeBasisPoints      int             `json:"fee_basis_points"`
	FeeAmount           decimal.Decimal `json:"fee_amount"`
	PayoutAmount        decimal.Decimal `json:"payout_amount"`
	PayoutTransactionID string          `json:"payout_transaction_id,omitempty"`
	FeeTransactionID    string          `json:"fee_transaction_id,omitempty"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ReleasedAt          *time.Time      `json:"released_at,omitempty"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty"`
}

// ToResponse renders an escrow for the API.
func ToResponse(e model.Escrow) Response {
	return Response{
		ID:                  e.ID,
		SourceWalletID:      e.SourceWalletID,
		DestinationWalletID: e.DestinationWalletID,
		TransactionID:       e.TransactionID,
		Amount:              e.Amount,
		Status:              string(e.Status),
		ReleaseCondition:    e.ReleaseCondition,
		FeeBasisPoints:      e.FeeBasisPoints,
		FeeAmount:           e.FeeAmount,
		PayoutAmount:        e.PayoutAmount,
		PayoutTransactionID: e.PayoutTransactionID,
		FeeTransactionID:    e.FeeTransactionID,
		RefundTransactionID: e.RefundTransactionID,
		CreatedAt:           e.CreatedAt,
		ReleasedAt:          e.ReleasedAt,
		RefundedAt:          e.RefundedAt,
	}
}

// Get returns an escrow by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	e, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(e))
}
