package budget

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/wallet"
)

// Handler exposes budget endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a budget handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type updateRequest struct {
	MonthlyLimit         *decimal.Decimal `json:"monthly_limit"`
	ApprovalMode         *string          `json:"approval_mode"`
	SpendCeiling         *decimal.Decimal `json:"spend_ceiling"`
	AutoApproveThreshold *decimal.Decimal `json:"auto_approve_threshold"`
}

type budgetResponse struct {
	AgentID      string          `json:"agent_id"`
	MonthlyLimit decimal.Decimal `json:"monthly_limit"`
	Remaining    decimal.Decimal `json:"remaining"`
	ApprovalMode string          `json:"approval_mode"`
	PeriodStart  time.Time       `json:"period_start"`
	ResetsOn     time.Time       `json:"resets_on"`
	Wallet       wallet.Response `json:"wallet"`
}

func render(v View) budgetResponse {
	return budgetResponse{
		AgentID:      v.Budget.AgentID,
		MonthlyLimit: v.Budget.MonthlyLimit,
		Remaining:    v.Budget.Remaining,
		ApprovalMode: string(v.Budget.ApprovalMode),
		PeriodStart:  v.Budget.PeriodStart,
		ResetsOn:     v.Budget.ResetsOn,
		Wallet:       wallet.ToResponse(v.Wallet),
	}
}

// Get returns the agent's budget for the current period.
func (h *Handler) Get(c *fiber.Ctx) error {
	v, err := h.service.Get(c.UserContext(), c.Params("agentId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(render(v))
}

// Patch updates the agent's budget and wallet spend controls.
func (h *Handler) Patch(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	in := Update{
		MonthlyLimit:         req.MonthlyLimit,
		SpendCeiling:         req.SpendCeiling,
		AutoApproveThreshold: req.AutoApproveThreshold,
	}
	if req.ApprovalMode != nil {
		mode := model.ApprovalMode(*req.ApprovalMode)
		in.ApprovalMode = &mode
	}
	v, err := h.service.Update(c.UserContext(), c.Params("agentId"), in)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(render(v))
}
