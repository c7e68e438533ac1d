package wallet

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/model"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Currency  string `json:"currency"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// Response is the wire form of a wallet.
type Response struct {
	ID                   string           `json:"id"`
	OwnerType            string           `json:"owner_type"`
	OwnerID              string           `json:"owner_id"`
	Currency             string           `json:"currency"`
	Balance              decimal.Decimal  `json:"balance"`
	Reserved             decimal.Decimal  `json:"reserved"`
	Spendable            decimal.Decimal  `json:"spendable"`
	SpendCeiling         *decimal.Decimal `json:"spend_ceiling,omitempty"`
	AutoApproveThreshold *decimal.Decimal `json:"auto_approve_threshold,omitempty"`
	Status               string           `json:"status"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// ToResponse renders a wallet for the API.
func ToResponse(w model.Wallet) Response {
	return Response{
		ID:                   w.ID,
		OwnerType:            string(w.OwnerType),
		OwnerID:              w.OwnerID,
		Currency:             w.Currency,
		Balance:              w.Balance,
		Reserved:             w.Reserved,
		Spendable:            w.Spendable(),
		SpendCeiling:         w.SpendCeiling,
		AutoApproveThreshold: w.AutoApproveThreshold,
		Status:               string(w.Status),
		UpdatedAt:            w.UpdatedAt,
	}
}

// TransactionView is the wire form of a ledger entry.
type TransactionView struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	Amount    decimal.Decimal   `json:"amount"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	SettledAt *time.Time        `json:"settled_at,omitempty"`
}

// TransactionResponse renders a ledger entry for the API.
func TransactionResponse(t model.Transaction) TransactionView {
	return TransactionView{
		ID:        t.ID,
		Type:      string(t.Type),
		Status:    string(t.Status),
		Amount:    t.Amount,
		Reference: t.Reference,
		Metadata:  t.Metadata,
		CreatedAt: t.CreatedAt,
		SettledAt: t.SettledAt,
	}
}

// Create provisions a wallet for an owner, returning the existing one when
// the owner already has a wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ownerType := model.OwnerType(req.OwnerType)
	if ownerType == "" {
		ownerType = model.OwnerAgent
	}
	if ownerType == model.OwnerPlatform {
		return fiber.NewError(http.StatusBadRequest, "platform wallet is provisioned internally")
	}
	w, err := h.service.Ensure(c.UserContext(), Owner{Type: ownerType, ID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(w))
}

// Get returns a wallet snapshot.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(w))
}

// Transactions lists a wallet's ledger entries, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.service.ListTransactions(c.UserContext(), c.Params("walletId"), limit)
	if err != nil {
		return err
	}
	out := make([]TransactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, TransactionResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// SetStatus suspends, reactivates or closes a wallet.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.SetStatus(c.UserContext(), c.Params("walletId"), model.WalletStatus(req.Status))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(w))
}
