package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/wallet"
)

// Handler exposes card funding and settlement callback endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CardIn processes wallet top-ups funded by cards.
func (h *Handler) CardIn(c *fiber.Ctx) error {
	var req CardInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardIn(c.UserContext(), CardInInput{
		WalletID:   c.Params("walletId"),
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
		Expiry:     req.Expiry,
		CVV:        req.CVV,
	})
	return respond(c, result, err)
}

// CardOut processes wallet withdrawals to cards.
func (h *Handler) CardOut(c *fiber.Ctx) error {
	var req CardOutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardOut(c.UserContext(), CardOutInput{
		WalletID:   c.Params("walletId"),
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
	})
	return respond(c, result, err)
}

// Settle is the acquirer's settlement callback.
func (h *Handler) Settle(c *fiber.Ctx) error {
	result, err := h.service.Settle(c.UserContext(), c.Params("txId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

// Fail is the acquirer's failure callback.
func (h *Handler) Fail(c *fiber.Ctx) error {
	result, err := h.service.Fail(c.UserContext(), c.Params("txId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

func respond(c *fiber.Ctx, result FundingResult, err error) error {
	switch {
	case errors.Is(err, errs.ErrDuplicateTransaction):
		return c.Status(http.StatusOK).JSON(toResponse(result))
	case err != nil:
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

func toResponse(result FundingResult) FundingResponse {
	return FundingResponse{
		Transaction:       wallet.TransactionResponse(result.Transaction),
		WalletID:          result.Wallet.ID,
		WalletBalance:     result.Wallet.Balance,
		WalletReserved:    result.Wallet.Reserved,
		AcquirerReference: result.AcquirerReference,
		Replayed:          result.Replayed,
	}
}
