package server

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/errs"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders every handler error as {"error": {"code", "message"}}.
// Domain errors keep their code; fiber errors are labelled by status.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorBody{Error: errorDetail{Code: fiberCode(fe.Code), Message: fe.Message}})
		}

		status := errs.HTTPStatus(err)
		code := errs.CodeOf(err)
		message := err.Error()
		if status >= fiber.StatusInternalServerError {
			if errs.SeverityOf(err) == errs.SeverityCritical {
				logger.Error("unhandled failure", slog.Any("error", err), slog.String("severity", string(errs.SeverityCritical)))
			}
			if _, ok := errs.From(err); !ok {
				message = "internal error"
			}
		}
		return c.Status(status).JSON(errorBody{Error: errorDetail{Code: string(code), Message: message}})
	}
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return string(errs.CodeInvalidArgument)
	case fiber.StatusNotFound:
		return string(errs.CodeNotFound)
	case fiber.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "IDEMPOTENCY_MISMATCH"
	default:
		return "HTTP_" + strconv.Itoa(status)
	}
}
