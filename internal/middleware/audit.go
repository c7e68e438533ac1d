package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agentpay/internal/errs"
)

// Audit logs one line per request. The error handler has not run yet when
// Audit sees a failure, so the status is derived from the error itself.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusOf(err)
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if caller := CallerFrom(c); caller != "" {
			attrs = append(attrs, slog.String("caller", caller))
		}

		switch {
		case err == nil:
			logger.Info("request completed", attrs...)
		case status >= fiber.StatusInternalServerError:
			attrs = append(attrs, slog.Any("error", err), slog.String("severity", string(errs.SeverityOf(err))))
			logger.Error("request failed", attrs...)
		default:
			attrs = append(attrs, slog.Any("error", err), slog.String("code", string(errs.CodeOf(err))))
			logger.Warn("request rejected", attrs...)
		}
		return err
	}
}

// StatusOf maps a handler error to the status the error handler will send.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return errs.HTTPStatus(err)
}
