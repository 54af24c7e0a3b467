package httpServer

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"mytonstorage-dashboard/pkg/models"
)

func (h *handler) limitReached(c *fiber.Ctx) error {
	log := h.logger.With(
		slog.String("method", "limitReached"),
		slog.String("http_method", c.Method()),
		slog.String("url", c.OriginalURL()),
	)

	log.Warn("rate limit reached for request")
	return errorHandler(c, fiber.NewError(fiber.StatusTooManyRequests, "too many requests, please try again later"))
}

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// errorHandler renders err with the status models.ErrorCode picks. Server side details are hidden.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{
			Error: fe.Message,
		})
	}

	code := models.ErrorCode(err)
	msg := err.Error()

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	if code >= fiber.StatusInternalServerError && code != fiber.StatusServiceUnavailable && code != fiber.StatusGatewayTimeout {
		msg = "internal server error"
	}

	return c.Status(code).JSON(errorResponse{
		Error: msg,
	})
}
