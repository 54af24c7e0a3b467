package httpServer

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// sessionMiddleware guards routes that need a backend session.
func (h *handler) sessionMiddleware(c *fiber.Ctx) error {
	status := h.session.Status()
	if !status.Connected {
		return errorHandler(c, fiber.NewError(fiber.StatusUnauthorized, "wallet is not connected"))
	}

	if !status.Authorized {
		return errorHandler(c, fiber.NewError(fiber.StatusUnauthorized, "unauthorized"))
	}

	c.Locals("address", status.Address)

	return c.Next()
}

func (h *handler) adminAuthMiddleware(c *fiber.Ctx) error {
	// no tokens configured means the metrics endpoint is open, the API listens on localhost
	if len(h.adminAuthTokens) == 0 {
		return c.Next()
	}

	accessToken := c.Get("Authorization")
	if accessToken == "" {
		return errorHandler(c, fiber.NewError(fiber.StatusUnauthorized, "unauthorized"))
	}

	if strings.HasPrefix(strings.ToLower(accessToken), "bearer ") {
		accessToken = accessToken[7:]
	}

	hash := md5.Sum([]byte(accessToken))
	tokenHash := fmt.Sprintf("%x", hash[:])

	if _, exists := h.adminAuthTokens[tokenHash]; !exists {
		return errorHandler(c, fiber.NewError(fiber.StatusForbidden, "forbidden"))
	}

	return c.Next()
}

func (h *handler) requestIDMiddleware(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	c.Locals("request_id", id)
	c.Set(requestIDHeader, id)

	return c.Next()
}

func (h *handler) loggerMiddleware(c *fiber.Ctx) error {
	headers := c.GetReqHeaders()
	if _, ok := headers["Authorization"]; ok {
		headers["Authorization"] = []string{"REDACTED"}
	}

	if _, ok := headers["Cookie"]; ok {
		headers["Cookie"] = []string{"REDACTED"}
	}

	h.logger.Debug(
		"request received",
		"method", c.Method(),
		"url", c.OriginalURL(),
		"request_id", c.Locals("request_id"),
		"headers", headers,
		"body_length", len(c.Body()),
	)

	return c.Next()
}
