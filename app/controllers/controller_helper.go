package controllers

import (
	"strings"

	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
)

// statusForKind maps a billing error kind to an HTTP status.
func statusForKind(kind billing.Kind) int {
	switch kind {
	case billing.KindInvalidInput, billing.KindSignatureInvalid:
		return fiber.StatusBadRequest
	case billing.KindExternalProvider:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// errorResponse writes err as {"error", "message"}. Internal errors never
// leak their detail to the client.
func errorResponse(c *fiber.Ctx, err error) error {
	kind := billing.KindOf(err)
	status := statusForKind(kind)
	message := billing.DetailOf(err)
	if status == fiber.StatusInternalServerError {
		message = "internal error"
	}
	if status == fiber.StatusBadGateway {
		message = "payments provider unavailable"
	}
	return c.Status(status).JSON(fiber.Map{"error": string(kind), "message": message})
}

// ClientIP is the rate limiter key. Fiber resolves proxy headers in c.IP()
// only for requests from a trusted proxy, so a client cannot pick its key.
func ClientIP(c *fiber.Ctx) string {
	ip := c.IP()
	// IPv4-mapped IPv6 (::ffff:192.168.1.1)
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}

// HandleHealth is the liveness probe.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
