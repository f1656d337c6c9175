package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verdantai/croplens/internal/limits"
	"github.com/verdantai/croplens/internal/validate"
)

// WriteError standardizes plain JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// WriteValidationErrors responds 400 with the complete set of violated
// constraints, so the caller can fix every field in one round trip.
func WriteValidationErrors(c *fiber.Ctx, errs []validate.FieldError) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":     "Validation Error",
		"code":      "VALIDATION_ERROR",
		"message":   "request body failed structural validation",
		"errors":    errs,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteRateLimited responds 429 with a machine-readable cooldown. The caller
// is expected to retry after retryAfter seconds.
func WriteRateLimited(c *fiber.Ctx, name, msg string, d limits.Decision) error {
	retryAfter := int(d.RetryAfter / time.Second)
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":          name,
		"code":           "RATE_LIMIT_EXCEEDED",
		"message":        msg,
		"retryAfter":     retryAfter,
		"resetTime":      d.ResetAt.UTC().Format(time.RFC3339),
		"quotaRemaining": 0,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteSessionUnavailable responds 500: the gates cannot operate without a
// session identity, which indicates service misconfiguration, not caller
// error.
func WriteSessionUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":     "Session Unavailable",
		"code":      "SESSION_UNAVAILABLE",
		"message":   "session management is not configured; the admission pipeline requires a session identity",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
