package httpserver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verdantai/croplens/internal/app"
	"github.com/verdantai/croplens/internal/httpserver/httputil"
	"github.com/verdantai/croplens/internal/limits"
	"github.com/verdantai/croplens/internal/requestctx"
	"github.com/verdantai/croplens/internal/validate"
)

const (
	analysisBodyKey = "analysisBody"
	ledgerTokenKey  = "ledgerToken"
)

// sessionResolve establishes the opaque caller identity the gates key on:
// header first, cookie second, freshly issued id otherwise. The identity is
// placed in fiber Locals and the request context for everything downstream.
func sessionResolve(container *app.Container) fiber.Handler {
	cfg := container.Config.Session
	return func(c *fiber.Ctx) error {
		rc := &requestctx.Context{ClientAddr: c.IP()}

		if container.Sessions != nil {
			ctx := userContext(c)
			id := strings.TrimSpace(c.Get(cfg.Header))
			if id == "" {
				id = strings.TrimSpace(c.Cookies(cfg.CookieName))
			}
			if id != "" {
				known, err := container.Sessions.Touch(ctx, id)
				if err != nil {
					return httputil.WriteError(c, fiber.StatusInternalServerError, "session lookup failed")
				}
				if !known {
					id = ""
				}
			}
			if id == "" {
				issued, err := container.Sessions.Issue(ctx)
				if err != nil {
					return httputil.WriteError(c, fiber.StatusInternalServerError, "session issue failed")
				}
				id = issued
				c.Cookie(&fiber.Cookie{
					Name:     cfg.CookieName,
					Value:    id,
					MaxAge:   int(cfg.TTL / time.Second),
					HTTPOnly: true,
					SameSite: fiber.CookieSameSiteLaxMode,
				})
			}
			c.Set(cfg.Header, id)
			rc.SessionID = id
		}

		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))
		return c.Next()
	}
}

// validateAnalysisBody decodes the request body and runs the collect-all
// structural validation. The complete error set goes back in one 400; on
// success the sanitized body is stashed for the handler.
func validateAnalysisBody(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body map[string]any
		if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
			container.Observability.RecordValidationFailure()
			return httputil.WriteValidationErrors(c, []validate.FieldError{
				{Field: "body", Message: "request body must be a JSON object"},
			})
		}

		if errs := validate.AnalysisRequest(body); len(errs) > 0 {
			container.Observability.RecordValidationFailure()
			container.Logger.Warn("analysis request rejected by validation",
				"violations", len(errs),
				"path", c.Path(),
			)
			return httputil.WriteValidationErrors(c, errs)
		}

		c.Locals(analysisBodyKey, body)
		return c.Next()
	}
}

// shortTermGate is the fine-grained sliding-window gate. It appends the
// ledger record that the hourly gate and the quota decorator subsequently
// read. It cannot operate without a session identity and says so with a 500.
func shortTermGate(container *app.Container) fiber.Handler {
	healthPath := container.Config.Server.HealthPath
	return func(c *fiber.Ctx) error {
		if c.Path() == healthPath {
			return c.Next()
		}

		rc := requestContext(c)
		if rc == nil || rc.SessionID == "" {
			container.Logger.Error("short-term gate invoked without a session store")
			return httputil.WriteSessionUnavailable(c)
		}

		d, err := container.Limiter.AdmitShortTerm(userContext(c), sessionKey(rc.SessionID), c.Path())
		if err != nil {
			container.Logger.Error("short-term admission check failed", "error", err)
			return httputil.WriteError(c, fiber.StatusInternalServerError, "admission check failed")
		}
		container.Observability.RecordGateDecision(string(limits.TierShortTerm), d.Allowed)

		if !d.Allowed {
			container.Logger.Warn("short-term limit reached",
				"session", rc.SessionID,
				"retry_after_s", int(d.RetryAfter/time.Second),
			)
			return httputil.WriteRateLimited(c, "Too Many Requests",
				"short-term request limit reached; retry after the cooldown", d)
		}

		setRateLimitHeaders(c, d)
		c.Locals(ledgerTokenKey, d.Token)
		return c.Next()
	}
}

// hourlyGate is the coarse gate over the same ledger. With a session it
// re-counts the hour including the record the short-term gate appended,
// rolling that record back on rejection; without one it keys on the caller
// address and keeps its own ledger.
func hourlyGate(container *app.Container) fiber.Handler {
	healthPath := container.Config.Server.HealthPath
	return func(c *fiber.Ctx) error {
		if c.Path() == healthPath {
			return c.Next()
		}

		rc := requestContext(c)
		token, _ := c.Locals(ledgerTokenKey).(string)

		var (
			d   limits.Decision
			err error
		)
		if rc != nil && rc.SessionID != "" && token != "" {
			d, err = container.Limiter.ConfirmHourly(userContext(c), sessionKey(rc.SessionID), token)
		} else {
			d, err = container.Limiter.AdmitHourly(userContext(c), addrKey(c.IP()), c.Path())
		}
		if err != nil {
			container.Logger.Error("hourly admission check failed", "error", err)
			return httputil.WriteError(c, fiber.StatusInternalServerError, "admission check failed")
		}
		container.Observability.RecordGateDecision(string(limits.TierHourly), d.Allowed)

		if !d.Allowed {
			container.Logger.Warn("hourly quota exhausted",
				"retry_after_s", int(d.RetryAfter/time.Second),
			)
			return httputil.WriteRateLimited(c, "Hourly Quota Exceeded",
				"hourly request quota exhausted; retry after the cooldown", d)
		}
		return c.Next()
	}
}

// quotaDecorator attaches the current quota snapshots to the request context.
// Read-only: it never appends to the ledger and never rejects a request.
func quotaDecorator(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc := requestContext(c)
		if rc == nil {
			return c.Next()
		}

		key := addrKey(rc.ClientAddr)
		if rc.SessionID != "" {
			key = sessionKey(rc.SessionID)
		}
		status, err := container.Limiter.Snapshot(userContext(c), key)
		if err != nil {
			// Quota visibility is best-effort; the request proceeds.
			container.Logger.Warn("quota snapshot failed", "error", err)
			return c.Next()
		}
		rc.Quota = &status
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, d limits.Decision) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func sessionKey(id string) string {
	return "session:" + id
}

func addrKey(ip string) string {
	return "addr:" + ip
}

func requestContext(c *fiber.Ctx) *requestctx.Context {
	rc, _ := c.Locals(requestctx.FiberLocalsKey()).(*requestctx.Context)
	return rc
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
