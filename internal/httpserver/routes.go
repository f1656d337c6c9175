package httpserver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verdantai/croplens/internal/analysis"
	"github.com/verdantai/croplens/internal/app"
	"github.com/verdantai/croplens/internal/httpserver/httputil"
)

// registerRoutes mounts the admission pipeline in its contractual order:
// session resolve, then sanitize+validate, then the short-term gate, then the
// hourly gate, then the read-only quota decorator, then the orchestration
// handler. When a request violates both tiers the short-term response wins
// because its middleware runs first.
func registerRoutes(fiberApp *fiber.App, container *app.Container) {
	api := fiberApp.Group("/api/v1", sessionResolve(container))

	api.Post("/analysis",
		validateAnalysisBody(container),
		shortTermGate(container),
		hourlyGate(container),
		quotaDecorator(container),
		analysisHandler(container),
	)

	// Quota is a read: it reports remaining allowance without consuming any.
	api.Get("/quota", quotaHandler(container))
}

func analysisHandler(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body, _ := c.Locals(analysisBodyKey).(map[string]any)
		if body == nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "validated body missing")
		}

		req := requestFromBody(body)
		assessment, err := container.Analysis.Assess(userContext(c), req)
		if err != nil {
			container.Logger.Error("analysis orchestration failed", "error", err, "crop", req.CropType)
			return httputil.WriteError(c, fiber.StatusBadGateway, "analysis provider unavailable")
		}

		resp := fiber.Map{"assessment": assessment}
		if rc := requestContext(c); rc != nil && rc.Quota != nil {
			resp["quota"] = rc.Quota
		}
		return c.JSON(resp)
	}
}

func quotaHandler(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc := requestContext(c)
		if rc == nil || rc.SessionID == "" {
			return httputil.WriteSessionUnavailable(c)
		}

		status, err := container.Limiter.Snapshot(userContext(c), sessionKey(rc.SessionID))
		if err != nil {
			container.Logger.Error("quota snapshot failed", "error", err)
			return httputil.WriteError(c, fiber.StatusInternalServerError, "quota lookup failed")
		}
		return c.JSON(status)
	}
}

// requestFromBody lifts the validated, sanitized body into the typed request
// the orchestrator accepts.
func requestFromBody(body map[string]any) analysis.Request {
	req := analysis.Request{}
	if v, ok := body["cropType"].(string); ok {
		req.CropType = v
	}
	if v, ok := body["image"].(string); ok {
		req.Image = v
	}
	if v, ok := body["notes"].(string); ok {
		req.Notes = v
	}
	if v, ok := body["location"]; ok {
		req.Location = v
	}
	if v, ok := body["weather"].(map[string]any); ok {
		req.Weather = v
	}
	return req
}
