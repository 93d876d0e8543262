package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func RegisterRoutes(app *fiber.App, h *Handler, checks map[string]HealthChecker) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		results := map[string]string{"market": "ok"}
		status := "ok"
		code := fiber.StatusOK

		if !h.market.Initialized() {
			results["market"] = "not initialized"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, chk := range checks {
			if err := chk.HealthCheck(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/rates", h.GetRates)
	v1.Get("/rates/:zone", h.GetRate)
	v1.Post("/zones/:zone/enter", h.EnterZone)
	v1.Post("/zones/:zone/exit", h.ExitZone)
	v1.Post("/events/poop", h.RecordPoop)
	v1.Post("/reset", h.Reset)

	v1.Post("/players", h.RegisterPlayer)
	v1.Get("/players/:name", h.GetPlayer)
	v1.Post("/players/:name/buy", h.Buy)
	v1.Post("/players/:name/sell", h.Sell)

	v1.Get("/leaderboard", h.GetLeaderboard)
}
