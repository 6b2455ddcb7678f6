package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-forum/internal/config"
	"github.com/noah-isme/gema-forum/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Components  map[string]string `json:"components"`
}

// HealthProbe checks one backing dependency. A nil error means healthy.
type HealthProbe func(ctx context.Context) error

// HealthCheck returns a handler that reports application health and the state of each probe.
// Any failing probe turns the response into a 503.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Components:  make(map[string]string, len(probes)),
		}

		ctx, cancel := context.WithTimeout(withRequestContext(c), 2*time.Second)
		defer cancel()

		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				payload.Status = "degraded"
				payload.Components[name] = err.Error()
				continue
			}
			payload.Components[name] = "ok"
		}

		if payload.Status != "ok" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    payload,
				Message: "service degraded",
			})
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
