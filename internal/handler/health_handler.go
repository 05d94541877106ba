package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat-client/internal/config"
	"github.com/noah-isme/gema-chat-client/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Connected   bool      `json:"connected"`
	Version     uint64    `json:"version"`
	User        string    `json:"user,omitempty"`
}

// HealthCheck reports gateway health together with the session's link state.
// A disconnected session is reported as "degraded" but still answers 200.
func HealthCheck(cfg config.Config, state StateView) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if state != nil {
			snapshot := state.Snapshot()
			payload.Connected = snapshot.Connected
			payload.Version = snapshot.Version
			payload.User = snapshot.Self.Username
			if !snapshot.Connected {
				payload.Status = "degraded"
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
