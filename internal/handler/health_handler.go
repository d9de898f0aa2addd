package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/utils"
)

// Bridge states reported by the health endpoint.
const (
	BridgeDisabled = "disabled"
	BridgeRunning  = "running"
	BridgeInert    = "inert"
)

// HealthProbes reads live runtime state for the health endpoint. Nil probes are skipped.
type HealthProbes struct {
	Connections   func() int
	BridgeEnabled bool
	BridgeRunning func() bool
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Connections int       `json:"connections"`
	Bridge      string    `json:"bridge"`
}

// HealthCheck returns a handler that reports application health information. An
// inert bridge does not make the service unhealthy.
func HealthCheck(cfg config.Config, probes HealthProbes) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Bridge:      BridgeDisabled,
		}
		if probes.Connections != nil {
			payload.Connections = probes.Connections()
		}
		if probes.BridgeEnabled {
			payload.Bridge = BridgeInert
			if probes.BridgeRunning != nil && probes.BridgeRunning() {
				payload.Bridge = BridgeRunning
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
